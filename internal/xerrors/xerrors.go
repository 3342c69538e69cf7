// Package xerrors defines the typed error kinds shared across the search
// pipeline: IO, Format, Compression, Contract, Overflow and Cancelled.
package xerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a pipeline failure so callers can react without parsing
// strings.
type Kind int

const (
	// KindIO covers read/write failures against the source, companion or
	// metadata files.
	KindIO Kind = iota
	// KindFormat covers a malformed metadata file.
	KindFormat
	// KindCompression covers a codec failure (LZ4/Zstd).
	KindCompression
	// KindContract covers a caller violating a component's documented
	// precondition (e.g. requesting line indices without line_mapping).
	KindContract
	// KindOverflow covers a chunk exceeding min_size+max_oversize.
	KindOverflow
	// KindCancelled covers cooperative shutdown via Executor.ForceStop.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindCompression:
		return "compression"
	case KindContract:
		return "contract"
	case KindOverflow:
		return "overflow"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error whose underlying cause carries a stack trace
// (via github.com/pkg/errors), reachable through Unwrap. Error() itself
// prints only the one-line message, and neither CLI prints the trace.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (which may be nil) with a Kind and the operation that
// observed the failure, attaching a stack trace for later inspection.
func New(kind Kind, op string, err error) *Error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or any error it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var xe *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			xe = e
			break
		}
		err = errors.Unwrap(err)
	}
	return xe != nil && xe.Kind == kind
}
