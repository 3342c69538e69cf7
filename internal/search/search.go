// Package search implements the searchers that consume a (possibly
// decompressed, possibly newline-indexed) Chunk and produce a partial
// result: a count, a list of byte offsets, a list of line indices, or the
// matching lines themselves. Grounded on the six BaseSearcher subclasses in
// the original (MatchCounter, LineCounter, MatchBytePositionSearcher,
// LineBytePositionSearcher, LineIndexSearcher, LineSearcher).
package search

import (
	"regexp"
	"strings"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/simd"
	"github.com/lfreist/xsearch/internal/xerrors"
)

// Options controls how a pattern is compiled. Only one of Regex or the
// plain-substring path is used; IgnoreCase and UTF8 refine whichever path
// is chosen.
type Options struct {
	Regex      bool
	IgnoreCase bool
	// UTF8 requests locale-aware case folding for a non-regex,
	// case-insensitive search. Since that requires genuine regular
	// expression semantics, such a search is compiled as an escaped,
	// case-insensitive regex rather than byte-wise lowercasing.
	UTF8 bool
}

// Matcher finds non-overlapping matches of a compiled pattern in data, in
// left-to-right order, returning each as a [start, end) byte range.
type Matcher interface {
	FindAllIndex(data []byte) [][2]int
}

// Compile builds a Matcher for pattern under opts. Pattern-prep rules:
//   - Regex: wrapped as "(pattern)" so the first capture group is always
//     the whole match; "(?i)" is prefixed when IgnoreCase.
//   - Non-regex, IgnoreCase, UTF8: the pattern is escaped and compiled as a
//     case-insensitive regex (byte-wise lowercasing isn't locale-aware).
//   - Non-regex, IgnoreCase, ASCII-only: the pattern is lowercased once at
//     construction; callers must run the chunk through
//     inplace.AsciiToLower first so chunk bytes are already lowercased.
//   - Non-regex, case-sensitive: a plain substring matcher.
func Compile(pattern string, opts Options) (Matcher, error) {
	if opts.Regex {
		p := "(" + pattern + ")"
		if opts.IgnoreCase {
			p = "(?i)" + p
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, xerrors.New(xerrors.KindContract, "search.Compile", err)
		}
		return &regexMatcher{re: re}, nil
	}
	if opts.IgnoreCase && opts.UTF8 {
		re, err := regexp.Compile("(?i)(" + regexp.QuoteMeta(pattern) + ")")
		if err != nil {
			return nil, xerrors.New(xerrors.KindContract, "search.Compile", err)
		}
		return &regexMatcher{re: re}, nil
	}
	if opts.IgnoreCase {
		return &substringMatcher{pattern: []byte(strings.ToLower(pattern))}, nil
	}
	return &substringMatcher{pattern: []byte(pattern)}, nil
}

type regexMatcher struct{ re *regexp.Regexp }

func (m *regexMatcher) FindAllIndex(data []byte) [][2]int {
	locs := m.re.FindAllIndex(data, -1)
	out := make([][2]int, len(locs))
	for i, loc := range locs {
		out[i] = [2]int{loc[0], loc[1]}
	}
	return out
}

type substringMatcher struct{ pattern []byte }

func (m *substringMatcher) FindAllIndex(data []byte) [][2]int {
	if len(m.pattern) == 0 {
		return nil
	}
	var out [][2]int
	from := 0
	for {
		idx := simd.FindSubstr(data, from, m.pattern)
		if idx < 0 {
			return out
		}
		out = append(out, [2]int{idx, idx + len(m.pattern)})
		from = idx + len(m.pattern)
	}
}

// ReturnProcessor produces one partial result of type T per chunk. The
// partial's ChunkIndex always carries the owning chunk's index, so an
// ordered result collector downstream can drain results in order without
// an external sort.
type ReturnProcessor[T any] interface {
	Search(c *chunk.Chunk) (T, error)
}

// CountPartial is the partial result of MatchCounter/LineCounter.
type CountPartial struct {
	ChunkIndex uint64
	Count      uint64
}

// OffsetsPartial is the partial result of MatchBytePositionSearcher,
// LineBytePositionSearcher and LineIndexSearcher; Values holds either
// absolute byte offsets or global line indices depending on which searcher
// produced it.
type OffsetsPartial struct {
	ChunkIndex uint64
	Values     []uint64
}

// LinesPartial is the partial result of LineSearcher.
type LinesPartial struct {
	ChunkIndex uint64
	Lines      []string
}

type matchCounter struct{ m Matcher }

// NewMatchCounter counts every non-overlapping match in a chunk.
func NewMatchCounter(m Matcher) ReturnProcessor[CountPartial] { return matchCounter{m} }

func (s matchCounter) Search(c *chunk.Chunk) (CountPartial, error) {
	matches := s.m.FindAllIndex(c.Data())
	return CountPartial{ChunkIndex: c.Meta.ChunkIndex, Count: uint64(len(matches))}, nil
}

type lineCounter struct{ m Matcher }

// NewLineCounter counts the distinct lines containing at least one match.
func NewLineCounter(m Matcher) ReturnProcessor[CountPartial] { return lineCounter{m} }

func (s lineCounter) Search(c *chunk.Chunk) (CountPartial, error) {
	data := c.Data()
	matches := s.m.FindAllIndex(data)
	var count uint64
	lastLineEnd := -1
	for _, rng := range matches {
		if rng[0] <= lastLineEnd {
			continue
		}
		count++
		if nl := simd.FindNewline(data, rng[1]); nl >= 0 {
			lastLineEnd = nl
		} else {
			lastLineEnd = len(data)
		}
	}
	return CountPartial{ChunkIndex: c.Meta.ChunkIndex, Count: count}, nil
}

type matchByteOffsetSearcher struct{ m Matcher }

// NewMatchByteOffsetSearcher reports the absolute source-file byte offset
// of every match's start.
func NewMatchByteOffsetSearcher(m Matcher) ReturnProcessor[OffsetsPartial] {
	return matchByteOffsetSearcher{m}
}

func (s matchByteOffsetSearcher) Search(c *chunk.Chunk) (OffsetsPartial, error) {
	matches := s.m.FindAllIndex(c.Data())
	values := make([]uint64, len(matches))
	for i, rng := range matches {
		values[i] = c.Meta.OriginalOffset + uint64(rng[0])
	}
	return OffsetsPartial{ChunkIndex: c.Meta.ChunkIndex, Values: values}, nil
}

type lineByteOffsetSearcher struct{ m Matcher }

// NewLineByteOffsetSearcher reports the absolute byte offset of the start
// of each line containing a match (one entry per matching line, not per
// match).
func NewLineByteOffsetSearcher(m Matcher) ReturnProcessor[OffsetsPartial] {
	return lineByteOffsetSearcher{m}
}

func (s lineByteOffsetSearcher) Search(c *chunk.Chunk) (OffsetsPartial, error) {
	data := c.Data()
	matches := s.m.FindAllIndex(data)
	var values []uint64
	lastLineEnd := -1
	for _, rng := range matches {
		if rng[0] <= lastLineEnd {
			continue
		}
		lineStart := lineStartOf(data, rng[0])
		values = append(values, c.Meta.OriginalOffset+uint64(lineStart))
		if nl := simd.FindNewline(data, rng[1]); nl >= 0 {
			lastLineEnd = nl
		} else {
			lastLineEnd = len(data)
		}
	}
	return OffsetsPartial{ChunkIndex: c.Meta.ChunkIndex, Values: values}, nil
}

type lineIndexSearcher struct{ m Matcher }

// NewLineIndexSearcher reports the global line index (0-based) of every
// matching line. Requires the chunk's Meta.LineMapping to be populated
// (by inplace.NewLineIndexer or a preprocessed MetaFile); callers that pass
// a chunk with no anchors get a Contract error.
func NewLineIndexSearcher(m Matcher) ReturnProcessor[OffsetsPartial] {
	return lineIndexSearcher{m}
}

func (s lineIndexSearcher) Search(c *chunk.Chunk) (OffsetsPartial, error) {
	if len(c.Meta.LineMapping) == 0 {
		return OffsetsPartial{}, xerrors.New(xerrors.KindContract, "search.LineIndexSearcher", nil)
	}
	data := c.Data()
	matches := s.m.FindAllIndex(data)
	var values []uint64
	lastLineEnd := -1
	for _, rng := range matches {
		if rng[0] <= lastLineEnd {
			continue
		}
		lineStart := lineStartOf(data, rng[0])
		values = append(values, ByteToLine(c.Meta, data, c.Meta.OriginalOffset+uint64(lineStart)))
		if nl := simd.FindNewline(data, rng[1]); nl >= 0 {
			lastLineEnd = nl
		} else {
			lastLineEnd = len(data)
		}
	}
	return OffsetsPartial{ChunkIndex: c.Meta.ChunkIndex, Values: values}, nil
}

type lineSearcher struct{ m Matcher }

// NewLineSearcher reports the full text of every matching line.
func NewLineSearcher(m Matcher) ReturnProcessor[LinesPartial] { return lineSearcher{m} }

func (s lineSearcher) Search(c *chunk.Chunk) (LinesPartial, error) {
	data := c.Data()
	matches := s.m.FindAllIndex(data)
	var lines []string
	lastLineEnd := -1
	for _, rng := range matches {
		if rng[0] <= lastLineEnd {
			continue
		}
		start := lineStartOf(data, rng[0])
		end := len(data)
		if nl := simd.FindNewline(data, rng[1]); nl >= 0 {
			end = nl
			lastLineEnd = nl
		} else {
			lastLineEnd = len(data)
		}
		lines = append(lines, string(data[start:end]))
	}
	return LinesPartial{ChunkIndex: c.Meta.ChunkIndex, Lines: lines}, nil
}

// lineStartOf returns the index just after the nearest '\n' at or before
// pos, or 0 if there is none.
func lineStartOf(data []byte, pos int) int {
	for i := pos - 1; i >= 0; i-- {
		if data[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

// ByteToLine maps an absolute source-file byte offset to its global
// (0-based) line index, via a binary search over meta.LineMapping's
// ascending anchors followed by a forward or backward newline count from
// the nearest anchor. Ported directly from offset_mappings.cpp's
// to_line_index.
func ByteToLine(meta chunk.Meta, data []byte, targetOffset uint64) uint64 {
	anchors := meta.LineMapping
	if len(anchors) == 0 {
		return 0
	}

	if targetOffset < anchors[0].GlobalByteOffset {
		rel := int(anchors[0].GlobalByteOffset - meta.OriginalOffset)
		relTarget := int(targetOffset - meta.OriginalOffset)
		nl := simd.CountByte(data[relTarget:rel], '\n')
		if uint64(nl) >= anchors[0].GlobalLineIndex {
			return 0
		}
		return anchors[0].GlobalLineIndex - uint64(nl)
	}

	lo, hi, pick := 0, len(anchors)-1, 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if anchors[mid].GlobalByteOffset <= targetOffset {
			pick = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	anchor := anchors[pick]
	relStart := int(anchor.GlobalByteOffset - meta.OriginalOffset)
	relTarget := int(targetOffset - meta.OriginalOffset)
	nl := simd.CountByte(data[relStart:relTarget], '\n')
	return anchor.GlobalLineIndex + uint64(nl)
}
