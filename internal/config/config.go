// Package config holds the flag-backed settings shared by cmd/xsearch and
// cmd/xspp, grounded on the original's CLI option surface.
package config

import (
	"runtime"

	"github.com/lfreist/xsearch/internal/metafile"
)

// SearchConfig holds every flag xsearch accepts.
type SearchConfig struct {
	Pattern     string
	SourcePath  string
	DataPath    string
	MetaPath    string
	CountOnly   bool
	CountLines  bool
	ByteOffsets bool
	LineOffsets bool
	IgnoreCase  bool
	Regex       bool
	JSON        bool
	ChunkSize   uint64
	MaxOversize uint64
	NoMmap      bool
	MaxReaders  int
	NumWorkers  int
	Verbose     bool
}

// DefaultNumWorkers mirrors the original's "one worker per core" default.
func DefaultNumWorkers() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// PreprocessConfig holds every flag xspp accepts.
type PreprocessConfig struct {
	SourcePath     string
	OutPath        string
	MetaPath       string
	Compression    metafile.Compression
	ZstdLevel      int
	ChunkSize      uint64
	MaxOversize    uint64
	AnchorDistance uint64
	Progress       bool
	Verbose        bool
}

const (
	// DefaultChunkSize is the min_chunk_size used when neither CLI flag
	// sets one explicitly.
	DefaultChunkSize = 4 << 20 // 4 MiB
	// DefaultMaxOversize bounds how far a chunk may extend past
	// DefaultChunkSize while searching for a line boundary.
	DefaultMaxOversize = 1 << 20 // 1 MiB
	// DefaultAnchorDistance is the byte interval between line_mapping
	// anchors emitted by the preprocessor.
	DefaultAnchorDistance = 1 << 20 // 1 MiB
	// DefaultMaxReaders bounds how many reads a streamed DataProvider may
	// have in flight against the source at once.
	DefaultMaxReaders = 4
)
