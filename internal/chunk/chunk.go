// Package chunk defines the unit of work handed between the pipeline
// stages: a contiguous byte buffer (owned or memory-mapped) plus its
// ChunkMeta descriptor.
package chunk

import (
	"github.com/edsrzf/mmap-go"
)

// LineAnchor is a (global_byte_offset, global_line_index) pair recorded
// roughly every D bytes during preprocessing, used to bound the work of
// ByteToLine lookups.
type LineAnchor struct {
	GlobalByteOffset uint64
	GlobalLineIndex  uint64
}

// Meta is the per-chunk descriptor. ChunkIndex is dense and monotonically
// increasing from 0 in the order chunks were produced.
type Meta struct {
	ChunkIndex     uint64
	OriginalOffset uint64
	OriginalSize   uint64
	ActualOffset   uint64
	ActualSize     uint64
	LineMapping    []LineAnchor
}

// Chunk is an owned contiguous byte buffer together with its Meta. A Chunk
// is either owned (backed by a plain Go slice the GC reclaims) or mapped
// (backed by an mmap.MMap that must be explicitly unmapped).
type Chunk struct {
	Meta Meta

	data       []byte
	mapped     bool
	mmapOffset uint64
	mm         mmap.MMap
}

// NewOwned allocates a chunk with an owned, size-byte buffer. Go always
// zero-fills new slices; callers that want the original's "uninitialized
// read buffer" optimization cannot get it safely in Go (see DESIGN.md).
func NewOwned(size uint64) *Chunk {
	return &Chunk{data: make([]byte, size)}
}

// NewOwnedFrom wraps an existing, already-populated buffer without copying.
func NewOwnedFrom(data []byte, meta Meta) *Chunk {
	return &Chunk{data: data, Meta: meta}
}

// NewMapped takes ownership of an mmap.MMap. logicalLen is the number of
// bytes that belong to this chunk's data; mmapOffset is the distance from
// the mapping's page-aligned base to the first logical byte.
func NewMapped(mm mmap.MMap, logicalLen, mmapOffset uint64, meta Meta) *Chunk {
	end := mmapOffset + logicalLen
	return &Chunk{
		data:       mm[mmapOffset:end:end],
		mapped:     true,
		mmapOffset: mmapOffset,
		mm:         mm,
		Meta:       meta,
	}
}

// NewBorrowedMapped wraps a slice of a mapping the caller does not own
// (e.g. one region of a single whole-file mapping shared by many chunks).
// It is reported as mapped (so SetData/Resize reject mutation) but Close is
// a no-op: the owner of the underlying mmap.MMap is responsible for
// unmapping it once, not each borrowed Chunk.
func NewBorrowedMapped(data []byte, meta Meta) *Chunk {
	return &Chunk{data: data, mapped: true, Meta: meta}
}

// Data returns the chunk's logical byte view. Never includes the
// page-alignment padding of a mapped chunk.
func (c *Chunk) Data() []byte { return c.data }

// Size returns the logical length, never the mapping length.
func (c *Chunk) Size() int { return len(c.data) }

// IsMapped reports whether this chunk is backed by a memory mapping.
func (c *Chunk) IsMapped() bool { return c.mapped }

// MmapOffset is the distance from the mapping's page-aligned base to this
// chunk's first logical byte. Zero for owned chunks.
func (c *Chunk) MmapOffset() uint64 { return c.mmapOffset }

// SetData replaces the chunk's buffer, used by in-place processors that
// allocate a new buffer (e.g. decompression). Only valid on owned chunks;
// calling it on a mapped chunk panics, since a processor must never try to
// replace a borrowed mapping's backing storage.
func (c *Chunk) SetData(data []byte) {
	if c.mapped {
		panic("chunk: SetData called on a mapped chunk")
	}
	c.data = data
}

// Resize overwrites the logical size. If size > current size, the buffer is
// grown, preserving the first len(c.data) bytes. If size < current size,
// only the logical length is decreased; the backing array is untouched.
// Resize is a silent no-op on mapped chunks.
func (c *Chunk) Resize(size uint64) {
	if c.mapped {
		return
	}
	if int(size) <= len(c.data) {
		c.data = c.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, c.data)
	c.data = grown
}

// Close releases a mapped chunk's memory mapping. It is a no-op for owned
// chunks, which the garbage collector reclaims normally.
func (c *Chunk) Close() error {
	if !c.mapped || c.mm == nil {
		return nil
	}
	err := c.mm.Unmap()
	c.mm = nil
	c.data = nil
	return err
}
