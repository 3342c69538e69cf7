// Package inplace implements the pipeline stages that transform a Chunk
// after it leaves the DataProvider and before it reaches a searcher:
// decompression, ASCII lowercasing, and newline-index annotation. Grounded
// on the original's default InplaceProcessors (LZ4Decompressor,
// ZSTDDecompressor, NewLineSearcher).
package inplace

import (
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/simd"
	"github.com/lfreist/xsearch/internal/xerrors"
)

// Processor transforms a Chunk, possibly replacing its data entirely (e.g.
// decompression allocates a fresh buffer). Implementations that need a
// fresh buffer must not call c.SetData on a mapped chunk — return a new
// Chunk built with chunk.NewOwnedFrom instead.
type Processor interface {
	Process(c *chunk.Chunk) (*chunk.Chunk, error)
}

// orderBarrier lets processors with cross-chunk shared state (only
// NewLineIndexer, among the processors in this package) serialize on
// chunk_index even though chunks may arrive from concurrent workers out of
// order. Grounded on the mutex+condition-variable "wait for my turn" idiom
// the original's ordered InplaceProcessors use.
type orderBarrier struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64
}

func newOrderBarrier() *orderBarrier {
	b := &orderBarrier{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// enter blocks until id is the next chunk index due, then holds the lock so
// the caller's critical section runs exclusively. The caller must call
// leave when done.
func (b *orderBarrier) enter(id uint64) {
	b.mu.Lock()
	for b.next != id {
		b.cond.Wait()
	}
}

func (b *orderBarrier) leave() {
	b.next++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// LZ4Decompress decompresses a chunk compressed independently as a single
// LZ4 block (each chunk is its own block; no cross-chunk dictionary, so no
// ordering is required here).
type LZ4Decompress struct{}

func (LZ4Decompress) Process(c *chunk.Chunk) (*chunk.Chunk, error) {
	dst := make([]byte, c.Meta.OriginalSize)
	n, err := lz4.UncompressBlock(c.Data(), dst)
	if err != nil {
		return nil, xerrors.New(xerrors.KindCompression, "inplace.LZ4Decompress", err)
	}
	return chunk.NewOwnedFrom(dst[:n], c.Meta), nil
}

// ZstdDecompress decompresses a chunk compressed independently as a single
// zstd frame. klauspost/compress/zstd is chosen over dolthub/gozstd to keep
// the binary cgo-free (see DESIGN.md).
type ZstdDecompress struct {
	dec *zstd.Decoder
}

// NewZstdDecompress builds a reusable decoder. Safe for concurrent use by
// multiple goroutines.
func NewZstdDecompress() (*ZstdDecompress, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.New(xerrors.KindCompression, "inplace.NewZstdDecompress", err)
	}
	return &ZstdDecompress{dec: dec}, nil
}

func (z *ZstdDecompress) Process(c *chunk.Chunk) (*chunk.Chunk, error) {
	dst := make([]byte, 0, c.Meta.OriginalSize)
	out, err := z.dec.DecodeAll(c.Data(), dst)
	if err != nil {
		return nil, xerrors.New(xerrors.KindCompression, "inplace.ZstdDecompress", err)
	}
	return chunk.NewOwnedFrom(out, c.Meta), nil
}

// Close releases the decoder's background goroutines.
func (z *ZstdDecompress) Close() { z.dec.Close() }

// AsciiToLower lowercases a chunk's bytes in place, used ahead of
// case-insensitive non-regex searches. Stateless: chunks may be processed
// in any order.
type AsciiToLower struct{}

func (AsciiToLower) Process(c *chunk.Chunk) (*chunk.Chunk, error) {
	if c.IsMapped() {
		// a mapped chunk is a read-only view; lowercasing needs an owned copy
		owned := append([]byte(nil), c.Data()...)
		simd.ToLowerASCII(owned)
		return chunk.NewOwnedFrom(owned, c.Meta), nil
	}
	simd.ToLowerASCII(c.Data())
	return c, nil
}

// NewLineIndexer replaces each chunk's Meta.LineMapping with LineAnchor
// entries emitted every distance bytes of globally-accumulated input
// (anchors already on the chunk are discarded), the same anchor cadence
// FilePreprocessing.cpp uses when it isn't the one producing the MetaFile
// (e.g. recomputing line_mapping for a metaless-sourced chunk on the fly).
// It carries state across chunks (the running global byte offset and line
// index), so — unlike the stateless decompressors above — it genuinely
// needs the ordered barrier to stay correct when chunks are processed
// concurrently.
type NewLineIndexer struct {
	distance uint64
	barrier  *orderBarrier

	globalByteOffset uint64
	globalLineIndex  uint64
	sinceAnchor      uint64
}

// NewNewLineIndexer builds an indexer that emits an anchor roughly every
// distance bytes.
func NewNewLineIndexer(distance uint64) *NewLineIndexer {
	return &NewLineIndexer{distance: distance, barrier: newOrderBarrier()}
}

func (idx *NewLineIndexer) Process(c *chunk.Chunk) (*chunk.Chunk, error) {
	idx.barrier.enter(c.Meta.ChunkIndex)
	defer idx.barrier.leave()

	data := c.Data()
	anchors := c.Meta.LineMapping[:0:0]
	if idx.sinceAnchor >= idx.distance {
		idx.sinceAnchor = 0
	}
	if idx.sinceAnchor == 0 {
		anchors = append(anchors, chunk.LineAnchor{
			GlobalByteOffset: idx.globalByteOffset,
			GlobalLineIndex:  idx.globalLineIndex,
		})
	}

	pos := 0
	for {
		nl := simd.FindNewline(data, pos)
		if nl < 0 {
			idx.sinceAnchor += uint64(len(data) - pos)
			idx.globalByteOffset += uint64(len(data) - pos)
			break
		}
		consumed := uint64(nl - pos + 1)
		idx.sinceAnchor += consumed
		idx.globalByteOffset += consumed
		idx.globalLineIndex++
		pos = nl + 1
		if idx.sinceAnchor >= idx.distance && pos < len(data) {
			anchors = append(anchors, chunk.LineAnchor{
				GlobalByteOffset: idx.globalByteOffset,
				GlobalLineIndex:  idx.globalLineIndex,
			})
			idx.sinceAnchor = 0
		}
	}

	c.Meta.LineMapping = anchors
	return c, nil
}
