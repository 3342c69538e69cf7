// Package provider implements the DataProvider stage: the source of Chunks
// fed into the pipeline. Four variants mirror the original's
// FileBlockMetaReader, FileBlockMetaReaderMMAP, FileBlockReader and
// FileBlockReaderMMAP: meta-driven vs. metaless, and streamed-read vs.
// mmap-backed.
package provider

import (
	"io"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/metafile"
	"github.com/lfreist/xsearch/internal/simd"
	"github.com/lfreist/xsearch/internal/xerrors"
)

// Provider yields Chunks in ChunkIndex order. Next returns ok=false once the
// source is exhausted; callers must not call Next again afterward.
type Provider interface {
	Next() (c *chunk.Chunk, ok bool, err error)
	Close() error
}

// readerSemaphore bounds how many reads against the source may be in flight
// at once, via a buffered channel used as a counting semaphore — the same
// shape as maxReaders in the original's DataProvider base class. It caps
// overlapping reads on the provider's one shared os.File, not the number of
// open file descriptors or concurrent CPU work. Only the streamed providers
// (MetaStreamProvider, BlockProvider) hold one; the mapped providers read
// through the mapping and take no semaphore.
type readerSemaphore chan struct{}

func newReaderSemaphore(n int) readerSemaphore {
	if n <= 0 {
		n = 1
	}
	return make(readerSemaphore, n)
}

func (s readerSemaphore) acquire() { s <- struct{}{} }
func (s readerSemaphore) release() { <-s }

// MetaStreamProvider reads chunk bytes sequentially out of the data file
// using the companion MetaFile for offsets and sizes. Grounded on
// FileBlockMetaReader.
type MetaStreamProvider struct {
	f    *os.File
	meta *metafile.Reader
	sem  readerSemaphore
}

// NewMetaStreamProvider opens dataPath and metaPath for sequential reading.
func NewMetaStreamProvider(dataPath, metaPath string, maxReaders int) (*MetaStreamProvider, error) {
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewMetaStreamProvider", err)
	}
	mr, err := metafile.NewReader(metaPath)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &MetaStreamProvider{f: f, meta: mr, sem: newReaderSemaphore(maxReaders)}, nil
}

func (p *MetaStreamProvider) Next() (*chunk.Chunk, bool, error) {
	m, ok, err := p.meta.Next()
	if err != nil || !ok {
		return nil, ok, err
	}

	p.sem.acquire()
	defer p.sem.release()

	buf := make([]byte, m.ActualSize)
	if _, err := p.f.ReadAt(buf, int64(m.ActualOffset)); err != nil && err != io.EOF {
		return nil, false, xerrors.New(xerrors.KindIO, "provider.MetaStreamProvider.Next", err)
	}
	return chunk.NewOwnedFrom(buf, m), true, nil
}

func (p *MetaStreamProvider) Close() error {
	metaErr := p.meta.Close()
	fErr := p.f.Close()
	if fErr != nil {
		return xerrors.New(xerrors.KindIO, "provider.MetaStreamProvider.Close", fErr)
	}
	return metaErr
}

// minMmapSize is the threshold below which mapping a file is not worth the
// syscall overhead; providers below it fall back to streamed reads.
const minMmapSize = 1 << 20 // 1 MiB

// MetaMappedProvider maps the whole data file once and hands out borrowed
// views into it per ChunkMeta record, avoiding a read() syscall per chunk.
// Grounded on FileBlockMetaReaderMMAP.
type MetaMappedProvider struct {
	f    *os.File
	mm   mmap.MMap
	meta *metafile.Reader
}

// NewMetaMappedProvider maps dataPath read-only. If the file is smaller than
// minMmapSize or the mapping fails, it falls back to a MetaStreamProvider
// instead, matching the original's "mmap is not always a win for small
// files" fallback.
func NewMetaMappedProvider(dataPath, metaPath string, maxReaders int) (Provider, error) {
	info, err := os.Stat(dataPath)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewMetaMappedProvider", err)
	}
	if info.Size() < minMmapSize {
		return NewMetaStreamProvider(dataPath, metaPath, maxReaders)
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewMetaMappedProvider", err)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return NewMetaStreamProvider(dataPath, metaPath, maxReaders)
	}
	mr, err := metafile.NewReader(metaPath)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, err
	}
	return &MetaMappedProvider{f: f, mm: mm, meta: mr}, nil
}

func (p *MetaMappedProvider) Next() (*chunk.Chunk, bool, error) {
	m, ok, err := p.meta.Next()
	if err != nil || !ok {
		return nil, ok, err
	}
	end := m.ActualOffset + m.ActualSize
	if end > uint64(len(p.mm)) {
		return nil, false, xerrors.New(xerrors.KindFormat, "provider.MetaMappedProvider.Next", nil)
	}
	return chunk.NewBorrowedMapped(p.mm[m.ActualOffset:end:end], m), true, nil
}

func (p *MetaMappedProvider) Close() error {
	metaErr := p.meta.Close()
	if err := p.mm.Unmap(); err != nil {
		p.f.Close()
		return xerrors.New(xerrors.KindIO, "provider.MetaMappedProvider.Close", err)
	}
	if err := p.f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "provider.MetaMappedProvider.Close", err)
	}
	return metaErr
}

// BlockProvider reads a source file into chunks with no companion metadata:
// it reads minChunkSize bytes, then extends up to maxOversize further bytes
// to reach the next newline so chunks never split a line. Grounded on
// FileBlockReader / the chunking half of FilePreprocessing.cpp.
//
// Next is called concurrently by every worker goroutine in the executor's
// pool; mu serializes access to the cursor fields (nextIndex, nextOffset) the
// same way metafile.Reader's own mutex serializes MetaStreamProvider/
// MetaMappedProvider, matching spec.md §4.4's "single-reader, serializes on
// its own cursor mutex" requirement for the metaless providers too.
type BlockProvider struct {
	f            *os.File
	sem          readerSemaphore
	minChunkSize uint64
	maxOversize  uint64
	size         uint64

	mu         sync.Mutex
	nextIndex  uint64
	nextOffset uint64
}

// NewBlockProvider opens path for metaless streamed chunking.
func NewBlockProvider(path string, minChunkSize, maxOversize uint64, maxReaders int) (*BlockProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewBlockProvider", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.KindIO, "provider.NewBlockProvider", err)
	}
	return &BlockProvider{
		f: f, sem: newReaderSemaphore(maxReaders),
		minChunkSize: minChunkSize, maxOversize: maxOversize,
		size: uint64(info.Size()),
	}, nil
}

// chunkEnd implements the shared "read min_chunk_size, then extend
// byte-by-byte up to max_oversize looking for a newline or EOF" rule that
// both the metaless streamed and metaless mapped providers follow (rules
// (c) and (d)). window holds bytes [offset, offset+len(window)) of the
// source; window must extend at least to min(offset+minChunkSize+maxOversize,
// size). It returns the absolute end offset of the chunk, and whether that
// end coincides with EOF.
func chunkEnd(offset, size, minChunkSize, maxOversize uint64, window []byte) (end uint64, atEOF bool, err error) {
	remaining := size - offset
	if remaining <= minChunkSize {
		return size, true, nil
	}

	searchFrom := minChunkSize - 1
	limit := minChunkSize + maxOversize
	if remaining < limit {
		limit = remaining
	}
	if uint64(len(window)) < limit {
		limit = uint64(len(window))
	}

	if nl := simd.FindNewline(window[searchFrom:limit], 0); nl >= 0 {
		end = offset + searchFrom + uint64(nl) + 1
		return end, end >= size, nil
	}
	if offset+limit >= size {
		return size, true, nil
	}
	return 0, false, xerrors.New(xerrors.KindOverflow, "provider.chunkEnd", nil)
}

func (p *BlockProvider) Next() (*chunk.Chunk, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.nextOffset >= p.size {
		return nil, false, nil
	}

	p.sem.acquire()
	defer p.sem.release()

	remaining := p.size - p.nextOffset
	capacity := p.minChunkSize + p.maxOversize
	if remaining < capacity {
		capacity = remaining
	}

	buf := make([]byte, capacity)
	n, err := p.f.ReadAt(buf, int64(p.nextOffset))
	if err != nil && err != io.EOF {
		return nil, false, xerrors.New(xerrors.KindIO, "provider.BlockProvider.Next", err)
	}
	buf = buf[:n]

	end, _, err := chunkEnd(p.nextOffset, p.size, p.minChunkSize, p.maxOversize, buf)
	if err != nil {
		return nil, false, err
	}

	chunkBytes := buf[:end-p.nextOffset]
	m := chunk.Meta{
		ChunkIndex:     p.nextIndex,
		OriginalOffset: p.nextOffset,
		ActualOffset:   p.nextOffset,
		OriginalSize:   uint64(len(chunkBytes)),
		ActualSize:     uint64(len(chunkBytes)),
	}
	p.nextIndex++
	p.nextOffset += uint64(len(chunkBytes))

	return chunk.NewOwnedFrom(chunkBytes, m), true, nil
}

func (p *BlockProvider) Close() error {
	if err := p.f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "provider.BlockProvider.Close", err)
	}
	return nil
}

// MappedBlockProvider is BlockProvider's mmap-backed counterpart: it maps
// the whole source once and hands out newline-aligned borrowed slices,
// falling back to BlockProvider below minMmapSize or on a failed mapping.
// Grounded on FileBlockReaderMMAP.
//
// As with BlockProvider, Next is called concurrently by every worker in the
// executor's pool; mu serializes access to the cursor fields so chunk
// boundaries are never duplicated, skipped, or corrupted under concurrent
// callers (spec.md §4.4).
type MappedBlockProvider struct {
	f            *os.File
	mm           mmap.MMap
	minChunkSize uint64
	maxOversize  uint64

	mu         sync.Mutex
	nextIndex  uint64
	nextOffset uint64
}

// NewMappedBlockProvider maps path read-only for metaless chunking.
func NewMappedBlockProvider(path string, minChunkSize, maxOversize uint64, maxReaders int) (Provider, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewMappedBlockProvider", err)
	}
	if info.Size() < minMmapSize {
		return NewBlockProvider(path, minChunkSize, maxOversize, maxReaders)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "provider.NewMappedBlockProvider", err)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return NewBlockProvider(path, minChunkSize, maxOversize, maxReaders)
	}
	return &MappedBlockProvider{f: f, mm: mm, minChunkSize: minChunkSize, maxOversize: maxOversize}, nil
}

func (p *MappedBlockProvider) Next() (*chunk.Chunk, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	size := uint64(len(p.mm))
	if p.nextOffset >= size {
		return nil, false, nil
	}

	end, _, err := chunkEnd(p.nextOffset, size, p.minChunkSize, p.maxOversize, p.mm[p.nextOffset:])
	if err != nil {
		return nil, false, err
	}

	m := chunk.Meta{
		ChunkIndex:     p.nextIndex,
		OriginalOffset: p.nextOffset,
		ActualOffset:   p.nextOffset,
		OriginalSize:   end - p.nextOffset,
		ActualSize:     end - p.nextOffset,
	}
	c := chunk.NewBorrowedMapped(p.mm[p.nextOffset:end:end], m)
	p.nextIndex++
	p.nextOffset = end
	return c, true, nil
}

func (p *MappedBlockProvider) Close() error {
	if err := p.mm.Unmap(); err != nil {
		p.f.Close()
		return xerrors.New(xerrors.KindIO, "provider.MappedBlockProvider.Close", err)
	}
	if err := p.f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "provider.MappedBlockProvider.Close", err)
	}
	return nil
}
