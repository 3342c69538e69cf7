package provider

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/metafile"
	"github.com/lfreist/xsearch/internal/xerrors"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestBlockProviderSmallChunks mirrors a mapped/streamed read over a small
// file: a 56-byte newline-terminated first chunk followed by a 59-byte
// final chunk that runs to EOF with no trailing newline.
func TestBlockProviderSmallChunks(t *testing.T) {
	content := strings.Repeat("a", 55) + "\n" + strings.Repeat("b", 59)
	path := writeTempFile(t, content)

	p, err := NewBlockProvider(path, 50, 100, 1)
	require.NoError(t, err)
	defer p.Close()

	c1, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 56, c1.Size())
	require.Equal(t, uint64(0), c1.Meta.OriginalOffset)

	c2, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 59, c2.Size())
	require.Equal(t, uint64(56), c2.Meta.OriginalOffset)

	_, ok, err = p.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMappedBlockProviderSmallChunks(t *testing.T) {
	content := strings.Repeat("a", 55) + "\n" + strings.Repeat("b", 59)
	path := writeTempFile(t, content)

	prov, err := NewMappedBlockProvider(path, 50, 100, 1)
	require.NoError(t, err)
	defer prov.Close()

	c1, ok, err := prov.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 56, c1.Size())

	c2, ok, err := prov.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 59, c2.Size())

	_, ok, err = prov.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

// TestBlockProviderOverflow mirrors a 50-byte line followed by a 200-byte
// line with no newline: the first next() succeeds at 51 bytes (the extra
// byte captures the newline terminating the first line); the second next()
// must fail with Overflow since no newline or EOF appears within
// max_oversize of the second min_size read.
func TestBlockProviderOverflow(t *testing.T) {
	content := strings.Repeat("x", 50) + "\n" + strings.Repeat("y", 200)
	path := writeTempFile(t, content)

	p, err := NewBlockProvider(path, 50, 5, 1)
	require.NoError(t, err)
	defer p.Close()

	c1, ok, err := p.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 51, c1.Size())

	_, _, err = p.Next()
	require.Error(t, err)
	require.True(t, xerrors.Is(err, xerrors.KindOverflow))
}

// drainConcurrently pulls from p with numWorkers goroutines simultaneously,
// the same access pattern executor.Executor.Run uses across its worker pool,
// and returns every yielded chunk. If Next returns an error, the goroutine
// that saw it reports it with t.Errorf (safe from a goroutine) and stops
// pulling.
func drainConcurrently(t *testing.T, p Provider, numWorkers int) []*chunk.Chunk {
	t.Helper()
	var mu sync.Mutex
	var chunks []*chunk.Chunk
	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			for {
				c, ok, err := p.Next()
				if err != nil {
					t.Errorf("Next: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				chunks = append(chunks, c)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return chunks
}

// assertChunksReconstructSource checks that chunks, sorted by ChunkIndex,
// cover the source exactly once each with no gaps, duplicates, or corrupted
// boundaries: concatenating their data in index order must reproduce want
// byte-for-byte, and every ChunkIndex from 0..len(chunks)-1 must appear
// exactly once.
func assertChunksReconstructSource(t *testing.T, chunks []*chunk.Chunk, want string) {
	t.Helper()
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].Meta.ChunkIndex < chunks[j].Meta.ChunkIndex })

	seen := make(map[uint64]bool, len(chunks))
	var rebuilt []byte
	for i, c := range chunks {
		require.Falsef(t, seen[c.Meta.ChunkIndex], "chunk_index %d yielded more than once", c.Meta.ChunkIndex)
		seen[c.Meta.ChunkIndex] = true
		require.Equal(t, uint64(i), c.Meta.ChunkIndex, "chunk_index must be dense starting at 0")
		rebuilt = append(rebuilt, c.Data()...)
	}
	require.Equal(t, want, string(rebuilt))
}

// TestBlockProviderConcurrentNext exercises the same multi-goroutine access
// pattern cmd/xsearch drives against BlockProvider (used when --meta is not
// given and either --no-mmap is set or the source is under 1 MiB): executor.Executor
// calls Next() from NumWorkers goroutines with no external synchronization,
// so BlockProvider.Next must serialize its own cursor internally.
func TestBlockProviderConcurrentNext(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 2000; i++ {
		b.WriteString(strings.Repeat("x", i%37+1))
		b.WriteByte('\n')
	}
	content := b.String()
	path := writeTempFile(t, content)

	p, err := NewBlockProvider(path, 256, 64, 4)
	require.NoError(t, err)
	defer p.Close()

	chunks := drainConcurrently(t, p, 8)
	require.Greater(t, len(chunks), 1)
	assertChunksReconstructSource(t, chunks, content)
}

func TestMappedBlockProviderConcurrentNext(t *testing.T) {
	var b strings.Builder
	// Large enough to clear minMmapSize so NewMappedBlockProvider actually
	// returns a *MappedBlockProvider instead of falling back to
	// *BlockProvider for a small file.
	for i := 0; i < 70000; i++ {
		b.WriteString(strings.Repeat("y", i%29+1))
		b.WriteByte('\n')
	}
	content := b.String()
	require.Greater(t, len(content), minMmapSize)
	path := writeTempFile(t, content)

	prov, err := NewMappedBlockProvider(path, 4096, 512, 4)
	require.NoError(t, err)
	defer prov.Close()
	_, isMapped := prov.(*MappedBlockProvider)
	require.True(t, isMapped, "file should be large enough to map, not fall back to BlockProvider")

	chunks := drainConcurrently(t, prov, 8)
	require.Greater(t, len(chunks), 1)
	assertChunksReconstructSource(t, chunks, content)
}

func TestMetaStreamProviderFollowsMetaFile(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data.bin")
	metaPath := filepath.Join(dir, "data.meta")

	payload := []byte("first-chunk-bytes|second-chunk-longer-bytes-here|third")
	require.NoError(t, os.WriteFile(dataPath, payload, 0o644))

	mw, err := metafile.NewWriter(metaPath, metafile.CompressionNone)
	require.NoError(t, err)
	offsets := []struct{ off, size uint64 }{
		{0, 18},
		{18, 32},
		{50, uint64(len(payload)) - 50},
	}
	for _, o := range offsets {
		require.NoError(t, mw.WriteChunkMeta(chunk.Meta{
			OriginalOffset: o.off, ActualOffset: o.off,
			OriginalSize: o.size, ActualSize: o.size,
		}))
	}
	require.NoError(t, mw.Close())

	sp, err := NewMetaStreamProvider(dataPath, metaPath, 2)
	require.NoError(t, err)
	defer sp.Close()

	var streamed [][]byte
	for {
		c, ok, err := sp.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		buf := append([]byte(nil), c.Data()...)
		streamed = append(streamed, buf)
	}
	require.Len(t, streamed, 3)
	require.Equal(t, payload[0:18], streamed[0])
	require.Equal(t, payload[18:50], streamed[1])
	require.Equal(t, payload[50:], streamed[2])
}
