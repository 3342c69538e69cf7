package metafile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfreist/xsearch/internal/chunk"
)

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.meta")

	want := []chunk.Meta{
		{
			OriginalOffset: 0, ActualOffset: 0, OriginalSize: 100, ActualSize: 100,
			LineMapping: []chunk.LineAnchor{{GlobalByteOffset: 0, GlobalLineIndex: 0}},
		},
		{
			OriginalOffset: 100, ActualOffset: 80, OriginalSize: 50, ActualSize: 30,
			LineMapping: nil,
		},
		{
			OriginalOffset: 150, ActualOffset: 110, OriginalSize: 200, ActualSize: 150,
			LineMapping: []chunk.LineAnchor{
				{GlobalByteOffset: 150, GlobalLineIndex: 12},
				{GlobalByteOffset: 220, GlobalLineIndex: 20},
			},
		},
	}

	w, err := NewWriter(path, CompressionLZ4)
	require.NoError(t, err)
	for _, m := range want {
		require.NoError(t, w.WriteChunkMeta(m))
	}
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, CompressionLZ4, r.Compression())

	var got []chunk.Meta
	for {
		m, ok, err := r.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, m)
	}

	require.Len(t, got, len(want))
	for i, m := range got {
		require.Equal(t, uint64(i), m.ChunkIndex)
		require.Equal(t, want[i].OriginalOffset, m.OriginalOffset)
		require.Equal(t, want[i].ActualOffset, m.ActualOffset)
		require.Equal(t, want[i].OriginalSize, m.OriginalSize)
		require.Equal(t, want[i].ActualSize, m.ActualSize)
		require.Equal(t, want[i].LineMapping, m.LineMapping)
	}
}

func TestPeekCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.meta")
	w, err := NewWriter(path, CompressionZstd)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := PeekCompression(path)
	require.NoError(t, err)
	require.Equal(t, CompressionZstd, got)
}

func TestNewWriterRejectsUnknownCompression(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.meta")
	_, err := NewWriter(path, CompressionUnknown)
	require.Error(t, err)
	_, statErr := os.Stat(path)
	require.Error(t, statErr)
}

func TestReaderEmptyAfterAllRecordsConsumed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.meta")
	w, err := NewWriter(path, CompressionNone)
	require.NoError(t, err)
	require.NoError(t, w.WriteChunkMeta(chunk.Meta{OriginalSize: 10, ActualSize: 10}))
	require.NoError(t, w.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, ok, err := r.Next()
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.Next()
	require.NoError(t, err)
	require.False(t, ok)
}
