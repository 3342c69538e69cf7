// Package metafile implements the side-car metadata file: a one-byte
// compression tag followed by a dense stream of chunk descriptors. See
// SPEC_FULL.md §6 for the exact wire layout.
package metafile

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/xerrors"
)

// Compression identifies how the companion data file is encoded. Matches
// the original x-search wire format exactly: 0=Unknown, 1=None, 2=Zstd,
// 3=LZ4.
type Compression uint8

const (
	CompressionUnknown Compression = 0
	CompressionNone    Compression = 1
	CompressionZstd    Compression = 2
	CompressionLZ4     Compression = 3
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// ParseCompression maps a CLI-friendly name to a Compression tag.
func ParseCompression(s string) Compression {
	switch s {
	case "zstd", "zst":
		return CompressionZstd
	case "lz4":
		return CompressionLZ4
	case "none", "":
		return CompressionNone
	default:
		return CompressionUnknown
	}
}

const recordBufferDepth = 256

// Writer appends ChunkMeta records to a metadata file. Writing is
// append-only and serializes one record at a time under a mutex.
type Writer struct {
	mu          sync.Mutex
	w           *bufio.Writer
	f           *os.File
	compression Compression
}

// NewWriter creates (or truncates) path and writes the one-byte
// compression tag header. compression must not be CompressionUnknown.
func NewWriter(path string, compression Compression) (*Writer, error) {
	if compression == CompressionUnknown {
		return nil, xerrors.New(xerrors.KindContract, "metafile.NewWriter", nil)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "metafile.NewWriter", err)
	}
	w := &Writer{w: bufio.NewWriterSize(f, 64*1024), f: f, compression: compression}
	if err := w.w.WriteByte(byte(compression)); err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.KindIO, "metafile.NewWriter", err)
	}
	return w, nil
}

// WriteChunkMeta serializes one ChunkMeta record.
func (w *Writer) WriteChunkMeta(m chunk.Meta) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var hdr [40]byte
	binary.LittleEndian.PutUint64(hdr[0:8], m.OriginalOffset)
	binary.LittleEndian.PutUint64(hdr[8:16], m.ActualOffset)
	binary.LittleEndian.PutUint64(hdr[16:24], m.OriginalSize)
	binary.LittleEndian.PutUint64(hdr[24:32], m.ActualSize)
	binary.LittleEndian.PutUint64(hdr[32:40], uint64(len(m.LineMapping)))
	if _, err := w.w.Write(hdr[:]); err != nil {
		return xerrors.New(xerrors.KindIO, "metafile.WriteChunkMeta", err)
	}

	if len(m.LineMapping) == 0 {
		return nil
	}
	buf := make([]byte, 16*len(m.LineMapping))
	for i, a := range m.LineMapping {
		binary.LittleEndian.PutUint64(buf[i*16:i*16+8], a.GlobalByteOffset)
		binary.LittleEndian.PutUint64(buf[i*16+8:i*16+16], a.GlobalLineIndex)
	}
	if _, err := w.w.Write(buf); err != nil {
		return xerrors.New(xerrors.KindIO, "metafile.WriteChunkMeta", err)
	}
	return nil
}

// Flush pushes buffered writes to disk.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return xerrors.New(xerrors.KindIO, "metafile.Flush", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	if err := w.f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "metafile.Close", err)
	}
	return nil
}

// Reader sequentially decodes ChunkMeta records, assigning a dense
// chunk_index as the running count of records yielded. Each Next call
// decodes exactly one record, under the Reader's mutex, from a 64 KiB
// bufio.Reader over the file; decoded records are not queued ahead of
// demand.
type Reader struct {
	mu          sync.Mutex
	r           *bufio.Reader
	f           *os.File
	compression Compression
	nextIndex   uint64
}

// NewReader opens path and reads the compression tag header.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.New(xerrors.KindIO, "metafile.NewReader", err)
	}
	br := bufio.NewReaderSize(f, 64*1024)
	tag, err := br.ReadByte()
	if err != nil {
		f.Close()
		return nil, xerrors.New(xerrors.KindFormat, "metafile.NewReader", err)
	}
	return &Reader{r: br, f: f, compression: Compression(tag)}, nil
}

// Compression returns the header's compression tag.
func (r *Reader) Compression() Compression { return r.compression }

// Next returns the next ChunkMeta, or ok=false at EOF.
func (r *Reader) Next() (m chunk.Meta, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var hdr [40]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		if err == io.EOF {
			return chunk.Meta{}, false, nil
		}
		return chunk.Meta{}, false, xerrors.New(xerrors.KindIO, "metafile.Next", err)
	}

	m.OriginalOffset = binary.LittleEndian.Uint64(hdr[0:8])
	m.ActualOffset = binary.LittleEndian.Uint64(hdr[8:16])
	m.OriginalSize = binary.LittleEndian.Uint64(hdr[16:24])
	m.ActualSize = binary.LittleEndian.Uint64(hdr[24:32])
	mappingLen := binary.LittleEndian.Uint64(hdr[32:40])

	if mappingLen > 0 {
		buf := make([]byte, 16*mappingLen)
		if _, err := io.ReadFull(r.r, buf); err != nil {
			return chunk.Meta{}, false, xerrors.New(xerrors.KindFormat, "metafile.Next", err)
		}
		m.LineMapping = make([]chunk.LineAnchor, mappingLen)
		for i := range m.LineMapping {
			m.LineMapping[i] = chunk.LineAnchor{
				GlobalByteOffset: binary.LittleEndian.Uint64(buf[i*16 : i*16+8]),
				GlobalLineIndex:  binary.LittleEndian.Uint64(buf[i*16+8 : i*16+16]),
			}
		}
	}

	m.ChunkIndex = r.nextIndex
	r.nextIndex++
	return m, true, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if err := r.f.Close(); err != nil {
		return xerrors.New(xerrors.KindIO, "metafile.Close", err)
	}
	return nil
}

// PeekCompression reads only the leading compression tag from path without
// consuming chunk records, mirroring MetaFile::getCompressionType's static
// helper in the original implementation.
func PeekCompression(path string) (Compression, error) {
	f, err := os.Open(path)
	if err != nil {
		return CompressionUnknown, xerrors.New(xerrors.KindIO, "metafile.PeekCompression", err)
	}
	defer f.Close()
	var tag [1]byte
	if _, err := io.ReadFull(f, tag[:]); err != nil {
		return CompressionUnknown, xerrors.New(xerrors.KindFormat, "metafile.PeekCompression", err)
	}
	return Compression(tag[0]), nil
}
