// Package preprocess implements the chunking pass that turns a plain
// source file into a (possibly compressed) data file plus its companion
// MetaFile: the C9 "Preprocessor" component. Ported from
// FilePreprocessing.cpp's line-buffered accumulation loop.
package preprocess

import (
	"bufio"
	"io"
	"math"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"go.uber.org/zap"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/metafile"
	"github.com/lfreist/xsearch/internal/simd"
	"github.com/lfreist/xsearch/internal/xerrors"
)

// Config parameterizes one preprocessing run.
type Config struct {
	SourcePath     string
	DataPath       string
	MetaPath       string
	Compression    metafile.Compression
	ZstdLevel      zstd.EncoderLevel
	MinChunkSize   uint64
	MaxOversize    uint64
	AnchorDistance uint64
}

const readBlock = 64 * 1024

// Run executes one preprocessing pass: it reads Config.SourcePath in line-
// aligned chunks of roughly MinChunkSize bytes (extended up to MaxOversize
// to avoid splitting a line), optionally compresses each chunk
// independently, writes the (possibly compressed) bytes to Config.DataPath
// and a ChunkMeta record plus periodic line anchors to Config.MetaPath.
func Run(cfg Config, logger *zap.Logger) error {
	src, err := os.Open(cfg.SourcePath)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "preprocess.Run", err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return xerrors.New(xerrors.KindIO, "preprocess.Run", err)
	}
	srcSize := uint64(srcInfo.Size())

	out, err := os.Create(cfg.DataPath)
	if err != nil {
		return xerrors.New(xerrors.KindIO, "preprocess.Run", err)
	}
	defer out.Close()
	outw := bufio.NewWriterSize(out, 256*1024)
	defer outw.Flush()

	mw, err := metafile.NewWriter(cfg.MetaPath, cfg.Compression)
	if err != nil {
		return err
	}
	defer mw.Close()

	var compressor func([]byte) ([]byte, error)
	minChunkSize := cfg.MinChunkSize

	switch cfg.Compression {
	case metafile.CompressionLZ4:
		compressor = func(data []byte) ([]byte, error) {
			var ht [1 << 16]int
			dst := make([]byte, lz4.CompressBlockBound(len(data)))
			n, err := lz4.CompressBlock(data, dst, ht[:])
			if err != nil {
				return nil, xerrors.New(xerrors.KindCompression, "preprocess.Run", err)
			}
			if n == 0 {
				return append([]byte(nil), data...), nil
			}
			return dst[:n], nil
		}
		// LZ4's block API takes an int length; if min_chunk_size + max_oversize
		// would overflow it, clamp min_chunk_size down once and warn, rather
		// than refuse to run (see DESIGN.md's Open Question decision).
		if cfg.MinChunkSize+cfg.MaxOversize > uint64(math.MaxInt32) {
			minChunkSize = uint64(math.MaxInt32) - cfg.MaxOversize
			if logger != nil {
				logger.Warn("clamping min_chunk_size: min_chunk_size+max_oversize exceeds LZ4's int32 block size cap",
					zap.Uint64("requested_min_chunk_size", cfg.MinChunkSize),
					zap.Uint64("clamped_min_chunk_size", minChunkSize))
			}
		}
	case metafile.CompressionZstd:
		enc, encErr := zstd.NewWriter(nil, zstd.WithEncoderLevel(cfg.ZstdLevel))
		if encErr != nil {
			return xerrors.New(xerrors.KindCompression, "preprocess.Run", encErr)
		}
		defer enc.Close()
		compressor = func(data []byte) ([]byte, error) {
			return enc.EncodeAll(data, nil), nil
		}
	case metafile.CompressionNone:
		compressor = func(data []byte) ([]byte, error) { return data, nil }
	default:
		return xerrors.New(xerrors.KindContract, "preprocess.Run", nil)
	}

	r := bufio.NewReaderSize(src, readBlock)
	var buf []byte
	var originalCursor uint64
	var actualCursor uint64
	var chunkIndex uint64
	var globalByteOffset uint64
	var globalLineIndex uint64
	var sinceAnchor uint64

	eof := false
	for !eof || len(buf) > 0 {
		// Top up the buffer until it holds at least minChunkSize+1 bytes (so
		// we can always test the byte just past the minimum), or EOF.
		for !eof && uint64(len(buf)) <= minChunkSize {
			block := make([]byte, readBlock)
			n, readErr := r.Read(block)
			if n > 0 {
				buf = append(buf, block[:n]...)
			}
			if readErr != nil {
				if readErr == io.EOF {
					eof = true
					break
				}
				return xerrors.New(xerrors.KindIO, "preprocess.Run", readErr)
			}
		}
		if len(buf) == 0 {
			break
		}

		var lineEnd int
		if uint64(len(buf)) <= minChunkSize {
			// remainder of the file, shorter than one full chunk
			lineEnd = len(buf)
		} else {
			limit := minChunkSize + cfg.MaxOversize
			if uint64(len(buf)) < limit {
				// need more bytes to know whether we'll find a newline in
				// time; top up fully before deciding, unless already EOF
				for !eof && uint64(len(buf)) < limit {
					block := make([]byte, readBlock)
					n, readErr := r.Read(block)
					if n > 0 {
						buf = append(buf, block[:n]...)
					}
					if readErr != nil {
						if readErr == io.EOF {
							eof = true
							break
						}
						return xerrors.New(xerrors.KindIO, "preprocess.Run", readErr)
					}
				}
				if uint64(len(buf)) < limit {
					limit = uint64(len(buf))
				}
			}
			searchFrom := int(minChunkSize - 1)
			if nl := simd.FindNewline(buf[searchFrom:int(limit)], 0); nl >= 0 {
				lineEnd = searchFrom + nl + 1
			} else if eof && uint64(len(buf)) == limit {
				lineEnd = len(buf)
			} else {
				return xerrors.New(xerrors.KindOverflow, "preprocess.Run", nil)
			}
		}

		lineBuf := buf[:lineEnd]
		compressed, cErr := compressor(lineBuf)
		if cErr != nil {
			return cErr
		}

		if _, err := outw.Write(compressed); err != nil {
			return xerrors.New(xerrors.KindIO, "preprocess.Run", err)
		}

		var anchors []chunk.LineAnchor
		pos := 0
		if sinceAnchor == 0 {
			anchors = append(anchors, chunk.LineAnchor{GlobalByteOffset: globalByteOffset, GlobalLineIndex: globalLineIndex})
		}
		for {
			nl := simd.FindNewline(lineBuf, pos)
			if nl < 0 {
				consumed := uint64(len(lineBuf) - pos)
				sinceAnchor += consumed
				globalByteOffset += consumed
				break
			}
			consumed := uint64(nl - pos + 1)
			sinceAnchor += consumed
			globalByteOffset += consumed
			globalLineIndex++
			pos = nl + 1
			if sinceAnchor >= cfg.AnchorDistance && pos < len(lineBuf) {
				anchors = append(anchors, chunk.LineAnchor{GlobalByteOffset: globalByteOffset, GlobalLineIndex: globalLineIndex})
				sinceAnchor = 0
			}
		}
		if sinceAnchor >= cfg.AnchorDistance {
			sinceAnchor = 0
		}

		m := chunk.Meta{
			ChunkIndex:     chunkIndex,
			OriginalOffset: originalCursor,
			OriginalSize:   uint64(len(lineBuf)),
			ActualOffset:   actualCursor,
			ActualSize:     uint64(len(compressed)),
			LineMapping:    anchors,
		}
		if err := mw.WriteChunkMeta(m); err != nil {
			return err
		}

		chunkIndex++
		originalCursor += uint64(len(lineBuf))
		actualCursor += uint64(len(compressed))
		buf = buf[lineEnd:]

		if originalCursor >= srcSize && len(buf) == 0 {
			break
		}
	}

	return nil
}
