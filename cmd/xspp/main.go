// Command xspp preprocesses a source file into a chunked, optionally
// compressed data file plus its companion meta file, ready for xsearch to
// consume without re-scanning the source for line boundaries.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/lfreist/xsearch/internal/config"
	"github.com/lfreist/xsearch/internal/metafile"
	"github.com/lfreist/xsearch/internal/preprocess"
	"github.com/lfreist/xsearch/internal/xlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &config.PreprocessConfig{}
	var compressionFlag string
	// 1 if Execute fails before RunE runs (argument or flag error); RunE
	// switches it to 2 so a failure of the preprocessing run itself exits 2.
	exitCode := 1

	root := &cobra.Command{
		Use:   "xspp [flags] source",
		Short: "Preprocess a source file into chunked data + meta files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			exitCode = 2
			cfg.SourcePath = args[0]
			cfg.Compression = metafile.ParseCompression(compressionFlag)
			return preprocessMain(cfg)
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.StringVarP(&cfg.OutPath, "output", "o", "", "data file path (default: source path + .data)")
	flags.StringVarP(&cfg.MetaPath, "meta", "m", "", "meta file path (default: source path + .meta)")
	flags.StringVarP(&compressionFlag, "compression", "c", "none", "compression: none, lz4, zstd")
	flags.IntVarP(&cfg.ZstdLevel, "level", "l", 3, "zstd compression level (ignored for lz4/none)")
	flags.Uint64Var(&cfg.ChunkSize, "chunk-size", config.DefaultChunkSize, "minimum bytes per chunk")
	flags.Uint64Var(&cfg.MaxOversize, "max-oversize", config.DefaultMaxOversize, "bytes a chunk may extend past --chunk-size to reach a line boundary")
	flags.Uint64VarP(&cfg.AnchorDistance, "anchor-distance", "a", config.DefaultAnchorDistance, "byte interval between line-mapping anchors")
	flags.BoolVar(&cfg.Progress, "progress", true, "print a progress banner while preprocessing")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging on stderr")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode
	}
	return 0
}

func preprocessMain(cfg *config.PreprocessConfig) error {
	if cfg.OutPath == "" {
		cfg.OutPath = cfg.SourcePath + ".data"
	}
	if cfg.MetaPath == "" {
		cfg.MetaPath = cfg.SourcePath + ".meta"
	}

	logger := xlog.New(cfg.Verbose)
	defer logger.Sync()

	if cfg.Progress {
		info, err := os.Stat(cfg.SourcePath)
		size := int64(-1)
		if err == nil {
			size = info.Size()
		}
		fmt.Println("╔══════════════════════════════════════════╗")
		fmt.Printf("║  xspp: preprocessing %-20s ║\n", truncate(cfg.SourcePath, 20))
		fmt.Printf("║  compression: %-6s  chunk size: %-8d ║\n", cfg.Compression, cfg.ChunkSize)
		if size >= 0 {
			fmt.Printf("║  source size: %-10d bytes            ║\n", size)
		}
		fmt.Println("╚══════════════════════════════════════════╝")
	}

	start := time.Now()
	err := preprocess.Run(preprocess.Config{
		SourcePath:     cfg.SourcePath,
		DataPath:       cfg.OutPath,
		MetaPath:       cfg.MetaPath,
		Compression:    cfg.Compression,
		ZstdLevel:      zstd.EncoderLevel(cfg.ZstdLevel),
		MinChunkSize:   cfg.ChunkSize,
		MaxOversize:    cfg.MaxOversize,
		AnchorDistance: cfg.AnchorDistance,
	}, logger)

	if cfg.Progress {
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("❌ preprocessing failed after %s: %v\n", elapsed, err)
		} else {
			fmt.Printf("✅ preprocessing done in %s -> %s, %s\n", elapsed, cfg.OutPath, cfg.MetaPath)
		}
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
