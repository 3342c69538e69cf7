// Command xsearch searches a source file — optionally via a preprocessed
// companion data/meta file pair — for a literal or regular-expression
// pattern, fanning the work out across a worker pool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lfreist/xsearch/internal/chunk"
	"github.com/lfreist/xsearch/internal/config"
	"github.com/lfreist/xsearch/internal/executor"
	"github.com/lfreist/xsearch/internal/inplace"
	"github.com/lfreist/xsearch/internal/metafile"
	"github.com/lfreist/xsearch/internal/provider"
	"github.com/lfreist/xsearch/internal/result"
	"github.com/lfreist/xsearch/internal/search"
	"github.com/lfreist/xsearch/internal/xlog"
)

// Exit codes, matching spec.md §6 and the original xsgrep CLI
// (original_source/xsgrep/main.cpp returns 1 on a command-line argument
// error and 0 unconditionally otherwise — the exit code never depends on
// whether a match was found): 0 = ran to completion, 1 = argument error,
// 2 = IO/format error encountered while running the search.
const (
	exitOK       = 0
	exitArgError = 1
	exitError    = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := &config.SearchConfig{}
	// Defaults to exitArgError: if root.Execute() fails before RunE ever
	// runs (unknown flag, wrong argument count, flag-value parse failure),
	// this is the code returned. RunE only reassigns it once cobra's own
	// argument parsing has already succeeded.
	exitCode := exitArgError

	root := &cobra.Command{
		Use:   "xsearch [flags] pattern source",
		Short: "Search a source file for a literal or regex pattern across a worker pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Pattern = args[0]
			cfg.SourcePath = args[1]
			code, err := searchMain(cfg)
			exitCode = code
			return err
		},
		SilenceUsage: true,
	}

	flags := root.Flags()
	flags.BoolVarP(&cfg.CountOnly, "count", "c", false, "print only the total match count")
	flags.BoolVarP(&cfg.CountLines, "count-lines", "n", false, "print only the count of matching lines")
	flags.BoolVarP(&cfg.ByteOffsets, "byte-offsets", "b", false, "print the byte offset of every match")
	flags.BoolVarP(&cfg.LineOffsets, "line-offsets", "o", false, "print the byte offset of every matching line")
	flags.BoolVarP(&cfg.IgnoreCase, "ignore-case", "i", false, "case-insensitive search")
	flags.BoolVarP(&cfg.Regex, "regex", "R", false, "treat pattern as a regular expression (overridden by -F)")
	fixedStrings := flags.BoolP("fixed-strings", "F", false, "treat pattern as a literal string, never a regex")
	flags.BoolVarP(&cfg.JSON, "json", "j", false, "emit results as JSON")
	flags.Uint64Var(&cfg.ChunkSize, "chunk-size", config.DefaultChunkSize, "bytes read per chunk when no companion meta file is given")
	flags.Uint64Var(&cfg.MaxOversize, "max-oversize", config.DefaultMaxOversize, "bytes a chunk may extend past --chunk-size to reach a line boundary")
	flags.BoolVar(&cfg.NoMmap, "no-mmap", false, "never memory-map the source, even if it's large enough to benefit")
	flags.IntVar(&cfg.MaxReaders, "max-readers", config.DefaultMaxReaders, "maximum concurrent reads against the source (streamed providers only)")
	flags.IntVar(&cfg.NumWorkers, "workers", config.DefaultNumWorkers(), "worker goroutines")
	flags.StringVar(&cfg.DataPath, "data", "", "companion data file produced by xspp (implies --meta)")
	flags.StringVar(&cfg.MetaPath, "meta", "", "companion meta file produced by xspp")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging on stderr")

	root.PreRunE = func(cmd *cobra.Command, args []string) error {
		cfg.Regex = cfg.Regex && !*fixedStrings
		return nil
	}

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitCode
	}
	return exitCode
}

func searchMain(cfg *config.SearchConfig) (int, error) {
	logger := xlog.New(cfg.Verbose)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	prov, processors, err := buildProvider(cfg)
	if err != nil {
		return exitError, err
	}

	opts := search.Options{Regex: cfg.Regex, IgnoreCase: cfg.IgnoreCase}
	if cfg.IgnoreCase && !cfg.Regex {
		processors = append(processors, inplace.AsciiToLower{})
	}
	matcher, err := search.Compile(cfg.Pattern, opts)
	if err != nil {
		return exitError, err
	}

	exec := executor.New(prov, processors, cfg.NumWorkers)

	go func() {
		<-ctx.Done()
		exec.ForceStop()
	}()

	switch {
	case cfg.CountOnly:
		return runCount(exec, matcher, cfg, false)
	case cfg.CountLines:
		return runCount(exec, matcher, cfg, true)
	case cfg.ByteOffsets:
		return runOffsets(exec, matcher, cfg, search.NewMatchByteOffsetSearcher(matcher))
	case cfg.LineOffsets:
		return runOffsets(exec, matcher, cfg, search.NewLineByteOffsetSearcher(matcher))
	default:
		return runLines(exec, matcher, cfg)
	}
}

func buildProvider(cfg *config.SearchConfig) (executor.Provider, []inplace.Processor, error) {
	if cfg.MetaPath != "" {
		dataPath := cfg.DataPath
		if dataPath == "" {
			dataPath = cfg.SourcePath
		}
		comp, err := metafile.PeekCompression(cfg.MetaPath)
		if err != nil {
			return nil, nil, err
		}
		var p executor.Provider
		if cfg.NoMmap {
			p, err = provider.NewMetaStreamProvider(dataPath, cfg.MetaPath, cfg.MaxReaders)
		} else {
			p, err = provider.NewMetaMappedProvider(dataPath, cfg.MetaPath, cfg.MaxReaders)
		}
		if err != nil {
			return nil, nil, err
		}
		var procs []inplace.Processor
		switch comp {
		case metafile.CompressionLZ4:
			procs = append(procs, inplace.LZ4Decompress{})
		case metafile.CompressionZstd:
			dec, err := inplace.NewZstdDecompress()
			if err != nil {
				return nil, nil, err
			}
			procs = append(procs, dec)
		}
		return p, procs, nil
	}

	var p executor.Provider
	var err error
	if cfg.NoMmap {
		p, err = provider.NewBlockProvider(cfg.SourcePath, cfg.ChunkSize, cfg.MaxOversize, cfg.MaxReaders)
	} else {
		p, err = provider.NewMappedBlockProvider(cfg.SourcePath, cfg.ChunkSize, cfg.MaxOversize, cfg.MaxReaders)
	}
	return p, nil, err
}

func runCount(exec *executor.Executor, matcher search.Matcher, cfg *config.SearchConfig, byLine bool) (int, error) {
	var searcher search.ReturnProcessor[search.CountPartial]
	if byLine {
		searcher = search.NewLineCounter(matcher)
	} else {
		searcher = search.NewMatchCounter(matcher)
	}

	agg := result.NewCountResult()
	err := exec.Run(func(c *chunk.Chunk) error {
		partial, err := searcher.Search(c)
		if err != nil {
			return err
		}
		agg.Add(partial.Count)
		return nil
	}, agg)
	if err != nil {
		return exitError, err
	}

	total := agg.Wait()
	if cfg.JSON {
		emitJSON(map[string]uint64{"count": total})
	} else {
		fmt.Println(total)
	}
	return exitOK, nil
}

func runOffsets(exec *executor.Executor, matcher search.Matcher, cfg *config.SearchConfig, searcher search.ReturnProcessor[search.OffsetsPartial]) (int, error) {
	agg := result.NewOrderedContainerResult[uint64]()
	err := exec.Run(func(c *chunk.Chunk) error {
		partial, err := searcher.Search(c)
		if err != nil {
			return err
		}
		agg.Add(c.Meta.ChunkIndex, partial.Values)
		return nil
	}, agg)
	if err != nil {
		return exitError, err
	}

	values := agg.Wait()
	if cfg.JSON {
		emitJSON(values)
	} else {
		for _, v := range values {
			fmt.Println(v)
		}
	}
	return exitOK, nil
}

func runLines(exec *executor.Executor, matcher search.Matcher, cfg *config.SearchConfig) (int, error) {
	searcher := search.NewLineSearcher(matcher)
	agg := result.NewOrderedContainerResult[string]()
	err := exec.Run(func(c *chunk.Chunk) error {
		partial, err := searcher.Search(c)
		if err != nil {
			return err
		}
		agg.Add(c.Meta.ChunkIndex, partial.Lines)
		return nil
	}, agg)
	if err != nil {
		return exitError, err
	}

	lines := agg.Wait()
	if cfg.JSON {
		emitJSON(lines)
	} else {
		for _, l := range lines {
			fmt.Println(l)
		}
	}
	return exitOK, nil
}

func emitJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(v); err != nil {
		zap.L().Error("failed to encode JSON output", zap.Error(err))
	}
}
