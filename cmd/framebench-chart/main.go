// Package main implements the framebench-chart binary.
// It renders the benchmark chart from the result store, exports the stored
// samples to Parquet, or does both for a run fetched back from object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/framebench/framebench/internal/chart"
	"github.com/framebench/framebench/internal/config"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/export"
	"github.com/framebench/framebench/internal/observability"
	"github.com/framebench/framebench/internal/publish"
	"github.com/framebench/framebench/internal/storage"
	"github.com/framebench/framebench/internal/store"
)

func main() {
	var (
		configFile string
		operation  string
		outputDir  string
		exportPath string
		runID      string
		summary    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&operation, "operation", "", "Restrict the chart to one operation (read, groupby, filter)")
	flag.StringVar(&outputDir, "output", "", "Directory for the chart image")
	flag.StringVar(&exportPath, "export", "", "Also export the samples to this Parquet file")
	flag.StringVar(&runID, "run", "", "Fetch a published run from object storage and chart it")
	flag.BoolVar(&summary, "summary", false, "Print per-cell timing statistics")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] failed to load .env: %v", err)
	}

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if operation != "" {
		cfg.Chart.Operation = operation
	}
	if outputDir != "" {
		cfg.Chart.OutputDir = outputDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := openSource(ctx, cfg, runID)
	if err != nil {
		log.Fatalf("Failed to open results: %v", err)
	}
	defer cleanup()

	path, err := chart.NewRenderer(cfg.Chart).Render(ctx, st, cfg.Chart.Operation)
	if err != nil {
		if fberrors.GetCode(err) == fberrors.CodeNoSamples {
			log.Fatalf("No samples to chart for operation %q", cfg.Chart.Operation)
		}
		log.Fatalf("Failed to render chart: %v", err)
	}
	log.Printf("Chart written to %s", path)

	if exportPath == "" && !summary {
		return
	}
	samples, err := st.ListSamples(ctx, store.Filter{})
	if err != nil {
		log.Fatalf("Failed to list samples: %v", err)
	}
	if exportPath != "" {
		n, err := export.WriteParquetFile(ctx, exportPath, samples)
		if err != nil {
			log.Fatalf("Failed to export samples: %v", err)
		}
		log.Printf("Exported %d samples to %s", n, exportPath)
	}
	if summary {
		printSummary(observability.Summarize(samples))
	}
}

func loadConfig(configFile string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}
	config.LoadFromEnv(cfg)
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, err.Error())
	}
	return cfg, nil
}

// openSource opens the configured store, or the results database of a
// published run when runID is set.
func openSource(ctx context.Context, cfg *config.Config, runID string) (*store.Store, func(), error) {
	if runID == "" {
		st, err := store.Open(cfg.Store)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { st.Close() }, nil
	}

	objects, err := storage.New(ctx, cfg.Publish.Storage)
	if err != nil {
		return nil, nil, err
	}
	dest, err := os.MkdirTemp("", "framebench-run-*")
	if err != nil {
		return nil, nil, err
	}
	fetched, err := publish.NewPublisher(objects, "").Fetch(ctx, runID, dest)
	if err != nil {
		os.RemoveAll(dest)
		return nil, nil, err
	}
	if fetched.DatabasePath == "" {
		os.RemoveAll(dest)
		return nil, nil, fmt.Errorf("run %s has no published results database", runID)
	}
	log.Printf("Fetched run %s into %s", runID, filepath.Dir(fetched.DatabasePath))

	st, err := store.OpenSQLite(fetched.DatabasePath)
	if err != nil {
		os.RemoveAll(dest)
		return nil, nil, err
	}
	return st, func() {
		st.Close()
		os.RemoveAll(dest)
	}, nil
}

func printSummary(summaries []observability.Summary) {
	fastest := observability.Fastest(summaries)
	fmt.Printf("%-12s %-8s %-8s %5s %10s %10s %10s %10s\n", "rows", "op", "tool", "n", "mean", "median", "min", "max")
	for _, s := range summaries {
		mark := ""
		if fastest[observability.Key{FileSize: s.FileSize, Operation: s.Operation}] == s.Tool {
			mark = " *"
		}
		fmt.Printf("%-12d %-8s %-8s %5d %10.4f %10.4f %10.4f %10.4f%s\n",
			s.FileSize, s.Operation, s.Tool, s.Count, s.Mean, s.Median, s.Min, s.Max, mark)
	}
}
