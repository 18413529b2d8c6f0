// Package main implements the framebench sweep binary.
// It generates the datasets, times every configured (size, operation, engine)
// cell, stores each sample, renders the chart and optionally publishes the
// artifacts of the run.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/framebench/framebench/internal/bench"
	"github.com/framebench/framebench/internal/chart"
	"github.com/framebench/framebench/internal/config"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/export"
	"github.com/framebench/framebench/internal/publish"
	"github.com/framebench/framebench/internal/storage"
	"github.com/framebench/framebench/internal/store"
	"github.com/framebench/framebench/pkg/types"
)

var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	configFile  string
	dataDir     string
	sizes       string
	repetitions int
	engines     string
	withRead    bool
	operation   string
	noChart     bool
	publish     bool
	showVersion bool
	showHelp    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&opts.dataDir, "data-dir", "", "Base directory for datasets and results")
	flag.StringVar(&opts.sizes, "sizes", "", "Comma-separated dataset row counts, e.g. 1000,10000")
	flag.IntVar(&opts.repetitions, "repetitions", 0, "Samples per (size, operation, engine)")
	flag.StringVar(&opts.engines, "engines", "", "Comma-separated engines to keep (gota, sqlite, arrow)")
	flag.BoolVar(&opts.withRead, "with-read", false, "Also benchmark the read operation")
	flag.StringVar(&opts.operation, "chart-operation", "", "Restrict the chart to one operation")
	flag.BoolVar(&opts.noChart, "no-chart", false, "Skip chart rendering after the sweep")
	flag.BoolVar(&opts.publish, "publish", false, "Publish the run artifacts to object storage")
	flag.BoolVar(&opts.showVersion, "version", false, "Show version information")
	flag.BoolVar(&opts.showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "framebench - data engine benchmark sweep\n\n")
		fmt.Fprintf(os.Stderr, "Usage: framebench [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  framebench --sizes 1000,10000,100000 --repetitions 3\n")
		fmt.Fprintf(os.Stderr, "  framebench --config framebench.yaml --publish\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  FRAMEBENCH_DATA_DIR       Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  FRAMEBENCH_SIZES          Comma-separated dataset row counts\n")
		fmt.Fprintf(os.Stderr, "  FRAMEBENCH_STORE_DRIVER   Result store driver (sqlite3, postgres)\n")
		fmt.Fprintf(os.Stderr, "  FRAMEBENCH_STORAGE_TYPE   Publish storage type (local, s3)\n")
	}

	flag.Parse()

	if opts.showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if opts.showVersion {
		fmt.Printf("framebench version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] failed to load .env: %v", err)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	printBanner(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !opts.noChart); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("Sweep interrupted")
			os.Exit(130)
		}
		log.Fatalf("Sweep failed: %v", err)
	}
}

// loadConfig loads configuration from file, environment, and command line flags.
func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if opts.configFile != "" {
		cfg, err = config.LoadFromFile(opts.configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	config.LoadFromEnv(cfg)

	// Command line flags have the highest priority
	if opts.dataDir != "" {
		cfg.DataDir = opts.dataDir
	}
	if opts.sizes != "" {
		sizes, err := config.ParseSizes(opts.sizes)
		if err != nil {
			return nil, err
		}
		cfg.Sizes = sizes
	}
	if opts.repetitions != 0 {
		cfg.Repetitions = opts.repetitions
	}
	if opts.withRead {
		for _, eng := range config.Engines() {
			cfg.Benchmarks = append(cfg.Benchmarks, config.BenchmarkSpec{Operation: types.OpRead, Engine: eng})
		}
	}
	if opts.engines != "" {
		cfg.Benchmarks = keepEngines(cfg.Benchmarks, strings.Split(opts.engines, ","))
	}
	if opts.operation != "" {
		cfg.Chart.Operation = opts.operation
	}
	if opts.publish {
		cfg.Publish.Enabled = true
	}

	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, err.Error())
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func keepEngines(benchmarks []config.BenchmarkSpec, names []string) []config.BenchmarkSpec {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[strings.TrimSpace(n)] = true
	}
	var out []config.BenchmarkSpec
	for _, b := range benchmarks {
		if keep[b.Engine] {
			out = append(out, b)
		}
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, renderChart bool) error {
	st, err := store.Open(cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Initialize(ctx); err != nil {
		return err
	}

	driver := bench.NewDriverFromConfig(cfg, st, bench.WithRunRecorder(st))
	report, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	log.Printf("Run %s %s: %d samples stored, %d failed in %v",
		report.RunID, report.Status, report.SamplesStored, report.SamplesFailed, report.Elapsed.Round(time.Millisecond))

	var chartPath string
	if renderChart {
		chartPath, err = chart.NewRenderer(cfg.Chart).Render(ctx, st, cfg.Chart.Operation)
		switch {
		case err == nil:
			log.Printf("Chart written to %s", chartPath)
		case fberrors.GetCode(err) == fberrors.CodeNoSamples:
			log.Printf("[WARN] no samples to chart")
		default:
			return err
		}
	}

	if cfg.Publish.Enabled {
		return publishRun(ctx, cfg, st, report.RunID, chartPath)
	}
	return nil
}

// publishRun exports the samples of the run to Parquet and uploads them
// with the chart and, for SQLite stores, the results database.
func publishRun(ctx context.Context, cfg *config.Config, st *store.Store, runID, chartPath string) error {
	if runID == "" {
		log.Printf("[WARN] run was not recorded, nothing to publish")
		return nil
	}

	samples, err := st.ListSamples(ctx, store.Filter{RunID: runID})
	if err != nil {
		return err
	}
	work, err := os.MkdirTemp(cfg.DataDir, "publish-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(work)

	parquetPath := filepath.Join(work, publish.ParquetObject)
	if _, err := export.WriteParquetFile(ctx, parquetPath, samples); err != nil {
		return err
	}

	objects, err := storage.New(ctx, cfg.Publish.Storage)
	if err != nil {
		return fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to open publish storage", err)
	}

	artifacts := publish.Artifacts{RunID: runID, ChartPath: chartPath, ParquetPath: parquetPath}
	if st.Dialect() == store.DialectSQLite {
		artifacts.DatabasePath = cfg.Store.Path
	}
	manifest, err := publish.NewPublisher(objects, work).Publish(ctx, artifacts)
	if err != nil {
		return err
	}
	log.Printf("Published %d objects under %s", len(manifest.Objects), publish.RunPrefix(runID))
	return nil
}

// printBanner prints the startup banner with configuration summary.
func printBanner(cfg *config.Config) {
	log.Printf("╔═══════════════════════════════════════════════════════════╗")
	log.Printf("║                      FRAMEBENCH                           ║")
	log.Printf("║        gota vs sqlite vs arrow, read/groupby/filter       ║")
	log.Printf("╚═══════════════════════════════════════════════════════════╝")
	log.Printf("")
	log.Printf("Configuration:")
	log.Printf("  Data Dir:    %s", cfg.DataDir)
	log.Printf("  Datasets:    %s", cfg.Dataset.Dir)
	log.Printf("  Sizes:       %v", cfg.Sizes)
	log.Printf("  Repetitions: %d", cfg.Repetitions)
	log.Printf("  Store:       %s", cfg.Store.Driver)
	log.Printf("  Engines:     %s", strings.Join(cfg.EngineNames(), ", "))
	for _, b := range cfg.Benchmarks {
		log.Printf("  Benchmark:   %s", b)
	}
	if cfg.Publish.Enabled {
		log.Printf("  Publish:     %s", cfg.Publish.Storage.Type)
	}
	log.Printf("  Samples:     %d", cfg.TotalSamples())
	log.Printf("")
}
