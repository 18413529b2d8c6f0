// Package config provides unified configuration for the framebench binaries.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/framebench/framebench/pkg/types"
)

// Engine names understood by the engine registry.
const (
	EngineGota   = "gota"
	EngineSQLite = "sqlite"
	EngineArrow  = "arrow"
)

// Store drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds the configuration of a benchmark sweep and its post-processing.
type Config struct {
	// DataDir is the base directory for datasets, results and charts
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Sizes lists the dataset row counts to benchmark, in order
	Sizes []int `json:"sizes" yaml:"sizes"`

	// Benchmarks lists the (operation, engine) pairs run for every size
	Benchmarks []BenchmarkSpec `json:"benchmarks" yaml:"benchmarks"`

	// Repetitions is the number of samples taken per (size, operation, engine)
	Repetitions int `json:"repetitions" yaml:"repetitions"`

	// Dataset generation configuration
	Dataset DatasetConfig `json:"dataset" yaml:"dataset"`

	// Result store configuration
	Store StoreConfig `json:"store" yaml:"store"`

	// Chart rendering configuration
	Chart ChartConfig `json:"chart" yaml:"chart"`

	// Artifact publishing configuration
	Publish PublishConfig `json:"publish" yaml:"publish"`

	// Results API configuration
	Serve ServeConfig `json:"serve" yaml:"serve"`
}

// BenchmarkSpec names one (operation, engine) pair.
type BenchmarkSpec struct {
	Operation types.Operation `json:"operation" yaml:"operation"`
	Engine    string          `json:"engine" yaml:"engine"`
}

// String renders the pair as "operation/engine".
func (b BenchmarkSpec) String() string {
	return fmt.Sprintf("%s/%s", b.Operation, b.Engine)
}

// DatasetConfig holds dataset generation configuration.
type DatasetConfig struct {
	// Dir is the directory holding generated CSV files
	Dir string `json:"dir" yaml:"dir"`

	// Seed seeds the row generator
	Seed int64 `json:"seed" yaml:"seed"`

	// TextLength is the length of the random text column
	TextLength int `json:"text_length" yaml:"text_length"`

	// RegenerateStale regenerates files whose schema fingerprint no longer matches
	RegenerateStale bool `json:"regenerate_stale" yaml:"regenerate_stale"`
}

// StoreConfig holds result store configuration.
type StoreConfig struct {
	// Driver is the database/sql driver: sqlite3 or postgres
	Driver string `json:"driver" yaml:"driver"`

	// Path is the SQLite database file (sqlite3 driver)
	Path string `json:"path" yaml:"path"`

	// DSN is the connection string (postgres driver)
	DSN string `json:"dsn" yaml:"dsn"`
}

// ChartConfig holds chart rendering configuration.
type ChartConfig struct {
	// OutputDir is where timestamped chart images are written
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Operation restricts the chart to one operation; empty plots everything
	Operation string `json:"operation" yaml:"operation"`

	// WidthInches and HeightInches size the image
	WidthInches  float64 `json:"width_inches" yaml:"width_inches"`
	HeightInches float64 `json:"height_inches" yaml:"height_inches"`
}

// PublishConfig holds artifact publishing configuration.
type PublishConfig struct {
	// Enabled uploads artifacts after a sweep
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Storage is the destination object storage
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Prefix is prepended to every object key
	Prefix string `json:"prefix" yaml:"prefix"`
}

// ServeConfig holds results API configuration.
type ServeConfig struct {
	// Addr is the HTTP listen address
	Addr string `json:"addr" yaml:"addr"`
}

// DefaultSizes are the row counts benchmarked when nothing else is configured.
func DefaultSizes() []int {
	return []int{
		1000, 10000, 100000,
		1000000, 2000000, 3000000, 4000000, 5000000,
		6000000, 7000000, 8000000, 9000000, 10000000,
		25000000, 50000000, 100000000,
	}
}

// DefaultBenchmarks returns the groupby and filter pairs for all three engines.
// read is supported but not part of the default sweep.
func DefaultBenchmarks() []BenchmarkSpec {
	return []BenchmarkSpec{
		{Operation: types.OpGroupBy, Engine: EngineGota},
		{Operation: types.OpGroupBy, Engine: EngineSQLite},
		{Operation: types.OpGroupBy, Engine: EngineArrow},
		{Operation: types.OpFilter, Engine: EngineGota},
		{Operation: types.OpFilter, Engine: EngineSQLite},
		{Operation: types.OpFilter, Engine: EngineArrow},
	}
}

// Engines lists the engine names accepted in BenchmarkSpec.
func Engines() []string {
	return []string{EngineGota, EngineSQLite, EngineArrow}
}

// DefaultConfig returns the default configuration for local runs.
func DefaultConfig() *Config {
	return &Config{
		DataDir:     "./data/framebench",
		Sizes:       DefaultSizes(),
		Benchmarks:  DefaultBenchmarks(),
		Repetitions: 5,
		Dataset: DatasetConfig{
			Dir:        "",
			Seed:       42,
			TextLength: 10,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "",
		},
		Chart: ChartConfig{
			OutputDir:    ".",
			WidthInches:  10,
			HeightInches: 6,
		},
		Publish: PublishConfig{
			Enabled: false,
			Storage: StorageConfig{
				Type: "local",
			},
		},
		Serve: ServeConfig{
			Addr: ":8090",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/framebench"
	}

	if c.Dataset.Dir == "" {
		c.Dataset.Dir = filepath.Join(c.DataDir, "benchmark_data")
	}
	if c.Dataset.TextLength <= 0 {
		c.Dataset.TextLength = 10
	}

	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.DataDir, "benchmark_results.db")
	}
	if c.Store.Driver == DriverPostgres && c.Store.DSN == "" {
		c.Store.DSN = os.Getenv("DATABASE_URL")
	}

	if c.Chart.OutputDir == "" {
		c.Chart.OutputDir = "."
	}
	if c.Chart.WidthInches <= 0 {
		c.Chart.WidthInches = 10
	}
	if c.Chart.HeightInches <= 0 {
		c.Chart.HeightInches = 6
	}

	if c.Publish.Storage.Type == "" {
		c.Publish.Storage.Type = "local"
	}
	if c.Publish.Storage.Type == "local" && c.Publish.Storage.Path == "" {
		c.Publish.Storage.Path = filepath.Join(c.DataDir, "published")
	}

	c.Sizes = dedupeSizes(c.Sizes)
	c.Benchmarks = dedupeBenchmarks(c.Benchmarks)
}

// dedupeSizes drops repeated row counts while keeping first-seen order.
func dedupeSizes(sizes []int) []int {
	seen := make(map[int]bool, len(sizes))
	out := make([]int, 0, len(sizes))
	for _, s := range sizes {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// dedupeBenchmarks drops repeated (operation, engine) pairs while keeping
// first-seen order.
func dedupeBenchmarks(specs []BenchmarkSpec) []BenchmarkSpec {
	seen := make(map[BenchmarkSpec]bool, len(specs))
	out := make([]BenchmarkSpec, 0, len(specs))
	for _, b := range specs {
		if seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if len(c.Sizes) == 0 {
		return fmt.Errorf("at least one size is required")
	}
	for _, s := range c.Sizes {
		if s <= 0 {
			return fmt.Errorf("sizes must be positive, got %d", s)
		}
	}

	if c.Repetitions <= 0 {
		return fmt.Errorf("repetitions must be positive, got %d", c.Repetitions)
	}

	if len(c.Benchmarks) == 0 {
		return fmt.Errorf("at least one benchmark is required")
	}
	for _, b := range c.Benchmarks {
		if !b.Operation.Valid() {
			return fmt.Errorf("invalid operation: %s (must be read, groupby, or filter)", b.Operation)
		}
		if !isEngine(b.Engine) {
			return fmt.Errorf("invalid engine: %s (must be %s)", b.Engine, strings.Join(Engines(), ", "))
		}
	}

	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite3 driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn (or DATABASE_URL) is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be sqlite3 or postgres)", c.Store.Driver)
	}

	if c.Chart.Operation != "" && !types.Operation(c.Chart.Operation).Valid() {
		return fmt.Errorf("invalid chart operation: %s", c.Chart.Operation)
	}

	if c.Publish.Storage.Type != "local" && c.Publish.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Publish.Storage.Type)
	}
	if c.Publish.Enabled && c.Publish.Storage.Type == "s3" && c.Publish.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

func isEngine(name string) bool {
	for _, e := range Engines() {
		if e == name {
			return true
		}
	}
	return false
}

// EngineNames returns the distinct engines referenced by Benchmarks, sorted.
func (c *Config) EngineNames() []string {
	set := make(map[string]bool)
	for _, b := range c.Benchmarks {
		set[b.Engine] = true
	}
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TotalSamples returns the number of samples a full sweep takes.
func (c *Config) TotalSamples() int {
	return len(c.Sizes) * len(c.Benchmarks) * c.Repetitions
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FRAMEBENCH_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FRAMEBENCH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("FRAMEBENCH_SIZES"); v != "" {
		if sizes, err := ParseSizes(v); err == nil {
			cfg.Sizes = sizes
		}
	}
	if v := os.Getenv("FRAMEBENCH_REPETITIONS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Repetitions)
	}

	// Dataset configuration
	if v := os.Getenv("FRAMEBENCH_DATASET_DIR"); v != "" {
		cfg.Dataset.Dir = v
	}
	if v := os.Getenv("FRAMEBENCH_DATASET_SEED"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Dataset.Seed)
	}
	if v := os.Getenv("FRAMEBENCH_DATASET_REGENERATE_STALE"); v != "" {
		cfg.Dataset.RegenerateStale = v == "true" || v == "1"
	}

	// Store configuration
	if v := os.Getenv("FRAMEBENCH_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("FRAMEBENCH_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("FRAMEBENCH_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}

	// Chart configuration
	if v := os.Getenv("FRAMEBENCH_CHART_DIR"); v != "" {
		cfg.Chart.OutputDir = v
	}

	// Publish configuration
	if v := os.Getenv("FRAMEBENCH_PUBLISH_ENABLED"); v != "" {
		cfg.Publish.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FRAMEBENCH_STORAGE_TYPE"); v != "" {
		cfg.Publish.Storage.Type = v
	}
	if v := os.Getenv("FRAMEBENCH_STORAGE_PATH"); v != "" {
		cfg.Publish.Storage.Path = v
	}
	if v := os.Getenv("FRAMEBENCH_S3_BUCKET"); v != "" {
		cfg.Publish.Storage.S3.Bucket = v
	}
	if v := os.Getenv("FRAMEBENCH_S3_REGION"); v != "" {
		cfg.Publish.Storage.S3.Region = v
	}
	if v := os.Getenv("FRAMEBENCH_S3_ENDPOINT"); v != "" {
		cfg.Publish.Storage.S3.Endpoint = v
	}
	if v := os.Getenv("FRAMEBENCH_S3_PREFIX"); v != "" {
		cfg.Publish.Storage.S3.Prefix = v
	}

	// Serve configuration
	if v := os.Getenv("FRAMEBENCH_SERVE_ADDR"); v != "" {
		cfg.Serve.Addr = v
	}
}

// ParseSizes parses a comma-separated list of row counts, e.g. "1000,10000".
func ParseSizes(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	sizes := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(strings.ReplaceAll(p, "_", ""))
		if err != nil {
			return nil, fmt.Errorf("invalid size %q: %w", p, err)
		}
		sizes = append(sizes, n)
	}
	if len(sizes) == 0 {
		return nil, fmt.Errorf("no sizes in %q", s)
	}
	return sizes, nil
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.DataDir,
		c.Dataset.Dir,
		c.Chart.OutputDir,
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if c.Publish.Enabled && c.Publish.Storage.Type == "local" {
		dirs = append(dirs, c.Publish.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
