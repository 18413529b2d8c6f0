package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/framebench/framebench/internal/config"
	"github.com/framebench/framebench/internal/dataset"
	"github.com/framebench/framebench/internal/engine"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/store"
	"github.com/framebench/framebench/pkg/types"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Sizes = []int{50, 120}
	cfg.Repetitions = 2
	cfg.Benchmarks = append(config.DefaultBenchmarks(),
		config.BenchmarkSpec{Operation: types.OpRead, Engine: config.EngineArrow})
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func openStore(t *testing.T, cfg *config.Config) *store.Store {
	t.Helper()
	s, err := store.Open(cfg.Store)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestDriver_FullSweep(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	ctx := context.Background()

	report, err := NewDriverFromConfig(cfg, s, WithRunRecorder(s)).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := cfg.TotalSamples()
	if want != 2*7*2 {
		t.Fatalf("unexpected total %d", want)
	}
	if report.SamplesStored != want || report.SamplesFailed != 0 || report.SamplesTaken != want {
		t.Errorf("unexpected report %+v", report)
	}
	if report.Status != types.RunCompleted || report.RunID == "" {
		t.Errorf("unexpected status %s / run %q", report.Status, report.RunID)
	}

	for _, size := range cfg.Sizes {
		path := filepath.Join(cfg.Dataset.Dir, fmt.Sprintf("test_data_%d.csv", size))
		if _, err := os.Stat(path); err != nil {
			t.Errorf("dataset %s missing: %v", path, err)
		}
	}

	n, err := s.CountSamples(ctx, store.Filter{RunID: report.RunID})
	if err != nil {
		t.Fatal(err)
	}
	if n != int64(want) {
		t.Errorf("expected %d stored samples, got %d", want, n)
	}

	samples, _ := s.ListSamples(ctx, store.Filter{Operation: "read"})
	for _, sm := range samples {
		if sm.Tool != "arrow" || sm.ExecutionTime < 0 || sm.FileSizeMB <= 0 {
			t.Errorf("unexpected read sample %+v", sm)
		}
	}

	// One summary per (size, benchmark) cell.
	if len(report.Summaries) != len(cfg.Sizes)*len(cfg.Benchmarks) {
		t.Errorf("expected %d summaries, got %d", len(cfg.Sizes)*len(cfg.Benchmarks), len(report.Summaries))
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if runs[0].Status != types.RunCompleted || runs[0].SamplesStored != int64(want) {
		t.Errorf("unexpected run record %+v", runs[0])
	}
}

func TestDriver_SecondSweepReusesDatasets(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmarks = cfg.Benchmarks[:1]
	cfg.Repetitions = 1
	s := openStore(t, cfg)

	if _, err := NewDriverFromConfig(cfg, s).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	report, err := NewDriverFromConfig(cfg, s).Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, info := range report.Datasets {
		if !info.Reused {
			t.Errorf("%s should be reused", info.Path)
		}
	}

	// Samples accumulate across sweeps.
	if n, _ := s.CountSamples(context.Background(), store.Filter{}); n != 4 {
		t.Errorf("expected 4 samples after two sweeps, got %d", n)
	}
}

// flakySink fails every third write.
type flakySink struct {
	inner ResultSink
	calls int
}

func (f *flakySink) Append(ctx context.Context, sample types.Sample) store.WriteResult {
	f.calls++
	if f.calls%3 == 0 {
		return store.WriteResult{Err: fberrors.NewStoreError(fberrors.CodeWriteFailed, "disk full", nil)}
	}
	return f.inner.Append(ctx, sample)
}

func TestDriver_StoreFailuresDoNotAbort(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	sink := &flakySink{inner: s}

	report, err := NewDriverFromConfig(cfg, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("store failures must not abort the sweep: %v", err)
	}

	total := cfg.TotalSamples()
	if report.SamplesTaken != total {
		t.Errorf("expected %d samples taken, got %d", total, report.SamplesTaken)
	}
	if report.SamplesFailed != total/3 || report.SamplesStored != total-total/3 {
		t.Errorf("unexpected counts stored=%d failed=%d", report.SamplesStored, report.SamplesFailed)
	}
	if n, _ := s.CountSamples(context.Background(), store.Filter{}); n != int64(report.SamplesStored) {
		t.Errorf("store holds %d samples, report says %d", n, report.SamplesStored)
	}
}

// cancellingSink cancels the sweep after a fixed number of writes.
type cancellingSink struct {
	inner  ResultSink
	after  int
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingSink) Append(ctx context.Context, sample types.Sample) store.WriteResult {
	c.calls++
	res := c.inner.Append(ctx, sample)
	if c.calls == c.after {
		c.cancel()
	}
	return res
}

func TestDriver_Cancellation(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := &cancellingSink{inner: s, after: 3, cancel: cancel}
	report, err := NewDriverFromConfig(cfg, sink, WithRunRecorder(s)).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.SamplesStored != 3 {
		t.Errorf("expected 3 samples before cancellation, got %d", report.SamplesStored)
	}
	if n, _ := s.CountSamples(context.Background(), store.Filter{}); n != 3 {
		t.Errorf("completed samples should remain stored, found %d", n)
	}

	runs, _ := s.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != types.RunFailed || runs[0].SamplesStored != 3 {
		t.Errorf("unexpected run record %+v", runs)
	}
}

func TestDriver_UnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmarks = []config.BenchmarkSpec{{Operation: types.OpRead, Engine: "polars"}}
	s := openStore(t, cfg)

	_, err := NewDriverFromConfig(cfg, s).Run(context.Background())
	if fberrors.GetCode(err) != fberrors.CodeUnknownEngine {
		t.Fatalf("expected UNKNOWN_ENGINE, got %v", err)
	}
	entries, _ := os.ReadDir(cfg.Dataset.Dir)
	if len(entries) != 0 {
		t.Errorf("no dataset should be generated, found %d files", len(entries))
	}
}

func TestDriver_GenerationFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	s := openStore(t, cfg)

	// A regular file where the dataset directory should be.
	blocked := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(blocked, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.Dataset.Dir = blocked

	report, err := NewDriverFromConfig(cfg, s, WithRunRecorder(s)).Run(context.Background())
	if err == nil {
		t.Fatal("expected generation failure")
	}
	if report.SamplesTaken != 0 {
		t.Errorf("no samples should be taken, got %d", report.SamplesTaken)
	}
	runs, _ := s.ListRuns(context.Background(), 1)
	if len(runs) != 1 || runs[0].Status != types.RunFailed {
		t.Errorf("run should be marked failed: %+v", runs)
	}
}

// failingEngine delegates to a real engine but fails its GroupBy on the
// failOn-th call.
type failingEngine struct {
	engine.Engine
	failOn int
	calls  int
}

func (f *failingEngine) Name() string { return "flaky" }

func (f *failingEngine) GroupBy(ctx context.Context, t engine.Table) (engine.Table, error) {
	f.calls++
	if f.calls == f.failOn {
		return nil, fberrors.NewEngineError(fberrors.CodeQueryFailed, "group-by exploded", nil)
	}
	return f.Engine.GroupBy(ctx, t)
}

func TestDriver_EngineFailureAborts(t *testing.T) {
	cfg := testConfig(t)
	cfg.Benchmarks = []config.BenchmarkSpec{{Operation: types.OpGroupBy, Engine: "flaky"}}
	s := openStore(t, cfg)
	ctx := context.Background()

	const failOn = 3
	eng := &failingEngine{Engine: engine.NewGotaEngine(), failOn: failOn}
	gen := dataset.NewGenerator(cfg.Dataset.Dir, dataset.Options{Seed: cfg.Dataset.Seed})

	report, err := NewDriver(cfg, gen, engine.NewRegistry(eng), s, WithRunRecorder(s)).Run(ctx)
	if fberrors.GetCode(err) != fberrors.CodeQueryFailed {
		t.Fatalf("expected QUERY_FAILED to propagate, got %v", err)
	}
	if eng.calls != failOn {
		t.Errorf("sweep should stop at the failing call, engine called %d times", eng.calls)
	}
	if report.Status != types.RunFailed {
		t.Errorf("expected failed report, got %s", report.Status)
	}
	if report.SamplesStored != failOn-1 || report.SamplesTaken != failOn-1 {
		t.Errorf("expected %d samples before the failure, got taken=%d stored=%d",
			failOn-1, report.SamplesTaken, report.SamplesStored)
	}

	n, err := s.CountSamples(ctx, store.Filter{RunID: report.RunID})
	if err != nil {
		t.Fatal(err)
	}
	if n != failOn-1 {
		t.Errorf("samples taken before the failure should remain stored, found %d", n)
	}

	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].Status != types.RunFailed || runs[0].SamplesStored != failOn-1 {
		t.Errorf("unexpected run record %+v", runs)
	}
}
