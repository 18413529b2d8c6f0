// Package bench drives a benchmark sweep: dataset generation followed by
// sequential timed measurement of every configured (size, operation, engine)
// cell, persisting each sample as soon as it is taken.
package bench

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/framebench/framebench/internal/config"
	"github.com/framebench/framebench/internal/dataset"
	"github.com/framebench/framebench/internal/engine"
	"github.com/framebench/framebench/internal/observability"
	"github.com/framebench/framebench/internal/runner"
	"github.com/framebench/framebench/internal/store"
	"github.com/framebench/framebench/pkg/types"
)

// ResultSink persists samples. *store.Store implements it.
type ResultSink interface {
	Append(ctx context.Context, sample types.Sample) store.WriteResult
}

// RunRecorder tracks sweep bookkeeping. *store.Store implements it.
type RunRecorder interface {
	BeginRun(ctx context.Context, configJSON []byte) (*types.Run, error)
	FinishRun(ctx context.Context, runID string, status types.RunStatus, stored, failed int64) error
}

// Report summarizes a finished (or aborted) sweep.
type Report struct {
	RunID         string
	Status        types.RunStatus
	Datasets      []*dataset.Info
	SamplesTaken  int
	SamplesStored int
	SamplesFailed int
	Summaries     []observability.Summary
	Elapsed       time.Duration
}

// Driver runs sweeps.
type Driver struct {
	cfg     *config.Config
	gen     *dataset.Generator
	engines *engine.Registry
	runner  *runner.Runner
	sink    ResultSink
	runs    RunRecorder
	tracker *observability.Tracker
}

// Option configures a Driver.
type Option func(*Driver)

// WithRunRecorder registers each sweep in the runs table.
func WithRunRecorder(r RunRecorder) Option {
	return func(d *Driver) { d.runs = r }
}

// WithTracker records timings into t instead of a private tracker.
func WithTracker(t *observability.Tracker) Option {
	return func(d *Driver) { d.tracker = t }
}

// WithRunner replaces the default runner.
func WithRunner(r *runner.Runner) Option {
	return func(d *Driver) { d.runner = r }
}

// NewDriver creates a driver for cfg, which must already be resolved and
// validated.
func NewDriver(cfg *config.Config, gen *dataset.Generator, engines *engine.Registry, sink ResultSink, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		gen:     gen,
		engines: engines,
		runner:  runner.New(),
		sink:    sink,
		tracker: observability.NewTracker(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDriverFromConfig wires the default generator and engine registry.
func NewDriverFromConfig(cfg *config.Config, sink ResultSink, opts ...Option) *Driver {
	gen := dataset.NewGenerator(cfg.Dataset.Dir, dataset.Options{
		Seed:            cfg.Dataset.Seed,
		TextLength:      cfg.Dataset.TextLength,
		RegenerateStale: cfg.Dataset.RegenerateStale,
	})
	return NewDriver(cfg, gen, engine.DefaultRegistry(), sink, opts...)
}

type cell struct {
	op  types.Operation
	eng engine.Engine
}

// Run executes the sweep. Dataset and engine failures abort it; failed
// result writes are logged and counted. Cancellation is honored between
// samples, and samples already stored remain stored.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	report := &Report{Status: types.RunRunning}

	cells, err := d.resolveCells()
	if err != nil {
		return report, err
	}

	d.beginRun(ctx, report)
	finish := func(status types.RunStatus) {
		report.Status = status
		report.Elapsed = time.Since(start)
		report.Summaries = d.tracker.Snapshot()
		d.finishRun(ctx, report)
	}

	// Generation phase
	for _, size := range d.cfg.Sizes {
		log.Printf("bench: generating dataset with %d rows", size)
		info, err := d.gen.Generate(ctx, size)
		if err != nil {
			finish(types.RunFailed)
			return report, err
		}
		if info.Reused {
			log.Printf("bench: reusing %s (%.2f MB)", info.Path, info.SizeMB())
		} else {
			log.Printf("bench: wrote %s (%.2f MB)", info.Path, info.SizeMB())
		}
		report.Datasets = append(report.Datasets, info)
	}

	// Measurement phase
	total := d.cfg.TotalSamples()
	k := 0
	for _, info := range report.Datasets {
		for _, c := range cells {
			for rep := 1; rep <= d.cfg.Repetitions; rep++ {
				if err := ctx.Err(); err != nil {
					log.Printf("[WARN] bench: sweep interrupted after %d/%d samples", k, total)
					finish(types.RunFailed)
					return report, err
				}
				k++

				m, err := d.runner.Run(ctx, c.op, c.eng, info.Path)
				if err != nil {
					log.Printf("[ERROR] bench: %s %s on %d rows failed: %v", c.eng.Name(), c.op, info.Rows, err)
					finish(types.RunFailed)
					return report, err
				}
				report.SamplesTaken++

				sample := types.Sample{
					RunID:         report.RunID,
					FileSize:      info.Rows,
					FileSizeMB:    info.SizeMB(),
					Operation:     string(c.op),
					Tool:          c.eng.Name(),
					ExecutionTime: m.Seconds(),
				}
				log.Printf("bench: [%d/%d] %s %s rows=%d rep=%d/%d: %.4fs",
					k, total, c.eng.Name(), c.op, info.Rows, rep, d.cfg.Repetitions, sample.ExecutionTime)

				d.store(ctx, sample, report)
			}
		}
	}

	finish(types.RunCompleted)
	d.logSummary(report)
	return report, nil
}

func (d *Driver) resolveCells() ([]cell, error) {
	cells := make([]cell, 0, len(d.cfg.Benchmarks))
	for _, b := range d.cfg.Benchmarks {
		eng, err := d.engines.Get(b.Engine)
		if err != nil {
			return nil, err
		}
		if !b.Operation.Valid() {
			return nil, fmt.Errorf("bench: unknown operation %q", b.Operation)
		}
		cells = append(cells, cell{op: b.Operation, eng: eng})
	}
	return cells, nil
}

func (d *Driver) store(ctx context.Context, sample types.Sample, report *Report) {
	res := d.sink.Append(ctx, sample)
	if !res.OK() {
		report.SamplesFailed++
		log.Printf("[WARN] bench: failed to store %s %s sample: %v", sample.Tool, sample.Operation, res.Err)
		return
	}
	report.SamplesStored++
	d.tracker.Record(sample)
}

func (d *Driver) beginRun(ctx context.Context, report *Report) {
	if d.runs == nil {
		return
	}
	snapshot, err := json.Marshal(d.cfg)
	if err != nil {
		log.Printf("[WARN] bench: failed to snapshot config: %v", err)
	}
	run, err := d.runs.BeginRun(ctx, snapshot)
	if err != nil {
		log.Printf("[WARN] bench: failed to register run: %v", err)
		return
	}
	report.RunID = run.RunID
	log.Printf("bench: run %s started", run.RunID)
}

func (d *Driver) finishRun(ctx context.Context, report *Report) {
	if d.runs == nil || report.RunID == "" {
		return
	}
	// Record the outcome even when the sweep was cancelled.
	ctx = context.WithoutCancel(ctx)
	err := d.runs.FinishRun(ctx, report.RunID, report.Status,
		int64(report.SamplesStored), int64(report.SamplesFailed))
	if err != nil {
		log.Printf("[WARN] bench: failed to finish run %s: %v", report.RunID, err)
	}
}

func (d *Driver) logSummary(report *Report) {
	log.Printf("bench: sweep completed in %v: %d samples stored, %d failed",
		report.Elapsed.Round(time.Millisecond), report.SamplesStored, report.SamplesFailed)
	fastest := observability.Fastest(report.Summaries)
	for _, s := range report.Summaries {
		marker := ""
		if fastest[observability.Key{FileSize: s.FileSize, Operation: s.Operation}] == s.Tool {
			marker = " *"
		}
		log.Printf("bench:   rows=%-10d %-8s %-7s mean=%.4fs median=%.4fs min=%.4fs max=%.4fs%s",
			s.FileSize, s.Operation, s.Tool, s.Mean, s.Median, s.Min, s.Max, marker)
	}
}
