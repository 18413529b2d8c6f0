// Package runner times a single (operation, engine, file) execution.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/framebench/framebench/internal/engine"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

// Measurement is the outcome of one timed execution.
type Measurement struct {
	Operation types.Operation
	Engine    string
	Elapsed   time.Duration
	// Rows is the row count of the final table: the loaded rows for read,
	// the group count for groupby and the matching rows for filter.
	Rows int
}

// Seconds returns the elapsed wall-clock time in seconds.
func (m Measurement) Seconds() float64 {
	return m.Elapsed.Seconds()
}

// Runner executes and times operations.
type Runner struct {
	now func() time.Time
}

// New creates a Runner using the monotonic wall clock.
func New() *Runner {
	return &Runner{now: time.Now}
}

// Run loads path with eng, applies op and returns the elapsed time from just
// before the load to just after the result is materialized. Tables are
// released after the clock stops.
func (r *Runner) Run(ctx context.Context, op types.Operation, eng engine.Engine, path string) (Measurement, error) {
	if !op.Valid() {
		return Measurement{}, fberrors.NewValidationError(fberrors.CodeUnknownOperation,
			fmt.Sprintf("unknown operation %q", op))
	}
	if eng == nil {
		return Measurement{}, fberrors.NewValidationError(fberrors.CodeUnknownEngine, "engine is nil")
	}

	var tables []engine.Table
	defer func() {
		for i := len(tables) - 1; i >= 0; i-- {
			tables[i].Release()
		}
	}()

	start := r.now()

	tbl, err := eng.Load(ctx, path)
	if err != nil {
		return Measurement{}, err
	}
	tables = append(tables, tbl)

	result := tbl
	switch op {
	case types.OpGroupBy:
		result, err = eng.GroupBy(ctx, tbl)
	case types.OpFilter:
		result, err = eng.Filter(ctx, tbl)
	}
	if err != nil {
		return Measurement{}, err
	}
	if result != tbl {
		tables = append(tables, result)
	}
	rows := result.NumRows()

	elapsed := r.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	return Measurement{
		Operation: op,
		Engine:    eng.Name(),
		Elapsed:   elapsed,
		Rows:      rows,
	}, nil
}
