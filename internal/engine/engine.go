// Package engine defines the capability contract shared by the benchmarked
// data-processing libraries and provides one adapter per library.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow/memory"

	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

var (
	// ErrNotGrouped is returned by Inspector.Groups on a row table.
	ErrNotGrouped = errors.New("engine: table is not a group-by result")

	// ErrGrouped is returned by Inspector.Rows on a group-by result.
	ErrGrouped = errors.New("engine: table is a group-by result")

	// ErrForeignTable is returned when a table is passed to an engine that did not create it.
	ErrForeignTable = errors.New("engine: table belongs to another engine")
)

// Table is an engine-native in-memory result.
type Table interface {
	// NumRows returns the number of rows held by the table.
	NumRows() int

	// Release frees engine resources held by the table. Safe to call twice.
	Release()
}

// Inspector exports table contents in engine-neutral form. Every table
// returned by the engines in this package implements it.
type Inspector interface {
	// Groups returns the rows of a group-by result sorted by category.
	Groups() ([]GroupStat, error)

	// Rows returns the rows of a loaded or filtered table.
	Rows() ([]types.Row, error)
}

// GroupStat is one row of the group-by result.
type GroupStat struct {
	Category     string  `json:"category"`
	MeanNumeric1 float64 `json:"mean_numeric1"`
	SumNumeric2  float64 `json:"sum_numeric2"`
}

// Engine is the capability contract every benchmarked library implements.
//
// GroupBy computes, per category, mean(numeric1) and sum(numeric2).
// Filter keeps rows with numeric1 above its global mean, numeric2 below its
// global median (average of the two middle values for even counts) and a
// category in types.FilterCategories.
type Engine interface {
	Name() string
	Load(ctx context.Context, path string) (Table, error)
	GroupBy(ctx context.Context, t Table) (Table, error)
	Filter(ctx context.Context, t Table) (Table, error)
}

// Registry maps engine names to engines.
type Registry struct {
	engines map[string]Engine
	order   []string
}

// NewRegistry creates a registry holding the given engines.
func NewRegistry(engines ...Engine) *Registry {
	r := &Registry{engines: make(map[string]Engine)}
	for _, e := range engines {
		r.Register(e)
	}
	return r
}

// DefaultRegistry returns a registry with the gota, sqlite and arrow engines.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewGotaEngine(),
		NewSQLiteEngine(),
		NewArrowEngine(memory.DefaultAllocator),
	)
}

// Register adds or replaces an engine.
func (r *Registry) Register(e Engine) {
	if _, exists := r.engines[e.Name()]; !exists {
		r.order = append(r.order, e.Name())
	}
	r.engines[e.Name()] = e
}

// Get returns the engine registered under name.
func (r *Registry) Get(name string) (Engine, error) {
	e, ok := r.engines[name]
	if !ok {
		return nil, fberrors.NewValidationError(fberrors.CodeUnknownEngine,
			fmt.Sprintf("unknown engine %q", name))
	}
	return e, nil
}

// Names returns registered engine names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Median returns the continuous 0.5 percentile of an ascending slice.
func Median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func sortGroups(groups []GroupStat) {
	sort.Slice(groups, func(i, j int) bool { return groups[i].Category < groups[j].Category })
}

func loadError(engine, path string, err error) error {
	return fberrors.NewEngineError(fberrors.CodeLoadFailed,
		fmt.Sprintf("%s: failed to load %s", engine, path), err)
}

func queryError(engine, op string, err error) error {
	return fberrors.NewEngineError(fberrors.CodeQueryFailed,
		fmt.Sprintf("%s: %s failed", engine, op), err)
}

// memTable is a fully materialized result held in Go slices.
type memTable struct {
	groups  []GroupStat
	rows    []types.Row
	grouped bool
}

func (t *memTable) NumRows() int {
	if t.grouped {
		return len(t.groups)
	}
	return len(t.rows)
}

func (t *memTable) Release() {}

func (t *memTable) Groups() ([]GroupStat, error) {
	if !t.grouped {
		return nil, ErrNotGrouped
	}
	out := make([]GroupStat, len(t.groups))
	copy(out, t.groups)
	sortGroups(out)
	return out, nil
}

func (t *memTable) Rows() ([]types.Row, error) {
	if t.grouped {
		return nil, ErrGrouped
	}
	return t.rows, nil
}
