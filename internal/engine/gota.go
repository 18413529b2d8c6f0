package engine

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"

	"github.com/framebench/framebench/pkg/types"
)

// gotaTypes pins column types instead of relying on detection. numeric2 is
// loaded as float so it compares exactly against a fractional median.
var gotaTypes = map[string]series.Type{
	"id":       series.Int,
	"category": series.String,
	"numeric1": series.Float,
	"numeric2": series.Float,
	"text":     series.String,
}

// GotaEngine runs operations on go-gota dataframes.
type GotaEngine struct{}

// NewGotaEngine creates the gota engine.
func NewGotaEngine() *GotaEngine {
	return &GotaEngine{}
}

// Name returns "gota".
func (e *GotaEngine) Name() string { return "gota" }

type gotaTable struct {
	df      dataframe.DataFrame
	grouped bool
}

func (t *gotaTable) NumRows() int { return t.df.Nrow() }

func (t *gotaTable) Release() {}

// Load reads the whole CSV file into a dataframe.
func (e *GotaEngine) Load(ctx context.Context, path string) (Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, loadError(e.Name(), path, err)
	}
	defer f.Close()

	df := dataframe.ReadCSV(bufio.NewReaderSize(f, 1<<20), dataframe.WithTypes(gotaTypes))
	if df.Err != nil {
		return nil, loadError(e.Name(), path, df.Err)
	}
	return &gotaTable{df: df}, nil
}

// GroupBy aggregates mean(numeric1) and sum(numeric2) per category.
func (e *GotaEngine) GroupBy(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*gotaTable)
	if !ok {
		return nil, ErrForeignTable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	groups := tbl.df.GroupBy("category")
	if groups.Err != nil {
		return nil, queryError(e.Name(), "groupby", groups.Err)
	}
	agg := groups.Aggregation(
		[]dataframe.AggregationType{dataframe.Aggregation_MEAN, dataframe.Aggregation_SUM},
		[]string{"numeric1", "numeric2"},
	)
	if agg.Err != nil {
		return nil, queryError(e.Name(), "groupby", agg.Err)
	}
	return &gotaTable{df: agg, grouped: true}, nil
}

// Filter applies the mean/median/category predicate.
func (e *GotaEngine) Filter(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*gotaTable)
	if !ok {
		return nil, ErrForeignTable
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	df := tbl.df
	mean := df.Col("numeric1").Mean()
	median := df.Col("numeric2").Median()

	out := df.
		Filter(dataframe.F{Colname: "numeric1", Comparator: series.Greater, Comparando: mean}).
		Filter(dataframe.F{Colname: "numeric2", Comparator: series.Less, Comparando: median}).
		Filter(dataframe.F{Colname: "category", Comparator: series.In, Comparando: types.FilterCategories})
	if out.Err != nil {
		return nil, queryError(e.Name(), "filter", out.Err)
	}
	return &gotaTable{df: out}, nil
}

// Groups locates the aggregate columns by prefix since gota names them
// "<column>_<AGG>".
func (t *gotaTable) Groups() ([]GroupStat, error) {
	if !t.grouped {
		return nil, ErrNotGrouped
	}

	var cats []string
	var means, sums []float64
	for _, name := range t.df.Names() {
		col := t.df.Col(name)
		switch {
		case name == "category":
			cats = col.Records()
		case strings.HasPrefix(name, "numeric1"):
			means = col.Float()
		case strings.HasPrefix(name, "numeric2"):
			sums = col.Float()
		}
	}
	if len(cats) != len(means) || len(cats) != len(sums) {
		return nil, fmt.Errorf("engine: gota group-by result has columns %v", t.df.Names())
	}

	out := make([]GroupStat, len(cats))
	for i := range cats {
		out[i] = GroupStat{Category: cats[i], MeanNumeric1: means[i], SumNumeric2: sums[i]}
	}
	sortGroups(out)
	return out, nil
}

func (t *gotaTable) Rows() ([]types.Row, error) {
	if t.grouped {
		return nil, ErrGrouped
	}
	n := t.df.Nrow()
	if n == 0 {
		return nil, nil
	}

	ids, err := t.df.Col("id").Int()
	if err != nil {
		return nil, fmt.Errorf("engine: gota id column: %w", err)
	}
	cats := t.df.Col("category").Records()
	n1 := t.df.Col("numeric1").Float()
	n2 := t.df.Col("numeric2").Float()
	text := t.df.Col("text").Records()

	rows := make([]types.Row, n)
	for i := 0; i < n; i++ {
		rows[i] = types.Row{
			ID:       int64(ids[i]),
			Category: cats[i],
			Numeric1: n1[i],
			Numeric2: int64(math.Round(n2[i])),
			Text:     text[i],
		}
	}
	return rows, nil
}
