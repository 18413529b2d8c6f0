package engine

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/framebench/framebench/pkg/types"
)

// Column positions in datasetSchema.
const (
	colID = iota
	colCategory
	colNumeric1
	colNumeric2
	colText
)

var datasetSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "category", Type: arrow.BinaryTypes.String},
		{Name: "numeric1", Type: arrow.PrimitiveTypes.Float64},
		{Name: "numeric2", Type: arrow.PrimitiveTypes.Int64},
		{Name: "text", Type: arrow.BinaryTypes.String},
	},
	nil,
)

var groupSchema = arrow.NewSchema(
	[]arrow.Field{
		{Name: "category", Type: arrow.BinaryTypes.String},
		{Name: "avg_numeric1", Type: arrow.PrimitiveTypes.Float64},
		{Name: "sum_numeric2", Type: arrow.PrimitiveTypes.Int64},
	},
	nil,
)

// DefaultArrowChunkSize is the number of rows per record batch read from CSV.
const DefaultArrowChunkSize = 64 * 1024

// ArrowEngine runs operations on Arrow record batches.
type ArrowEngine struct {
	mem       memory.Allocator
	chunkSize int
}

// NewArrowEngine creates the arrow engine using the given allocator.
func NewArrowEngine(mem memory.Allocator) *ArrowEngine {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &ArrowEngine{mem: mem, chunkSize: DefaultArrowChunkSize}
}

// WithChunkSize returns a copy of the engine reading chunkSize rows per batch.
func (e *ArrowEngine) WithChunkSize(chunkSize int) *ArrowEngine {
	cp := *e
	if chunkSize > 0 {
		cp.chunkSize = chunkSize
	}
	return &cp
}

// Name returns "arrow".
func (e *ArrowEngine) Name() string { return "arrow" }

type arrowTable struct {
	schema  *arrow.Schema
	records []arrow.Record
	rows    int
	grouped bool
}

func (t *arrowTable) NumRows() int { return t.rows }

func (t *arrowTable) Release() {
	for _, rec := range t.records {
		rec.Release()
	}
	t.records = nil
}

// Load reads the CSV file into record batches.
func (e *ArrowEngine) Load(ctx context.Context, path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadError(e.Name(), path, err)
	}
	defer f.Close()

	r := csv.NewReader(f, datasetSchema,
		csv.WithHeader(true),
		csv.WithChunk(e.chunkSize),
		csv.WithAllocator(e.mem),
	)
	defer r.Release()

	tbl := &arrowTable{schema: datasetSchema}
	for r.Next() {
		if err := ctx.Err(); err != nil {
			tbl.Release()
			return nil, err
		}
		rec := r.Record()
		rec.Retain()
		tbl.records = append(tbl.records, rec)
		tbl.rows += int(rec.NumRows())
	}
	if err := r.Err(); err != nil {
		tbl.Release()
		return nil, loadError(e.Name(), path, err)
	}
	return tbl, nil
}

type groupAcc struct {
	sum1  float64
	count int64
	sum2  int64
}

// GroupBy accumulates per-category aggregates over all batches and
// materializes them as one record.
func (e *ArrowEngine) GroupBy(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*arrowTable)
	if !ok || tbl.grouped {
		return nil, ErrForeignTable
	}

	accs := make(map[string]*groupAcc)
	for _, rec := range tbl.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cat := rec.Column(colCategory).(*array.String)
		n1 := rec.Column(colNumeric1).(*array.Float64)
		n2 := rec.Column(colNumeric2).(*array.Int64)
		for i := 0; i < int(rec.NumRows()); i++ {
			if cat.IsNull(i) {
				continue
			}
			key := cat.Value(i)
			acc, exists := accs[key]
			if !exists {
				acc = &groupAcc{}
				accs[key] = acc
			}
			if n1.IsValid(i) {
				acc.sum1 += n1.Value(i)
				acc.count++
			}
			if n2.IsValid(i) {
				acc.sum2 += n2.Value(i)
			}
		}
	}

	keys := make([]string, 0, len(accs))
	for k := range accs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b := array.NewRecordBuilder(e.mem, groupSchema)
	defer b.Release()
	catB := b.Field(0).(*array.StringBuilder)
	avgB := b.Field(1).(*array.Float64Builder)
	sumB := b.Field(2).(*array.Int64Builder)
	for _, k := range keys {
		acc := accs[k]
		catB.Append(k)
		if acc.count == 0 {
			avgB.AppendNull()
		} else {
			avgB.Append(acc.sum1 / float64(acc.count))
		}
		sumB.Append(acc.sum2)
	}

	rec := b.NewRecord()
	return &arrowTable{
		schema:  groupSchema,
		records: []arrow.Record{rec},
		rows:    int(rec.NumRows()),
		grouped: true,
	}, nil
}

// Filter computes the global mean and median, then selects rows per batch
// by intersecting one roaring bitmap per predicate.
func (e *ArrowEngine) Filter(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*arrowTable)
	if !ok || tbl.grouped {
		return nil, ErrForeignTable
	}

	mean, median := arrowStats(tbl.records)
	out := &arrowTable{schema: tbl.schema}
	fctx := compute.WithAllocator(ctx, e.mem)

	for _, rec := range tbl.records {
		if err := ctx.Err(); err != nil {
			out.Release()
			return nil, err
		}

		sel := selectRows(rec, mean, median)
		mask := e.maskFromBitmap(sel, int(rec.NumRows()))
		filtered, err := compute.FilterRecordBatch(fctx, rec, mask, compute.DefaultFilterOptions())
		mask.Release()
		if err != nil {
			out.Release()
			return nil, queryError(e.Name(), "filter", err)
		}
		out.records = append(out.records, filtered)
		out.rows += int(filtered.NumRows())
	}
	return out, nil
}

// arrowStats returns mean(numeric1) and the continuous median of numeric2.
func arrowStats(records []arrow.Record) (float64, float64) {
	var sum float64
	var count int64
	var n2vals []float64
	for _, rec := range records {
		n1 := rec.Column(colNumeric1).(*array.Float64)
		n2 := rec.Column(colNumeric2).(*array.Int64)
		for i := 0; i < int(rec.NumRows()); i++ {
			if n1.IsValid(i) {
				sum += n1.Value(i)
				count++
			}
			if n2.IsValid(i) {
				n2vals = append(n2vals, float64(n2.Value(i)))
			}
		}
	}
	sort.Float64s(n2vals)

	var mean float64
	if count > 0 {
		mean = sum / float64(count)
	}
	return mean, Median(n2vals)
}

// selectRows returns the batch-local indices matching all three predicates.
func selectRows(rec arrow.Record, mean, median float64) *roaring.Bitmap {
	cat := rec.Column(colCategory).(*array.String)
	n1 := rec.Column(colNumeric1).(*array.Float64)
	n2 := rec.Column(colNumeric2).(*array.Int64)

	aboveMean := roaring.New()
	belowMedian := roaring.New()
	inCategories := roaring.New()
	for i := 0; i < int(rec.NumRows()); i++ {
		if n1.IsValid(i) && n1.Value(i) > mean {
			aboveMean.Add(uint32(i))
		}
		if n2.IsValid(i) && float64(n2.Value(i)) < median {
			belowMedian.Add(uint32(i))
		}
		if cat.IsValid(i) && types.IsFilterCategory(cat.Value(i)) {
			inCategories.Add(uint32(i))
		}
	}
	return roaring.FastAnd(aboveMean, belowMedian, inCategories)
}

func (e *ArrowEngine) maskFromBitmap(sel *roaring.Bitmap, n int) arrow.Array {
	values := make([]bool, n)
	it := sel.Iterator()
	for it.HasNext() {
		values[it.Next()] = true
	}
	b := array.NewBooleanBuilder(e.mem)
	defer b.Release()
	b.AppendValues(values, nil)
	return b.NewBooleanArray()
}

func (t *arrowTable) Groups() ([]GroupStat, error) {
	if !t.grouped {
		return nil, ErrNotGrouped
	}
	var out []GroupStat
	for _, rec := range t.records {
		cat := rec.Column(0).(*array.String)
		avg := rec.Column(1).(*array.Float64)
		sum := rec.Column(2).(*array.Int64)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, GroupStat{
				Category:     cat.Value(i),
				MeanNumeric1: avg.Value(i),
				SumNumeric2:  float64(sum.Value(i)),
			})
		}
	}
	sortGroups(out)
	return out, nil
}

func (t *arrowTable) Rows() ([]types.Row, error) {
	if t.grouped {
		return nil, ErrGrouped
	}
	out := make([]types.Row, 0, t.rows)
	for _, rec := range t.records {
		if rec.NumCols() != int64(len(datasetSchema.Fields())) {
			return nil, fmt.Errorf("engine: arrow record has %d columns", rec.NumCols())
		}
		id := rec.Column(colID).(*array.Int64)
		cat := rec.Column(colCategory).(*array.String)
		n1 := rec.Column(colNumeric1).(*array.Float64)
		n2 := rec.Column(colNumeric2).(*array.Int64)
		text := rec.Column(colText).(*array.String)
		for i := 0; i < int(rec.NumRows()); i++ {
			out = append(out, types.Row{
				ID:       id.Value(i),
				Category: cat.Value(i),
				Numeric1: n1.Value(i),
				Numeric2: n2.Value(i),
				Text:     text.Value(i),
			})
		}
	}
	return out, nil
}
