package engine

import (
	"context"
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/framebench/framebench/internal/dataset"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

func allEngines(t *testing.T) []Engine {
	t.Helper()
	return []Engine{
		NewGotaEngine(),
		NewSQLiteEngine(),
		// Small chunks make the arrow engine cross batch boundaries.
		NewArrowEngine(memory.NewGoAllocator()).WithChunkSize(17),
	}
}

func writeDataset(t *testing.T, rows int) (string, []types.Row) {
	t.Helper()
	gen := dataset.NewGenerator(t.TempDir(), dataset.Options{Seed: 11})
	info, err := gen.Generate(context.Background(), rows)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	data, err := dataset.ReadRows(info.Path)
	if err != nil {
		t.Fatalf("ReadRows failed: %v", err)
	}
	return info.Path, data
}

func referenceGroups(rows []types.Row) []GroupStat {
	sums := map[string]*GroupStat{}
	counts := map[string]int{}
	for _, r := range rows {
		g, ok := sums[r.Category]
		if !ok {
			g = &GroupStat{Category: r.Category}
			sums[r.Category] = g
		}
		g.MeanNumeric1 += r.Numeric1
		g.SumNumeric2 += float64(r.Numeric2)
		counts[r.Category]++
	}
	var out []GroupStat
	for k, g := range sums {
		g.MeanNumeric1 /= float64(counts[k])
		out = append(out, *g)
	}
	sortGroups(out)
	return out
}

func referenceFilter(rows []types.Row) []int64 {
	var sum float64
	n2 := make([]float64, len(rows))
	for i, r := range rows {
		sum += r.Numeric1
		n2[i] = float64(r.Numeric2)
	}
	mean := sum / float64(len(rows))
	sort.Float64s(n2)
	median := Median(n2)

	var ids []int64
	for _, r := range rows {
		if r.Numeric1 > mean && float64(r.Numeric2) < median && types.IsFilterCategory(r.Category) {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func approxEqual(a, b float64) bool {
	if a == b {
		return true
	}
	return math.Abs(a-b) <= 1e-6*math.Max(math.Abs(a), math.Abs(b))
}

func inspect(t *testing.T, tbl Table) Inspector {
	t.Helper()
	ins, ok := tbl.(Inspector)
	if !ok {
		t.Fatalf("%T does not implement Inspector", tbl)
	}
	return ins
}

func TestEngines_Load(t *testing.T) {
	path, want := writeDataset(t, 100)
	ctx := context.Background()

	for _, eng := range allEngines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			tbl, err := eng.Load(ctx, path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			defer tbl.Release()

			if tbl.NumRows() != 100 {
				t.Fatalf("expected 100 rows, got %d", tbl.NumRows())
			}
			got, err := inspect(t, tbl).Rows()
			if err != nil {
				t.Fatalf("Rows failed: %v", err)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("row %d: got %+v, want %+v", i, got[i], want[i])
				}
			}
		})
	}
}

func TestEngines_GroupByAgree(t *testing.T) {
	path, rows := writeDataset(t, 100)
	want := referenceGroups(rows)
	ctx := context.Background()

	for _, eng := range allEngines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			tbl, err := eng.Load(ctx, path)
			if err != nil {
				t.Fatal(err)
			}
			defer tbl.Release()

			res, err := eng.GroupBy(ctx, tbl)
			if err != nil {
				t.Fatalf("GroupBy failed: %v", err)
			}
			defer res.Release()

			got, err := inspect(t, res).Groups()
			if err != nil {
				t.Fatalf("Groups failed: %v", err)
			}
			if len(got) != len(want) {
				t.Fatalf("got %d groups, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i].Category != want[i].Category {
					t.Errorf("group %d: category %q, want %q", i, got[i].Category, want[i].Category)
				}
				if !approxEqual(got[i].MeanNumeric1, want[i].MeanNumeric1) {
					t.Errorf("%s: mean %v, want %v", want[i].Category, got[i].MeanNumeric1, want[i].MeanNumeric1)
				}
				if !approxEqual(got[i].SumNumeric2, want[i].SumNumeric2) {
					t.Errorf("%s: sum %v, want %v", want[i].Category, got[i].SumNumeric2, want[i].SumNumeric2)
				}
			}
			if _, err := inspect(t, res).Rows(); !errors.Is(err, ErrGrouped) {
				t.Errorf("Rows on a group-by result should fail with ErrGrouped, got %v", err)
			}
		})
	}
}

func TestEngines_FilterAgree(t *testing.T) {
	// Even and odd sizes exercise both median branches.
	for _, size := range []int{100, 101} {
		path, rows := writeDataset(t, size)
		want := referenceFilter(rows)
		ctx := context.Background()

		for _, eng := range allEngines(t) {
			t.Run(eng.Name(), func(t *testing.T) {
				tbl, err := eng.Load(ctx, path)
				if err != nil {
					t.Fatal(err)
				}
				defer tbl.Release()

				res, err := eng.Filter(ctx, tbl)
				if err != nil {
					t.Fatalf("Filter failed: %v", err)
				}
				defer res.Release()

				if res.NumRows() > tbl.NumRows() {
					t.Errorf("filter grew the table: %d > %d", res.NumRows(), tbl.NumRows())
				}
				got, err := inspect(t, res).Rows()
				if err != nil {
					t.Fatalf("Rows failed: %v", err)
				}
				if len(got) != len(want) {
					t.Fatalf("size %d: got %d rows, want %d", size, len(got), len(want))
				}
				ids := make([]int64, len(got))
				for i, r := range got {
					if !types.IsFilterCategory(r.Category) {
						t.Errorf("row %d has category %q", r.ID, r.Category)
					}
					ids[i] = r.ID
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				for i := range want {
					if ids[i] != want[i] {
						t.Fatalf("size %d: id %d at %d, want %d", size, ids[i], i, want[i])
					}
				}
			})
		}
	}
}

func TestEngines_ForeignTable(t *testing.T) {
	path, _ := writeDataset(t, 10)
	ctx := context.Background()

	gota := NewGotaEngine()
	tbl, err := gota.Load(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer tbl.Release()

	if _, err := NewSQLiteEngine().GroupBy(ctx, tbl); !errors.Is(err, ErrForeignTable) {
		t.Errorf("sqlite should reject a gota table, got %v", err)
	}
	if _, err := NewArrowEngine(nil).Filter(ctx, tbl); !errors.Is(err, ErrForeignTable) {
		t.Errorf("arrow should reject a gota table, got %v", err)
	}
}

func TestEngines_MissingFile(t *testing.T) {
	for _, eng := range allEngines(t) {
		_, err := eng.Load(context.Background(), "/nonexistent/test_data_1.csv")
		if fberrors.GetCode(err) != fberrors.CodeLoadFailed {
			t.Errorf("%s: expected LOAD_FAILED, got %v", eng.Name(), err)
		}
	}
}

func TestArrowEngine_ReleasesMemory(t *testing.T) {
	path, _ := writeDataset(t, 200)
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	eng := NewArrowEngine(mem).WithChunkSize(50)
	ctx := context.Background()

	tbl, err := eng.Load(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	grouped, err := eng.GroupBy(ctx, tbl)
	if err != nil {
		t.Fatal(err)
	}
	filtered, err := eng.Filter(ctx, tbl)
	if err != nil {
		t.Fatal(err)
	}
	grouped.Release()
	filtered.Release()
	tbl.Release()
	tbl.Release()
}

func TestMedian(t *testing.T) {
	tests := []struct {
		in   []float64
		want float64
	}{
		{nil, 0},
		{[]float64{3}, 3},
		{[]float64{1, 2}, 1.5},
		{[]float64{1, 2, 9}, 2},
		{[]float64{1, 2, 3, 10}, 2.5},
	}
	for _, tt := range tests {
		if got := Median(tt.in); got != tt.want {
			t.Errorf("Median(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	names := r.Names()
	if len(names) != 3 || names[0] != "gota" || names[1] != "sqlite" || names[2] != "arrow" {
		t.Errorf("unexpected names %v", names)
	}
	if _, err := r.Get("arrow"); err != nil {
		t.Errorf("Get(arrow) failed: %v", err)
	}
	_, err := r.Get("polars")
	if fberrors.GetCode(err) != fberrors.CodeUnknownEngine {
		t.Errorf("expected UNKNOWN_ENGINE, got %v", err)
	}

	r.Register(NewGotaEngine())
	if len(r.Names()) != 3 {
		t.Error("re-registering should not duplicate names")
	}
}
