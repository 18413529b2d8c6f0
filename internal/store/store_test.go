package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/framebench/framebench/internal/config"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "benchmark_results.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sample(size int64, op types.Operation, tool string, secs float64) types.Sample {
	return types.Sample{
		FileSize:      size,
		FileSizeMB:    float64(size) / 1e4,
		Operation:     string(op),
		Tool:          tool,
		ExecutionTime: secs,
	}
}

func TestStore_AppendAndList(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	before := time.Now().UTC().Add(-2 * time.Second)
	var ids []int64
	for i, tool := range []string{"gota", "sqlite", "arrow"} {
		res := s.Append(ctx, sample(1000, types.OpGroupBy, tool, float64(i+1)*0.1))
		if !res.OK() {
			t.Fatalf("Append failed: %v", res.Err)
		}
		ids = append(ids, res.ID)
	}
	if ids[0] >= ids[1] || ids[1] >= ids[2] {
		t.Errorf("ids should increase, got %v", ids)
	}

	got, err := s.ListSamples(ctx, Filter{})
	if err != nil {
		t.Fatalf("ListSamples failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	for _, sm := range got {
		if sm.Timestamp.Before(before) {
			t.Errorf("timestamp %v should default to insertion time", sm.Timestamp)
		}
		if sm.FileSize != 1000 || sm.Operation != "groupby" {
			t.Errorf("unexpected sample %+v", sm)
		}
	}
	if got[1].Tool != "sqlite" || got[1].ExecutionTime != 0.2 {
		t.Errorf("unexpected second sample %+v", got[1])
	}
}

func TestStore_ExplicitTimestampAndRunID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 4, 1, 12, 30, 0, 0, time.UTC)
	sm := sample(10, types.OpRead, "arrow", 0.5)
	sm.Timestamp = ts
	sm.RunID = "run-1"
	if res := s.Append(ctx, sm); !res.OK() {
		t.Fatal(res.Err)
	}

	got, err := s.ListSamples(ctx, Filter{RunID: "run-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Timestamp.Equal(ts) || got[0].RunID != "run-1" {
		t.Errorf("unexpected samples %+v", got)
	}
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   types.Sample
		code string
	}{
		{"zero size", sample(0, types.OpRead, "gota", 1), fberrors.CodeInvalidSize},
		{"unknown operation", sample(10, types.Operation("sort"), "gota", 1), fberrors.CodeUnknownOperation},
		{"missing tool", sample(10, types.OpRead, "", 1), fberrors.CodeUnknownEngine},
		{"negative time", sample(10, types.OpRead, "gota", -1), fberrors.CodeInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Append(ctx, tt.in)
			if res.OK() {
				t.Fatal("expected failure")
			}
			if fberrors.GetCode(res.Err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, res.Err)
			}
		})
	}

	if n, _ := s.CountSamples(ctx, Filter{}); n != 0 {
		t.Errorf("invalid samples should not be stored, found %d", n)
	}
}

func TestStore_AppendAfterClose(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "r.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	s.db.Close()

	res := s.Append(context.Background(), sample(10, types.OpRead, "gota", 1))
	if res.OK() {
		t.Fatal("expected write failure on a closed database")
	}
	if fberrors.GetCode(res.Err) != fberrors.CodeWriteFailed || !fberrors.IsRetryable(res.Err) {
		t.Errorf("expected retryable WRITE_FAILED, got %v", res.Err)
	}
}

func TestStore_FilterAndCount(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, size := range []int64{100, 1000} {
		for _, op := range []types.Operation{types.OpGroupBy, types.OpFilter} {
			for _, tool := range []string{"gota", "arrow"} {
				for rep := 0; rep < 2; rep++ {
					if res := s.Append(ctx, sample(size, op, tool, 0.01)); !res.OK() {
						t.Fatal(res.Err)
					}
				}
			}
		}
	}

	tests := []struct {
		f    Filter
		want int64
	}{
		{Filter{}, 16},
		{Filter{Operation: "filter"}, 8},
		{Filter{Tool: "arrow", FileSize: 100}, 4},
		{Filter{Operation: "groupby", Tool: "gota", FileSize: 1000}, 2},
		{Filter{Tool: "sqlite"}, 0},
	}
	for _, tt := range tests {
		n, err := s.CountSamples(ctx, tt.f)
		if err != nil {
			t.Fatal(err)
		}
		if n != tt.want {
			t.Errorf("CountSamples(%+v) = %d, want %d", tt.f, n, tt.want)
		}
		list, err := s.ListSamples(ctx, tt.f)
		if err != nil {
			t.Fatal(err)
		}
		if int64(len(list)) != tt.want {
			t.Errorf("ListSamples(%+v) returned %d", tt.f, len(list))
		}
	}

	limited, err := s.ListSamples(ctx, Filter{Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 5 {
		t.Errorf("expected 5 samples with limit, got %d", len(limited))
	}
}

func TestStore_InitializeIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.db")
	ctx := context.Background()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}
	if res := s.Append(ctx, sample(10, types.OpRead, "gota", 1)); !res.OK() {
		t.Fatal(res.Err)
	}
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("second Initialize failed: %v", err)
	}
	s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize on reopen failed: %v", err)
	}
	if n, _ := s.CountSamples(ctx, Filter{}); n != 1 {
		t.Errorf("existing rows should survive initialization, got %d", n)
	}
}

func TestStore_MigratesLegacyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")
	ctx := context.Background()

	raw, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`
		CREATE TABLE benchmark_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_size INTEGER,
			file_size_mb REAL,
			operation TEXT,
			tool TEXT,
			execution_time REAL,
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
		)`)
	if err != nil {
		t.Fatal(err)
	}
	_, err = raw.Exec(`INSERT INTO benchmark_results (file_size, file_size_mb, operation, tool, execution_time)
		VALUES (1000, 0.03, 'groupby2', 'polars', 0.004)`)
	if err != nil {
		t.Fatal(err)
	}
	raw.Close()

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Initialize(ctx); err != nil {
		t.Fatalf("Initialize on legacy table failed: %v", err)
	}

	sm := sample(1000, types.OpGroupBy, "arrow", 0.002)
	sm.RunID = "r1"
	if res := s.Append(ctx, sm); !res.OK() {
		t.Fatal(res.Err)
	}

	got, err := s.ListSamples(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
	if got[0].Operation != "groupby2" || got[0].RunID != "" {
		t.Errorf("legacy row changed: %+v", got[0])
	}
	if got[1].RunID != "r1" {
		t.Errorf("new row lost run id: %+v", got[1])
	}
}

func TestStore_Runs(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfgJSON := []byte(`{"sizes":[1000,10000],"repetitions":5}`)
	run, err := s.BeginRun(ctx, cfgJSON)
	if err != nil {
		t.Fatalf("BeginRun failed: %v", err)
	}
	if run.RunID == "" || run.Status != types.RunRunning {
		t.Fatalf("unexpected run %+v", run)
	}

	runs, err := s.ListRuns(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].FinishedAt != nil || runs[0].Status != types.RunRunning {
		t.Fatalf("unexpected runs %+v", runs)
	}

	if err := s.FinishRun(ctx, run.RunID, types.RunCompleted, 30, 2); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}
	runs, err = s.ListRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	got := runs[0]
	if got.Status != types.RunCompleted || got.SamplesStored != 30 || got.SamplesFailed != 2 {
		t.Errorf("unexpected finished run %+v", got)
	}
	if got.FinishedAt == nil || got.FinishedAt.Before(got.StartedAt) {
		t.Errorf("finished_at %v should follow started_at %v", got.FinishedAt, got.StartedAt)
	}
	if string(got.Config) != string(cfgJSON) {
		t.Errorf("config snapshot = %s, want %s", got.Config, cfgJSON)
	}

	if err := s.FinishRun(ctx, "missing", types.RunFailed, 0, 0); err == nil {
		t.Error("finishing an unknown run should fail")
	}
}

func TestOpen_Drivers(t *testing.T) {
	s, err := Open(config.StoreConfig{Driver: "sqlite3", Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatal(err)
	}
	if s.Dialect() != DialectSQLite {
		t.Errorf("unexpected dialect %s", s.Dialect())
	}
	s.Close()

	if _, err := Open(config.StoreConfig{Driver: "mysql"}); fberrors.GetCode(err) != fberrors.CodeInvalidConfig {
		t.Errorf("expected INVALID_CONFIG for unknown driver, got %v", err)
	}
	if _, err := Open(config.StoreConfig{Driver: "postgres"}); fberrors.GetCode(err) != fberrors.CodeInvalidConfig {
		t.Errorf("expected INVALID_CONFIG for missing dsn, got %v", err)
	}
}

// TestPostgresStore runs against a live server when FRAMEBENCH_TEST_DATABASE_URL is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("FRAMEBENCH_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FRAMEBENCH_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := OpenPostgres(dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Initialize(ctx); err != nil {
		t.Fatal(err)
	}

	run, err := s.BeginRun(ctx, []byte(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	sm := sample(10, types.OpRead, "gota", 0.1)
	sm.RunID = run.RunID
	res := s.Append(ctx, sm)
	if !res.OK() || res.ID == 0 {
		t.Fatalf("Append failed: %+v", res)
	}
	got, err := s.ListSamples(ctx, Filter{RunID: run.RunID})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 sample, got %d", len(got))
	}
	if err := s.FinishRun(ctx, run.RunID, types.RunCompleted, 1, 0); err != nil {
		t.Fatal(err)
	}
}
