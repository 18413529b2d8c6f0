package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/framebench/framebench/pkg/types"
)

func makeSamples(n int) []types.Sample {
	ts := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]types.Sample, n)
	for i := range out {
		out[i] = types.Sample{
			ID:            int64(i + 1),
			RunID:         "run-a",
			FileSize:      1000,
			FileSizeMB:    0.03,
			Operation:     "filter",
			Tool:          []string{"gota", "sqlite", "arrow"}[i%3],
			ExecutionTime: float64(i) * 0.001,
			Timestamp:     ts.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestWriteParquet_RoundTrip(t *testing.T) {
	samples := makeSamples(batchSize + 17)

	var buf bytes.Buffer
	n, err := WriteParquet(context.Background(), &buf, samples)
	if err != nil {
		t.Fatalf("WriteParquet failed: %v", err)
	}
	if n != len(samples) {
		t.Errorf("wrote %d rows, want %d", n, len(samples))
	}

	f, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if f.NumRows() != int64(len(samples)) {
		t.Errorf("file has %d rows, want %d", f.NumRows(), len(samples))
	}

	reader := parquet.NewGenericReader[SampleRecord](bytes.NewReader(buf.Bytes()))
	defer reader.Close()
	rows := make([]SampleRecord, 10)
	got, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatal(err)
	}
	if got != 10 {
		t.Fatalf("read %d rows", got)
	}
	if rows[4] != NewSampleRecord(samples[4]) {
		t.Errorf("row 4 = %+v, want %+v", rows[4], NewSampleRecord(samples[4]))
	}
}

func TestWriteParquetFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exports", "results.parquet")
	n, err := WriteParquetFile(context.Background(), path, makeSamples(5))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("wrote %d rows", n)
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		t.Fatalf("export missing: %v", err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteParquet_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := WriteParquet(ctx, io.Discard, makeSamples(3)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
