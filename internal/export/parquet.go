// Package export writes stored benchmark samples to columnar files.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/framebench/framebench/pkg/types"
)

// SampleRecord is the Parquet row layout of a sample.
type SampleRecord struct {
	ID              int64   `parquet:"id"`
	RunID           string  `parquet:"run_id,optional"`
	FileSize        int64   `parquet:"file_size"`
	FileSizeMB      float64 `parquet:"file_size_mb"`
	Operation       string  `parquet:"operation,dict"`
	Tool            string  `parquet:"tool,dict"`
	ExecutionTime   float64 `parquet:"execution_time"`
	TimestampMicros int64   `parquet:"timestamp_micros"`
}

// batchSize is the number of rows handed to the writer at once.
const batchSize = 4096

// NewSampleRecord converts a sample to its Parquet layout.
func NewSampleRecord(s types.Sample) SampleRecord {
	var ts int64
	if !s.Timestamp.IsZero() {
		ts = s.Timestamp.UnixMicro()
	}
	return SampleRecord{
		ID:              s.ID,
		RunID:           s.RunID,
		FileSize:        s.FileSize,
		FileSizeMB:      s.FileSizeMB,
		Operation:       s.Operation,
		Tool:            s.Tool,
		ExecutionTime:   s.ExecutionTime,
		TimestampMicros: ts,
	}
}

// WriteParquet writes samples to w and returns the number of rows written.
func WriteParquet(ctx context.Context, w io.Writer, samples []types.Sample) (int, error) {
	writer := parquet.NewGenericWriter[SampleRecord](w)

	written := 0
	batch := make([]SampleRecord, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := writer.Write(batch)
		written += n
		batch = batch[:0]
		return err
	}

	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		batch = append(batch, NewSampleRecord(s))
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return written, fmt.Errorf("export: failed to write rows: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return written, fmt.Errorf("export: failed to write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return written, fmt.Errorf("export: failed to close writer: %w", err)
	}
	return written, nil
}

// WriteParquetFile writes samples to path atomically.
func WriteParquetFile(ctx context.Context, path string, samples []types.Sample) (int, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("export: failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return 0, fmt.Errorf("export: failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := WriteParquet(ctx, tmp, samples)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("export: failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("export: failed to move file into place: %w", err)
	}
	return n, nil
}
