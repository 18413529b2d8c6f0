// Package dataset generates the synthetic CSV datasets the engines are timed against.
package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Info describes a dataset file on disk.
type Info struct {
	Path      string
	Rows      int64
	SizeBytes int64
	Reused    bool
	Meta      *Meta

	// Stale is set when a reused file was written with a different layout
	Stale error
}

// SizeMB returns the file size in mebibytes.
func (i *Info) SizeMB() float64 {
	return float64(i.SizeBytes) / (1024 * 1024)
}

// Options configures a Generator.
type Options struct {
	// Seed seeds the row generator; the same (seed, rows) yields the same file
	Seed int64

	// TextLength is the length of the text column (default 10)
	TextLength int

	// RegenerateStale rewrites files whose recorded fingerprint differs
	RegenerateStale bool
}

// Generator writes datasets keyed by row count into a directory.
type Generator struct {
	dir    string
	opts   Options
	schema types.Schema
}

// NewGenerator creates a generator writing into dir.
func NewGenerator(dir string, opts Options) *Generator {
	if opts.TextLength <= 0 {
		opts.TextLength = 10
	}
	return &Generator{
		dir:    dir,
		opts:   opts,
		schema: types.DatasetSchema(),
	}
}

// Path returns the file path used for a dataset of the given row count.
func (g *Generator) Path(rows int) string {
	return filepath.Join(g.dir, fmt.Sprintf("test_data_%d.csv", rows))
}

// Generate ensures a dataset with the given number of rows exists and returns
// its description. Existing files are reused unmodified unless their sidecar
// fingerprint is stale and RegenerateStale is set.
func (g *Generator) Generate(ctx context.Context, rows int) (*Info, error) {
	if rows <= 0 {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidSize,
			fmt.Sprintf("dataset size must be positive, got %d", rows))
	}

	path := g.Path(rows)
	fingerprint := Fingerprint(g.schema, g.opts.TextLength)

	if stat, err := os.Stat(path); err == nil {
		var staleErr error
		meta, metaErr := ReadMeta(path)
		switch {
		case metaErr != nil && os.IsNotExist(metaErr):
			log.Printf("dataset: reusing %s (no metadata sidecar, schema not verified)", path)
		case metaErr != nil:
			log.Printf("[WARN] dataset: unreadable metadata for %s: %v", path, metaErr)
		case meta.Fingerprint != fingerprint:
			staleErr = fberrors.NewDatasetError(fberrors.CodeStaleDataset,
				fmt.Sprintf("%s was written with layout %s (current %s)", path, meta.Fingerprint, fingerprint), nil).
				WithDetails(map[string]interface{}{
					"path":     path,
					"recorded": meta.Fingerprint,
					"current":  fingerprint,
				})
			if !g.opts.RegenerateStale {
				log.Printf("[WARN] dataset: reusing stale file: %v", staleErr)
				break
			}
			log.Printf("[WARN] dataset: regenerating: %v", staleErr)
			return g.write(ctx, rows, path, fingerprint)
		default:
			log.Printf("dataset: file already exists: %s", path)
		}
		return &Info{
			Path:      path,
			Rows:      int64(rows),
			SizeBytes: stat.Size(),
			Reused:    true,
			Meta:      meta,
			Stale:     staleErr,
		}, nil
	} else if !os.IsNotExist(err) {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed,
			fmt.Sprintf("failed to stat %s", path), err)
	}

	return g.write(ctx, rows, path, fingerprint)
}

// write generates rows into a temp file and renames it into place.
func (g *Generator) write(ctx context.Context, rows int, path, fingerprint string) (*Info, error) {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to create dataset directory", err)
	}

	tmp, err := os.CreateTemp(g.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op after a successful rename

	if err := g.writeRows(ctx, tmp, rows); err != nil {
		tmp.Close()
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed,
			fmt.Sprintf("failed to write %d rows", rows), err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to close temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to move dataset into place", err)
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to stat dataset", err)
	}

	meta := &Meta{
		Rows:          int64(rows),
		SchemaVersion: g.schema.Version,
		Fingerprint:   fingerprint,
		Seed:          g.opts.Seed,
		SizeBytes:     stat.Size(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := WriteMeta(path, meta); err != nil {
		return nil, fberrors.NewDatasetError(fberrors.CodeGenerateFailed, "failed to write metadata sidecar", err)
	}

	return &Info{
		Path:      path,
		Rows:      int64(rows),
		SizeBytes: stat.Size(),
		Meta:      meta,
	}, nil
}

// writeRows streams the header and rows as CSV.
func (g *Generator) writeRows(ctx context.Context, f *os.File, rows int) error {
	bw := bufio.NewWriterSize(f, 1<<20)
	w := csv.NewWriter(bw)

	if err := w.Write(g.schema.Header()); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(g.opts.Seed + int64(rows)))
	record := make([]string, len(g.schema.Columns))
	text := make([]byte, g.opts.TextLength)

	for i := 0; i < rows; i++ {
		if i%100000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		row := NextRow(rng, int64(i), text)
		record[0] = strconv.FormatInt(row.ID, 10)
		record[1] = row.Category
		record[2] = strconv.FormatFloat(row.Numeric1, 'g', -1, 64)
		record[3] = strconv.FormatInt(row.Numeric2, 10)
		record[4] = row.Text
		if err := w.Write(record); err != nil {
			return err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return bw.Flush()
}

// NextRow draws one row from rng. text is scratch space whose length sets the
// text column width.
func NextRow(rng *rand.Rand, id int64, text []byte) types.Row {
	for i := range text {
		text[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return types.Row{
		ID:       id,
		Category: types.Categories[rng.Intn(len(types.Categories))],
		Numeric1: rng.Float64(),
		Numeric2: 1 + rng.Int63n(999),
		Text:     string(text),
	}
}

// Meta is the sidecar written next to every generated dataset.
type Meta struct {
	Rows          int64     `json:"rows"`
	SchemaVersion int       `json:"schema_version"`
	Fingerprint   string    `json:"schema_fingerprint"`
	Seed          int64     `json:"seed"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// MetaPath returns the sidecar path for a dataset file.
func MetaPath(datasetPath string) string {
	return datasetPath + ".meta.json"
}

// ReadMeta reads the sidecar of a dataset file.
func ReadMeta(datasetPath string) (*Meta, error) {
	data, err := os.ReadFile(MetaPath(datasetPath))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dataset: invalid metadata: %w", err)
	}
	return &m, nil
}

// WriteMeta writes the sidecar of a dataset file.
func WriteMeta(datasetPath string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(MetaPath(datasetPath), data, 0644)
}
