// Package publish uploads the artifacts of a sweep (results database, chart
// and Parquet export) to object storage, and fetches them back.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"

	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/storage"
)

// Object names inside a run prefix.
const (
	DatabaseObject = "benchmark_results.db.zst"
	ParquetObject  = "benchmark_results.parquet"
	ManifestObject = "manifest.json"
)

// DefaultConcurrency is the number of parallel transfers.
const DefaultConcurrency = 4

// Artifacts names the local files produced by a sweep. Empty paths and
// missing files are skipped; a run id is required.
type Artifacts struct {
	RunID        string
	DatabasePath string
	ChartPath    string
	ParquetPath  string
}

// ManifestEntry describes one published object.
type ManifestEntry struct {
	Object    string `json:"object"`
	Source    string `json:"source"`
	SizeBytes int64  `json:"size_bytes"`
}

// Manifest is written next to the artifacts of a run.
type Manifest struct {
	RunID       string          `json:"run_id"`
	PublishedAt time.Time       `json:"published_at"`
	Objects     []ManifestEntry `json:"objects"`
}

// Publisher moves run artifacts to and from object storage.
type Publisher struct {
	storage     storage.ObjectStorage
	level       zstd.EncoderLevel
	concurrency int
	workDir     string
}

// NewPublisher creates a publisher. workDir holds temporary compressed files;
// the system temp directory is used when empty.
func NewPublisher(st storage.ObjectStorage, workDir string) *Publisher {
	return &Publisher{
		storage:     st,
		level:       zstd.SpeedBetterCompression,
		concurrency: DefaultConcurrency,
		workDir:     workDir,
	}
}

// RunPrefix returns the object prefix of a run.
func RunPrefix(runID string) string {
	return path.Join("runs", runID)
}

type upload struct {
	local  string
	object string
	source string
}

// Publish uploads the artifacts under runs/<run_id>/ and returns the
// manifest that was written.
func (p *Publisher) Publish(ctx context.Context, a Artifacts) (*Manifest, error) {
	if a.RunID == "" {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, "run id is required to publish")
	}
	prefix := RunPrefix(a.RunID)

	work, err := os.MkdirTemp(p.workDir, "framebench-publish-*")
	if err != nil {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to create work directory", err)
	}
	defer os.RemoveAll(work)

	var uploads []upload
	if present(a.DatabasePath) {
		compressed := filepath.Join(work, DatabaseObject)
		if _, err := CompressFile(a.DatabasePath, compressed, p.level); err != nil {
			return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to compress results database", err)
		}
		uploads = append(uploads, upload{compressed, path.Join(prefix, DatabaseObject), a.DatabasePath})
	}
	if present(a.ChartPath) {
		uploads = append(uploads, upload{a.ChartPath, path.Join(prefix, filepath.Base(a.ChartPath)), a.ChartPath})
	}
	if present(a.ParquetPath) {
		uploads = append(uploads, upload{a.ParquetPath, path.Join(prefix, ParquetObject), a.ParquetPath})
	}
	if len(uploads) == 0 {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "no artifacts to publish", nil)
	}

	manifest := &Manifest{RunID: a.RunID, PublishedAt: time.Now().UTC()}
	for _, u := range uploads {
		info, err := os.Stat(u.local)
		if err != nil {
			return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to stat artifact", err)
		}
		manifest.Objects = append(manifest.Objects, ManifestEntry{
			Object:    u.object,
			Source:    filepath.Base(u.source),
			SizeBytes: info.Size(),
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, u := range uploads {
		g.Go(func() error {
			if err := p.storage.Upload(gctx, u.local, u.object); err != nil {
				return fmt.Errorf("%s: %w", u.object, err)
			}
			log.Printf("publish: uploaded %s", u.object)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to upload artifacts", err)
	}

	// The manifest goes last so its presence marks a complete run.
	manifestPath := filepath.Join(work, ManifestObject)
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fberrors.NewInternalError("failed to encode manifest", err)
	}
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to write manifest", err)
	}
	if err := p.storage.Upload(ctx, manifestPath, path.Join(prefix, ManifestObject)); err != nil {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to upload manifest", err)
	}

	return manifest, nil
}

func present(file string) bool {
	if file == "" {
		return false
	}
	if _, err := os.Stat(file); err != nil {
		log.Printf("[WARN] publish: skipping %s: %v", file, err)
		return false
	}
	return true
}

// FetchedRun lists the local copies of a fetched run.
type FetchedRun struct {
	Dir          string
	DatabasePath string
	Files        []string
}

// Fetch downloads every object of a published run into destDir and
// decompresses the results database.
func (p *Publisher) Fetch(ctx context.Context, runID, destDir string) (*FetchedRun, error) {
	if runID == "" {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, "run id is required to fetch")
	}
	prefix := RunPrefix(runID)

	objects, err := p.storage.ListObjects(ctx, prefix)
	if err != nil {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed, "failed to list run objects", err)
	}
	if len(objects) == 0 {
		return nil, fberrors.NewPublishError(fberrors.CodeUploadFailed,
			fmt.Sprintf("run %s has no published artifacts", runID), storage.ErrObjectNotFound)
	}

	out := &FetchedRun{Dir: destDir}
	locals := make([]string, len(objects))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, obj := range objects {
		name := strings.TrimPrefix(strings.TrimPrefix(obj, prefix), "/")
		local := filepath.Join(destDir, filepath.FromSlash(name))
		g.Go(func() error {
			if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
				return err
			}
			if err := p.storage.Download(gctx, obj, local); err != nil {
				return fmt.Errorf("%s: %w", obj, err)
			}
			locals[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		code := fberrors.CodeUploadFailed
		if errors.Is(err, storage.ErrObjectNotFound) {
			code = fberrors.CodeReadFailed
		}
		return nil, fberrors.NewPublishError(code, "failed to download run artifacts", err)
	}
	out.Files = locals

	for _, local := range locals {
		if filepath.Base(local) == DatabaseObject {
			db := strings.TrimSuffix(local, ".zst")
			if _, err := DecompressFile(local, db); err != nil {
				return nil, fberrors.NewPublishError(fberrors.CodeReadFailed, "failed to decompress results database", err)
			}
			out.DatabasePath = db
		}
	}
	return out, nil
}
