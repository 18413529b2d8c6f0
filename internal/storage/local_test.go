package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/framebench/framebench/internal/config"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	return path
}

func TestLocalStorage_UploadDownload(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()

	srcPath := writeFile(t, "hello world")
	objectPath := "runs/abc/benchmark_results.db.zst"
	if err := storage.Upload(ctx, srcPath, objectPath); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	exists, err := storage.Exists(ctx, objectPath)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !exists {
		t.Error("expected object to exist")
	}

	dstPath := filepath.Join(t.TempDir(), "nested", "downloaded.bin")
	if err := storage.Download(ctx, objectPath, dstPath); err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	downloaded, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatalf("failed to read downloaded file: %v", err)
	}
	if string(downloaded) != "hello world" {
		t.Errorf("content mismatch: got %q", downloaded)
	}

	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, _ = storage.Exists(ctx, objectPath)
	if exists {
		t.Error("expected object to not exist after delete")
	}
	if err := storage.Delete(ctx, objectPath); err != nil {
		t.Errorf("deleting a missing object should succeed: %v", err)
	}
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	err := storage.Download(context.Background(), "missing.png", filepath.Join(t.TempDir(), "x"))
	if !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestLocalStorage_UploadMissingSource(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	err := storage.Upload(context.Background(), "/nonexistent/file", "x")
	if !errors.Is(err, ErrUploadFailed) {
		t.Errorf("expected ErrUploadFailed, got %v", err)
	}
}

func TestLocalStorage_ListObjects(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx := context.Background()
	src := writeFile(t, "x")

	for _, p := range []string{"runs/b/chart.png", "runs/a/results.parquet", "runs/a/chart.png", "other/x"} {
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatal(err)
		}
	}

	got, err := storage.ListObjects(ctx, "runs/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "runs/a/chart.png" || got[1] != "runs/a/results.parquet" {
		t.Errorf("unexpected listing %v", got)
	}

	all, _ := storage.ListObjects(ctx, "runs")
	if len(all) != 3 {
		t.Errorf("expected 3 objects under runs, got %v", all)
	}

	none, err := storage.ListObjects(ctx, "missing")
	if err != nil || len(none) != 0 {
		t.Errorf("missing prefix should list nothing, got %v, %v", none, err)
	}
}

func TestLocalStorage_ContextCancelled(t *testing.T) {
	storage, _ := NewLocalStorage(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := storage.Upload(ctx, writeFile(t, "x"), "y"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNew(t *testing.T) {
	dir := t.TempDir()
	s, err := New(context.Background(), config.StorageConfig{Type: "local", Path: dir})
	if err != nil {
		t.Fatal(err)
	}
	if ls, ok := s.(*LocalStorage); !ok || ls.BasePath() != dir {
		t.Errorf("unexpected storage %T", s)
	}

	if _, err := New(context.Background(), config.StorageConfig{Type: "gcs"}); err == nil {
		t.Error("expected error for unsupported type")
	}
	if _, err := New(context.Background(), config.StorageConfig{Type: "s3"}); err == nil {
		t.Error("expected error for missing bucket")
	}
}

func TestContentType(t *testing.T) {
	tests := map[string]string{
		"runs/a/benchmark_20250101T000000Z.png": "image/png",
		"runs/a/benchmark_results.db.zst":       "application/zstd",
		"runs/a/manifest.json":                  "application/json",
		"runs/a/benchmark_results.parquet":      "application/octet-stream",
	}
	for in, want := range tests {
		if got := contentType(in); got != want {
			t.Errorf("contentType(%q) = %q, want %q", in, got, want)
		}
	}
}
