package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/framebench/framebench/internal/chart"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/observability"
	"github.com/framebench/framebench/internal/store"
	"github.com/framebench/framebench/pkg/types"
)

// ResultsReader is the read side of the result store.
type ResultsReader interface {
	ListSamples(ctx context.Context, f store.Filter) ([]types.Sample, error)
	CountSamples(ctx context.Context, f store.Filter) (int64, error)
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)
}

// ResultsHandler serves stored samples, summaries, runs and charts.
type ResultsHandler struct {
	results  ResultsReader
	renderer *chart.Renderer
}

// NewResultsHandler creates a handler over results.
func NewResultsHandler(results ResultsReader, renderer *chart.Renderer) *ResultsHandler {
	return &ResultsHandler{results: results, renderer: renderer}
}

// ResultsResponse is the body of GET /v1/results.
type ResultsResponse struct {
	Samples   []types.Sample `json:"samples"`
	Count     int            `json:"count"`
	RequestID string         `json:"request_id"`
}

// SummaryResponse is the body of GET /v1/summary.
type SummaryResponse struct {
	Summaries []observability.Summary `json:"summaries"`
	Fastest   []FastestEntry          `json:"fastest"`
	RequestID string                  `json:"request_id"`
}

// FastestEntry names the fastest engine for one (size, operation) cell.
type FastestEntry struct {
	FileSize  int64  `json:"file_size"`
	Operation string `json:"operation"`
	Tool      string `json:"tool"`
}

// RunResponse is a run with its config snapshot inlined as JSON.
type RunResponse struct {
	types.Run
	Config json.RawMessage `json:"config,omitempty"`
}

// Health handles GET /health.
func (h *ResultsHandler) Health(c *gin.Context) {
	n, err := h.results.CountSamples(c.Request.Context(), store.Filter{})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "samples": n})
}

// Results handles GET /v1/results.
func (h *ResultsHandler) Results(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	samples, err := h.results.ListSamples(c.Request.Context(), f)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	if samples == nil {
		samples = []types.Sample{}
	}
	c.JSON(http.StatusOK, ResultsResponse{Samples: samples, Count: len(samples), RequestID: GetRequestID(c)})
}

// Summary handles GET /v1/summary.
func (h *ResultsHandler) Summary(c *gin.Context) {
	f, ok := parseFilter(c)
	if !ok {
		return
	}
	f.Limit = 0
	samples, err := h.results.ListSamples(c.Request.Context(), f)
	if err != nil {
		writeStoreError(c, err)
		return
	}

	summaries := observability.Summarize(samples)
	fastest := []FastestEntry{}
	seen := make(map[observability.Key]bool)
	best := observability.Fastest(summaries)
	for _, s := range summaries {
		cell := observability.Key{FileSize: s.FileSize, Operation: s.Operation}
		if seen[cell] {
			continue
		}
		seen[cell] = true
		fastest = append(fastest, FastestEntry{FileSize: s.FileSize, Operation: s.Operation, Tool: best[cell]})
	}
	c.JSON(http.StatusOK, SummaryResponse{Summaries: summaries, Fastest: fastest, RequestID: GetRequestID(c)})
}

// Runs handles GET /v1/runs.
func (h *ResultsHandler) Runs(c *gin.Context) {
	limit, ok := intQuery(c, "limit", 50)
	if !ok {
		return
	}
	runs, err := h.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		writeStoreError(c, err)
		return
	}
	out := make([]RunResponse, len(runs))
	for i, r := range runs {
		out[i] = RunResponse{Run: r}
		if json.Valid(r.Config) {
			out[i].Config = json.RawMessage(r.Config)
		}
	}
	c.JSON(http.StatusOK, gin.H{"runs": out, "request_id": GetRequestID(c)})
}

// Chart handles GET /v1/chart by rendering a fresh PNG.
func (h *ResultsHandler) Chart(c *gin.Context) {
	samples, err := h.results.ListSamples(c.Request.Context(), store.Filter{})
	if err != nil {
		writeStoreError(c, err)
		return
	}
	var buf bytes.Buffer
	if err := h.renderer.WritePNG(&buf, samples, c.Query("operation")); err != nil {
		if fberrors.GetCode(err) == fberrors.CodeNoSamples {
			writeError(c, http.StatusNotFound, fberrors.CodeNoSamples, err.Error())
			return
		}
		writeError(c, http.StatusInternalServerError, fberrors.GetCode(err), err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", buf.Bytes())
}

func parseFilter(c *gin.Context) (store.Filter, bool) {
	f := store.Filter{
		Operation: c.Query("operation"),
		Tool:      c.Query("tool"),
		RunID:     c.Query("run_id"),
	}
	if f.Operation != "" && !types.Operation(f.Operation).Valid() {
		writeError(c, http.StatusBadRequest, fberrors.CodeUnknownOperation, "unknown operation "+strconv.Quote(f.Operation))
		return f, false
	}
	size, ok := intQuery(c, "size", 0)
	if !ok {
		return f, false
	}
	f.FileSize = int64(size)
	limit, ok := intQuery(c, "limit", 0)
	if !ok {
		return f, false
	}
	f.Limit = limit
	return f, true
}

func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		writeError(c, http.StatusBadRequest, fberrors.CodeInvalidConfig, name+" must be a non-negative integer")
		return 0, false
	}
	return v, true
}

func writeStoreError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if fberrors.IsRetryable(err) {
		status = http.StatusServiceUnavailable
	}
	writeError(c, status, fberrors.GetCode(err), err.Error())
}
