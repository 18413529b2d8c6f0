// Package chart renders stored benchmark samples as a scatter plot of
// execution time against dataset size, with a fitted trend per engine.
package chart

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/framebench/framebench/internal/config"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/internal/store"
	"github.com/framebench/framebench/pkg/types"
)

// trendPoints is the number of points drawn per trend line.
const trendPoints = 50

var suffixPattern = regexp.MustCompile(`[\s_-]*\d+$`)

// NormalizeOperation strips a trailing numeric suffix so repeated variants of
// an operation ("groupby2", "filter_3") share one label.
func NormalizeOperation(label string) string {
	out := suffixPattern.ReplaceAllString(label, "")
	if out == "" {
		return label
	}
	return out
}

// Filename returns the chart file name for the given instant.
func Filename(t time.Time) string {
	return "benchmark_" + t.UTC().Format("20060102T150405Z") + ".png"
}

// SampleSource lists stored samples. *store.Store implements it.
type SampleSource interface {
	ListSamples(ctx context.Context, f store.Filter) ([]types.Sample, error)
}

// Renderer draws charts.
type Renderer struct {
	outputDir string
	width     vg.Length
	height    vg.Length
	now       func() time.Time
}

// NewRenderer creates a renderer from chart configuration.
func NewRenderer(cfg config.ChartConfig) *Renderer {
	w, h := cfg.WidthInches, cfg.HeightInches
	if w <= 0 {
		w = 10
	}
	if h <= 0 {
		h = 6
	}
	dir := cfg.OutputDir
	if dir == "" {
		dir = "."
	}
	return &Renderer{
		outputDir: dir,
		width:     vg.Length(w) * vg.Inch,
		height:    vg.Length(h) * vg.Inch,
		now:       time.Now,
	}
}

// Render loads every sample from src, keeps those whose normalized operation
// matches operation (all when empty) and writes a timestamped PNG. It returns
// the written path.
func (r *Renderer) Render(ctx context.Context, src SampleSource, operation string) (string, error) {
	samples, err := src.ListSamples(ctx, store.Filter{})
	if err != nil {
		return "", err
	}
	p, err := r.Build(samples, operation)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to create chart directory", err)
	}
	path := filepath.Join(r.outputDir, Filename(r.now()))
	if err := p.Save(r.width, r.height, path); err != nil {
		return "", fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to save chart", err)
	}
	return path, nil
}

// WritePNG renders samples as PNG into w.
func (r *Renderer) WritePNG(w io.Writer, samples []types.Sample, operation string) error {
	p, err := r.Build(samples, operation)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(r.width, r.height, "png")
	if err != nil {
		return fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to render chart", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to write chart", err)
	}
	return nil
}

type series struct {
	name string
	xys  plotter.XYs
}

// Build constructs the plot. At least one sample must survive the
// operation filter.
func (r *Renderer) Build(samples []types.Sample, operation string) (*plot.Plot, error) {
	groups := groupSamples(samples, NormalizeOperation(operation))
	if len(groups) == 0 {
		msg := "no samples to chart"
		if operation != "" {
			msg = fmt.Sprintf("no %s samples to chart", operation)
		}
		return nil, fberrors.NewChartError(fberrors.CodeNoSamples, msg, nil)
	}

	p := plot.New()
	p.Title.Text = "Execution time vs dataset size"
	if operation != "" {
		p.Title.Text += " (" + NormalizeOperation(operation) + ")"
	}
	p.X.Label.Text = "rows"
	p.Y.Label.Text = "seconds"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}
	p.Legend.Top = true
	p.Legend.Left = true
	p.Add(plotter.NewGrid())

	minX, maxX := math.Inf(1), math.Inf(-1)
	for i, s := range groups {
		sc, err := plotter.NewScatter(s.xys)
		if err != nil {
			return nil, fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to build scatter", err)
		}
		sc.GlyphStyle.Color = plotutil.Color(i)
		sc.GlyphStyle.Shape = plotutil.Shape(i)
		p.Add(sc)
		p.Legend.Add(s.name, sc)

		for _, xy := range s.xys {
			minX = math.Min(minX, xy.X)
			maxX = math.Max(maxX, xy.X)
		}

		if trend := fitTrend(s.xys); trend != nil {
			line, err := plotter.NewLine(trend)
			if err != nil {
				return nil, fberrors.NewChartError(fberrors.CodeRenderFailed, "failed to build trend line", err)
			}
			line.LineStyle.Color = plotutil.Color(i)
			line.LineStyle.Dashes = plotutil.Dashes(1)
			p.Add(line)
		}
	}

	// A log axis needs a non-degenerate range.
	if minX == maxX {
		p.X.Min = minX / 2
		p.X.Max = maxX * 2
	}
	if p.Y.Min > 0 {
		p.Y.Min = 0
	}
	return p, nil
}

// groupSamples buckets samples into one series per engine, or per
// engine/operation when several operations are plotted together.
func groupSamples(samples []types.Sample, operation string) []series {
	ops := make(map[string]bool)
	var kept []types.Sample
	for _, s := range samples {
		if s.FileSize <= 0 {
			continue
		}
		op := NormalizeOperation(s.Operation)
		if operation != "" && op != operation {
			continue
		}
		s.Operation = op
		ops[op] = true
		kept = append(kept, s)
	}

	byName := make(map[string]plotter.XYs)
	for _, s := range kept {
		name := s.Tool
		if len(ops) > 1 {
			name = s.Tool + " " + s.Operation
		}
		byName[name] = append(byName[name], plotter.XY{X: float64(s.FileSize), Y: s.ExecutionTime})
	}

	out := make([]series, 0, len(byName))
	for name, xys := range byName {
		out = append(out, series{name: name, xys: xys})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// fitTrend fits seconds = a + b*log10(rows) by least squares and samples the
// line across the observed size range. It returns nil when fewer than two
// distinct sizes are present.
func fitTrend(xys plotter.XYs) plotter.XYs {
	xs := make([]float64, len(xys))
	ys := make([]float64, len(xys))
	distinct := make(map[float64]bool)
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, xy := range xys {
		xs[i] = math.Log10(xy.X)
		ys[i] = xy.Y
		distinct[xy.X] = true
		lo = math.Min(lo, xs[i])
		hi = math.Max(hi, xs[i])
	}
	if len(distinct) < 2 {
		return nil
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	out := make(plotter.XYs, trendPoints)
	for i := range out {
		lx := lo + (hi-lo)*float64(i)/float64(trendPoints-1)
		out[i] = plotter.XY{X: math.Pow(10, lx), Y: alpha + beta*lx}
	}
	return out
}
