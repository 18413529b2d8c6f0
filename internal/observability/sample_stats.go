// Package observability summarizes benchmark timings.
package observability

import (
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/framebench/framebench/pkg/types"
)

// Key identifies one benchmark cell.
type Key struct {
	FileSize  int64  `json:"file_size"`
	Operation string `json:"operation"`
	Tool      string `json:"tool"`
}

// Summary holds execution-time statistics, in seconds, for one cell.
type Summary struct {
	Key
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
}

// Summarize groups samples by (size, operation, tool) and returns one
// summary per group sorted by size, operation, tool.
func Summarize(samples []types.Sample) []Summary {
	groups := make(map[Key][]float64)
	for _, s := range samples {
		k := Key{FileSize: s.FileSize, Operation: s.Operation, Tool: s.Tool}
		groups[k] = append(groups[k], s.ExecutionTime)
	}
	return summarizeGroups(groups)
}

func summarizeGroups(groups map[Key][]float64) []Summary {
	out := make([]Summary, 0, len(groups))
	for k, times := range groups {
		out = append(out, summarize(k, times))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Key, out[j].Key
		if a.FileSize != b.FileSize {
			return a.FileSize < b.FileSize
		}
		if a.Operation != b.Operation {
			return a.Operation < b.Operation
		}
		return a.Tool < b.Tool
	})
	return out
}

func summarize(k Key, times []float64) Summary {
	sorted := make([]float64, len(times))
	copy(sorted, times)
	sort.Float64s(sorted)

	s := Summary{
		Key:   k,
		Count: len(sorted),
		Mean:  stat.Mean(sorted, nil),
		Min:   floats.Min(sorted),
		Max:   floats.Max(sorted),
	}
	n := len(sorted)
	if n%2 == 1 {
		s.Median = sorted[n/2]
	} else {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	if n > 1 {
		s.StdDev = stat.StdDev(sorted, nil)
	}
	return s
}

// Tracker accumulates timings while a sweep is running. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	groups map[Key][]float64
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{groups: make(map[Key][]float64)}
}

// Record adds one timing.
func (t *Tracker) Record(s types.Sample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := Key{FileSize: s.FileSize, Operation: s.Operation, Tool: s.Tool}
	t.groups[k] = append(t.groups[k], s.ExecutionTime)
}

// Snapshot returns the current summaries.
func (t *Tracker) Snapshot() []Summary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	groups := make(map[Key][]float64, len(t.groups))
	for k, v := range t.groups {
		groups[k] = append([]float64(nil), v...)
	}
	return summarizeGroups(groups)
}

// Fastest returns, for each (size, operation), the tool with the lowest mean.
func Fastest(summaries []Summary) map[Key]string {
	best := make(map[Key]Summary)
	for _, s := range summaries {
		cell := Key{FileSize: s.FileSize, Operation: s.Operation}
		cur, ok := best[cell]
		if !ok || s.Mean < cur.Mean {
			best[cell] = s
		}
	}
	out := make(map[Key]string, len(best))
	for k, s := range best {
		out[k] = s.Tool
	}
	return out
}
