package types

import "time"

// Operation names a benchmarked query shape.
type Operation string

const (
	OpRead    Operation = "read"
	OpGroupBy Operation = "groupby"
	OpFilter  Operation = "filter"
)

// Operations lists every supported operation.
func Operations() []Operation {
	return []Operation{OpRead, OpGroupBy, OpFilter}
}

// Valid reports whether op is a supported operation.
func (op Operation) Valid() bool {
	switch op {
	case OpRead, OpGroupBy, OpFilter:
		return true
	}
	return false
}

// Sample is one timed measurement of (size, operation, engine) at one repetition.
// Samples are immutable once stored.
type Sample struct {
	ID            int64     `json:"id"`
	RunID         string    `json:"run_id,omitempty"`
	FileSize      int64     `json:"file_size"`
	FileSizeMB    float64   `json:"file_size_mb"`
	Operation     string    `json:"operation"`
	Tool          string    `json:"tool"`
	ExecutionTime float64   `json:"execution_time"`
	Timestamp     time.Time `json:"timestamp"`
}

// RunStatus is the lifecycle state of a sweep.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is the bookkeeping record of one sweep.
type Run struct {
	RunID         string     `json:"run_id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        RunStatus  `json:"status"`
	SamplesStored int64      `json:"samples_stored"`
	SamplesFailed int64      `json:"samples_failed"`

	// Config is the JSON snapshot of the configuration the sweep ran with
	Config []byte `json:"config,omitempty"`
}
