// Package store persists benchmark samples and sweep bookkeeping in an
// append-only relational table.
package store

// Dialect names match the database/sql driver names.
const (
	DialectSQLite   = "sqlite3"
	DialectPostgres = "postgres"
)

// dialect holds the per-database DDL and the few statements that differ.
type dialect struct {
	name string

	createResults string
	createRuns    string
	indexes       []string

	// addRunID adds run_id to result tables created before runs existed.
	addRunID string

	// returningID is appended to the insert when the driver cannot report
	// LastInsertId.
	returningID string
}

// createResultsSQLite mirrors the long-standing benchmark_results layout;
// run_id is appended last so older files stay readable.
const createResultsSQLite = `
CREATE TABLE IF NOT EXISTS benchmark_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    file_size INTEGER,
    file_size_mb REAL,
    operation TEXT,
    tool TEXT,
    execution_time REAL,
    timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
    run_id TEXT
)`

const createRunsSQLite = `
CREATE TABLE IF NOT EXISTS benchmark_runs (
    run_id TEXT PRIMARY KEY,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    status TEXT NOT NULL,
    samples_stored INTEGER NOT NULL DEFAULT 0,
    samples_failed INTEGER NOT NULL DEFAULT 0,
    config BLOB
)`

const createResultsPostgres = `
CREATE TABLE IF NOT EXISTS benchmark_results (
    id BIGSERIAL PRIMARY KEY,
    file_size BIGINT,
    file_size_mb DOUBLE PRECISION,
    operation TEXT,
    tool TEXT,
    execution_time DOUBLE PRECISION,
    timestamp TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP,
    run_id TEXT
)`

const createRunsPostgres = `
CREATE TABLE IF NOT EXISTS benchmark_runs (
    run_id TEXT PRIMARY KEY,
    started_at TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ,
    status TEXT NOT NULL,
    samples_stored BIGINT NOT NULL DEFAULT 0,
    samples_failed BIGINT NOT NULL DEFAULT 0,
    config BYTEA
)`

var resultIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_results_lookup ON benchmark_results(operation, tool, file_size)`,
	`CREATE INDEX IF NOT EXISTS idx_results_run ON benchmark_results(run_id)`,
}

var sqliteDialect = dialect{
	name:          DialectSQLite,
	createResults: createResultsSQLite,
	createRuns:    createRunsSQLite,
	indexes:       resultIndexes,
	addRunID:      `ALTER TABLE benchmark_results ADD COLUMN run_id TEXT`,
}

var postgresDialect = dialect{
	name:          DialectPostgres,
	createResults: createResultsPostgres,
	createRuns:    createRunsPostgres,
	indexes:       resultIndexes,
	addRunID:      `ALTER TABLE benchmark_results ADD COLUMN IF NOT EXISTS run_id TEXT`,
	returningID:   ` RETURNING id`,
}

const sampleColumns = `id, file_size, file_size_mb, operation, tool, execution_time, timestamp, COALESCE(run_id, '')`

const runColumns = `run_id, started_at, finished_at, status, samples_stored, samples_failed, config`
