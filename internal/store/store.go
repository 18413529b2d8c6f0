package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/framebench/framebench/internal/config"
	fberrors "github.com/framebench/framebench/internal/errors"
	"github.com/framebench/framebench/pkg/types"
)

// Store is the result store. It is safe for concurrent use; writes are
// serialized.
type Store struct {
	db      *sql.DB
	dialect dialect
	mu      sync.Mutex
}

// WriteResult reports the outcome of a single Append. A failed write is
// reported here rather than returned as an error so that the sweep can log
// it and continue.
type WriteResult struct {
	ID  int64
	Err error
}

// OK reports whether the sample was stored.
func (r WriteResult) OK() bool { return r.Err == nil }

// Filter restricts ListSamples and CountSamples. Zero fields match everything.
type Filter struct {
	Operation string
	Tool      string
	FileSize  int64
	RunID     string
	// Limit caps the number of returned samples; 0 means no limit.
	Limit int
}

// Open opens the store configured by cfg. Initialize must be called before use.
func Open(cfg config.StoreConfig) (*Store, error) {
	switch cfg.Driver {
	case "", DialectSQLite:
		return OpenSQLite(cfg.Path)
	case DialectPostgres:
		return OpenPostgres(cfg.DSN)
	default:
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig,
			fmt.Sprintf("unsupported store driver %q", cfg.Driver))
	}
}

// OpenSQLite opens (creating if needed) a single-file SQLite store.
func OpenSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, "store path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, unavailable(path, err)
	}
	// Single writer; readers share the same connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable(path, err)
	}
	return &Store{db: db, dialect: sqliteDialect}, nil
}

// OpenPostgres opens a postgres store. An empty dsn is rejected; config
// resolution already falls back to DATABASE_URL.
func OpenPostgres(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fberrors.NewValidationError(fberrors.CodeInvalidConfig, "postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, unavailable("postgres", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, unavailable("postgres", err)
	}
	return &Store{db: db, dialect: postgresDialect}, nil
}

func unavailable(target string, err error) error {
	return fberrors.NewStoreError(fberrors.CodeStoreUnavailable,
		fmt.Sprintf("failed to open result store %s", target), err)
}

// Dialect returns the store's dialect name.
func (s *Store) Dialect() string { return s.dialect.name }

// Initialize creates the tables if absent and migrates older layouts.
// Calling it repeatedly is harmless.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, stmt := range []string{s.dialect.createResults, s.dialect.createRuns} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fberrors.NewStoreError(fberrors.CodeStoreUnavailable, "failed to create schema", err)
		}
	}
	if err := s.migrateRunID(ctx); err != nil {
		return fberrors.NewStoreError(fberrors.CodeStoreUnavailable, "failed to migrate benchmark_results", err)
	}
	for _, stmt := range s.dialect.indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fberrors.NewStoreError(fberrors.CodeStoreUnavailable, "failed to create index", err)
		}
	}
	return nil
}

func (s *Store) migrateRunID(ctx context.Context) error {
	if s.dialect.name == DialectPostgres {
		_, err := s.db.ExecContext(ctx, s.dialect.addRunID)
		return err
	}

	has, err := s.hasColumn(ctx, "benchmark_results", "run_id")
	if err != nil || has {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.dialect.addRunID)
	return err
}

func (s *Store) hasColumn(ctx context.Context, table, column string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Append inserts one sample and commits it immediately. The id is assigned
// by the database and the timestamp defaults to the insertion time when the
// sample carries none.
func (s *Store) Append(ctx context.Context, sample types.Sample) WriteResult {
	if err := validateSample(sample); err != nil {
		return WriteResult{Err: err}
	}

	cols := []string{"file_size", "file_size_mb", "operation", "tool", "execution_time", "run_id"}
	args := []interface{}{sample.FileSize, sample.FileSizeMB, sample.Operation, sample.Tool,
		sample.ExecutionTime, nullString(sample.RunID)}
	if !sample.Timestamp.IsZero() {
		cols = append(cols, "timestamp")
		args = append(args, sample.Timestamp.UTC())
	}

	query := fmt.Sprintf("INSERT INTO benchmark_results (%s) VALUES (%s)",
		strings.Join(cols, ", "), placeholders(len(cols)))

	s.mu.Lock()
	defer s.mu.Unlock()

	var id int64
	if s.dialect.returningID != "" {
		err := s.db.QueryRowContext(ctx, s.dialect.rebind(query+s.dialect.returningID), args...).Scan(&id)
		if err != nil {
			return WriteResult{Err: writeFailed(err)}
		}
		return WriteResult{ID: id}
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return WriteResult{Err: writeFailed(err)}
	}
	id, err = res.LastInsertId()
	if err != nil {
		return WriteResult{Err: writeFailed(err)}
	}
	return WriteResult{ID: id}
}

func validateSample(sample types.Sample) error {
	switch {
	case sample.FileSize <= 0:
		return fberrors.NewValidationError(fberrors.CodeInvalidSize,
			fmt.Sprintf("file size must be positive, got %d", sample.FileSize))
	case !types.Operation(sample.Operation).Valid():
		return fberrors.NewValidationError(fberrors.CodeUnknownOperation,
			fmt.Sprintf("unknown operation %q", sample.Operation))
	case sample.Tool == "":
		return fberrors.NewValidationError(fberrors.CodeUnknownEngine, "tool is required")
	case sample.ExecutionTime < 0:
		return fberrors.NewValidationError(fberrors.CodeInvalidConfig, "execution time must not be negative")
	}
	return nil
}

func writeFailed(err error) error {
	return fberrors.NewStoreError(fberrors.CodeWriteFailed, "failed to append sample", err)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (f Filter) where() (string, []interface{}) {
	var clauses []string
	var args []interface{}
	if f.Operation != "" {
		clauses = append(clauses, "operation = ?")
		args = append(args, f.Operation)
	}
	if f.Tool != "" {
		clauses = append(clauses, "tool = ?")
		args = append(args, f.Tool)
	}
	if f.FileSize > 0 {
		clauses = append(clauses, "file_size = ?")
		args = append(args, f.FileSize)
	}
	if f.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, f.RunID)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListSamples returns matching samples ordered by id.
func (s *Store) ListSamples(ctx context.Context, f Filter) ([]types.Sample, error) {
	where, args := f.where()
	query := "SELECT " + sampleColumns + " FROM benchmark_results" + where + " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, readFailed(err)
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var (
			sm        types.Sample
			fileSize  sql.NullInt64
			sizeMB    sql.NullFloat64
			operation sql.NullString
			tool      sql.NullString
			elapsed   sql.NullFloat64
			ts        sql.NullTime
		)
		if err := rows.Scan(&sm.ID, &fileSize, &sizeMB, &operation, &tool, &elapsed, &ts, &sm.RunID); err != nil {
			return nil, readFailed(err)
		}
		sm.FileSize = fileSize.Int64
		sm.FileSizeMB = sizeMB.Float64
		sm.Operation = operation.String
		sm.Tool = tool.String
		sm.ExecutionTime = elapsed.Float64
		if ts.Valid {
			sm.Timestamp = ts.Time.UTC()
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed(err)
	}
	return out, nil
}

// CountSamples returns the number of matching samples.
func (s *Store) CountSamples(ctx context.Context, f Filter) (int64, error) {
	where, args := f.where()
	var n int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.rebind("SELECT COUNT(*) FROM benchmark_results"+where), args...).Scan(&n)
	if err != nil {
		return 0, readFailed(err)
	}
	return n, nil
}

func readFailed(err error) error {
	return fberrors.NewStoreError(fberrors.CodeReadFailed, "failed to read results", err)
}

// BeginRun registers a new running sweep. configJSON is stored
// snappy-compressed.
func (s *Store) BeginRun(ctx context.Context, configJSON []byte) (*types.Run, error) {
	run := &types.Run{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Status:    types.RunRunning,
		Config:    configJSON,
	}

	var blob []byte
	if len(configJSON) > 0 {
		blob = snappy.Encode(nil, configJSON)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO benchmark_runs (run_id, started_at, status, config) VALUES (?, ?, ?, ?)`),
		run.RunID, run.StartedAt, string(run.Status), blob)
	if err != nil {
		return nil, writeFailed(err)
	}
	return run, nil
}

// FinishRun records the final status and sample counts of a sweep.
func (s *Store) FinishRun(ctx context.Context, runID string, status types.RunStatus, stored, failed int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE benchmark_runs SET finished_at = ?, status = ?, samples_stored = ?, samples_failed = ? WHERE run_id = ?`),
		time.Now().UTC(), string(status), stored, failed, runID)
	if err != nil {
		return writeFailed(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fberrors.NewStoreError(fberrors.CodeWriteFailed,
			fmt.Sprintf("run %s not found", runID), nil)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	query := "SELECT " + runColumns + " FROM benchmark_runs ORDER BY started_at DESC"
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, readFailed(err)
	}
	defer rows.Close()

	var out []types.Run
	for rows.Next() {
		var (
			run      types.Run
			status   string
			finished sql.NullTime
			blob     []byte
		)
		if err := rows.Scan(&run.RunID, &run.StartedAt, &finished, &status,
			&run.SamplesStored, &run.SamplesFailed, &blob); err != nil {
			return nil, readFailed(err)
		}
		run.Status = types.RunStatus(status)
		run.StartedAt = run.StartedAt.UTC()
		if finished.Valid {
			t := finished.Time.UTC()
			run.FinishedAt = &t
		}
		if len(blob) > 0 {
			cfg, err := snappy.Decode(nil, blob)
			if err != nil {
				return nil, readFailed(fmt.Errorf("run %s config: %w", run.RunID, err))
			}
			run.Config = cfg
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, readFailed(err)
	}
	return out, nil
}

// Close closes the database connection. Later calls fail with a store error.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
