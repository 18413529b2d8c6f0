package engine

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/framebench/framebench/internal/dataset"
	"github.com/framebench/framebench/pkg/types"
)

const createBenchTableSQL = `
CREATE TABLE bench (
    id INTEGER NOT NULL,
    category TEXT NOT NULL,
    numeric1 REAL NOT NULL,
    numeric2 INTEGER NOT NULL,
    text TEXT NOT NULL
)`

const insertBenchSQL = `INSERT INTO bench (id, category, numeric1, numeric2, text) VALUES (?, ?, ?, ?, ?)`

const groupBySQL = `
SELECT category,
       AVG(numeric1) AS avg_numeric1,
       SUM(numeric2) AS sum_numeric2
FROM bench
GROUP BY category`

// filterSQL computes the median with the middle-rows idiom: one row is read
// for odd counts and the two middle rows are averaged for even counts.
var filterSQL = `
WITH stats AS (
    SELECT
        (SELECT AVG(numeric1) FROM bench) AS avg_numeric1,
        (SELECT AVG(numeric2) FROM (
            SELECT numeric2 FROM bench
            ORDER BY numeric2
            LIMIT 2 - (SELECT COUNT(*) FROM bench) % 2
            OFFSET ((SELECT COUNT(*) FROM bench) - 1) / 2
        )) AS median_numeric2
)
SELECT b.id, b.category, b.numeric1, b.numeric2, b.text
FROM bench b, stats
WHERE b.numeric1 > stats.avg_numeric1
  AND b.numeric2 < stats.median_numeric2
  AND b.category IN (` + quoteList(types.FilterCategories) + `)`

func quoteList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
	}
	return strings.Join(quoted, ", ")
}

// SQLiteEngine runs operations in a private in-memory SQLite database.
type SQLiteEngine struct{}

// NewSQLiteEngine creates the sqlite engine.
func NewSQLiteEngine() *SQLiteEngine {
	return &SQLiteEngine{}
}

// Name returns "sqlite".
func (e *SQLiteEngine) Name() string { return "sqlite" }

type sqliteTable struct {
	db   *sql.DB
	rows int
}

func (t *sqliteTable) NumRows() int { return t.rows }

func (t *sqliteTable) Release() {
	if t.db != nil {
		t.db.Close()
		t.db = nil
	}
}

// Load creates an in-memory database and bulk-inserts the CSV file in a
// single transaction.
func (e *SQLiteEngine) Load(ctx context.Context, path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, loadError(e.Name(), path, err)
	}
	defer f.Close()

	// An in-memory database lives as long as its connection; pin exactly one.
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, loadError(e.Name(), path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	n, err := e.bulkLoad(ctx, db, f)
	if err != nil {
		db.Close()
		return nil, loadError(e.Name(), path, err)
	}
	return &sqliteTable{db: db, rows: n}, nil
}

func (e *SQLiteEngine) bulkLoad(ctx context.Context, db *sql.DB, r io.Reader) (int, error) {
	if _, err := db.ExecContext(ctx, createBenchTableSQL); err != nil {
		return 0, fmt.Errorf("failed to create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertBenchSQL)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	cr := csv.NewReader(bufio.NewReaderSize(r, 1<<20))
	cr.ReuseRecord = true
	if _, err := cr.Read(); err != nil {
		return 0, fmt.Errorf("failed to read header: %w", err)
	}

	n := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		row, err := dataset.ParseRecord(rec)
		if err != nil {
			return 0, fmt.Errorf("line %d: %w", n+2, err)
		}
		if _, err := stmt.ExecContext(ctx, row.ID, row.Category, row.Numeric1, row.Numeric2, row.Text); err != nil {
			return 0, fmt.Errorf("failed to insert row: %w", err)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

// GroupBy runs the GROUP BY query and materializes the result.
func (e *SQLiteEngine) GroupBy(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*sqliteTable)
	if !ok || tbl.db == nil {
		return nil, ErrForeignTable
	}

	rows, err := tbl.db.QueryContext(ctx, groupBySQL)
	if err != nil {
		return nil, queryError(e.Name(), "groupby", err)
	}
	defer rows.Close()

	var groups []GroupStat
	for rows.Next() {
		var g GroupStat
		if err := rows.Scan(&g.Category, &g.MeanNumeric1, &g.SumNumeric2); err != nil {
			return nil, queryError(e.Name(), "groupby", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, queryError(e.Name(), "groupby", err)
	}
	return &memTable{groups: groups, grouped: true}, nil
}

// Filter runs the stats CTE query and materializes matching rows.
func (e *SQLiteEngine) Filter(ctx context.Context, t Table) (Table, error) {
	tbl, ok := t.(*sqliteTable)
	if !ok || tbl.db == nil {
		return nil, ErrForeignTable
	}

	out, err := scanBenchRows(ctx, tbl.db, filterSQL)
	if err != nil {
		return nil, queryError(e.Name(), "filter", err)
	}
	return &memTable{rows: out}, nil
}

func (t *sqliteTable) Groups() ([]GroupStat, error) {
	return nil, ErrNotGrouped
}

func (t *sqliteTable) Rows() ([]types.Row, error) {
	if t.db == nil {
		return nil, ErrForeignTable
	}
	return scanBenchRows(context.Background(), t.db,
		`SELECT id, category, numeric1, numeric2, text FROM bench ORDER BY id`)
}

func scanBenchRows(ctx context.Context, db *sql.DB, query string) ([]types.Row, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Row
	for rows.Next() {
		var r types.Row
		if err := rows.Scan(&r.ID, &r.Category, &r.Numeric1, &r.Numeric2, &r.Text); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
