// Package history persists one row per processed work item so operators can
// answer "what happened to f.py after that commit" without digging through
// worker logs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status is the terminal outcome of one processing run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Mode records which path executed the item.
type Mode string

const (
	ModeSync  Mode = "sync"
	ModeAsync Mode = "async"
)

// Entry is one run-ledger row.
type Entry struct {
	ID          string
	Target      string
	Revision    string
	Mode        Mode
	Status      Status
	Attempts    int
	LastError   *string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Ledger is the SQLite-backed run history.
type Ledger struct {
	db *sql.DB
}

// Open opens (and creates if needed) the ledger database at path and ensures
// the schema exists.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS run_log (
  id           TEXT PRIMARY KEY,
  target       TEXT NOT NULL,
  revision     TEXT NOT NULL,
  mode         TEXT NOT NULL,
  status       TEXT NOT NULL,
  attempts     INTEGER NOT NULL DEFAULT 1,
  last_error   TEXT,
  started_at   TEXT NOT NULL,
  completed_at TEXT NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap history schema: %w", err)
	}
	if _, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS run_log_completed_at_idx ON run_log(completed_at);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap history index: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Record inserts one entry. A missing ID gets a fresh uuid; zero timestamps
// default to now.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.Target == "" {
		return fmt.Errorf("entry target is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	if e.CompletedAt.IsZero() {
		e.CompletedAt = now
	}
	if e.Attempts < 1 {
		e.Attempts = 1
	}

	_, err := l.db.ExecContext(ctx, `
INSERT INTO run_log(id, target, revision, mode, status, attempts, last_error, started_at, completed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, e.ID, e.Target, e.Revision, string(e.Mode), string(e.Status), e.Attempts, e.LastError,
		e.StartedAt.Format(time.RFC3339Nano), e.CompletedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run_log: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
SELECT id, target, revision, mode, status, attempts, last_error, started_at, completed_at
FROM run_log
ORDER BY completed_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query run_log: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e            Entry
			mode, status string
			lastError    sql.NullString
			startedS     string
			completedS   string
		)
		if err := rows.Scan(&e.ID, &e.Target, &e.Revision, &mode, &status, &e.Attempts,
			&lastError, &startedS, &completedS); err != nil {
			return nil, fmt.Errorf("scan run_log: %w", err)
		}
		e.Mode = Mode(mode)
		e.Status = Status(status)
		if lastError.Valid {
			e.LastError = &lastError.String
		}
		if t, err := time.Parse(time.RFC3339Nano, startedS); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, completedS); err == nil {
			e.CompletedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus aggregates ledger rows for the stats surfaces.
func (l *Ledger) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM run_log GROUP BY status;`)
	if err != nil {
		return nil, fmt.Errorf("count run_log: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}
