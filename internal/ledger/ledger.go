// Package ledger keeps a local run history in embedded SQLite. Every
// fetch, push, migrate and bootstrap invocation records one row, which
// is what the status command reports from.
//
// The database runs in embedded mode with WAL so a daemon writing run
// rows never blocks a concurrent status query.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Run is one recorded pipeline invocation.
type Run struct {
	ID        int64
	Command   string
	Direction string
	StartedAt time.Time
	Duration  time.Duration
	Fetched   int
	Staged    int
	Pushed    int
	Failed    int
	Error     string
}

// Ledger wraps the SQLite connection holding run history.
type Ledger struct {
	conn *sql.DB
	path string
}

// Open opens (creating if needed) the ledger database at path. The
// caller must Close when done.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}

	l := &Ledger{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := conn.Exec(pragma); err != nil {
			_ = l.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := l.initSchema(context.Background()); err != nil {
		_ = l.Close()
		return nil, err
	}
	return l, nil
}

// Close checkpoints the WAL and closes the connection.
func (l *Ledger) Close() error {
	if l.conn == nil {
		return nil
	}
	_, _ = l.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := l.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	l.conn = nil
	return nil
}

func (l *Ledger) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		direction TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		fetched INTEGER NOT NULL DEFAULT 0,
		staged INTEGER NOT NULL DEFAULT 0,
		pushed INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_runs_command ON runs(command, started_at DESC);
	`
	if _, err := l.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return nil
}

// RecordRun inserts one run row.
func (l *Ledger) RecordRun(ctx context.Context, run Run) error {
	_, err := l.conn.ExecContext(ctx, `
		INSERT INTO runs (command, direction, started_at, duration_ms, fetched, staged, pushed, failed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Command, run.Direction, run.StartedAt.UTC().Format(time.RFC3339),
		run.Duration.Milliseconds(), run.Fetched, run.Staged, run.Pushed, run.Failed, run.Error)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (l *Ledger) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, command, direction, started_at, duration_ms, fetched, staged, pushed, failed, error
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Command, &r.Direction, &started, &durationMS,
			&r.Fetched, &r.Staged, &r.Pushed, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// LastRun returns the most recent run of the given command, or nil when
// the command has never run.
func (l *Ledger) LastRun(ctx context.Context, command string) (*Run, error) {
	runs, err := l.recentByCommand(ctx, command, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func (l *Ledger) recentByCommand(ctx context.Context, command string, limit int) ([]Run, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT id, command, direction, started_at, duration_ms, fetched, staged, pushed, failed, error
		FROM runs WHERE command = ? ORDER BY started_at DESC, id DESC LIMIT ?`, command, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.Command, &r.Direction, &started, &durationMS,
			&r.Fetched, &r.Staged, &r.Pushed, &r.Failed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339, started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}
