// Package runlog keeps a small SQLite ledger of enrichment runs.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one ledger row.
type Run struct {
	ID          string
	Stage       string
	Limit       int
	StartedAt   time.Time
	FinishedAt  *time.Time
	Succeeded   int
	Failed      int
	Total       int
	Remaining   int
	Checkpoints int
	Stopped     bool
	Error       string
}

// Outcome is what Finish records for a run.
type Outcome struct {
	Succeeded   int
	Failed      int
	Total       int
	Remaining   int
	Checkpoints int
	Stopped     bool
	Err         error
}

type Ledger struct {
	db *sql.DB
}

func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create runlog dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		record_limit INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		total INTEGER NOT NULL DEFAULT 0,
		remaining INTEGER NOT NULL DEFAULT 0,
		checkpoints INTEGER NOT NULL DEFAULT 0,
		stopped INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Start inserts a run that has not finished yet.
func (l *Ledger) Start(ctx context.Context, id, stage string, limit int, startedAt time.Time) error {
	if id == "" {
		return errors.New("run id is required")
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, stage, record_limit, started_at) VALUES (?, ?, ?, ?)`,
		id, stage, limit, startedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Finish stores the counters and error of a started run.
func (l *Ledger) Finish(ctx context.Context, id string, finishedAt time.Time, o Outcome) error {
	var msg *string
	if o.Err != nil {
		s := o.Err.Error()
		msg = &s
	}
	res, err := l.db.ExecContext(ctx, `UPDATE runs
		SET finished_at = ?, succeeded = ?, failed = ?, total = ?, remaining = ?, checkpoints = ?, stopped = ?, error_message = ?
		WHERE id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano),
		o.Succeeded, o.Failed, o.Total, o.Remaining, o.Checkpoints, boolToInt(o.Stopped), msg,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}

// List returns the most recent runs first. limit <= 0 returns all of them.
func (l *Ledger) List(ctx context.Context, limit int) ([]Run, error) {
	q := `SELECT id, stage, record_limit, started_at, finished_at, succeeded, failed, total, remaining, checkpoints, stopped, error_message
		FROM runs ORDER BY started_at DESC, id DESC`
	var args []any
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			started  string
			finished sql.NullString
			stopped  int
			errMsg   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Stage, &r.Limit, &started, &finished,
			&r.Succeeded, &r.Failed, &r.Total, &r.Remaining, &r.Checkpoints, &stopped, &errMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if finished.Valid {
			t, err := time.Parse(time.RFC3339Nano, finished.String)
			if err != nil {
				return nil, fmt.Errorf("parse finished_at: %w", err)
			}
			r.FinishedAt = &t
		}
		r.Stopped = stopped != 0
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
