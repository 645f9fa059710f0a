// Package history persists per-invocation summaries to sqlite for later
// review. Like the audit log it stores identifiers and metadata only,
// never argument or credential payloads.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/clawinfra/skillclaw/internal/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	invocation TEXT NOT NULL,
	skill TEXT NOT NULL,
	instance TEXT NOT NULL,
	tool TEXT NOT NULL,
	outcome TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	output_bytes INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_executions_skill ON executions(skill, instance);
`

// Store records execution summaries in a local sqlite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the history database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// sqlite handles one writer at a time; keep the pool to a single
	// connection to avoid SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Record inserts one execution summary.
func (s *Store) Record(ctx context.Context, ev audit.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions (invocation, skill, instance, tool, outcome, duration_ms, output_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Invocation, ev.Skill, ev.Instance, ev.Tool, ev.Outcome, ev.DurationMS, ev.OutputBytes,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Recent returns the most recent executions, optionally filtered by skill
// and instance (empty strings match everything), newest first.
func (s *Store) Recent(ctx context.Context, skillName, instance string, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT invocation, skill, instance, tool, outcome, duration_ms, output_bytes, created_at
		 FROM executions
		 WHERE (? = '' OR skill = ?) AND (? = '' OR instance = ?)
		 ORDER BY id DESC LIMIT ?`,
		skillName, skillName, instance, instance, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		var created string
		if err := rows.Scan(&ev.Invocation, &ev.Skill, &ev.Instance, &ev.Tool, &ev.Outcome, &ev.DurationMS, &ev.OutputBytes, &created); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		ev.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, ev)
	}
	return out, rows.Err()
}
