package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"juryflow/event"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS court_events (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	recorded_at TEXT NOT NULL
);
`

// SQLite is a single-file journal for deployments without Postgres.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway journal.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	// A single connection keeps :memory: databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return &SQLite{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Append(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback()

	at := s.now().Format(time.RFC3339Nano)
	for _, e := range events {
		payload, err := event.Marshal(e)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO court_events (kind, payload, recorded_at) VALUES (?, ?, ?)`,
			string(e.Kind()), string(payload), at,
		); err != nil {
			return fmt.Errorf("journal: append %s: %w", e.Kind(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit tx: %w", err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, payload FROM court_events ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("journal: load: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var kind, payload string
		if err := rows.Scan(&kind, &payload); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		e, err := event.Unmarshal(event.Kind(kind), []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("journal: decode #%d: %w", len(out), err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: load: %w", err)
	}
	return out, nil
}
