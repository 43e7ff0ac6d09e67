package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"juryflow/event"
)

// ErrEmptyBatch is returned when Append is called without events.
var ErrEmptyBatch = errors.New("journal: empty batch")

// DB abstracts pgxpool.Pool for testability.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres stores events in court_events and mirrors each one into the outbox
// within the same transaction.
type Postgres struct {
	db    DB
	newID func() uuid.UUID
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db, newID: uuid.New}
}

// DB returns the handle the journal writes through.
func (p *Postgres) DB() DB { return p.db }

// Append writes the batch in a single transaction.
func (p *Postgres) Append(ctx context.Context, events []event.Event) error {
	if len(events) == 0 {
		return ErrEmptyBatch
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("journal: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	batchID := p.newID()
	for _, e := range events {
		payload, err := event.Marshal(e)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		if err := p.appendEvent(ctx, tx, batchID, e.Kind(), payload); err != nil {
			return err
		}
		if err := p.enqueueOutbox(ctx, tx, e.Kind(), payload); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("journal: commit tx: %w", err)
	}
	return nil
}

func (p *Postgres) appendEvent(ctx context.Context, tx pgx.Tx, batchID uuid.UUID, kind event.Kind, payload []byte) error {
	const insertSQL = `
INSERT INTO court_events (id, batch_id, kind, payload)
VALUES ($1, $2, $3, $4::jsonb);
`
	if _, err := tx.Exec(ctx, insertSQL, p.newID(), batchID, string(kind), string(payload)); err != nil {
		return fmt.Errorf("journal: append %s: %w", kind, err)
	}
	return nil
}

func (p *Postgres) enqueueOutbox(ctx context.Context, tx pgx.Tx, kind event.Kind, payload []byte) error {
	const insertSQL = `
INSERT INTO outbox (id, topic, payload)
VALUES ($1, $2, $3::jsonb);
`
	if _, err := tx.Exec(ctx, insertSQL, p.newID(), string(kind), string(payload)); err != nil {
		return fmt.Errorf("journal: enqueue outbox %s: %w", kind, err)
	}
	return nil
}

// Load reads the full history ordered by insertion.
func (p *Postgres) Load(ctx context.Context) ([]event.Event, error) {
	rows, err := p.db.Query(ctx, `SELECT kind, payload::text FROM court_events ORDER BY seq`)
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
