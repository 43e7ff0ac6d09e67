package journal

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"juryflow/event"
)

// Publisher receives relayed events. court.Sink satisfies it.
type Publisher interface {
	Publish(ctx context.Context, events []event.Event)
}

// Relay drains undelivered outbox rows to a Publisher. Rows are claimed with
// SKIP LOCKED so several relays can share one outbox; each row is delivered at
// least once.
type Relay struct {
	db       DB
	out      Publisher
	logger   *zap.Logger
	batch    int
	interval time.Duration
}

type RelayOption func(*Relay)

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batch = n
		}
	}
}

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithRelayLogger(logger *zap.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

func NewRelay(db DB, out Publisher, opts ...RelayOption) *Relay {
	r := &Relay{db: db, out: out, logger: zap.NewNop(), batch: 50, interval: time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Flush delivers one batch of pending rows in commit order and returns how
// many were delivered. Nothing is marked delivered when decoding fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: relay begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	const claimSQL = `
SELECT id::text, topic, payload::text FROM outbox
WHERE delivered_at IS NULL
ORDER BY seq
FOR UPDATE SKIP LOCKED
LIMIT $1;
`
	rows, err := tx.Query(ctx, claimSQL, r.batch)
	if err != nil {
		return 0, fmt.Errorf("journal: relay claim: %w", err)
	}
	var (
		ids    []string
		events []event.Event
	)
	for rows.Next() {
		var id, topic, payload string
		if err := rows.Scan(&id, &topic, &payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("journal: relay scan: %w", err)
		}
		e, err := event.Unmarshal(event.Kind(topic), []byte(payload))
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("journal: relay decode %s: %w", id, err)
		}
		ids = append(ids, id)
		events = append(events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("journal: relay claim: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET delivered_at = now() WHERE id = ANY($1::text[]::uuid[])`, ids); err != nil {
		return 0, fmt.Errorf("journal: relay mark delivered: %w", err)
	}
	r.out.Publish(ctx, events)
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("journal: relay commit: %w", err)
	}
	return len(ids), nil
}

// Run flushes until ctx is cancelled. A full batch is followed immediately by
// another flush; errors are logged and retried on the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		n, err := r.Flush(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.logger.Warn("outbox relay flush failed", zap.Error(err))
		} else if n > 0 {
			r.logger.Debug("outbox relayed", zap.Int("events", n))
		}
		if n == r.batch {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
