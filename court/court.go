// Package court coordinates the jury pool and the dispute ledger. Every
// mutating operation runs against copies of both, is journaled, and only then
// replaces the committed state, so a failed call never leaves partial effects.
package court

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"juryflow/dispute"
	"juryflow/event"
	"juryflow/jury"
)

// ErrEmptyJournal is returned by Restore when there is no history to replay.
var ErrEmptyJournal = errors.New("court: journal is empty")

// Journal persists the events of each committed operation. Append must be
// all-or-nothing.
type Journal interface {
	Append(ctx context.Context, events []event.Event) error
	Load(ctx context.Context) ([]event.Event, error)
}

// Sink receives events after they are committed.
type Sink interface {
	Publish(ctx context.Context, events []event.Event)
}

type Court struct {
	mu      sync.Mutex
	pool    *jury.Pool
	ledger  *dispute.Ledger
	journal Journal
	sinks   []Sink
	logger  *zap.Logger

	now          func() time.Time
	entropy      jury.Entropy
	autoFinalize bool
}

type Option func(*Court)

func WithClock(now func() time.Time) Option {
	return func(c *Court) { c.now = now }
}

func WithEntropy(e jury.Entropy) Option {
	return func(c *Court) { c.entropy = e }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Court) { c.logger = logger }
}

// WithSinks registers sinks notified after every commit, in order.
func WithSinks(sinks ...Sink) Option {
	return func(c *Court) { c.sinks = append(c.sinks, sinks...) }
}

func WithAutoFinalize(enabled bool) Option {
	return func(c *Court) { c.autoFinalize = enabled }
}

func newCourt(journal Journal, opts ...Option) *Court {
	c := &Court{
		journal: journal,
		logger:  zap.NewNop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.entropy == nil {
		c.entropy = jury.ClockEntropy()
	}
	return c
}

func (c *Court) poolOptions() []jury.Option {
	return []jury.Option{jury.WithClock(c.now), jury.WithEntropy(c.entropy)}
}

func (c *Court) ledgerOptions() []dispute.Option {
	return []dispute.Option{dispute.WithClock(c.now), dispute.WithAutoFinalize(c.autoFinalize)}
}

// New creates a pool from members, journals its creation events and returns
// the court. journal may be nil.
func New(ctx context.Context, cfg jury.Config, members []string, journal Journal, opts ...Option) (*Court, error) {
	c := newCourt(journal, opts...)
	pool, err := jury.New(cfg, members, c.poolOptions()...)
	if err != nil {
		return nil, err
	}
	events := pool.Events()
	if c.journal != nil {
		if err := c.journal.Append(ctx, events); err != nil {
			return nil, fmt.Errorf("court: journal pool creation: %w", err)
		}
	}
	c.pool = pool
	c.ledger = dispute.NewLedger(pool, c.ledgerOptions()...)
	c.publish(ctx, events)
	c.logger.Info("jury pool created",
		zap.Int("members", pool.Size()),
		zap.Int("min_jury_size", cfg.MinJurySize),
		zap.Uint64s("active_jury", pool.ActiveIDs()))
	return c, nil
}

// Restore rebuilds a court from the journal's history.
func Restore(ctx context.Context, journal Journal, opts ...Option) (*Court, error) {
	c := newCourt(journal, opts...)
	if journal == nil {
		return nil, ErrEmptyJournal
	}
	history, err := journal.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("court: load journal: %w", err)
	}
	if len(history) == 0 {
		return nil, ErrEmptyJournal
	}
	pool, err := jury.Replay(history, c.poolOptions()...)
	if err != nil {
		return nil, err
	}
	ledger, err := dispute.Replay(pool, history, c.ledgerOptions()...)
	if err != nil {
		return nil, err
	}
	c.pool, c.ledger = pool, ledger
	c.logger.Info("court restored from journal",
		zap.Int("events", len(history)),
		zap.Int("members", pool.Size()),
		zap.Int("disputes", ledger.Len()))
	return c, nil
}

// Open restores from journal when it has history and otherwise creates a new
// pool from cfg and members.
func Open(ctx context.Context, cfg jury.Config, members []string, journal Journal, opts ...Option) (*Court, error) {
	c, err := Restore(ctx, journal, opts...)
	if errors.Is(err, ErrEmptyJournal) {
		return New(ctx, cfg, members, journal, opts...)
	}
	return c, err
}

// commit runs op against copies of the committed state. The copies replace
// the committed state only once their events are journaled.
func (c *Court) commit(ctx context.Context, name string, op func(*jury.Pool, *dispute.Ledger) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	pool := c.pool.Clone()
	ledger := c.ledger.Clone(pool)
	if err := op(pool, ledger); err != nil {
		c.logger.Debug("operation rejected", zap.String("op", name), zap.Error(err))
		return err
	}

	events := append(pool.Events(), ledger.Events()...)
	if len(events) > 0 && c.journal != nil {
		if err := c.journal.Append(ctx, events); err != nil {
			c.logger.Error("journal append failed", zap.String("op", name), zap.Error(err))
			return fmt.Errorf("court: %s: journal: %w", name, err)
		}
	}
	c.pool, c.ledger = pool, ledger
	c.publish(ctx, events)
	return nil
}

func (c *Court) publish(ctx context.Context, events []event.Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range c.sinks {
		s.Publish(ctx, events)
	}
}

// AddMember admits address on behalf of an active juror.
func (c *Court) AddMember(ctx context.Context, caller, address string) (jury.Juror, error) {
	var j jury.Juror
	err := c.commit(ctx, "add_member", func(p *jury.Pool, _ *dispute.Ledger) error {
		var err error
		j, err = p.AddMember(caller, address)
		return err
	})
	return j, err
}

// Reselect draws a new active jury if the swap interval allows it.
func (c *Court) Reselect(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := c.commit(ctx, "reselect", func(p *jury.Pool, _ *dispute.Ledger) error {
		var err error
		ids, err = p.Reselect()
		return err
	})
	return ids, err
}

func (c *Court) Propose(ctx context.Context, caller string, deadline time.Time) (dispute.Dispute, error) {
	var d dispute.Dispute
	err := c.commit(ctx, "propose", func(_ *jury.Pool, l *dispute.Ledger) error {
		var err error
		d, err = l.Propose(caller, deadline)
		return err
	})
	return d, err
}

func (c *Court) Approve(ctx context.Context, caller string, id uint64) (dispute.Dispute, error) {
	var d dispute.Dispute
	err := c.commit(ctx, "approve", func(_ *jury.Pool, l *dispute.Ledger) error {
		var err error
		d, err = l.Approve(caller, id)
		return err
	})
	return d, err
}

func (c *Court) Vote(ctx context.Context, caller string, id uint64, verdict bool) (dispute.Dispute, error) {
	var d dispute.Dispute
	err := c.commit(ctx, "vote", func(_ *jury.Pool, l *dispute.Ledger) error {
		var err error
		d, err = l.Vote(caller, id, verdict)
		return err
	})
	return d, err
}

// ForceClose finalizes a dispute with its current tally. Callers decide who may
// invoke it.
func (c *Court) ForceClose(ctx context.Context, id uint64) (dispute.Dispute, error) {
	var d dispute.Dispute
	err := c.commit(ctx, "force_close", func(_ *jury.Pool, l *dispute.Ledger) error {
		var err error
		d, err = l.ForceClose(id)
		return err
	})
	return d, err
}

func (c *Court) IsActive(address string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.IsActive(address)
}

func (c *Court) Juror(address string) (jury.Juror, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool.Juror(address)
}

func (c *Court) Dispute(id uint64) (dispute.Dispute, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.Get(id)
}

func (c *Court) Disputes(status dispute.Status) []dispute.Dispute {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledger.List(status)
}

// Snapshot is a consistent copy of the committed state.
type Snapshot struct {
	Config   jury.Config
	Members  []jury.Juror
	Active   []uint64
	LastSwap time.Time
	NextSwap time.Time
	Disputes []dispute.Dispute
	TakenAt  time.Time
}

func (c *Court) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Config:   c.pool.Config(),
		Members:  c.pool.Members(),
		Active:   c.pool.ActiveIDs(),
		LastSwap: c.pool.LastSwap(),
		NextSwap: c.pool.NextSwap(),
		Disputes: c.ledger.List(""),
		TakenAt:  c.now(),
	}
}
