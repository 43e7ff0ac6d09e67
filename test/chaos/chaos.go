package chaos

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"juryflow/court"
	"juryflow/event"
)

// ErrInjected is returned by appends that FlakyJournal chose to fail.
var ErrInjected = errors.New("chaos: injected journal failure")

// FlakyJournal fails a fraction of appends before they reach the wrapped
// journal, exercising the court's all-or-nothing commit path.
type FlakyJournal struct {
	inner court.Journal

	mu       sync.Mutex
	rng      *rand.Rand
	rate     float64
	failures int
	appends  int
}

func NewFlakyJournal(inner court.Journal, rate float64, seed int64) *FlakyJournal {
	return &FlakyJournal{inner: inner, rng: rand.New(rand.NewSource(seed)), rate: rate}
}

func (f *FlakyJournal) Append(ctx context.Context, events []event.Event) error {
	f.mu.Lock()
	fail := f.rng.Float64() < f.rate
	if fail {
		f.failures++
	} else {
		f.appends++
	}
	f.mu.Unlock()

	if fail {
		return ErrInjected
	}
	return f.inner.Append(ctx, events)
}

func (f *FlakyJournal) Load(ctx context.Context) ([]event.Event, error) {
	return f.inner.Load(ctx)
}

// SetRate changes the failure probability; 0 turns injection off.
func (f *FlakyJournal) SetRate(rate float64) {
	f.mu.Lock()
	f.rate = rate
	f.mu.Unlock()
}

// Counts returns the number of injected failures and forwarded appends.
func (f *FlakyJournal) Counts() (failures, appends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures, f.appends
}
