// Package journal stores the event history of a court. Every backend appends a
// batch atomically and loads the full history in commit order.
package journal

import (
	"context"
	"sync"

	"juryflow/event"
)

// Memory keeps the history in process. Useful for tests and for running without
// persistence.
type Memory struct {
	mu     sync.Mutex
	events []event.Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Append(_ context.Context, events []event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) Load(context.Context) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]event.Event(nil), m.events...), nil
}

// Len reports how many events are stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
