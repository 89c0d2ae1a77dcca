package audit

import (
	"context"
	"maps"
	"slices"
	"sync"
)

// Store persists audit events. Append is all-or-nothing for the batch.
type Store interface {
	Append(ctx context.Context, events []Event) error
}

// InMemory is an append-only Store for tests and demos.
type InMemory struct {
	mu     sync.RWMutex
	events []Event
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, events []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		e.Context = maps.Clone(e.Context)
		s.events = append(s.events, e)
	}
	return nil
}

// Events returns a copy of everything appended so far, oldest first.
func (s *InMemory) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.events)
}
