package memory

import (
	"context"
	"sync"

	audit "idshield/pkg/platform/audit"
)

// InMemoryStore keeps every event written to it. It implements audit.Sink
// and audit.Publisher so tests can use it on either side of the buffer.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Write(_ context.Context, events []audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *InMemoryStore) Emit(ctx context.Context, event audit.Event) {
	_ = s.Write(ctx, []audit.Event{event})
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// ListAll returns a copy of every event in write order.
func (s *InMemoryStore) ListAll() []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events...)
}

// ListByStage returns events for one stage in write order.
func (s *InMemoryStore) ListByStage(stage audit.Stage) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for _, e := range s.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Stages returns the stage of each event in write order.
func (s *InMemoryStore) Stages() []audit.Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]audit.Stage, len(s.events))
	for i, e := range s.events {
		out[i] = e.Stage
	}
	return out
}

func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
