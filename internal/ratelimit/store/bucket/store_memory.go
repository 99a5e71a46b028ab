// Package bucket keeps sliding-window request counters.
package bucket

import (
	"context"
	"sync"
	"time"

	"idshield/internal/ratelimit/models"
	"idshield/pkg/requestcontext"
)

// InMemory is a per-process sliding window. It also serves as the fallback
// when the shared store is unreachable.
type InMemory struct {
	mu      sync.Mutex
	windows map[string]*slidingWindow
}

type slidingWindow struct {
	timestamps []time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{windows: make(map[string]*slidingWindow)}
}

// Allow counts one request against key if the window has room.
func (s *InMemory) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error) {
	now := requestcontext.Now(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	sw := s.windows[key]
	if sw == nil {
		sw = &slidingWindow{}
		s.windows[key] = sw
	}
	sw.cleanup(now, window)

	if len(sw.timestamps) >= limit {
		return models.NewResult(false, limit, len(sw.timestamps), sw.timestamps[0].Add(window), now), nil
	}
	sw.timestamps = append(sw.timestamps, now)
	return models.NewResult(true, limit, len(sw.timestamps), sw.timestamps[0].Add(window), now), nil
}

// Reset forgets key.
func (s *InMemory) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}

// Count returns how many requests key has in the current window.
func (s *InMemory) Count(ctx context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw := s.windows[key]
	if sw == nil {
		return 0, nil
	}
	sw.cleanup(requestcontext.Now(ctx), window)
	return len(sw.timestamps), nil
}

// Sweep drops windows with no live requests. Call it periodically when
// client IPs are unbounded.
func (s *InMemory) Sweep(ctx context.Context, window time.Duration) int {
	now := requestcontext.Now(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, sw := range s.windows {
		sw.cleanup(now, window)
		if len(sw.timestamps) == 0 {
			delete(s.windows, key)
			removed++
		}
	}
	return removed
}

func (sw *slidingWindow) cleanup(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
