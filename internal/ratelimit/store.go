package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Store is the counter backend for fixed rate-limit windows.
// Increment must be atomic per key: two racing callers must observe
// distinct post-increment counts.
type Store interface {
	// Increment adds one to the counter for key, creating the window
	// with the given duration if absent or expired. It returns the
	// post-increment count and the time the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAt time.Time, err error)
}

// InMemoryStore counts windows in process memory under a single mutex.
// Limits enforced through it are per-process: with N replicas a client
// can be admitted up to N times the configured maximum. It exists as
// the degraded fallback when the shared store is unreachable, not as an
// equivalent of it.
type InMemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memWindow
	now     func() time.Time
}

type memWindow struct {
	count   int64
	resetAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		windows: make(map[string]*memWindow),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &memWindow{resetAt: now.Add(window)}
		s.windows[key] = w
	}

	w.count++
	return w.count, w.resetAt, nil
}

// Sweep drops expired windows. Callers run it periodically to bound
// memory on long-lived processes.
func (s *InMemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}
