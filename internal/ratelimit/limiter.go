// Package ratelimit provides the per-session frame admission counters used by
// the ingestion endpoint.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits or rejects one event for a key.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a process-local fixed-window counter. The window for a key
// starts at its first admitted event and resets lazily once it has expired.
type MemoryLimiter struct {
	limit    int
	period   time.Duration
	now      func() time.Time
	mu       sync.Mutex
	windows  map[string]*window
	lastScan time.Time
}

// NewMemoryLimiter constructs an in-memory limiter allowing limit events per period.
func NewMemoryLimiter(limit int, period time.Duration) *MemoryLimiter {
	if limit <= 0 {
		limit = 5
	}
	if period <= 0 {
		period = time.Second
	}
	return &MemoryLimiter{
		limit:   limit,
		period:  period,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow never returns an error; the signature matches the shared Limiter contract.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		l.windows[key] = &window{count: 1, resetAt: now.Add(l.period)}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

// Len reports how many keys currently hold a window.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// sweep drops expired windows at most once per minute. Callers hold mu.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastScan) < time.Minute {
		return
	}
	l.lastScan = now
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
}
