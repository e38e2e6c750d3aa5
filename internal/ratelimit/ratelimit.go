// Package ratelimit guards sensitive endpoints with fixed-window counters
// keyed by (endpoint class, client identity).
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Endpoint classes used as key prefixes.
const (
	ClassLogin       = "login"
	ClassImpersonate = "impersonate"
)

// Decision is the outcome of an Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter is the single contract both backends satisfy.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) Decision
}

// Key builds the canonical (class, identity) counter key.
func Key(class, identity string) string {
	if identity == "" {
		identity = "unknown"
	}
	return class + ":" + identity
}

type window struct {
	start time.Time
	dur   time.Duration
	count int
}

// Memory is an in-process fixed-window limiter. Counters roll over when
// their window elapses; stale counters are purged opportunistically.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// MemoryOption configures a Memory limiter.
type MemoryOption func(*Memory)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewMemory returns an empty in-memory limiter.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

const purgeThreshold = 4096

// Allow increments the counter for the key's current window and reports
// whether the request stays within limit.
func (m *Memory) Allow(ctx context.Context, key string, limit int, windowDur time.Duration) Decision {
	if limit <= 0 || windowDur <= 0 {
		return Decision{Allowed: true}
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.windows) > purgeThreshold {
		m.purgeLocked(now)
	}

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= windowDur {
		w = &window{start: now, dur: windowDur}
		m.windows[key] = w
	}
	w.count++

	remaining := limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	if w.count > limit {
		return Decision{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: w.start.Add(windowDur).Sub(now),
		}
	}
	return Decision{Allowed: true, Remaining: remaining}
}

// purgeLocked evicts elapsed windows. Each entry is judged against the
// duration it was created with; live windows of other endpoint classes
// must survive a purge triggered by a short-window class.
func (m *Memory) purgeLocked(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= w.dur {
			delete(m.windows, k)
		}
	}
}
