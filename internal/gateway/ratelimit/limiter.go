// Package ratelimit bounds request throughput per client identifier using
// fixed-window counting. It runs before authentication, so buckets are keyed
// by network address.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of consuming one point.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a request from the given client is allowed.
type Limiter interface {
	Consume(ctx context.Context, clientID string) (Decision, error)
}

type bucket struct {
	count       int
	windowStart time.Time
}

// MemoryLimiter is the in-process fixed-window limiter. All bucket mutations
// happen under one mutex; the window resets exactly at window boundaries and
// excess requests are rejected, never queued.
type MemoryLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	window    time.Duration
	max       int
	now       func() time.Time
	lastPurge time.Time
}

// NewMemoryLimiter creates a limiter allowing max requests per window.
func NewMemoryLimiter(window time.Duration, max int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*bucket),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// SetClock replaces the limiter's clock. Intended for tests.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// Consume takes one point from the client's bucket.
func (l *MemoryLimiter) Consume(_ context.Context, clientID string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.purge(now)

	b, ok := l.buckets[clientID]
	if !ok || now.Sub(b.windowStart) >= l.window {
		b = &bucket{windowStart: now}
		l.buckets[clientID] = b
	}

	if b.count >= l.max {
		return Decision{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			RetryAfter: l.window - now.Sub(b.windowStart),
		}, nil
	}

	b.count++
	return Decision{
		Allowed:   true,
		Limit:     l.max,
		Remaining: l.max - b.count,
	}, nil
}

// purge drops buckets whose window has elapsed. It runs at most once per
// window so steady traffic pays the scan rarely. Caller holds the mutex.
func (l *MemoryLimiter) purge(now time.Time) {
	if l.lastPurge.IsZero() {
		l.lastPurge = now
		return
	}
	if now.Sub(l.lastPurge) < l.window {
		return
	}
	for id, b := range l.buckets {
		if now.Sub(b.windowStart) >= l.window {
			delete(l.buckets, id)
		}
	}
	l.lastPurge = now
}

// Size reports the number of tracked buckets.
func (l *MemoryLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
