// Package ratelimit caps events per key in fixed windows.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter allows at most limit events per key in each window. A key's
// window opens with its first event and resets once it has passed.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// bucket holds limit tokens that never refill; a new window gets a new
// bucket.
type bucket struct {
	limiter *rate.Limiter
	resetAt time.Time
}

// New returns a Limiter. A non-positive limit or window disables limiting.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether an event for key may happen now, and counts it if
// so.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 || l.window <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{
			limiter: rate.NewLimiter(0, l.limit),
			resetAt: now.Add(l.window),
		}
		l.buckets[key] = b
	}
	return b.limiter.AllowN(now, 1)
}

// Prune drops keys whose window has closed.
func (l *Limiter) Prune(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, b := range l.buckets {
		if now.After(b.resetAt) {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Key builds the per-client key for action, e.g. "10.0.0.1:poll-<id>".
func Key(ip, action string) string {
	return ip + ":" + action
}
