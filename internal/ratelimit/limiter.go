// Package ratelimit implements a per-key sliding-window request limiter.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = time.Minute
)

// Limiter counts accepted requests per key inside a trailing window.
// Entries older than the window are purged lazily on every call.
type Limiter struct {
	mu          sync.Mutex
	requests    map[string][]time.Time
	maxRequests int
	window      time.Duration
	now         func() time.Time
}

type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(maxRequests int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		requests:    make(map[string][]time.Time),
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewDefault returns a limiter allowing 10 requests per minute.
func NewDefault(opts ...Option) *Limiter {
	return New(DefaultMaxRequests, DefaultWindow, opts...)
}

func (l *Limiter) MaxRequests() int      { return l.maxRequests }
func (l *Limiter) Window() time.Duration { return l.window }

// Allow reports whether key may issue another request and, if so, records it.
// A rejected call is not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	valid := l.purge(key, now)
	if len(valid) >= l.maxRequests {
		return false
	}
	l.requests[key] = append(valid, now)
	return true
}

// Remaining returns how many requests key may still issue in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return max(0, l.maxRequests-len(l.purge(key, l.now())))
}

// ResetTime returns when the oldest recorded request leaves the window.
// The zero time means no wait is known.
func (l *Limiter) ResetTime(key string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.purge(key, l.now())
	if len(valid) == 0 {
		return time.Time{}
	}
	// timestamps are appended in order, so the first one is the oldest
	return valid[0].Add(l.window)
}

// Cleanup drops expired entries for every key and forgets empty keys.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.requests {
		l.purge(key, now)
	}
}

// Keys returns the number of keys currently tracked.
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.requests)
}

// purge must be called with mu held.
func (l *Limiter) purge(key string, now time.Time) []time.Time {
	stamps, ok := l.requests[key]
	if !ok {
		return nil
	}

	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= l.window {
		i++
	}
	valid := stamps[i:]
	if len(valid) == 0 {
		delete(l.requests, key)
		return nil
	}
	l.requests[key] = valid
	return valid
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
	Wait      time.Duration
}

// Check runs Allow and reports the remaining budget and wait time for key.
func (l *Limiter) Check(key string) Decision {
	allowed := l.Allow(key)
	d := Decision{
		Allowed:   allowed,
		Remaining: l.Remaining(key),
		ResetAt:   l.ResetTime(key),
	}
	if !d.ResetAt.IsZero() {
		d.Wait = max(0, d.ResetAt.Sub(l.now()))
	}
	return d
}

// FormatWait renders a wait duration as whole seconds below a minute and
// whole minutes above, rounding up. Non-positive durations render empty.
func FormatWait(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes := int(math.Ceil(float64(seconds) / 60))
	return fmt.Sprintf("%dm", minutes)
}
