// Package ratelimit provides per-client fixed-window admission control.
package ratelimit

import (
	"encoding/hex"
	"math"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultMax is the stream endpoint's request allowance per window
	DefaultMax = 30

	// DefaultWindow is the stream endpoint's window length
	DefaultWindow = 60 * time.Second

	// DefaultHighWaterMark is the store size that triggers expired-entry eviction
	DefaultHighWaterMark = 10000
)

// Config holds limiter settings
type Config struct {
	Max           int
	Window        time.Duration
	HighWaterMark int
}

// Decision is the outcome of an admission check
type Decision struct {
	Allowed           bool
	RetryAfterSeconds int
}

// entry counts requests in the key's current window
type entry struct {
	count         int
	windowResetAt time.Time
}

// Limiter admits at most Max requests per key in each Window.
//
// A single mutex covers the whole read-check-write sequence for a request,
// so concurrent requests from one key can never both observe a stale count.
// Expired entries are evicted lazily once the store grows past the high
// water mark, at most once per window; there is no background sweeper.
// State is in memory only and resets with the process.
type Limiter struct {
	max           int
	window        time.Duration
	highWaterMark int
	now           func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter. Zero config fields take the package defaults.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		max:           cfg.Max,
		window:        cfg.Window,
		highWaterMark: cfg.HighWaterMark,
		now:           time.Now,
		entries:       make(map[string]*entry),
	}
	if l.max <= 0 {
		l.max = DefaultMax
	}
	if l.window <= 0 {
		l.window = DefaultWindow
	}
	if l.highWaterMark <= 0 {
		l.highWaterMark = DefaultHighWaterMark
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit records a request from clientKey and reports whether it may proceed
func (l *Limiter) Admit(clientKey string) Decision {
	key := hashKey(clientKey)

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if len(l.entries) > l.highWaterMark && now.Sub(l.lastSweep) >= l.window {
		l.evictExpired(now)
		l.lastSweep = now
	}

	e, ok := l.entries[key]
	if !ok || !now.Before(e.windowResetAt) {
		l.entries[key] = &entry{count: 1, windowResetAt: now.Add(l.window)}
		return Decision{Allowed: true}
	}

	if e.count < l.max {
		e.count++
		return Decision{Allowed: true}
	}

	return Decision{
		Allowed:           false,
		RetryAfterSeconds: retryAfter(e.windowResetAt.Sub(now)),
	}
}

// Len returns the number of tracked keys
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// evictExpired must be called with mu held
func (l *Limiter) evictExpired(now time.Time) {
	for k, e := range l.entries {
		if !now.Before(e.windowResetAt) {
			delete(l.entries, k)
		}
	}
}

// retryAfter rounds the remaining window up to whole seconds, minimum 1
func retryAfter(remaining time.Duration) int {
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// hashKey keeps raw client addresses out of the store
func hashKey(clientKey string) string {
	sum := blake2b.Sum256([]byte(clientKey))
	return hex.EncodeToString(sum[:])
}
