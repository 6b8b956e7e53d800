// Package ratelimit implements a per-sandbox token bucket limiter for query
// dispatch. Thread-safe. No background goroutines: buckets refill lazily on
// each Allow call and are dropped when their sandbox is released.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a sandbox has exhausted its token bucket.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures the token bucket limiter.
type Config struct {
	QueriesPerMinute int // Tokens added per minute. 0 = unlimited (Allow always succeeds).
	BurstSize        int // Maximum tokens in a bucket. 0 = defaults to QueriesPerMinute.
}

// Limiter holds one independent bucket per sandbox, so a chatty trial cannot
// starve queries against another sandbox.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64 // max bucket capacity
}

type bucket struct {
	tokens   float64
	lastFill time.Time
}

// NewLimiter creates a limiter with the given configuration.
// If QueriesPerMinute is 0, Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.QueriesPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(cfg.QueriesPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow checks whether the sandbox has tokens remaining.
// Consumes one token on success. Returns ErrRateLimited if the bucket is empty.
func (l *Limiter) Allow(sandboxID string) error {
	// Unlimited mode.
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[sandboxID]
	if !ok {
		// First query: start with a full bucket.
		b = &bucket{tokens: l.burst, lastFill: now}
		l.buckets[sandboxID] = b
	}

	// Refill tokens based on elapsed time.
	elapsed := now.Sub(b.lastFill).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastFill = now

	if b.tokens < 1 {
		return ErrRateLimited
	}
	b.tokens--
	return nil
}

// Release drops the bucket for a removed sandbox so the map does not grow
// unbounded across many short trials.
func (l *Limiter) Release(sandboxID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, sandboxID)
}
