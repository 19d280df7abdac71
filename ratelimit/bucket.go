package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket implements Limiter with one golang.org/x/time/rate limiter
// per key. Tokens refill at RequestsPerWindow per Window up to the burst.
// Idle keys are dropped by Cleanup.
type TokenBucket struct {
	config Config
	limit  rate.Limit
	burst  int
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Option configures a TokenBucket.
type Option func(*TokenBucket)

// WithClock sets the time source. Defaults to time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *TokenBucket) { b.now = now }
}

// NewTokenBucket creates a TokenBucket from cfg.
func NewTokenBucket(cfg Config, opts ...Option) (*TokenBucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &TokenBucket{
		config:  cfg,
		limit:   cfg.Rate(),
		burst:   cfg.EffectiveBurstSize(),
		now:     time.Now,
		buckets: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Allow takes one token for key. When none is available it reports how
// long until one will be, without consuming it.
func (b *TokenBucket) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	now := b.now()

	b.mu.Lock()
	e, ok := b.buckets[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.buckets[key] = e
	}
	e.lastSeen = now
	b.mu.Unlock()

	if e.limiter.AllowN(now, 1) {
		return true, 0, nil
	}
	missing := 1 - e.limiter.TokensAt(now)
	return false, time.Duration(missing / float64(b.limit) * float64(time.Second)), nil
}

// Cleanup drops keys not seen for longer than Window and returns how many
// remain.
func (b *TokenBucket) Cleanup() int {
	cutoff := b.now().Add(-b.config.Window)

	b.mu.Lock()
	defer b.mu.Unlock()
	for key, e := range b.buckets {
		if e.lastSeen.Before(cutoff) {
			delete(b.buckets, key)
		}
	}
	return len(b.buckets)
}

// Len returns the number of tracked keys.
func (b *TokenBucket) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buckets)
}

var _ Limiter = (*TokenBucket)(nil)
