// Package ratelimit throttles authorization attempts per principal.
//
// The guard consults its Limiter before resolving an operation, so a
// principal hammering a sensitive operation is turned away before the
// catalog, membership store or approval engine see the request.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited marks a refusal surfaced as an error.
var ErrRateLimited = errors.New("rate limited")

// Limiter decides whether key may make another request now. When it may
// not, retryAfter says how long to wait. Implementations are safe for
// concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
}

// Config is a sustained rate of RequestsPerWindow per Window with an
// optional burst allowance. A zero BurstSize means RequestsPerWindow.
type Config struct {
	RequestsPerWindow int           `yaml:"requests_per_window" json:"requests_per_window"`
	Window            time.Duration `yaml:"window" json:"window"`
	BurstSize         int           `yaml:"burst_size,omitempty" json:"burst_size,omitempty"`
}

func (c *Config) Validate() error {
	switch {
	case c.RequestsPerWindow <= 0:
		return fmt.Errorf("requests per window must be positive, got %d", c.RequestsPerWindow)
	case c.Window <= 0:
		return fmt.Errorf("window must be positive, got %v", c.Window)
	case c.BurstSize < 0:
		return fmt.Errorf("burst size cannot be negative, got %d", c.BurstSize)
	}
	return nil
}

// EffectiveBurstSize is the largest number of requests admitted at once.
func (c *Config) EffectiveBurstSize() int {
	if c.BurstSize == 0 {
		return c.RequestsPerWindow
	}
	return c.BurstSize
}

// Rate is the refill rate in requests per second.
func (c *Config) Rate() rate.Limit {
	return rate.Limit(float64(c.RequestsPerWindow) / c.Window.Seconds())
}
