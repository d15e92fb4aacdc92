package rest

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// RateLimit configures the outbound token bucket. Capacity is the burst size,
// RefillRate the number of tokens added per second. A zero Capacity or
// RefillRate disables limiting.
type RateLimit struct {
	Capacity   int
	RefillRate float64
}

// Unlimited is the RateLimit that never waits.
var Unlimited = RateLimit{}

func (l RateLimit) enabled() bool {
	return l.Capacity > 0 && l.RefillRate > 0
}

// RateLimiter gates physical sends through a single token bucket shared by
// every worker of a dispatcher. It is safe for concurrent use and never
// waits while holding a lock another worker needs.
type RateLimiter struct {
	cfg RateLimit
	lim *rate.Limiter
}

func NewRateLimiter(cfg RateLimit) *RateLimiter {
	l := &RateLimiter{cfg: cfg}
	if cfg.enabled() {
		l.lim = rate.NewLimiter(rate.Limit(cfg.RefillRate), cfg.Capacity)
	}
	return l
}

func (l *RateLimiter) Enabled() bool { return l.lim != nil }

// Acquire takes one token, waiting for it when the bucket is empty. It fails
// with ErrCancelled when ctx is cancelled and with ErrTimeout when the token
// cannot arrive before the ctx deadline.
func (l *RateLimiter) Acquire(ctx context.Context) error {
	if l.lim == nil {
		return nil
	}
	if err := l.lim.Wait(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ErrCancelled
		}
		// Either the deadline passed or rate reports it would pass.
		return ErrTimeout
	}
	return nil
}

// Allow takes a token only if one is available right now.
func (l *RateLimiter) Allow() bool {
	if l.lim == nil {
		return true
	}
	return l.lim.Allow()
}

// Tokens returns the tokens currently in the bucket, or the capacity when
// limiting is disabled.
func (l *RateLimiter) Tokens() float64 {
	if l.lim == nil {
		return float64(l.cfg.Capacity)
	}
	return l.lim.Tokens()
}
