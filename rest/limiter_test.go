package rest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterDisabled(t *testing.T) {
	for _, cfg := range []RateLimit{Unlimited, {Capacity: 0, RefillRate: 5}, {Capacity: 5, RefillRate: 0}} {
		l := NewRateLimiter(cfg)
		assert.False(t, l.Enabled())
		for i := 0; i < 1000; i++ {
			require.True(t, l.Allow())
		}
		assert.NoError(t, l.Acquire(context.Background()))
	}
}

func TestRateLimiterBurstNeverExceedsCapacity(t *testing.T) {
	l := NewRateLimiter(RateLimit{Capacity: 3, RefillRate: 0.5})

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.Allow() {
			allowed++
		}
	}

	assert.Equal(t, 3, allowed)
}

func TestRateLimiterSustainedThroughput(t *testing.T) {
	const (
		capacity = 2
		refill   = 20.0
		window   = 500 * time.Millisecond
	)
	l := NewRateLimiter(RateLimit{Capacity: capacity, RefillRate: refill})

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	var acquired atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for l.Acquire(ctx) == nil {
				acquired.Add(1)
			}
		}()
	}
	wg.Wait()

	// capacity + refill*T, one token of slack for timer granularity.
	limit := int64(capacity + refill*window.Seconds() + 1)
	assert.LessOrEqual(t, acquired.Load(), limit)
	assert.Greater(t, acquired.Load(), int64(capacity))
}

func TestRateLimiterAcquireWaitsForRefill(t *testing.T) {
	l := NewRateLimiter(RateLimit{Capacity: 1, RefillRate: 10})
	require.NoError(t, l.Acquire(context.Background()))

	start := time.Now()
	require.NoError(t, l.Acquire(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestRateLimiterAcquireCancelledAndTimeout(t *testing.T) {
	l := NewRateLimiter(RateLimit{Capacity: 1, RefillRate: 0.01})
	require.True(t, l.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Acquire(ctx), ErrCancelled)

	// The next token is 100s away, well past this deadline.
	ctx, cancel = context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), ErrTimeout)
}
