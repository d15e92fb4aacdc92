package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy re-sends requests after a 5xx response, and after transport
// errors when RetryTransportErrors is set. The zero value never retries.
type RetryPolicy struct {
	// MaxAttempts counts physical sends including the first one.
	MaxAttempts int

	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	RetryTransportErrors bool
}

// NoRetry sends every request exactly once.
var NoRetry = RetryPolicy{}

func (p RetryPolicy) enabled() bool {
	return p.MaxAttempts > 1
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	if !p.enabled() {
		return backoff.WithContext(&backoff.StopBackOff{}, ctx)
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	// Attempts are bounded by count, not by elapsed time.
	b.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
}

// retryable decides whether a failed attempt is worth another send.
func (p RetryPolicy) retryable(err error) bool {
	if !p.enabled() {
		return false
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status() >= http.StatusInternalServerError
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return p.RetryTransportErrors && transportErr.Temporary()
	}

	return false
}
