package rest

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	failing := TransportFunc(func(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
		calls.Add(1)
		return nil, errors.New("connection refused")
	})

	tr := NewBreakerTransport(failing, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, tr.(*breakerTransport).State())

	_, err := tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindCircuitOpen, te.Kind)
	assert.Equal(t, int32(2), calls.Load(), "open breaker must not reach the transport")
}

func TestBreakerCountsServerErrorsButReturnsResponse(t *testing.T) {
	status := http.StatusServiceUnavailable
	tr := NewBreakerTransport(TransportFunc(func(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
		return &Response{Status: status}, nil
	}), BreakerSettings{ConsecutiveFailures: 3, OpenTimeout: time.Hour}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		resp, err := tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	}

	// A success resets the consecutive count.
	status = http.StatusOK
	_, err := tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, tr.(*breakerTransport).State())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	fail := atomic.Bool{}
	fail.Store(true)
	tr := NewBreakerTransport(TransportFunc(func(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
		if fail.Load() {
			return nil, errors.New("down")
		}
		return &Response{Status: http.StatusOK}, nil
	}), BreakerSettings{ConsecutiveFailures: 1, OpenTimeout: 20 * time.Millisecond}, zerolog.Nop())

	_, err := tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, tr.(*breakerTransport).State())

	time.Sleep(40 * time.Millisecond)
	fail.Store(false)

	_, err = tr.Send(context.Background(), MethodGet, "u", http.Header{}, nil)
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, tr.(*breakerTransport).State())
}
