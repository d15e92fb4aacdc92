package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// BreakerSettings enables a circuit breaker in front of the Transport. A zero
// ConsecutiveFailures leaves the breaker off.
type BreakerSettings struct {
	Name string
	// ConsecutiveFailures trips the breaker. Transport errors and 5xx
	// responses count as failures.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before letting a single
	// probe through.
	OpenTimeout time.Duration
}

func (s BreakerSettings) enabled() bool {
	return s.ConsecutiveFailures > 0
}

var errServerStatus = errors.New("server error status")

type breakerTransport struct {
	next    Transport
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next with a circuit breaker. While the breaker is
// open Send fails with a *TransportError of kind KindCircuitOpen.
func NewBreakerTransport(next Transport, settings BreakerSettings, log zerolog.Logger) Transport {
	if settings.Name == "" {
		settings.Name = "rest"
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = time.Minute
	}

	failures := settings.ConsecutiveFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: 1,
		Interval:    0, // Never clear counts
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: breakerStatusHandler(log),
	})

	return &breakerTransport{next: next, breaker: breaker}
}

func (b *breakerTransport) Send(ctx context.Context, method Method, url string, header http.Header, body []byte) (*Response, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		resp, err := b.next.Send(ctx, method, url, header, body)
		if err != nil || resp == nil {
			return resp, err
		}
		if resp.Status >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})

	resp, _ := result.(*Response)
	switch {
	case errors.Is(err, errServerStatus):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, &TransportError{Kind: KindCircuitOpen, URL: url, Err: err}
	case err != nil:
		return nil, err
	}

	return resp, nil
}

func (b *breakerTransport) State() gobreaker.State {
	return b.breaker.State()
}

func breakerStatusHandler(log zerolog.Logger) func(name string, from, to gobreaker.State) {
	return func(name string, from, to gobreaker.State) {
		switch to {
		case gobreaker.StateOpen:
			if from == gobreaker.StateClosed {
				log.Warn().Str("breaker", name).Msg("Temporarily not sending, too many failures")
			} else {
				log.Warn().Str("breaker", name).Msg("Probe failed, staying open")
			}
		case gobreaker.StateHalfOpen:
			log.Info().Str("breaker", name).Msg("Probing target")
		case gobreaker.StateClosed:
			log.Info().Str("breaker", name).Msg("Resuming sends")
		}
	}
}
