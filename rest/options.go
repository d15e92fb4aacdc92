package rest

import (
	"time"

	"github.com/rs/zerolog"
)

// DefaultWorkers is used by Start when no positive worker count is given.
const DefaultWorkers = 3

// Options configure a Dispatcher.
type Options struct {
	// Transport sends requests. An HTTPTransport is created when nil.
	Transport Transport
	// Signer prepares every physical send. Requests go out unsigned when nil.
	Signer Signer
	// BaseURL is prefixed to every request path.
	BaseURL string

	// QueueCapacity bounds the queue, 0 means unbounded.
	QueueCapacity int
	Backpressure  Backpressure

	Retry   RetryPolicy
	Breaker BreakerSettings

	// RequestTimeout bounds each physical send unless the request sets its
	// own Timeout. Zero leaves it to the Transport.
	RequestTimeout time.Duration

	// Logger defaults to the zerolog global logger.
	Logger   *zerolog.Logger
	Observer Observer

	// OnFailure and OnError handle requests that have no callback of their
	// own. They default to logging the outcome.
	OnFailure FailureFunc
	OnError   ErrorFunc
}
