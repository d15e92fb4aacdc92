package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"syscall"
)

var (
	ErrNotRunning     = errors.New("dispatcher is not running")
	ErrAlreadyStarted = errors.New("dispatcher already started")
	ErrStopped        = errors.New("dispatcher has been stopped")
	ErrQueueFull      = errors.New("dispatcher queue full")

	ErrCancelled = errors.New("request cancelled")
	ErrTimeout   = errors.New("request deadline exceeded")
)

// ValidationError is returned by Submit for a malformed request.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SigningError means the Signer failed; nothing was sent.
type SigningError struct {
	Err error
}

func (e *SigningError) Error() string { return "signing request: " + e.Err.Error() }

func (e *SigningError) Unwrap() error { return e.Err }

// TransportErrorKind classifies why a send did not produce a response.
type TransportErrorKind int

const (
	KindOther TransportErrorKind = iota
	KindConnection
	KindDNS
	KindTimeout
	KindCircuitOpen
)

func (k TransportErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindDNS:
		return "dns"
	case KindTimeout:
		return "timeout"
	case KindCircuitOpen:
		return "circuit-open"
	default:
		return "other"
	}
}

// TransportError means the call did not complete.
type TransportError struct {
	Kind TransportErrorKind
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport %s error for %s: %v", e.Kind, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Temporary reports whether a retry has a chance of succeeding.
func (e *TransportError) Temporary() bool {
	return e.Kind != KindCircuitOpen
}

// HTTPStatusError carries a completed call with a non-2xx status.
type HTTPStatusError struct {
	Response *Response
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s", e.Response.Status, http.StatusText(e.Response.Status))
}

func (e *HTTPStatusError) Status() int { return e.Response.Status }

func (e *HTTPStatusError) Body() []byte { return e.Response.Body }

// PanicError is delivered when processing a request panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic while processing request: %v", e.Value) }

// ClassifyTransportError wraps err in a *TransportError with the best
// matching kind. An err that already is one is returned unchanged.
func ClassifyTransportError(url string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	kind := KindOther
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr):
		kind = KindDNS
		if dnsErr.IsTimeout {
			kind = KindTimeout
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED):
		kind = KindConnection
	default:
		var opErr *net.OpError
		if errors.As(err, &opErr) && opErr.Op == "dial" {
			kind = KindConnection
		}
	}

	return &TransportError{Kind: kind, URL: url, Err: err}
}
