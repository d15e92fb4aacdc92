package rest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTransportError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind TransportErrorKind
	}{
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}, KindConnection},
		{"dial other", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("no route")}, KindConnection},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), KindConnection},
		{"dns", &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}, KindDNS},
		{"dns timeout", &net.DNSError{Err: "i/o timeout", Name: "slow.invalid", IsTimeout: true}, KindTimeout},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), KindTimeout},
		{"other", errors.New("boom"), KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := ClassifyTransportError("http://h/x", tt.err)
			assert.Equal(t, tt.kind, te.Kind)
			assert.ErrorIs(t, te, tt.err)
			assert.Equal(t, "http://h/x", te.URL)
		})
	}
}

func TestClassifyKeepsTransportError(t *testing.T) {
	orig := &TransportError{Kind: KindCircuitOpen, Err: errors.New("open")}
	assert.Same(t, orig, ClassifyTransportError("u", fmt.Errorf("wrapped: %w", orig)))
	assert.False(t, orig.Temporary())
}

func TestHTTPStatusError(t *testing.T) {
	err := &HTTPStatusError{Response: &Response{Status: http.StatusTeapot, Body: []byte("short and stout")}}

	assert.Equal(t, "unexpected status 418 I'm a teapot", err.Error())
	assert.Equal(t, 418, err.Status())
	assert.Equal(t, "short and stout", string(err.Body()))
}

func TestErrorsUnwrap(t *testing.T) {
	cause := errors.New("no credentials")
	assert.ErrorIs(t, &SigningError{Err: cause}, cause)
	assert.ErrorIs(t, &ValidationError{Field: "body", Reason: "bad", Err: cause}, cause)
}
