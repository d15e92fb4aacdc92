package rest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type (
	// SuccessFunc receives a 2xx response.
	SuccessFunc func(resp *Response, req *Request)
	// FailureFunc receives an *HTTPStatusError, ErrCancelled or ErrTimeout.
	FailureFunc func(err error, req *Request)
	// ErrorFunc receives a *SigningError, *TransportError or *PanicError.
	ErrorFunc func(err error, req *Request)
)

// Request describes one outbound call. The dispatcher takes a snapshot on
// submission, later changes to the caller's value have no effect.
type Request struct {
	Method Method
	// Path is appended to the dispatcher base URL and must start with '/'.
	Path   string
	Params Params
	Header http.Header
	// Body is sent as is when it is a []byte or string. Any other non-nil
	// value is encoded as JSON.
	Body any

	// Token correlates the request with its outcome. A random one is
	// assigned when empty. Tokens must be unique among pending requests.
	Token string
	// Extra is handed back to the callbacks untouched.
	Extra any

	// Deadline, when set, is the latest time a send may start; it also caps
	// the transport call.
	Deadline time.Time
	// Timeout bounds a single physical send. Zero uses the dispatcher default.
	Timeout time.Duration

	OnSuccess SuccessFunc
	OnFailure FailureFunc
	OnError   ErrorFunc

	// Seq is the queue position assigned on submission.
	Seq uint64

	payload []byte
}

// Payload returns the encoded body. It is only populated on requests handed
// out by the dispatcher.
func (r *Request) Payload() []byte {
	return r.payload
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s (token %s, seq %d) params: %s headers: %v body: %d bytes",
		r.Method, r.Path, r.Token, r.Seq, r.Params.Encode(), r.Header, len(r.payload))
}

func (r *Request) validate() error {
	if r == nil {
		return &ValidationError{Field: "request", Reason: "is nil"}
	}
	if r.Method == "" {
		return &ValidationError{Field: "method", Reason: "is empty"}
	}
	if !r.Method.Valid() {
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("%q is not supported", r.Method)}
	}
	if r.Path == "" {
		return &ValidationError{Field: "path", Reason: "is empty"}
	}
	if !strings.HasPrefix(r.Path, "/") {
		return &ValidationError{Field: "path", Reason: fmt.Sprintf("%q must start with '/'", r.Path)}
	}
	return nil
}

// snapshot copies the request and encodes its body.
func (r *Request) snapshot() (*Request, error) {
	cp := *r
	cp.Params = r.Params.clone()
	cp.Header = r.Header.Clone()
	if cp.Header == nil {
		cp.Header = make(http.Header)
	}

	switch body := r.Body.(type) {
	case nil:
		cp.payload = nil
	case []byte:
		cp.payload = append([]byte(nil), body...)
	case string:
		cp.payload = []byte(body)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, &ValidationError{Field: "body", Reason: "cannot be encoded as JSON", Err: err}
		}
		cp.payload = data
		if cp.Header.Get("Content-Type") == "" {
			cp.Header.Set("Content-Type", "application/json")
		}
	}
	cp.Body = cp.payload

	return &cp, nil
}

// attempt returns the copy the Signer works on for one physical send.
func (r *Request) attempt() *Request {
	cp := *r
	cp.Params = r.Params.clone()
	cp.Header = r.Header.Clone()
	cp.payload = append([]byte(nil), r.payload...)
	cp.Body = cp.payload
	return &cp
}

// verifySigned rejects a signer that touched anything but header and params.
func (r *Request) verifySigned(signed *Request) error {
	if signed.Method != r.Method || signed.Path != r.Path {
		return fmt.Errorf("signer changed %s %s to %s %s", r.Method, r.Path, signed.Method, signed.Path)
	}
	body, ok := signed.Body.([]byte)
	if !ok || !bytes.Equal(body, r.payload) || !bytes.Equal(signed.payload, r.payload) {
		return errors.New("signer changed the request body")
	}
	return nil
}

func (r *Request) url(base string) string {
	u := strings.TrimRight(base, "/") + r.Path
	if q := r.Params.Encode(); q != "" {
		if strings.Contains(r.Path, "?") {
			u += "&" + q
		} else {
			u += "?" + q
		}
	}
	return u
}

func (r *Request) expired(now time.Time) bool {
	return !r.Deadline.IsZero() && !now.Before(r.Deadline)
}
