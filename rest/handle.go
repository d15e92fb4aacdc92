package rest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the terminal outcome of a request.
type Result struct {
	Outcome  Outcome
	Response *Response
	// Err is nil only for OutcomeSuccess.
	Err error
}

// call is the dispatcher side of a submitted request.
type call struct {
	req *Request

	// ctx is cancelled by Cancel and by a non-draining Stop. It interrupts
	// rate limit and backoff waits, never a transport call in progress.
	ctx    context.Context
	cancel context.CancelFunc

	submitted time.Time
	started   time.Time

	cancelled atomic.Bool
	finished  atomic.Bool
	mu        sync.Mutex
	result    *Result
	done      chan struct{}
}

func newCall(parent context.Context, req *Request) *call {
	ctx, cancel := context.WithCancel(parent)
	if !req.Deadline.IsZero() {
		ctx, cancel = withDeadline(ctx, cancel, req.Deadline)
	}

	return &call{
		req:       req,
		ctx:       ctx,
		cancel:    cancel,
		submitted: time.Now(),
		done:      make(chan struct{}),
	}
}

func withDeadline(ctx context.Context, cancel context.CancelFunc, deadline time.Time) (context.Context, context.CancelFunc) {
	dctx, dcancel := context.WithDeadline(ctx, deadline)
	return dctx, func() {
		dcancel()
		cancel()
	}
}

// requestCancel flags the call; workers notice it at their next checkpoint.
func (c *call) requestCancel() {
	c.cancelled.Store(true)
	c.cancel()
}

// complete stores the outcome once. Only the first caller gets true and is
// responsible for running the callback.
func (c *call) complete(res *Result) bool {
	if !c.finished.CompareAndSwap(false, true) {
		return false
	}
	c.mu.Lock()
	c.result = res
	c.mu.Unlock()
	c.cancel()

	return true
}

// release wakes Wait once the callback ran.
func (c *call) release() {
	close(c.done)
}

// Handle refers to a submitted request.
type Handle struct {
	c *call
	d *Dispatcher
}

func (h *Handle) Token() string { return h.c.req.Token }

// Request returns the snapshot the dispatcher works with.
func (h *Handle) Request() *Request { return h.c.req }

// Cancel is Dispatcher.Cancel for this handle.
func (h *Handle) Cancel() bool { return h.d.Cancel(h) }

// Done is closed after the terminal callback returned.
func (h *Handle) Done() <-chan struct{} { return h.c.done }

// Wait blocks until the request reached its outcome or ctx is done.
func (h *Handle) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-h.c.done:
		r, _ := h.Result()
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome without blocking.
func (h *Handle) Result() (*Result, bool) {
	select {
	case <-h.c.done:
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		return h.c.result, true
	default:
		return nil, false
	}
}
