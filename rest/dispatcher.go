package rest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle position of a Dispatcher.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Stats is a point in time view of a Dispatcher.
type Stats struct {
	State     State
	Workers   int
	Queued    int
	InFlight  int
	Submitted uint64
	Completed uint64
	// Tokens left in the rate limit bucket.
	Tokens float64
}

// Dispatcher owns the queue, the workers, the rate limiter and the set of
// active requests. Create it with New, then Start it.
type Dispatcher struct {
	opts      Options
	log       zerolog.Logger
	transport Transport
	signer    Signer
	observer  Observer

	mu      sync.RWMutex
	state   State
	workerN int
	limiter *RateLimiter

	queue  *sendQueue
	active *activeSet

	// ctx parents every call context; cancelling it aborts all waits.
	ctx    context.Context
	cancel context.CancelFunc

	pending sync.WaitGroup
	workers sync.WaitGroup
	stopped chan struct{}

	submitted atomic.Uint64
	completed atomic.Uint64
}

// New creates a dispatcher in the created state.
func New(opts Options) (*Dispatcher, error) {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	transport := opts.Transport
	if transport == nil {
		t, err := NewHTTPTransport(nil)
		if err != nil {
			return nil, fmt.Errorf("creating http transport: %w", err)
		}
		transport = t
	}
	if opts.Breaker.enabled() {
		transport = NewBreakerTransport(transport, opts.Breaker, logger)
	}

	signer := opts.Signer
	if signer == nil {
		signer = noopSigner{}
	}

	observer := opts.Observer
	if observer == nil {
		observer = Observers(nil)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		opts:      opts,
		log:       logger,
		transport: transport,
		signer:    signer,
		observer:  observer,
		state:     StateCreated,
		limiter:   NewRateLimiter(Unlimited),
		queue:     makeSendQueue(opts.QueueCapacity),
		active:    makeActiveSet(),
		ctx:       ctx,
		cancel:    cancel,
		stopped:   make(chan struct{}),
	}, nil
}

// Start launches the workers behind a token bucket configured by limit.
func (d *Dispatcher) Start(workers int, limit RateLimit) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopping, StateStopped:
		return ErrStopped
	}

	if workers <= 0 {
		workers = DefaultWorkers
	}
	d.workerN = workers
	d.limiter = NewRateLimiter(limit)

	d.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work(i)
	}
	d.state = StateRunning

	d.log.Info().
		Int("workers", workers).
		Bool("rate-limited", d.limiter.Enabled()).
		Int("rate-capacity", limit.Capacity).
		Float64("rate-refill", limit.RefillRate).
		Int("queue-capacity", d.opts.QueueCapacity).
		Str("backpressure", d.opts.Backpressure.String()).
		Msg("Dispatcher started")

	return nil
}

// Submit queues req for sending. It never performs network I/O, but waits
// for queue space under the Block policy.
func (d *Dispatcher) Submit(req *Request) (*Handle, error) {
	return d.SubmitContext(context.Background(), req)
}

// SubmitContext is Submit with ctx bounding the wait for queue space.
func (d *Dispatcher) SubmitContext(ctx context.Context, req *Request) (*Handle, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	snap, err := req.snapshot()
	if err != nil {
		return nil, err
	}
	if snap.Token == "" {
		snap.Token = uuid.NewString()
	}

	d.mu.RLock()
	if d.state != StateRunning {
		d.mu.RUnlock()
		return nil, ErrNotRunning
	}
	c := newCall(d.ctx, snap)
	if !d.active.track(c) {
		d.mu.RUnlock()
		c.cancel()
		return nil, &ValidationError{Field: "token", Reason: fmt.Sprintf("%q is already pending", snap.Token)}
	}
	d.pending.Add(1)
	d.mu.RUnlock()

	if err := d.queue.add(ctx, c, d.opts.Backpressure); err != nil {
		d.active.done(c)
		c.cancel()
		d.pending.Done()
		return nil, err
	}
	d.submitted.Add(1)

	d.log.Trace().Str("token", snap.Token).Uint64("seq", snap.Seq).Str("method", snap.Method.String()).Str("path", snap.Path).Msg("Request queued")

	return &Handle{c: c, d: d}, nil
}

// Do submits req and waits for its outcome. The error is nil only for a 2xx
// response; an *HTTPStatusError still carries the response.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Response, error) {
	h, err := d.SubmitContext(ctx, req)
	if err != nil {
		return nil, err
	}

	res, err := h.Wait(ctx)
	if err != nil {
		h.Cancel()
		return nil, err
	}

	return res.Response, res.Err
}

// Cancel abandons a request. A queued request is removed and fails with
// ErrCancelled right away. For one in flight the cancellation takes effect
// at the worker's next checkpoint; a send already under way is not aborted.
// It returns false when the outcome was already delivered.
func (d *Dispatcher) Cancel(h *Handle) bool {
	if h == nil {
		return false
	}
	return d.cancelCall(h.c)
}

// CancelToken is Cancel by correlation token.
func (d *Dispatcher) CancelToken(token string) bool {
	c, ok := d.active.lookup(token)
	if !ok {
		return false
	}
	return d.cancelCall(c)
}

func (d *Dispatcher) cancelCall(c *call) bool {
	if c.finished.Load() {
		return false
	}
	if d.queue.remove(c) {
		d.finish(c, &Result{Outcome: OutcomeCancelled, Err: ErrCancelled})
		return true
	}

	c.requestCancel()
	return !c.finished.Load()
}

// Stop shuts the dispatcher down. With drain it waits for every queued and
// in-flight request to finish; if ctx ends first the rest is cancelled and
// ctx.Err() returned. Without drain everything outstanding is cancelled.
// Stop waits for workers to exit, bounded by ctx. Later calls wait for the
// first one and return nil. Stop must not be called from a request callback
// or an Observer: they run on workers, and Stop waits for the workers.
func (d *Dispatcher) Stop(ctx context.Context, drain bool) error {
	d.mu.Lock()
	switch d.state {
	case StateCreated:
		d.state = StateStopped
		d.mu.Unlock()
		d.queue.close()
		d.cancel()
		close(d.stopped)
		return nil
	case StateStopping, StateStopped:
		d.mu.Unlock()
		select {
		case <-d.stopped:
		case <-ctx.Done():
		}
		return nil
	}
	d.state = StateStopping
	d.mu.Unlock()

	d.log.Info().Bool("drain", drain).Msg("Stopping dispatcher")

	var err error
	if drain {
		if err = waitCtx(ctx, d.pending.Wait); err != nil {
			d.log.Warn().Err(err).Msg("Drain interrupted, cancelling outstanding requests")
		}
	}
	if !drain || err != nil {
		d.abort()
	}

	d.queue.close()
	if werr := waitCtx(ctx, d.workers.Wait); werr != nil && err == nil {
		err = werr
	}
	d.cancel()

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	close(d.stopped)

	d.log.Info().Uint64("completed", d.completed.Load()).Msg("Dispatcher stopped")

	return err
}

// abort cancels everything outstanding.
func (d *Dispatcher) abort() {
	for _, c := range d.queue.close() {
		d.finish(c, &Result{Outcome: OutcomeCancelled, Err: ErrCancelled})
	}
	for _, c := range d.active.snapshot() {
		c.requestCancel()
	}
	d.cancel()
}

func waitCtx(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once Stop finished.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.stopped
}

func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.state
}

// ActiveTokens lists the requests currently handed to a worker.
func (d *Dispatcher) ActiveTokens() []string {
	return d.active.tokens()
}

func (d *Dispatcher) Stats() Stats {
	d.mu.RLock()
	state, workers, limiter := d.state, d.workerN, d.limiter
	d.mu.RUnlock()

	_, queued := d.queue.status()

	return Stats{
		State:     state,
		Workers:   workers,
		Queued:    queued,
		InFlight:  d.active.inFlight.Count(),
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Tokens:    limiter.Tokens(),
	}
}

// finish delivers the outcome of c exactly once.
func (d *Dispatcher) finish(c *call, res *Result) {
	if !c.complete(res) {
		return
	}

	d.active.settle(c)
	d.deliver(c.req, res)
	d.active.done(c)
	d.completed.Add(1)

	ev := Event{
		Token:   c.req.Token,
		Method:  c.req.Method,
		Path:    c.req.Path,
		Outcome: res.Outcome,
		Latency: time.Since(c.submitted),
		Err:     res.Err,
		At:      time.Now(),
	}
	if res.Response != nil {
		ev.Status = res.Response.Status
		ev.Attempts = res.Response.Attempts
	}
	d.observe(ev)

	c.release()
	d.pending.Done()
}

func (d *Dispatcher) observe(ev Event) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().Interface("panic", p).Str("token", ev.Token).Msg("Observer panicked")
		}
	}()
	d.observer.Observe(ev)
}
