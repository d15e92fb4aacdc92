package rest

import (
	"context"
	"errors"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

func (d *Dispatcher) work(id int) {
	defer d.workers.Done()

	log := d.log.With().Int("worker", id).Logger()
	log.Debug().Msg("Worker started")

	for {
		c, ok := d.queue.next()
		if !ok {
			log.Debug().Msg("Worker exiting")
			return
		}
		d.process(c, log)
	}
}

// process runs one request to its outcome. Nothing that goes wrong here may
// take the worker down.
func (d *Dispatcher) process(c *call, log zerolog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("token", c.req.Token).Msg("Recovered while processing request")
			d.finish(c, &Result{Outcome: OutcomeError, Err: &PanicError{Value: p, Stack: debug.Stack()}})
		}
	}()

	d.active.dequeued(c)
	if c.cancelled.Load() {
		d.finish(c, &Result{Outcome: OutcomeCancelled, Err: ErrCancelled})
		return
	}

	resp, err := d.execute(c, log)
	d.finish(c, classify(resp, err))
}

// execute performs the physical sends for c, retrying per policy.
func (d *Dispatcher) execute(c *call, log zerolog.Logger) (*Response, error) {
	start := time.Now()
	attempts := 0
	var resp *Response

	op := func() error {
		if c.req.expired(time.Now()) {
			return backoff.Permanent(ErrTimeout)
		}
		if c.cancelled.Load() {
			return backoff.Permanent(ErrCancelled)
		}

		r := c.req.attempt()
		if err := d.signer.Sign(r); err != nil {
			return backoff.Permanent(&SigningError{Err: err})
		}
		if err := c.req.verifySigned(r); err != nil {
			return backoff.Permanent(&SigningError{Err: err})
		}

		if err := d.limiter.Acquire(c.ctx); err != nil {
			return backoff.Permanent(err)
		}
		if r.expired(time.Now()) {
			return backoff.Permanent(ErrTimeout)
		}

		attempts++
		url := r.url(d.opts.BaseURL)
		sendCtx, cancel := d.sendContext(c)
		res, err := d.transport.Send(sendCtx, r.Method, url, r.Header, r.payload)
		cancel()

		// Advisory cancellation is honoured once the send returned.
		if c.cancelled.Load() {
			resp = res
			return backoff.Permanent(ErrCancelled)
		}

		if err != nil {
			te := ClassifyTransportError(url, err)
			log.Debug().Err(te).Str("token", r.Token).Int("attempt", attempts).Msg("Transport error")
			if d.opts.Retry.retryable(te) {
				return te
			}
			return backoff.Permanent(te)
		}
		if res == nil {
			return backoff.Permanent(&TransportError{Kind: KindOther, URL: url, Err: errors.New("transport returned no response")})
		}

		resp = res
		log.Debug().Str("token", r.Token).Int("status", res.Status).Int("attempt", attempts).Msg("Response received")
		if !res.OK() {
			statusErr := &HTTPStatusError{Response: res}
			if d.opts.Retry.retryable(statusErr) {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		return nil
	}

	notify := func(err error, wait time.Duration) {
		log.Info().Err(err).Str("token", c.req.Token).Int("attempt", attempts).Dur("wait", wait).Msg("Retrying request")
	}

	err := backoff.RetryNotify(op, d.opts.Retry.backOff(c.ctx), notify)
	switch {
	case errors.Is(err, context.Canceled) && !isTransportError(err):
		err = ErrCancelled
	case errors.Is(err, context.DeadlineExceeded) && !isTransportError(err):
		err = ErrTimeout
	}

	if resp != nil {
		resp.Attempts = attempts
		resp.Duration = time.Since(start)
	}

	return resp, err
}

// sendContext bounds one physical send by the request deadline and timeout.
// It is detached from the call context so Cancel never aborts a send.
func (d *Dispatcher) sendContext(c *call) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(c.ctx)
	cancels := make([]context.CancelFunc, 0, 2)

	if !c.req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, c.req.Deadline)
		cancels = append(cancels, cancel)
	}

	timeout := c.req.Timeout
	if timeout <= 0 {
		timeout = d.opts.RequestTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		cancels = append(cancels, cancel)
	}

	return ctx, func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func isTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func classify(resp *Response, err error) *Result {
	var statusErr *HTTPStatusError
	switch {
	case err == nil:
		return &Result{Outcome: OutcomeSuccess, Response: resp}
	case errors.Is(err, ErrCancelled):
		return &Result{Outcome: OutcomeCancelled, Response: resp, Err: err}
	case errors.Is(err, ErrTimeout):
		return &Result{Outcome: OutcomeTimeout, Response: resp, Err: err}
	case errors.As(err, &statusErr):
		return &Result{Outcome: OutcomeFailure, Response: statusErr.Response, Err: err}
	default:
		return &Result{Outcome: OutcomeError, Response: resp, Err: err}
	}
}

// deliver runs the callback matching res. A panicking callback is logged and
// otherwise ignored.
func (d *Dispatcher) deliver(req *Request, res *Result) {
	defer func() {
		if p := recover(); p != nil {
			d.log.Error().Interface("panic", p).Str("token", req.Token).Str("outcome", res.Outcome.String()).Msg("Request callback panicked")
		}
	}()

	switch res.Outcome {
	case OutcomeSuccess:
		if req.OnSuccess != nil {
			req.OnSuccess(res.Response, req)
			return
		}
		d.log.Debug().Str("token", req.Token).Int("status", res.Response.Status).Msg("Request succeeded without callback")
	case OutcomeError:
		switch {
		case req.OnError != nil:
			req.OnError(res.Err, req)
		case d.opts.OnError != nil:
			d.opts.OnError(res.Err, req)
		default:
			d.log.Error().Err(res.Err).Str("request", req.String()).Msg("Request error")
		}
	default:
		switch {
		case req.OnFailure != nil:
			req.OnFailure(res.Err, req)
		case d.opts.OnFailure != nil:
			d.opts.OnFailure(res.Err, req)
		default:
			d.log.Warn().Err(res.Err).Str("outcome", res.Outcome.String()).Str("request", req.String()).Msg("Request failed")
		}
	}
}
