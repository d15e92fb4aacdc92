package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rb3ckers/restdispatch/rest"
	"github.com/rs/zerolog"
)

const defaultBuffer = 1024

// Recorder is a rest.Observer that hands events to a Store on its own
// goroutine. When the buffer is full events are dropped.
type Recorder struct {
	store   Store
	log     zerolog.Logger
	timeout time.Duration

	events  chan Event
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

func NewRecorder(store Store, buffer int, log zerolog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	r := &Recorder{
		store:   store,
		log:     log,
		timeout: 2 * time.Second,
		events:  make(chan Event, buffer),
		done:    make(chan struct{}),
	}
	go r.run()

	return r
}

func (r *Recorder) Observe(ev rest.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return
	}

	select {
	case r.events <- FromEvent(ev):
	default:
		r.dropped.Add(1)
		r.log.Warn().Str("token", ev.Token).Msg("Stats buffer full, dropping event")
	}
}

// Dropped counts the events lost to a full buffer.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer close(r.done)

	for ev := range r.events {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.store.Record(ctx, ev); err != nil {
			r.log.Warn().Err(err).Str("outcome", ev.Outcome).Msg("Failed to record stats")
		}
		cancel()
	}
}

// Close stops accepting events and waits until the buffered ones are stored
// or ctx is done.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.events)
		r.mu.Unlock()
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
