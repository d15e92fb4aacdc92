// Package stats keeps outcome counters for dispatched requests, in memory or
// in Redis. Recording is best effort and never holds up a worker.
package stats

import (
	"context"
	"time"

	"github.com/rb3ckers/restdispatch/rest"
)

// Event is the part of a rest.Event worth counting. Tokens are left out to
// keep cardinality bounded.
type Event struct {
	Method  string
	Path    string
	Outcome string
	Status  int

	At time.Time
}

func FromEvent(ev rest.Event) Event {
	return Event{
		Method:  ev.Method.String(),
		Path:    ev.Path,
		Outcome: ev.Outcome.String(),
		Status:  ev.Status,
		At:      ev.At,
	}
}

// Store persists events. Implementations must be safe for concurrent use.
type Store interface {
	Record(ctx context.Context, ev Event) error
}
