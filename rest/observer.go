package rest

import "time"

// Outcome names the terminal state of a request.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
	OutcomeError
	OutcomeCancelled
	OutcomeTimeout
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Event is reported to an Observer for every terminal outcome.
type Event struct {
	Token   string
	Method  Method
	Path    string
	Outcome Outcome
	// Status is 0 when no response was received.
	Status   int
	Attempts int
	// Latency is measured from submission.
	Latency time.Duration
	Err     error
	At      time.Time
}

// Observer receives outcome events. Observe runs on worker goroutines and
// must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans events out to several observers.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}
