package rest

import (
	cmap "github.com/orcaman/concurrent-map/v2"
)

// activeSet tracks requests by token. pending holds every submitted request
// until its outcome is delivered; inFlight only those a worker dequeued.
type activeSet struct {
	pending  cmap.ConcurrentMap[string, *call]
	inFlight cmap.ConcurrentMap[string, *call]
}

func makeActiveSet() *activeSet {
	return &activeSet{
		pending:  cmap.New[*call](),
		inFlight: cmap.New[*call](),
	}
}

// track registers a new request. It fails when the token is already pending.
func (s *activeSet) track(c *call) bool {
	return s.pending.SetIfAbsent(c.req.Token, c)
}

func (s *activeSet) lookup(token string) (*call, bool) {
	return s.pending.Get(token)
}

func (s *activeSet) dequeued(c *call) {
	s.inFlight.Set(c.req.Token, c)
}

// settle drops c from pending once its outcome is decided, so callbacks may
// submit the same token again.
func (s *activeSet) settle(c *call) {
	s.pending.RemoveCb(c.req.Token, func(_ string, v *call, exists bool) bool {
		return exists && v == c
	})
}

// done removes c once its outcome is delivered. The token check keeps a
// rejected duplicate from evicting the original.
func (s *activeSet) done(c *call) {
	s.inFlight.RemoveCb(c.req.Token, func(_ string, v *call, exists bool) bool {
		return exists && v == c
	})
	s.pending.RemoveCb(c.req.Token, func(_ string, v *call, exists bool) bool {
		return exists && v == c
	})
}

func (s *activeSet) tokens() []string {
	return s.inFlight.Keys()
}

func (s *activeSet) snapshot() []*call {
	items := s.pending.Items()
	calls := make([]*call, 0, len(items))
	for _, c := range items {
		calls = append(calls, c)
	}
	return calls
}
