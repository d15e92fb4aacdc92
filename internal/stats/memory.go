package stats

import (
	"context"
	"sync"
)

// Counters maps an outcome name to the number of requests that reached it.
type Counters map[string]int64

func (c Counters) clone() Counters {
	out := make(Counters, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MemoryStore counts in process. It never expires anything.
type MemoryStore struct {
	mu      sync.Mutex
	total   Counters
	byRoute map[string]Counters
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		total:   make(Counters),
		byRoute: make(map[string]Counters),
	}
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total[ev.Outcome]++
	c, ok := s.byRoute[route]
	if !ok {
		c = make(Counters)
		s.byRoute[route] = c
	}
	c[ev.Outcome]++

	return nil
}

func (s *MemoryStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.total.clone()
}

func (s *MemoryStore) ByRoute() map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Counters, len(s.byRoute))
	for k, v := range s.byRoute {
		out[k] = v.clone()
	}
	return out
}
