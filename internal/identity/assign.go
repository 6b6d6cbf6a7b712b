package identity

import "sync"

// RoundRobin hands out agent ids in rotation. With no agents configured it
// always returns the fallback id.
type RoundRobin struct {
	mu       sync.Mutex
	agents   []string
	next     int
	fallback string
}

// NewRoundRobin creates a rotation over agents.
func NewRoundRobin(agents []string, fallback string) *RoundRobin {
	return &RoundRobin{agents: append([]string(nil), agents...), fallback: fallback}
}

// Next returns the next agent id.
func (r *RoundRobin) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.agents) == 0 {
		return r.fallback
	}
	a := r.agents[r.next%len(r.agents)]
	r.next++
	return a
}
