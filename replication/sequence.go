package replication

import "sync"

// Sequence is the message ordering counter replicated from the leader to
// followers inside heartbeats. It never moves backwards.
type Sequence struct {
	mu      sync.Mutex
	current uint64
}

// Current returns the highest id assigned or observed.
func (s *Sequence) Current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current
}

// Next assigns the next id. Only the leader calls this.
func (s *Sequence) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current++
	return s.current
}

// Observe raises the counter to id if id is ahead, and reports the value
// after the update. Lower ids are ignored so a late or stale heartbeat cannot
// rewind numbering.
func (s *Sequence) Observe(id uint64) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id > s.current {
		s.current = id
	}
	return s.current
}
