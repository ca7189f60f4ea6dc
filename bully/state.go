package bully

import "sync"

// State is where a node stands in the election protocol.
type State string

const (
	Follower  State = "follower"
	Candidate State = "candidate"
	Leader    State = "leader"
)

// nodeState is the role and the leader this node currently believes in.
type nodeState struct {
	mu        sync.RWMutex
	state     State
	leader    Address
	hasLeader bool
}

func (s *nodeState) set(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = state
}

func (s *nodeState) get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.state
}

// follow records leader and reports whether it changed.
func (s *nodeState) follow(leader Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := !s.hasLeader || s.leader != leader
	s.leader = leader
	s.hasLeader = true
	return changed
}

func (s *nodeState) currentLeader() (Address, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.leader, s.hasLeader
}

// Status is a point in time view of a node.
type Status struct {
	Self       Address   `json:"self"`
	State      State     `json:"state"`
	Leader     *Address  `json:"leader,omitempty"`
	SequenceID uint64    `json:"sequence_id"`
	Generation uint64    `json:"generation"`
	Members    []Address `json:"members"`
}
