package bully

import (
	"sort"
	"sync"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

// Membership is the eventually consistent peer view. The leader rebuilds it
// once per heartbeat from the peers that acknowledged the previous beat;
// followers adopt the leader's copy.
type Membership struct {
	mu      sync.Mutex
	view    []Address
	pending []Address
}

// Ack records that addr answered the current heartbeat.
func (m *Membership) Ack(addr Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = append(m.pending, addr)
}

// Cycle closes the current heartbeat interval. self is always included.
// The returned set is sorted and free of duplicates.
func (m *Membership) Cycle(self Address) []Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := normalize(append(m.pending, self))
	m.pending = nil
	m.replace(next)

	return clone(next)
}

// Adopt replaces the view with the set carried by a heartbeat.
func (m *Membership) Adopt(members []Address) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replace(normalize(members))
}

// Snapshot returns a copy of the current view.
func (m *Membership) Snapshot() []Address {
	m.mu.Lock()
	defer m.mu.Unlock()

	return clone(m.view)
}

func (m *Membership) replace(next []Address) {
	for _, a := range lo.Without(next, m.view...) {
		log.WithField("peer", a).Info("Peer joined")
	}
	for _, a := range lo.Without(m.view, next...) {
		log.WithField("peer", a).Info("Peer left")
	}

	m.view = next
}

func normalize(addrs []Address) []Address {
	out := lo.Uniq(addrs)
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func clone(addrs []Address) []Address {
	if addrs == nil {
		return nil
	}
	out := make([]Address, len(addrs))
	copy(out, addrs)
	return out
}
