package bully

import "time"

// Channel moves envelopes between peers. A node holds two: one on the shared
// broadcast group and one on its unicast endpoint.
type Channel interface {
	// Broadcast sends to every peer on the group, the sender included.
	Broadcast(env Envelope) error
	// Unicast sends to the unicast endpoint of one peer.
	Unicast(env Envelope, to Address) error
	// Receive blocks until an envelope arrives or timeout elapses. It returns
	// ErrTimeout on expiry and a *DecodeError for malformed input.
	Receive(timeout time.Duration) (Envelope, Address, error)
	Close() error
}
