package bully

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/krantius/bullycast/replication"
	"github.com/krantius/bullycast/shared/logging"
	"github.com/krantius/bullycast/shared/metrics"
	log "github.com/sirupsen/logrus"
)

const messageBuffer = 64

// Node is one peer: it watches the leader, joins elections, and while leading
// emits heartbeats and sequences messages.
type Node struct {
	// Config stuff
	cfg  Config
	self Address

	// Connection stuff
	group   Channel
	unicast Channel

	// Replicated state
	state   nodeState
	role    roleController
	members Membership
	seq     replication.Sequence

	// Only touched from the listener goroutine
	rng *rand.Rand

	messages chan MessageData
	metrics  *metrics.Registry
}

// NewNode wires a node to its channels. reg may be nil.
func NewNode(cfg Config, group, unicast Channel, reg *metrics.Registry) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Node{
		cfg:      cfg,
		self:     cfg.Self,
		group:    group,
		unicast:  unicast,
		state:    nodeState{state: Follower},
		rng:      rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(addressSeed(cfg.Self)))),
		messages: make(chan MessageData, messageBuffer),
		metrics:  reg,
	}, nil
}

func addressSeed(a Address) uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

// Run announces the node and serves until ctx is cancelled. The channels are
// closed on return.
func (n *Node) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		n.group.Close()
		n.unicast.Close()
	})
	defer stop()

	logging.Infof("%s starting", n.self)

	if err := n.group.Broadcast(mustEnvelope(Welcome, nil)); err != nil {
		logging.Warningf("Failed to broadcast WELCOME: %v", err)
	}

	err := n.listen(ctx)

	n.role.stop()
	close(n.messages)

	logging.Infof("%s exiting", n.self)

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Messages streams sequenced chat messages. It is closed when Run returns.
func (n *Node) Messages() <-chan MessageData {
	return n.messages
}

// Send asks the current leader to sequence and broadcast payload.
func (n *Node) Send(payload string) error {
	leader, ok := n.state.currentLeader()
	if !ok {
		return ErrNoLeader
	}

	env, err := NewEnvelope(MessageRequest, MessageRequestData{Payload: payload})
	if err != nil {
		return err
	}
	return n.unicast.Unicast(env, leader)
}

// Status snapshots the node.
func (n *Node) Status() Status {
	st := Status{
		Self:       n.self,
		State:      n.state.get(),
		SequenceID: n.seq.Current(),
		Generation: n.role.Generation(),
		Members:    n.members.Snapshot(),
	}
	if leader, ok := n.state.currentLeader(); ok {
		st.Leader = &leader
	}
	return st
}

// IsLeader reports whether this node holds the leadership token.
func (n *Node) IsLeader() bool {
	return n.role.Leading()
}

// listen is the follower watchdog and the multicast dispatcher. It owns
// every election this node takes part in.
func (n *Node) listen(ctx context.Context) error {
	// Until a peer is heard from, a HIGHEST means an election is already
	// under way and this node should join it.
	first := true
	deadline := time.Now().Add(n.cfg.watchdog(n.rng))

	for {
		env, from, err := n.group.Receive(time.Until(deadline))

		if ctx.Err() != nil {
			return nil
		}

		switch {
		case err == nil:
			reset := n.dispatch(ctx, env, from, first)
			if from != n.self {
				first = false
			}
			if reset {
				deadline = time.Now().Add(n.cfg.watchdog(n.rng))
			}

		case IsTimeout(err):
			deadline = time.Now().Add(n.cfg.watchdog(n.rng))
			if n.role.Leading() {
				continue
			}

			logging.Warningf("No heartbeat from leader, calling election")
			n.callElection(ctx, "no heartbeat")
			deadline = time.Now().Add(n.cfg.watchdog(n.rng))

		case errors.Is(err, ErrClosed):
			return err

		default:
			n.drop(err)
		}
	}
}

// dispatch handles one group envelope and reports whether the watchdog should
// be rearmed.
func (n *Node) dispatch(ctx context.Context, env Envelope, from Address, first bool) bool {
	if from == n.self && env.Type != Welcome && env.Type != Message {
		logging.Tracef("Got %s from own address, skipping", env.Type)
		return false
	}

	switch env.Type {
	case Heartbeat:
		return n.onHeartbeat(ctx, env, from)

	case Welcome:
		if from == n.self {
			logging.Infof("You are: %s", from)
		} else {
			logging.Infof("Joined: %s", from)
		}

	case Election:
		var data ElectionData
		if err := env.Payload(&data); err != nil {
			data.Reason = "unknown"
		}
		logging.Infof("Election because of %s (from %s)", data.Reason, from)

		n.runElection(ctx)
		return true

	case Message:
		n.onMessage(env, from)

	case LeaderAnnounce:
		return n.onLeader(ctx, from)

	case Highest:
		if first {
			logging.Infof("Election in progress, joining")
			n.runElection(ctx)
			return true
		}
		logging.Debugf("Ignoring HIGHEST from %s outside an election", from)

	default:
		n.drop(&UnexpectedMessageError{Type: env.Type, From: from, Where: "listen"})
	}

	return false
}

func (n *Node) onHeartbeat(ctx context.Context, env Envelope, from Address) bool {
	var hb HeartbeatData
	if err := env.Payload(&hb); err != nil {
		n.drop(&DecodeError{From: from, Err: err})
		return false
	}

	n.metrics.HeartbeatReceived()

	if n.role.Leading() && !n.yield(ctx, from) {
		return false
	}

	if err := n.group.Unicast(mustEnvelope(Ack, nil), from); err != nil {
		logging.Warningf("Failed to ack heartbeat from %s: %v", from, err)
	}

	if leader, ok := n.state.currentLeader(); ok && leader != from {
		logging.Warningf("Received heartbeat from %s when %s is the leader", from, leader)
	}
	if n.state.follow(from) {
		logging.Infof("Following leader %s", from)
	}
	n.state.set(Follower)

	n.members.Adopt(hb.Members)
	n.metrics.MemberCount(len(hb.Members))
	n.metrics.Sequence(n.seq.Observe(hb.SequenceID))

	return true
}

func (n *Node) onLeader(ctx context.Context, from Address) bool {
	if n.role.Leading() && !n.yield(ctx, from) {
		return false
	}

	if n.state.follow(from) {
		logging.Infof("New leader %s found", from)
	}
	n.state.set(Follower)
	return true
}

// yield decides a clash between this leader and another node claiming
// leadership. The higher address keeps it.
func (n *Node) yield(ctx context.Context, other Address) bool {
	if other.Compare(n.self) < 0 {
		logging.Warningf("%s claims leadership while %s leads, keeping it", other, n.self)
		return false
	}

	logging.Warningf("Yielding leadership to higher node %s", other)
	n.becomeFollower(other)
	return true
}

func (n *Node) onMessage(env Envelope, from Address) {
	var m MessageData
	if err := env.Payload(&m); err != nil {
		n.drop(&DecodeError{From: from, Err: err})
		return
	}

	if leader, ok := n.state.currentLeader(); ok && leader != from {
		logging.Warningf("Received message from %s when %s is the leader", from, leader)
	}

	n.metrics.Sequence(n.seq.Observe(m.ID))

	select {
	case n.messages <- m:
	default:
		logging.Warningf("Message buffer full, dropping message %d", m.ID)
	}
}

// callElection announces an election and takes part in it.
func (n *Node) callElection(ctx context.Context, reason string) {
	env, err := NewEnvelope(Election, ElectionData{Reason: reason})
	if err == nil {
		err = n.group.Broadcast(env)
	}
	if err != nil {
		logging.Warningf("Failed to broadcast ELECTION: %v", err)
	}

	n.runElection(ctx)
}

// runElection halts any leader activity, runs the protocol and applies the
// outcome.
func (n *Node) runElection(ctx context.Context) {
	start := time.Now()

	if n.role.stop() {
		logging.Infof("Stepping down for election")
		n.metrics.Leadership(false, n.role.Generation())
	}
	n.state.set(Candidate)

	logging.Info("Election has started. Please wait until new leader is found.")

	won, leader, err := n.elect(ctx)
	if err != nil {
		n.state.set(Follower)
		n.metrics.Election("aborted", time.Since(start).Seconds())
		logging.Debugf("Election aborted: %v", err)
		return
	}

	if won {
		n.becomeLeader(ctx)
		n.metrics.Election("won", time.Since(start).Seconds())
		return
	}

	n.becomeFollower(leader)
	n.metrics.Election("lost", time.Since(start).Seconds())
}

// becomeLeader starts a new heartbeat and responder generation.
func (n *Node) becomeLeader(ctx context.Context) {
	gen, err := n.role.start(ctx, n.heartbeat, n.respond)
	if err != nil {
		logging.Errorf("Cannot take leadership: %v", err)
		n.state.set(Follower)
		return
	}

	n.state.follow(n.self)
	n.state.set(Leader)
	n.metrics.Leadership(true, gen)

	log.WithFields(log.Fields{
		"generation": gen,
		"sequence":   n.seq.Current(),
	}).Info("You are the new leader")
}

// becomeFollower stops leader activity and records leader.
func (n *Node) becomeFollower(leader Address) {
	if n.role.stop() {
		n.metrics.Leadership(false, n.role.Generation())
	}

	n.state.follow(leader)
	n.state.set(Follower)

	logging.Infof("New leader %s found", leader)
}

// drop logs and counts an envelope that cannot be used.
func (n *Node) drop(err error) {
	var (
		de *DecodeError
		ue *UnexpectedMessageError
		ae *AddressOrderingError
	)

	switch {
	case errors.As(err, &ae):
		n.metrics.Drop("address")
	case errors.As(err, &de):
		n.metrics.Drop("decode")
	case errors.As(err, &ue):
		n.metrics.Drop("unexpected")
	default:
		logging.Errorf("Receive failed: %v", err)
		return
	}

	logging.Warningf("Dropping envelope: %v", err)
}
