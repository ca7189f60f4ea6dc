package bully

import (
	"context"
	"errors"
	"time"

	"github.com/krantius/bullycast/shared/logging"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
)

type action int

const (
	// broadcast HIGHEST for self, then wait
	actionClaim action = iota
	actionWait
	actionEvaluate
	// sleep a random delay, then evaluate a fresh round
	actionBackoff
	actionWin
	actionFollow
)

func (a action) String() string {
	switch a {
	case actionClaim:
		return "claim"
	case actionWait:
		return "wait"
	case actionEvaluate:
		return "evaluate"
	case actionBackoff:
		return "backoff"
	case actionWin:
		return "win"
	case actionFollow:
		return "follow"
	default:
		return "unknown"
	}
}

// drainPoll bounds each read when emptying the queue after a backoff.
const drainPoll = time.Millisecond

type eventKind int

const (
	eventHighest eventKind = iota
	eventLeader
	eventTimeout
)

type event struct {
	kind eventKind
	from Address
}

// round is one election attempt. It performs no I/O: the driver feeds it
// events and carries out the actions it returns.
type round struct {
	self       Address
	candidates []Address
	claim      Address
	claimed    bool
	leader     Address
}

func newRound(self Address, known []Address) *round {
	r := &round{self: self}
	for _, a := range known {
		r.observe(a)
	}
	return r
}

// observe adds a sender to the candidate set.
func (r *round) observe(a Address) {
	if a == r.self || lo.Contains(r.candidates, a) {
		return
	}
	r.candidates = append(r.candidates, a)
}

// maximal reports whether no known candidate outranks self.
func (r *round) maximal() bool {
	return !lo.ContainsBy(r.candidates, func(a Address) bool {
		return a.Compare(r.self) > 0
	})
}

func (r *round) evaluate() action {
	if r.claimed {
		return actionWait
	}
	if r.maximal() {
		r.claim = r.self
		r.claimed = true
		return actionClaim
	}
	return actionWait
}

func (r *round) handle(ev event) action {
	switch ev.kind {
	case eventLeader:
		r.leader = ev.from
		return actionFollow

	case eventHighest:
		ref := r.self
		if r.claimed {
			ref = r.claim
		}

		switch c := ev.from.Compare(ref); {
		case c < 0:
			r.reset()
			return actionBackoff
		case c > 0:
			r.observe(ev.from)
			r.claim = ev.from
			r.claimed = true
			return actionEvaluate
		default:
			return actionWait
		}

	case eventTimeout:
		if r.claimed && r.claim == r.self {
			return actionWin
		}
		r.pruneHighest()
		r.claimed = false
		return actionEvaluate
	}

	return actionWait
}

func (r *round) reset() {
	r.candidates = nil
	r.claimed = false
	r.claim = Address{}
}

// pruneHighest drops the strongest candidate, presumed dead after a silent
// wait.
func (r *round) pruneHighest() {
	if len(r.candidates) == 0 {
		return
	}
	top := lo.MaxBy(r.candidates, func(a, b Address) bool {
		return a.Compare(b) > 0
	})
	r.candidates = lo.Without(r.candidates, top)
}

// elect runs rounds until this node wins or learns of a leader.
func (n *Node) elect(ctx context.Context) (bool, Address, error) {
	r := newRound(n.self, n.members.Snapshot())
	act := r.evaluate()

	for {
		if err := ctx.Err(); err != nil {
			return false, Address{}, err
		}

		log.WithFields(log.Fields{
			"action":     act,
			"claim":      r.claim,
			"candidates": len(r.candidates),
		}).Trace("Election step")

		switch act {
		case actionClaim:
			if err := n.group.Broadcast(mustEnvelope(Highest, nil)); err != nil {
				logging.Warningf("Failed to broadcast HIGHEST: %v", err)
			}
			act = actionWait

		case actionWait:
			ev, err := n.awaitClaim(r)
			if err != nil {
				return false, Address{}, err
			}
			act = r.handle(ev)

		case actionEvaluate:
			act = r.evaluate()

		case actionBackoff:
			d := n.cfg.backoff(n.rng)
			logging.Debugf("Weaker claim seen, backing off %v", d)

			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return false, Address{}, ctx.Err()
			}

			// Claims that arrived while asleep decide whether to claim again.
			ev, ok, err := n.drainClaims(r)
			if err != nil {
				return false, Address{}, err
			}
			if ok {
				act = r.handle(ev)
				continue
			}
			act = r.evaluate()

		case actionWin:
			if err := n.group.Broadcast(mustEnvelope(LeaderAnnounce, nil)); err != nil {
				logging.Warningf("Failed to broadcast LEADER: %v", err)
			}
			return true, n.self, nil

		case actionFollow:
			return false, r.leader, nil
		}
	}
}

// awaitClaim waits up to HighestTimeout for a HIGHEST or LEADER. Every peer
// heard from joins the candidate set; other message types are dropped without
// extending the wait.
func (n *Node) awaitClaim(r *round) (event, error) {
	deadline := time.Now().Add(n.cfg.HighestTimeout)

	for {
		env, from, err := n.group.Receive(time.Until(deadline))
		if err != nil {
			if IsTimeout(err) {
				return event{kind: eventTimeout}, nil
			}
			if errors.Is(err, ErrClosed) {
				return event{}, err
			}
			n.drop(err)
			continue
		}

		if from == n.self {
			logging.Tracef("Got %s from own address, skipping", env.Type)
			continue
		}

		r.observe(from)

		switch env.Type {
		case Highest:
			return event{kind: eventHighest, from: from}, nil
		case LeaderAnnounce:
			return event{kind: eventLeader, from: from}, nil
		default:
			n.drop(&UnexpectedMessageError{Type: env.Type, From: from, Where: "election"})
		}
	}
}

// drainClaims consumes the envelopes already queued on the group. Every peer
// heard from joins the candidate set. A LEADER ends the drain and is returned.
func (n *Node) drainClaims(r *round) (event, bool, error) {
	for {
		env, from, err := n.group.Receive(drainPoll)
		if err != nil {
			if IsTimeout(err) {
				return event{}, false, nil
			}
			if errors.Is(err, ErrClosed) {
				return event{}, false, err
			}
			n.drop(err)
			continue
		}

		if from == n.self {
			continue
		}

		r.observe(from)

		if env.Type == LeaderAnnounce {
			return event{kind: eventLeader, from: from}, true, nil
		}
	}
}
