package bully

import (
	"context"
	"errors"
	"time"

	"github.com/krantius/bullycast/shared/logging"
	log "github.com/sirupsen/logrus"
)

// heartbeat broadcasts the membership gathered from acks and the sequence
// counter once per interval for as long as gen leads.
func (n *Node) heartbeat(ctx context.Context, gen uint64) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			if !n.role.current(gen) {
				return
			}

			hb := HeartbeatData{
				Members:    n.members.Cycle(n.self),
				SequenceID: n.seq.Current(),
			}

			env, err := NewEnvelope(Heartbeat, hb)
			if err != nil {
				logging.Errorf("Failed to encode heartbeat: %v", err)
				return
			}

			log.WithFields(log.Fields{
				"generation": gen,
				"members":    len(hb.Members),
				"id":         hb.SequenceID,
			}).Debug("Heartbeat")

			if err := n.group.Broadcast(env); err != nil {
				logging.Warningf("Failed to broadcast heartbeat: %v", err)
			} else {
				n.metrics.HeartbeatSent()
				n.metrics.MemberCount(len(hb.Members))
			}

			timer.Reset(n.cfg.HeartbeatInterval)
		case <-ctx.Done():
			logging.Debugf("%s heartbeat stopping", n.self)
			return
		}
	}
}

// respond serves the unicast endpoint while gen leads: message requests are
// sequenced and broadcast, acks feed the next membership set.
func (n *Node) respond(ctx context.Context, gen uint64) {
	for n.role.current(gen) && ctx.Err() == nil {
		env, from, err := n.unicast.Receive(n.cfg.ResponderPoll)
		if err != nil {
			if IsTimeout(err) {
				continue
			}
			if errors.Is(err, ErrClosed) {
				break
			}
			n.drop(err)
			continue
		}

		switch env.Type {
		case MessageRequest:
			var req MessageRequestData
			if err := env.Payload(&req); err != nil {
				n.drop(&DecodeError{From: from, Err: err})
				continue
			}
			if _, err := n.relay(from, req.Payload); err != nil {
				logging.Warningf("Failed to relay message from %s: %v", from, err)
			}
		case Ack:
			n.members.Ack(from)
		default:
			n.drop(&UnexpectedMessageError{Type: env.Type, From: from, Where: "unicast"})
		}
	}

	logging.Debugf("%s responder stopping", n.self)
}

// relay assigns the next sequence id to payload and broadcasts it.
func (n *Node) relay(sender Address, payload string) (MessageData, error) {
	m := MessageData{
		ID:      n.seq.Next(),
		Sender:  sender,
		Payload: payload,
	}
	n.metrics.Sequence(m.ID)

	env, err := NewEnvelope(Message, m)
	if err != nil {
		return m, err
	}
	if err := n.group.Broadcast(env); err != nil {
		return m, err
	}

	n.metrics.Relayed()
	logging.Debugf("Relayed message %d from %s", m.ID, sender)

	return m, nil
}
