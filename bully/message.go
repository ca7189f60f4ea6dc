package bully

import (
	"encoding/json"
	"fmt"
)

// MessageType is the envelope discriminator. It travels by name.
type MessageType int

const (
	Heartbeat MessageType = iota + 1
	LeaderAnnounce
	MessageRequest
	Message
	Election
	Highest
	Ack
	Welcome
)

var messageTypeNames = map[MessageType]string{
	Heartbeat:      "HEARTBEAT",
	LeaderAnnounce: "LEADER",
	MessageRequest: "MESSAGE_REQUEST",
	Message:        "MESSAGE",
	Election:       "ELECTION",
	Highest:        "HIGHEST",
	Ack:            "ACK",
	Welcome:        "WELCOME",
}

func (t MessageType) String() string {
	if n, ok := messageTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

func (t MessageType) MarshalText() ([]byte, error) {
	n, ok := messageTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("unknown message type %d", int(t))
	}
	return []byte(n), nil
}

func (t *MessageType) UnmarshalText(text []byte) error {
	for k, v := range messageTypeNames {
		if v == string(text) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown message type %q", text)
}

// Envelope is the unit of the wire protocol.
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HeartbeatData is replicated leader state.
type HeartbeatData struct {
	Members    []Address `json:"memberlist"`
	SequenceID uint64    `json:"id"`
}

// MessageData is a sequenced chat message broadcast by the leader.
type MessageData struct {
	ID      uint64  `json:"id"`
	Sender  Address `json:"sender"`
	Payload string  `json:"msg"`
}

// MessageRequestData asks the leader to sequence and broadcast a message.
type MessageRequestData struct {
	Payload string `json:"msg"`
}

// ElectionData says why an election was called.
type ElectionData struct {
	Reason string `json:"reason"`
}

// NewEnvelope builds an envelope, encoding data when it is not nil.
func NewEnvelope(t MessageType, data interface{}) (Envelope, error) {
	env := Envelope{Type: t}
	if data == nil {
		return env, nil
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	env.Data = raw
	return env, nil
}

// Payload decodes the envelope data into v.
func (e Envelope) Payload(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s carries no payload", e.Type)
	}
	return json.Unmarshal(e.Data, v)
}

// Encode serializes an envelope for the wire.
func Encode(e Envelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a datagram. Callers wrap failures in a DecodeError.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Envelope{}, err
	}
	if e.Type == 0 {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	return e, nil
}

func mustEnvelope(t MessageType, data interface{}) Envelope {
	env, err := NewEnvelope(t, data)
	if err != nil {
		panic(err)
	}
	return env
}
