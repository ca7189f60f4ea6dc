package bully

import (
	"errors"
	"fmt"
)

// Transport signals
var (
	// ErrTimeout is returned by Channel.Receive when the deadline passes. It
	// drives failure detection and round termination and is not a fault.
	ErrTimeout = errors.New("receive timed out")
	ErrClosed  = errors.New("channel closed")
)

// Role and client errors
var (
	ErrNoLeader         = errors.New("no leader known")
	ErrGenerationActive = errors.New("previous leader generation has not stopped")
)

// Configuration errors
var (
	ErrInvalidHeartbeat      = errors.New("heartbeat interval must be positive")
	ErrTimeoutBelowInterval  = errors.New("heartbeat timeout must not be below the heartbeat interval")
	ErrInvalidJitter         = errors.New("jitter bounds must be positive")
	ErrInvalidHighestTimeout = errors.New("highest timeout must be positive")
	ErrBackoffAboveTimeout   = errors.New("highest backoff must not exceed the highest timeout")
	ErrInvalidResponderPoll  = errors.New("responder poll must be positive")
	ErrMissingSelf           = errors.New("self address must be set")
)

// IsTimeout reports whether err is the receive deadline signal.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// DecodeError is a malformed inbound datagram. It is logged and dropped.
type DecodeError struct {
	From Address
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed envelope from %s: %v", e.From, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UnexpectedMessageError is a message type that is not valid where it was
// received, e.g. a HEARTBEAT during an election round.
type UnexpectedMessageError struct {
	Type  MessageType
	From  Address
	Where string
}

func (e *UnexpectedMessageError) Error() string {
	return fmt.Sprintf("unexpected %s from %s during %s", e.Type, e.From, e.Where)
}

// AddressOrderingError means two addresses cannot be compared because their
// octet counts differ. It indicates an environment fault.
type AddressOrderingError struct {
	Left  int
	Right int
	Value string
}

func (e *AddressOrderingError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("address %q has %d octets, want %d", e.Value, e.Left, e.Right)
	}
	return fmt.Sprintf("length of addresses is not equal %d != %d", e.Left, e.Right)
}
