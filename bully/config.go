package bully

import (
	"math/rand"
	"time"
)

// Config contains the settings needed to start a node
type Config struct {
	Self Address

	// Leader broadcast cadence
	HeartbeatInterval time.Duration
	// Followers wait HeartbeatTimeout plus up to HeartbeatJitter for a beat
	HeartbeatTimeout time.Duration
	HeartbeatJitter  time.Duration

	// How long a claim stands uncontested before it wins
	HighestTimeout time.Duration
	// Upper bound of the random backoff after a weaker claim
	HighestBackoff time.Duration

	// How often the unicast responder checks whether its generation ended
	ResponderPoll time.Duration
}

// DefaultConfig returns the stock timings. HighestTimeout is 1.5 times the
// heartbeat jitter bound.
func DefaultConfig(self Address) Config {
	jitter := 2 * time.Second

	return Config{
		Self:              self,
		HeartbeatInterval: 4 * time.Second,
		HeartbeatTimeout:  5 * time.Second,
		HeartbeatJitter:   jitter,
		HighestTimeout:    jitter * 3 / 2,
		HighestBackoff:    3 * time.Second,
		ResponderPoll:     250 * time.Millisecond,
	}
}

// Validate checks that the timings make sense together
func (c *Config) Validate() error {
	if c.Self.IsZero() {
		return ErrMissingSelf
	}
	if c.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeat
	}
	if c.HeartbeatTimeout < c.HeartbeatInterval {
		return ErrTimeoutBelowInterval
	}
	if c.HeartbeatJitter <= 0 || c.HighestBackoff <= 0 {
		return ErrInvalidJitter
	}
	if c.HighestTimeout <= 0 {
		return ErrInvalidHighestTimeout
	}
	if c.HighestBackoff > c.HighestTimeout {
		return ErrBackoffAboveTimeout
	}
	if c.ResponderPoll <= 0 {
		return ErrInvalidResponderPoll
	}
	return nil
}

// watchdog draws the follower timeout for one cycle.
func (c *Config) watchdog(r *rand.Rand) time.Duration {
	return c.HeartbeatTimeout + time.Duration(r.Int63n(int64(c.HeartbeatJitter)))
}

// backoff draws the pause after a weaker claim.
func (c *Config) backoff(r *rand.Rand) time.Duration {
	return time.Duration(r.Int63n(int64(c.HighestBackoff)))
}
