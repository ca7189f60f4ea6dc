package bully

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(c *Config)
		expected error
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "no self", mutate: func(c *Config) { c.Self = Address{} }, expected: ErrMissingSelf},
		{name: "zero interval", mutate: func(c *Config) { c.HeartbeatInterval = 0 }, expected: ErrInvalidHeartbeat},
		{name: "timeout below interval", mutate: func(c *Config) { c.HeartbeatTimeout = time.Second }, expected: ErrTimeoutBelowInterval},
		{name: "zero jitter", mutate: func(c *Config) { c.HeartbeatJitter = 0 }, expected: ErrInvalidJitter},
		{name: "zero claim timeout", mutate: func(c *Config) { c.HighestTimeout = 0 }, expected: ErrInvalidHighestTimeout},
		{
			name:     "backoff above claim timeout",
			mutate:   func(c *Config) { c.HighestBackoff = 10 * c.HighestTimeout },
			expected: ErrBackoffAboveTimeout,
		},
		{
			name:   "backoff equal to claim timeout",
			mutate: func(c *Config) { c.HighestBackoff = c.HighestTimeout },
		},
		{name: "zero poll", mutate: func(c *Config) { c.ResponderPoll = 0 }, expected: ErrInvalidResponderPoll},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := DefaultConfig(addr3)
			c.mutate(&cfg)

			err := cfg.Validate()
			if c.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, c.expected)
		})
	}
}

func TestWatchdogWindow(t *testing.T) {
	cfg := DefaultConfig(addr3)
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 1000; i++ {
		d := cfg.watchdog(r)
		if d < cfg.HeartbeatTimeout || d >= cfg.HeartbeatTimeout+cfg.HeartbeatJitter {
			t.Fatalf("watchdog %v outside [%v, %v)", d, cfg.HeartbeatTimeout, cfg.HeartbeatTimeout+cfg.HeartbeatJitter)
		}
		if b := cfg.backoff(r); b < 0 || b >= cfg.HighestTimeout {
			t.Fatalf("backoff %v not below claim timeout %v", b, cfg.HighestTimeout)
		}
	}
}
