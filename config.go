package main

import (
	"os"
	"time"

	"github.com/krantius/bullycast/bully"
	"github.com/pkg/errors"
)

const defaultAPIAddr = ":8000"

// env lists the tunables read at startup. Unset variables keep defaults.
type env struct {
	Addr              string
	APIAddr           string
	HeartbeatInterval string
	HeartbeatTimeout  string
	HeartbeatJitter   string
	HighestBackoff    string
}

func readEnv() env {
	api, ok := os.LookupEnv("NODE_API_ADDR")
	if !ok {
		api = defaultAPIAddr
	}

	return env{
		Addr:              os.Getenv("NODE_ADDR"),
		APIAddr:           api,
		HeartbeatInterval: os.Getenv("NODE_HEARTBEAT_INTERVAL"),
		HeartbeatTimeout:  os.Getenv("NODE_HEARTBEAT_TIMEOUT"),
		HeartbeatJitter:   os.Getenv("NODE_HEARTBEAT_JITTER"),
		HighestBackoff:    os.Getenv("NODE_HIGHEST_BACKOFF"),
	}
}

// nodeConfig applies e over the defaults. The claim timeout follows the
// jitter bound.
func nodeConfig(self bully.Address, e env) (bully.Config, error) {
	cfg := bully.DefaultConfig(self)

	overrides := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"NODE_HEARTBEAT_INTERVAL", e.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"NODE_HEARTBEAT_TIMEOUT", e.HeartbeatTimeout, &cfg.HeartbeatTimeout},
		{"NODE_HEARTBEAT_JITTER", e.HeartbeatJitter, &cfg.HeartbeatJitter},
		{"NODE_HIGHEST_BACKOFF", e.HighestBackoff, &cfg.HighestBackoff},
	}

	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		d, err := time.ParseDuration(o.value)
		if err != nil {
			return bully.Config{}, errors.Wrapf(err, "parse %s", o.name)
		}
		*o.dst = d
	}

	cfg.HighestTimeout = cfg.HeartbeatJitter * 3 / 2

	if err := cfg.Validate(); err != nil {
		return bully.Config{}, err
	}
	return cfg, nil
}
