package driver

import (
	"time"

	"github.com/breathlink/breathlink/pkg/envelope"
)

// Default timings
const (
	DefaultReceiveTimeout = time.Second
	DefaultProbeInterval  = time.Second
	DefaultProbeTimeout   = 10 * time.Second
)

// Config controls the timings of the driver
type Config struct {
	// ClientType is sent in the registration envelope
	ClientType string
	// ReceiveTimeout bounds every wait for inbound data, and therefore how
	// long a close request can go unnoticed
	ReceiveTimeout time.Duration
	// ProbeInterval is the minimum time between liveness probes while sharing
	ProbeInterval time.Duration
	// ProbeTimeout is how long a probe may stay unacknowledged
	ProbeTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing is overridden
func DefaultConfig() Config {
	return Config{
		ClientType:     envelope.DefaultClientType,
		ReceiveTimeout: DefaultReceiveTimeout,
		ProbeInterval:  DefaultProbeInterval,
		ProbeTimeout:   DefaultProbeTimeout,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.ClientType == "" {
		c.ClientType = defaults.ClientType
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = defaults.ReceiveTimeout
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = defaults.ProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = defaults.ProbeTimeout
	}
	return c
}
