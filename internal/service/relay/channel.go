// Package relay keeps a duplex message channel to a remote signal peer
// alive and exchanges framed messages over it.
package relay

import (
	"context"
	"math"
	"time"
)

// Channel is one open duplex connection. Receive blocks until a frame
// arrives or the channel fails; Close unblocks it.
type Channel interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a fresh Channel.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

type DialerFunc func(ctx context.Context) (Channel, error)

func (f DialerFunc) Dial(ctx context.Context) (Channel, error) { return f(ctx) }

// Config holds the reconnect policy and the offline queue bound.
type Config struct {
	BaseDelay     time.Duration `yaml:"base_delay" default:"1s"`
	GrowthFactor  float64       `yaml:"growth_factor" default:"1.5" validate:"gte=1"`
	MaxDelay      time.Duration `yaml:"max_delay" default:"30s"`
	MaxAttempts   int           `yaml:"max_attempts" default:"10" validate:"gte=1"`
	OutboundQueue int           `yaml:"outbound_queue" default:"500" validate:"gte=1"`
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.GrowthFactor < 1 {
		c.GrowthFactor = 1.5
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.OutboundQueue <= 0 {
		c.OutboundQueue = 500
	}
	return c
}

// Backoff is the delay before reconnect attempt n (1-based):
// min(MaxDelay, BaseDelay * GrowthFactor^n).
func (c Config) Backoff(attempt int) time.Duration {
	d := float64(c.BaseDelay) * math.Pow(c.GrowthFactor, float64(attempt))
	if d > float64(c.MaxDelay) || math.IsInf(d, 0) {
		return c.MaxDelay
	}
	return time.Duration(d)
}
