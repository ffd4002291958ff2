package config

import (
	"github.com/danmuck/daqctl/internal/dnode"
	"github.com/danmuck/daqctl/internal/transport"
)

// Backoff converts a backoff section; unset fields keep their defaults.
func (b BackoffSection) Backoff() transport.BackoffConfig {
	out := transport.DefaultBackoff()
	if d, _ := ParseDuration("initial", b.Initial); d > 0 {
		out.InitialDelay = d
	}
	if d, _ := ParseDuration("max", b.Max); d > 0 {
		out.MaxDelay = d
	}
	if b.Multiplier >= 1 {
		out.Multiplier = b.Multiplier
	}
	if b.Jitter != nil {
		out.Jitter = *b.Jitter
	}
	return out
}

// DnodeConfig converts a validated emulator file into runtime settings.
func (c EmulatorConfig) DnodeConfig() dnode.Config {
	out := dnode.DefaultConfig()
	out.Listen = c.Listen
	out.Dial = c.Dial
	if d, _ := ParseDuration("dial_timeout", c.DialTimeout); d > 0 {
		out.DialTimeout = d
	}
	out.Backoff = c.Backoff.Backoff()

	s := c.Stream
	out.Stream.Target = s.Target
	if d, _ := ParseDuration("stream.interval", s.Interval); d > 0 {
		out.Stream.Interval = d
	}
	out.Stream.Count = s.Count
	out.Stream.Start = s.Start
	out.Stream.Chaos.Enabled = s.Chaos
	if s.ChaosPDrop > 0 {
		out.Stream.Chaos.PDrop = s.ChaosPDrop
	}
	if s.ChaosPDup > 0 {
		out.Stream.Chaos.PDup = s.ChaosPDup
	}
	out.Stream.Chaos.Seed = s.ChaosSeed
	return out.WithDefaults()
}
