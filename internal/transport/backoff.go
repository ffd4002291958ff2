package transport

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       true,
	}
}

func (c BackoffConfig) WithDefaults() BackoffConfig {
	d := DefaultBackoff()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.Multiplier < 1.0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	return c
}

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if attempt <= 1 {
		return cfg.InitialDelay
	}
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay = delay * f
	}
	return time.Duration(delay)
}

// Wait sleeps for the attempt's delay or until ctx is done.
func Wait(ctx context.Context, cfg BackoffConfig, attempt int, rng *rand.Rand) error {
	t := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
