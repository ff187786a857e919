package poller

import (
	"math"
	"time"
)

// Backoff stretches the idle wait after consecutive connection failures.
// The zero value is disabled and keeps the fixed polling cadence.
type Backoff struct {
	Enabled bool
	// Multiplier grows the wait per consecutive failure (default 2).
	Multiplier float64
	// MaxInterval caps the wait (default 5m).
	MaxInterval time.Duration
}

// DefaultBackoff returns an enabled policy with the default factors.
func DefaultBackoff() Backoff {
	return Backoff{
		Enabled:     true,
		Multiplier:  2.0,
		MaxInterval: 5 * time.Minute,
	}
}

// Delay returns the idle wait after the given number of consecutive
// connection failures. The first failure keeps the base interval; each
// further one multiplies it, up to MaxInterval. No jitter: every source
// keeps a predictable cadence.
func (b Backoff) Delay(base time.Duration, failures int) time.Duration {
	if !b.Enabled || failures <= 1 {
		return base
	}

	multiplier := b.Multiplier
	if multiplier <= 1 {
		multiplier = 2.0
	}
	maxInterval := b.MaxInterval
	if maxInterval <= 0 {
		maxInterval = 5 * time.Minute
	}
	if base >= maxInterval {
		return base
	}

	delay := float64(base) * math.Pow(multiplier, float64(failures-1))
	if delay > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(delay)
}
