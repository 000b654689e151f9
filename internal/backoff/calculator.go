package backoff

import (
	"time"
)

// Calculator binds a Strategy to a fixed base delay and jitter factor.
type Calculator struct {
	strategy Strategy
	base     time.Duration
	jitter   float64
}

// NewCalculator creates a new backoff calculator with the specified strategy.
func NewCalculator(strategy Strategy, base time.Duration, jitter float64) *Calculator {
	if strategy == nil {
		strategy = ExponentialJitterStrategy{}
	}
	return &Calculator{
		strategy: strategy,
		base:     base,
		jitter:   clampJitter(jitter),
	}
}

// Calculate computes the backoff duration for the given 1-based attempt.
func (c *Calculator) Calculate(attempt int, draw func() float64) time.Duration {
	return c.strategy.Calculate(attempt, c.base, c.jitter, draw)
}

// Nominal returns the delay for attempt without any jitter.
func (c *Calculator) Nominal(attempt int) time.Duration {
	return c.strategy.Calculate(attempt, c.base, 0, nil)
}

// Base returns the configured base delay.
func (c *Calculator) Base() time.Duration {
	return c.base
}

// Jitter returns the clamped jitter factor.
func (c *Calculator) Jitter() float64 {
	return c.jitter
}

// Exponential is a convenience for the default exponential-with-jitter strategy.
func Exponential(attempt int, base time.Duration, jitter float64, draw func() float64) time.Duration {
	return ExponentialJitterStrategy{}.Calculate(attempt, base, jitter, draw)
}
