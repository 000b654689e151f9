package backoff

import (
	"math"
	"time"
)

// maxExponent caps the doubling so base * 2^(attempt-1) stays well inside int64 nanoseconds.
const maxExponent = 30

// Strategy defines the interface for backoff calculation algorithms.
// Attempts are 1-based: attempt 1 is the first failed try.
type Strategy interface {
	// Calculate returns the wait before the attempt following the given one.
	// draw yields a uniform value in [0, 1) and is the only source of randomness.
	Calculate(attempt int, base time.Duration, jitter float64, draw func() float64) time.Duration
}

// ExponentialJitterStrategy doubles the base delay per attempt and adds
// uniform jitter in [0, jitter*delay].
type ExponentialJitterStrategy struct{}

// Calculate implements the Strategy interface for exponential backoff with jitter.
func (s ExponentialJitterStrategy) Calculate(attempt int, base time.Duration, jitter float64, draw func() float64) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	exponent := attempt - 1
	if exponent > maxExponent {
		exponent = maxExponent
	}

	delay := float64(base) * pow(2, exponent)

	jitter = clampJitter(jitter)
	if jitter > 0 && draw != nil {
		delay += delay * jitter * clampUnit(draw())
	}

	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// clampJitter ensures jitter is within valid bounds [0, 1].
func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

// clampUnit keeps a random draw inside [0, 1].
func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// pow calculates base^exponent using integer exponentiation.
func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
