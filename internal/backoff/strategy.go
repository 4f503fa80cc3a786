// Package backoff provides the wait calculators used when spreading
// recovery delays across concurrent callers.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy computes the wait before a retry attempt.
type Strategy interface {
	// Calculate returns the wait for the given attempt number.
	Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// ExponentialJitter grows the base wait geometrically and adds uniform
// jitter so that simultaneous failures do not retry in lockstep.
type ExponentialJitter struct{}

func (ExponentialJitter) Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	switch {
	case attempt < 0:
		attempt = 0
	case attempt > 30:
		// keeps the growth factor inside float range
		attempt = 30
	}

	wait := capDuration(time.Duration(float64(base)*pow(multiplier, attempt)), max)

	if jitter <= 0 {
		return wait
	}
	if jitter > 1 {
		jitter = 1
	}
	extra := time.Duration(rand.Float64() * jitter * float64(wait))
	return capDuration(wait+extra, max)
}

// DecorrelatedJitter implements the AWS decorrelated jitter scheme: a
// uniform pick between base and min(max, base * 3^attempt). It produces
// smoother tail latencies than exponential jitter under sustained failure.
type DecorrelatedJitter struct{}

func (DecorrelatedJitter) Calculate(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 10 {
		attempt = 10
	}

	lower := float64(base)
	upper := lower * pow(3.0, attempt)
	if upper < lower || upper > float64(max) {
		upper = float64(max)
	}
	if upper < lower {
		upper = lower
	}
	return capDuration(time.Duration(lower+rand.Float64()*(upper-lower)), max)
}

// capDuration clamps d to [0, max], mapping overflowed negatives to max.
func capDuration(d, max time.Duration) time.Duration {
	if d < 0 || d > max {
		return max
	}
	return d
}

// pow is an integer-exponent power; the strategies never need math.Pow's
// generality.
func pow(base float64, exponent int) float64 {
	out := 1.0
	for ; exponent > 0; exponent-- {
		out *= base
	}
	return out
}
