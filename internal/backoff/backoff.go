// Package backoff computes exponential retry and polling delays.
// Everything here is pure: no clocks, no randomness. Callers that want
// jitter add it at the call site.
package backoff

import (
	"math"
	"time"

	gateway "github.com/eugener/predictgw/internal"
)

// DefaultMultiplier is used when a spec leaves Multiplier unset.
const DefaultMultiplier = 2.0

// Normalize fills defaults: Multiplier < 1 becomes DefaultMultiplier,
// MaxAttempts < 1 becomes 1, negative BaseDelay becomes 0.
func Normalize(spec gateway.BackoffSpec) gateway.BackoffSpec {
	if spec.Multiplier < 1 {
		spec.Multiplier = DefaultMultiplier
	}
	if spec.MaxAttempts < 1 {
		spec.MaxAttempts = 1
	}
	if spec.BaseDelay < 0 {
		spec.BaseDelay = 0
	}
	return spec
}

// Delay returns the wait after the given 0-indexed attempt:
// BaseDelay * Multiplier^attempt. Results saturate at math.MaxInt64
// instead of overflowing, so the sequence is non-decreasing.
func Delay(attempt int, spec gateway.BackoffSpec) time.Duration {
	spec = Normalize(spec)
	if attempt < 0 {
		attempt = 0
	}
	d := float64(spec.BaseDelay) * math.Pow(spec.Multiplier, float64(attempt))
	if d >= math.MaxInt64 || math.IsInf(d, 1) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Escalate multiplies cur by multiplier and caps the result at limit.
// It is the stateful-poller counterpart of Delay.
func Escalate(cur time.Duration, multiplier float64, limit time.Duration) time.Duration {
	if multiplier < 1 {
		multiplier = DefaultMultiplier
	}
	next := float64(cur) * multiplier
	if next >= float64(limit) {
		return limit
	}
	return time.Duration(next)
}
