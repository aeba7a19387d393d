// Package retry wraps node attempts with classified, bounded retry.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy bounds retry behavior. MaxAttempts counts total attempts:
// 3 means one initial call plus two retries, 1 disables retries.
type Policy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	JitterFactor      float64
}

// DefaultPolicy is the standard preset.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          10 * time.Second,
		JitterFactor:      0.1,
	}
}

// NoRetryPolicy disables retries entirely.
func NoRetryPolicy() Policy {
	return Policy{MaxAttempts: 1}
}

// AggressivePolicy retries often with short delays.
func AggressivePolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxDelay:          5 * time.Second,
		JitterFactor:      0.1,
	}
}

// ConservativePolicy retries rarely with long delays.
func ConservativePolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 3.0,
		MaxDelay:          30 * time.Second,
		JitterFactor:      0.1,
	}
}

// RateLimitFriendlyPolicy backs off generously for throttled callees.
func RateLimitFriendlyPolicy() Policy {
	return Policy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          60 * time.Second,
		JitterFactor:      0.2,
	}
}

// HasMoreRetries reports whether another attempt is permitted after
// the given attempt number.
func (p Policy) HasMoreRetries(attempt int) bool {
	return attempt < p.MaxAttempts
}

// CalculateDelay computes the backoff delay before attempt+1, applying
// exponential backoff, the MaxDelay cap and symmetric jitter. The
// result always lies in [0, MaxDelay].
func (p Policy) CalculateDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}

	if p.JitterFactor > 0 {
		//nolint:gosec // weak RNG is fine for jitter
		jitter := delay * p.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}

	if delay < 0 {
		delay = 0
	}
	if max := float64(p.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// CapDelay clamps an externally hinted delay (Retry-After) to MaxDelay.
func (p Policy) CapDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
