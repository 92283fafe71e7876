package notifications

import "time"

// Default retry policy values.
const (
	DefaultMaxAttempts = 5
	DefaultBaseBackoff = 5 * time.Minute
	DefaultMaxBackoff  = 60 * time.Minute
)

// RetryPolicy computes capped exponential backoff between delivery
// attempts.
type RetryPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultRetryPolicy returns the standard queue policy (5m base,
// 60m cap).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Base: DefaultBaseBackoff, Max: DefaultMaxBackoff}
}

// NextDelay returns base * 2^(attempts-1) capped at Max. Attempts are
// clamped to >= 1 so a zero-attempt item never gets a zero delay.
func (p RetryPolicy) NextDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	delay := p.Base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.Max {
			return p.Max
		}
	}

	if delay > p.Max {
		return p.Max
	}
	return delay
}
