package fetch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Backoff defaults mirror the platform job scheduler the retry counter
// lives in: exponential, starting at 30 seconds, capped at 5 hours.
const (
	DefaultInitialBackoff = 30 * time.Second
	DefaultMaxBackoff     = 5 * time.Hour
	DefaultBackoffFactor  = 2.0
	// DefaultRetryBudget is the total backoff time retries may consume
	// before a failure is surfaced to the user.
	DefaultRetryBudget = 8 * time.Hour
)

// RetryPolicy is a deterministic exponential backoff schedule.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy returns the policy used by the background job.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: DefaultInitialBackoff,
		MaxInterval:     DefaultMaxBackoff,
		Multiplier:      DefaultBackoffFactor,
	}
}

func (p RetryPolicy) schedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Backoff returns the delay before the retry that follows the given
// zero-based attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	b := p.schedule()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// RetriesWithin returns how many consecutive retries fit into budget.
func (p RetryPolicy) RetriesWithin(budget time.Duration) int {
	b := p.schedule()
	var total time.Duration
	n := 0
	for {
		d := b.NextBackOff()
		if d == backoff.Stop || total+d > budget {
			return n
		}
		total += d
		n++
	}
}
