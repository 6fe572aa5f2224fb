package background

import "time"

const (
	// MinReliabilityInterval floors the interval of the reliability check;
	// retries alone may delay a run by up to the maximum backoff.
	MinReliabilityInterval = 5 * time.Hour
	// ReliabilityMargin is the slack allowed on top of the interval.
	ReliabilityMargin = 24 * time.Hour
)

// IsReliablyExecuted reports whether the periodic check ran recently enough.
// A disabled check or one that never ran is trivially reliable.
func IsReliablyExecuted(enabled bool, interval time.Duration, lastExecution, now time.Time) bool {
	if !enabled || lastExecution.IsZero() {
		return true
	}
	if interval < MinReliabilityInterval {
		interval = MinReliabilityInterval
	}
	return now.Sub(lastExecution) < interval+ReliabilityMargin
}
