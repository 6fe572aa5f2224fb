package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
)

var ErrInvalidCron = errors.New("invalid cron expression")

// Event is a pending trigger in the scheduler heap.
type Event struct {
	// Key identifies the event. At most one event per key is pending.
	Key string
	// TriggerAt is the wall-clock time the event fires.
	TriggerAt time.Time
	// Interval re-schedules the event this long after it fired.
	Interval time.Duration
	// CronExpr, when set, takes precedence over Interval and aligns the
	// recurrence to the cron slots.
	CronExpr string
}

// Recurring reports whether the event is re-added after it fired.
func (e Event) Recurring() bool {
	return e.CronExpr != "" || e.Interval > 0
}

// NextSlot returns the next regular slot strictly after the given time.
func NextSlot(interval time.Duration, cronExpr string, after time.Time) (time.Time, error) {
	if cronExpr != "" {
		next, err := gronx.NextTickAfter(cronExpr, after, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w %q: %v", ErrInvalidCron, cronExpr, err)
		}
		return next, nil
	}
	if interval <= 0 {
		return time.Time{}, errors.New("interval must be positive")
	}
	return after.Add(interval), nil
}

// ValidateCron checks expr and that it fires at least once a year.
func ValidateCron(expr string) error {
	if !gronx.New().IsValid(expr) {
		return fmt.Errorf("%w %q", ErrInvalidCron, expr)
	}
	if !hasOccurrenceWithinYear(expr, time.Now()) {
		return fmt.Errorf("%w %q: no occurrence within a year", ErrInvalidCron, expr)
	}
	return nil
}

// hasOccurrenceWithinYear checks if a cron expression has any occurrence
// within 1 year from the given time.
func hasOccurrenceWithinYear(expr string, from time.Time) bool {
	next, err := gronx.NextTickAfter(expr, from, false)
	if err != nil {
		return false
	}
	return next.Before(from.Add(365 * 24 * time.Hour))
}
