// Package device reads the state of the host the daemon runs on: power,
// network and idle conditions, and the installed-application registry.
package device

import (
	"context"
	"time"
)

// Environment is a point-in-time snapshot of the conditions background work
// is gated on.
type Environment struct {
	BatteryLow  bool
	DataSaver   bool
	Metered     bool
	Interactive bool
	// PowerSaveEnabledAt is when power saving was switched on. Zero when it
	// is off or was already on before the daemon started observing.
	PowerSaveEnabledAt time.Time
}

// PowerSaveEnabledWithin reports whether power saving was switched on less
// than window before now.
func (e Environment) PowerSaveEnabledWithin(now time.Time, window time.Duration) bool {
	if e.PowerSaveEnabledAt.IsZero() {
		return false
	}
	return now.Sub(e.PowerSaveEnabledAt) < window
}

// Probe produces Environment snapshots. Conditions that cannot be read are
// reported in their permissive state.
type Probe interface {
	Snapshot(ctx context.Context) Environment
}

// StaticProbe always returns the same snapshot.
type StaticProbe Environment

func (s StaticProbe) Snapshot(context.Context) Environment {
	return Environment(s)
}
