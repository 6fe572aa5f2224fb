// Package gate decides whether a background cycle may run under the current
// device conditions. Evaluation is pure: the same inputs give the same
// Decision.
package gate

import (
	"fmt"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/device"
)

// PowerSaveWindow is how long after power saving was switched on cycles are
// deferred to the next regular slot.
const PowerSaveWindow = time.Hour

// Outcome is the scheduling disposition of a gate.
type Outcome int

const (
	Proceed Outcome = iota
	// RetrySoon reschedules with the short exponential backoff.
	RetrySoon
	// RetryAtNextRegularSlot waits for the next periodic run.
	RetryAtNextRegularSlot
	// Abandon stops the periodic schedule.
	Abandon
)

func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case RetrySoon:
		return "retry-soon"
	case RetryAtNextRegularSlot:
		return "retry-at-next-regular-slot"
	case Abandon:
		return "abandon"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Decision is an Outcome with the reason it was reached.
type Decision struct {
	Outcome Outcome
	Reason  string
}

func (d Decision) Proceeds() bool {
	return d.Outcome == Proceed
}

func (d Decision) String() string {
	if d.Reason == "" {
		return d.Outcome.String()
	}
	return d.Outcome.String() + ": " + d.Reason
}

func proceed() Decision { return Decision{Outcome: Proceed} }

// Settings are the user preferences the gates consult.
type Settings struct {
	UpdateCheckEnabled      bool
	UpdateCheckOnMetered    bool
	UpdateCheckOnlyWhenIdle bool
}

// DownloadProbe reports in-flight large downloads.
type DownloadProbe interface {
	IsAnyDownloadRunning() bool
}

// EvaluateRunRequirements checks the device conditions in priority order.
// The first matching condition decides.
func EvaluateRunRequirements(env device.Environment, s Settings, now time.Time) Decision {
	switch {
	case env.BatteryLow:
		return Decision{RetryAtNextRegularSlot, "battery is low"}
	case env.DataSaver:
		return Decision{RetrySoon, "data saver is enabled"}
	case env.Metered && !s.UpdateCheckOnMetered:
		return Decision{RetrySoon, "network is metered"}
	case s.UpdateCheckOnlyWhenIdle && env.Interactive:
		return Decision{RetrySoon, "device is not idle"}
	case env.PowerSaveEnabledWithin(now, PowerSaveWindow):
		return Decision{RetryAtNextRegularSlot, "power save mode was enabled recently"}
	}
	return proceed()
}

// EvaluateUpdateCheckAllowed runs after the run requirements passed and
// before anything touches the network.
func EvaluateUpdateCheckAllowed(env device.Environment, s Settings, downloads DownloadProbe) Decision {
	switch {
	case !s.UpdateCheckEnabled:
		return Decision{Abandon, "background update check is disabled"}
	case downloads != nil && downloads.IsAnyDownloadRunning():
		return Decision{RetrySoon, "other downloads are running"}
	case env.Metered && !s.UpdateCheckOnMetered:
		return Decision{RetrySoon, "no unmetered network available for update check"}
	}
	return proceed()
}
