package gate

import (
	"testing"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/device"
)

var now = time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

func permissive() Settings {
	return Settings{UpdateCheckEnabled: true, UpdateCheckOnMetered: true}
}

func TestEvaluateRunRequirements(t *testing.T) {
	tests := []struct {
		name string
		env  device.Environment
		s    Settings
		want Outcome
	}{
		{"all clear", device.Environment{}, permissive(), Proceed},
		{"battery low", device.Environment{BatteryLow: true}, permissive(), RetryAtNextRegularSlot},
		{"data saver", device.Environment{DataSaver: true}, permissive(), RetrySoon},
		{"metered allowed", device.Environment{Metered: true}, permissive(), Proceed},
		{"metered disallowed", device.Environment{Metered: true}, Settings{UpdateCheckEnabled: true}, RetrySoon},
		{"interactive without idle restriction", device.Environment{Interactive: true}, permissive(), Proceed},
		{"interactive with idle restriction", device.Environment{Interactive: true},
			Settings{UpdateCheckEnabled: true, UpdateCheckOnMetered: true, UpdateCheckOnlyWhenIdle: true}, RetrySoon},
		{"power save recent", device.Environment{PowerSaveEnabledAt: now.Add(-10 * time.Minute)}, permissive(), RetryAtNextRegularSlot},
		{"power save old", device.Environment{PowerSaveEnabledAt: now.Add(-2 * time.Hour)}, permissive(), Proceed},
		{"battery wins over metered", device.Environment{BatteryLow: true, Metered: true}, Settings{UpdateCheckEnabled: true}, RetryAtNextRegularSlot},
		{"data saver wins over power save", device.Environment{DataSaver: true, PowerSaveEnabledAt: now}, permissive(), RetrySoon},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := EvaluateRunRequirements(tt.env, tt.s, now)
			if d.Outcome != tt.want {
				t.Fatalf("got %v, want %v", d, tt.want)
			}
			if d.Outcome != Proceed && d.Reason == "" {
				t.Fatal("non-proceed decisions carry a reason")
			}
		})
	}
}

type probe bool

func (p probe) IsAnyDownloadRunning() bool { return bool(p) }

func TestEvaluateUpdateCheckAllowed(t *testing.T) {
	tests := []struct {
		name      string
		env       device.Environment
		s         Settings
		downloads DownloadProbe
		want      Outcome
	}{
		{"allowed", device.Environment{}, permissive(), probe(false), Proceed},
		{"disabled", device.Environment{}, Settings{}, probe(true), Abandon},
		{"download running", device.Environment{}, permissive(), probe(true), RetrySoon},
		{"metered", device.Environment{Metered: true}, Settings{UpdateCheckEnabled: true}, probe(false), RetrySoon},
		{"nil probe", device.Environment{}, permissive(), nil, Proceed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := EvaluateUpdateCheckAllowed(tt.env, tt.s, tt.downloads); d.Outcome != tt.want {
				t.Fatalf("got %v, want %v", d, tt.want)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	d := Decision{RetrySoon, "network is metered"}
	if d.String() != "retry-soon: network is metered" {
		t.Fatalf("unexpected %q", d.String())
	}
	if Outcome(42).String() != "outcome(42)" {
		t.Fatal("unexpected unknown outcome string")
	}
}
