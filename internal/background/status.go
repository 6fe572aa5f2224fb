package background

import (
	"context"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/gate"
)

// Status is a snapshot of the background machinery.
type Status struct {
	State           string              `json:"state"`
	Scheduled       bool                `json:"scheduled"`
	NextRun         time.Time           `json:"next_run,omitempty"`
	Running         bool                `json:"running"`
	DownloadRunning bool                `json:"download_running"`
	ChainRunning    bool                `json:"chain_running"`
	ChainCurrent    string              `json:"chain_current,omitempty"`
	ChainWaiting    int                 `json:"chain_waiting"`
	LastExecution   time.Time           `json:"last_execution,omitempty"`
	AttemptCount    int                 `json:"attempt_count"`
	Reliable        bool                `json:"reliable"`
	Apps            []apps.UpdateStatus `json:"apps"`
}

// StatusStore is the persisted state the report reads.
type StatusStore interface {
	LastExecution(ctx context.Context) (time.Time, error)
	AttemptCount(ctx context.Context) (int, error)
	Statuses(ctx context.Context) ([]apps.UpdateStatus, error)
}

// Reporter assembles Status values.
type Reporter struct {
	Trigger   *Trigger
	Work      *Work
	Downloads gate.DownloadProbe
	Store     StatusStore
	Settings  SettingsSource
	Now       func() time.Time
}

// IsReliablyExecuted applies the reliability check to the current settings
// and the stored execution time.
func (r *Reporter) IsReliablyExecuted(ctx context.Context) (bool, error) {
	last, err := r.Store.LastExecution(ctx)
	if err != nil {
		return false, err
	}
	uc := r.Settings.Current().Background.UpdateCheck
	return IsReliablyExecuted(uc.Enabled, uc.Interval, last, r.now()), nil
}

func (r *Reporter) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// Status summarizes the background work for the status command.
func (r *Reporter) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error
	if st.LastExecution, err = r.Store.LastExecution(ctx); err != nil {
		return st, err
	}
	if st.AttemptCount, err = r.Store.AttemptCount(ctx); err != nil {
		return st, err
	}
	if st.Apps, err = r.Store.Statuses(ctx); err != nil {
		return st, err
	}
	uc := r.Settings.Current().Background.UpdateCheck
	st.Reliable = IsReliablyExecuted(uc.Enabled, uc.Interval, st.LastExecution, r.now())

	if r.Work != nil {
		st.State = r.Work.State().String()
		st.ChainCurrent, st.ChainWaiting, st.ChainRunning = r.Work.Chains().Progress(DownloaderInstallerKey)
	}
	if r.Trigger != nil {
		st.NextRun, st.Scheduled = r.Trigger.NextRun()
		st.Running = r.Trigger.IsRunning()
	}
	if r.Downloads != nil {
		st.DownloadRunning = r.Downloads.IsAnyDownloadRunning()
	}
	return st, nil
}
