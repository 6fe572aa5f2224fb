// Package background runs the periodic update check: gating, scanning and
// chaining the per-application update work, plus the retry bookkeeping that
// keeps the schedule alive.
package background

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/device"
	"github.com/ffupdater/ffupdaterd/internal/gate"
	"github.com/ffupdater/ffupdaterd/internal/notify"
	"github.com/ffupdater/ffupdaterd/internal/scanner"
	"github.com/ffupdater/ffupdaterd/internal/settings"
	"github.com/ffupdater/ffupdaterd/pkg/fetch"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

const (
	// CheckForUpdatesKey identifies the periodic update check.
	CheckForUpdatesKey = "update_checker"
	// DownloaderInstallerKey identifies the chain of per-app updates.
	DownloaderInstallerKey = "ffupdaterd_downloader_and_installer"
)

// ErrUnknownFailure wraps panics recovered from a cycle or a unit.
var ErrUnknownFailure = errors.New("unknown failure")

// MaxRetries is how often a failing cycle is retried before the failure is
// shown to the user.
var MaxRetries = fetch.DefaultRetryPolicy().RetriesWithin(fetch.DefaultRetryBudget)

// State is the step a cycle is in.
type State int32

const (
	StateIdle State = iota
	StateGating
	StateScanning
	StateChaining
	StateCompleted
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGating:
		return "gating"
	case StateScanning:
		return "scanning"
	case StateChaining:
		return "chaining"
	case StateCompleted:
		return "completed"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Result is what a cycle reports to the trigger. There is no failure
// result; an error never removes the periodic job.
type Result int

const (
	Success Result = iota
	// Retry asks for a re-run after the exponential backoff.
	Retry
)

func (r Result) String() string {
	if r == Retry {
		return "retry"
	}
	return "success"
}

// Disposition is the outcome of one cycle.
type Disposition struct {
	Result Result
	// StopSchedule asks the trigger to remove the periodic job.
	StopSchedule bool
	Reason       string
}

func dispositionFor(d gate.Decision) Disposition {
	switch d.Outcome {
	case gate.RetrySoon:
		return Disposition{Result: Retry, Reason: d.Reason}
	case gate.Abandon:
		return Disposition{Result: Success, StopSchedule: true, Reason: d.Reason}
	}
	return Disposition{Result: Success, Reason: d.Reason}
}

// SettingsSource returns the settings to use for a cycle.
type SettingsSource interface {
	Current() *settings.Settings
}

// OutdatedFinder is the scanning step.
type OutdatedFinder interface {
	FindOutdated(ctx context.Context, f scanner.Filters) (*scanner.Report, error)
}

// StateStore persists execution bookkeeping.
type StateStore interface {
	SetLastExecution(ctx context.Context, t time.Time) error
	LastExecution(ctx context.Context) (time.Time, error)
	SaveStatuses(ctx context.Context, list []apps.UpdateStatus) error
}

// UnitFactory turns an outdated application into a chain unit.
type UnitFactory func(c scanner.Candidate, s *settings.Settings) Unit

// WorkOptions configures Work.
type WorkOptions struct {
	Settings  SettingsSource
	Probe     device.Probe
	Downloads gate.DownloadProbe
	Scanner   OutdatedFinder
	Chains    *Chains
	NewUnit   UnitFactory
	Notifier  notify.Sink
	State     StateStore
	// ChainContext bounds the per-app chains, which outlive a cycle.
	ChainContext context.Context
	MaxRetries   int
	Now          func() time.Time
	Logger       logger.Logger
}

// Work executes one background cycle at a time.
type Work struct {
	settings   SettingsSource
	probe      device.Probe
	downloads  gate.DownloadProbe
	scanner    OutdatedFinder
	chains     *Chains
	newUnit    UnitFactory
	notifier   notify.Sink
	state      StateStore
	chainCtx   context.Context
	maxRetries int
	now        func() time.Time
	log        logger.Logger

	current atomic.Int32
}

// NewWork returns a Work with the defaults applied to opts. Chains started
// by a cycle live as long as opts.ChainContext.
func NewWork(opts WorkOptions) *Work {
	if opts.ChainContext == nil {
		opts.ChainContext = context.Background()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = MaxRetries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogSink(opts.Logger)
	}
	if opts.Chains == nil {
		opts.Chains = NewChains(opts.Logger)
	}
	return &Work{
		settings:   opts.Settings,
		probe:      opts.Probe,
		downloads:  opts.Downloads,
		scanner:    opts.Scanner,
		chains:     opts.Chains,
		newUnit:    opts.NewUnit,
		notifier:   opts.Notifier,
		state:      opts.State,
		chainCtx:   opts.ChainContext,
		maxRetries: opts.MaxRetries,
		now:        opts.Now,
		log:        logger.OrNop(opts.Logger),
	}
}

// State returns the step the current or last cycle is in.
func (w *Work) State() State {
	return State(w.current.Load())
}

func (w *Work) setState(s State) {
	w.current.Store(int32(s))
}

// Chains returns the chain runner of the per-app updates.
func (w *Work) Chains() *Chains {
	return w.chains
}

// Run executes one cycle. attempt is the number of consecutive retries
// that preceded it.
func (w *Work) Run(ctx context.Context, attempt int) Disposition {
	w.log.Info("BackgroundWork: Execute background job.")
	d, err := w.safeCycle(ctx)
	if err == nil {
		w.log.Info("BackgroundWork: Finish (%s).", d.Result)
		return d
	}

	if attempt < w.maxRetries {
		w.setState(StateRetrying)
		w.log.Warning("BackgroundWork: Job failed (attempt %d of %d): %v", attempt+1, w.maxRetries, err)
		return Disposition{Result: Retry, Reason: err.Error()}
	}

	w.setState(StateFailed)
	w.log.Error("BackgroundWork: Job failed: %v", err)
	kind := notify.GenericError
	if fetch.Classify(err) == fetch.CategoryNetwork {
		kind = notify.NetworkError
	}
	if nerr := w.notifier.Notify(ctx, notify.New(kind, "", err)); nerr != nil {
		w.log.Warning("BackgroundWork: failed to show notification: %v", nerr)
	}
	// keep the periodic job scheduled
	return Disposition{Result: Success, Reason: err.Error()}
}

func (w *Work) safeCycle(ctx context.Context) (d Disposition, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("BackgroundWork: PANIC: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrUnknownFailure, r)
		}
	}()
	return w.cycle(ctx)
}

func (w *Work) cycle(ctx context.Context) (Disposition, error) {
	w.setState(StateGating)
	now := w.now()
	if err := w.state.SetLastExecution(ctx, now); err != nil {
		w.log.Warning("BackgroundWork: failed to store execution time: %v", err)
	}

	s := w.settings.Current()
	env := w.probe.Snapshot(ctx)
	if d := gate.EvaluateRunRequirements(env, s.Gate(), now); !d.Proceeds() {
		w.setState(StateCompleted)
		w.log.Info("BackgroundWork: Skip, %s.", d)
		return dispositionFor(d), nil
	}

	w.setState(StateScanning)
	for _, c := range []notify.Category{notify.CategoryDownloadError, notify.CategoryAppStatus} {
		if err := w.notifier.Clear(ctx, c); err != nil {
			w.log.Warning("BackgroundWork: failed to clear notifications: %v", err)
		}
	}

	if d := gate.EvaluateUpdateCheckAllowed(env, s.Gate(), w.downloads); !d.Proceeds() {
		w.setState(StateCompleted)
		w.log.Info("BackgroundWork: Skip, %s.", d)
		return dispositionFor(d), nil
	}

	report, err := w.scanner.FindOutdated(ctx, filtersOf(s))
	if err != nil {
		return Disposition{}, err
	}
	if err := w.state.SaveStatuses(ctx, report.Checked); err != nil {
		w.log.Warning("BackgroundWork: failed to store statuses: %v", err)
	}

	w.setState(StateChaining)
	if w.newUnit != nil && len(report.Outdated) > 0 {
		units := make([]Unit, 0, len(report.Outdated))
		for _, c := range report.Outdated {
			units = append(units, w.newUnit(c, s))
		}
		err := w.chains.BeginUnique(w.chainCtx, DownloaderInstallerKey, units)
		if errors.Is(err, ErrChainExists) {
			w.log.Info("BackgroundWork: keep running update chain.")
		} else if err != nil {
			return Disposition{}, err
		}
	}

	w.setState(StateCompleted)
	return Disposition{Result: Success}, nil
}

func filtersOf(s *settings.Settings) scanner.Filters {
	f := scanner.Filters{}
	for _, id := range s.Background.ExcludedApps {
		f.Excluded = append(f.Excluded, apps.ID(id))
	}
	for _, id := range s.Foreground.HiddenApps {
		f.Hidden = append(f.Hidden, apps.ID(id))
	}
	return f
}
