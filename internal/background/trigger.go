package background

import (
	"context"
	"sync"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/scheduler"
	"github.com/ffupdater/ffupdaterd/pkg/fetch"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// AttemptStore persists the retry counter across restarts.
type AttemptStore interface {
	AttemptCount(ctx context.Context) (int, error)
	SetAttemptCount(ctx context.Context, n int) error
}

// Runner executes one cycle.
type Runner interface {
	Run(ctx context.Context, attempt int) Disposition
}

// TriggerOptions configures a Trigger.
type TriggerOptions struct {
	Runner   Runner
	Settings SettingsSource
	Attempts AttemptStore
	Policy   fetch.RetryPolicy
	// Timeout bounds a single cycle. Zero means DefaultCycleTimeout.
	Timeout time.Duration
	Now     func() time.Time
	Logger  logger.Logger
}

// DefaultCycleTimeout bounds a cycle like the platform job scheduler does.
const DefaultCycleTimeout = 10 * time.Minute

// Trigger invokes the background work periodically and applies the retry
// backoff the work asks for.
type Trigger struct {
	ctx      context.Context
	sched    *scheduler.Scheduler
	runner   Runner
	settings SettingsSource
	attempts AttemptStore
	policy   fetch.RetryPolicy
	timeout  time.Duration
	now      func() time.Time
	log      logger.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewTrigger creates a Trigger whose scheduler lives as long as ctx.
func NewTrigger(ctx context.Context, opts TriggerOptions) *Trigger {
	if opts.Policy == (fetch.RetryPolicy{}) {
		opts.Policy = fetch.DefaultRetryPolicy()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultCycleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	t := &Trigger{
		ctx:      ctx,
		runner:   opts.Runner,
		settings: opts.Settings,
		attempts: opts.Attempts,
		policy:   opts.Policy,
		timeout:  opts.Timeout,
		now:      opts.Now,
		log:      logger.OrNop(opts.Logger),
	}
	t.sched = scheduler.New(ctx, t.onTrigger)
	return t
}

func (t *Trigger) event(at time.Time) scheduler.Event {
	uc := t.settings.Current().Background.UpdateCheck
	return scheduler.Event{
		Key:       CheckForUpdatesKey,
		TriggerAt: at,
		Interval:  uc.Interval,
		CronExpr:  uc.Cron,
	}
}

func (t *Trigger) enabled() bool {
	return t.settings.Current().Background.UpdateCheck.Enabled
}

// Start schedules the periodic check, keeping the next run of an already
// scheduled check but applying a changed interval. A disabled check is
// stopped instead.
func (t *Trigger) Start() {
	if !t.enabled() {
		t.Stop()
		return
	}
	t.log.Info("BackgroundWork: Start BackgroundWork")
	t.sched.Update(t.event(t.now()))
}

// ForceRestart cancels the scheduled check and runs it again right away.
func (t *Trigger) ForceRestart() {
	if !t.enabled() {
		t.Stop()
		return
	}
	t.log.Info("BackgroundWork: Force restart BackgroundWork")
	t.sched.Add(t.event(t.now()))
}

// Stop removes the periodic check. A running cycle is not interrupted.
func (t *Trigger) Stop() {
	t.log.Info("BackgroundWork: Stop BackgroundWork")
	t.sched.Remove(CheckForUpdatesKey)
}

// NextRun returns when the check runs next.
func (t *Trigger) NextRun() (time.Time, bool) {
	e, ok := t.sched.Next(CheckForUpdatesKey)
	return e.TriggerAt, ok
}

// IsRunning reports whether a cycle is executing.
func (t *Trigger) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Wait blocks until the running cycle, if any, finished.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

func (t *Trigger) onTrigger(key string) {
	if key != CheckForUpdatesKey {
		return
	}
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		t.log.Info("BackgroundWork: previous run still active, skip.")
		return
	}
	t.running = true
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			t.wg.Done()
		}()
		t.execute()
	}()
}

func (t *Trigger) execute() {
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	attempt, err := t.attempts.AttemptCount(ctx)
	if err != nil {
		t.log.Warning("BackgroundWork: failed to read attempt count: %v", err)
	}
	d := t.runner.Run(ctx, attempt)

	switch {
	case d.Result == Retry:
		delay := t.policy.Backoff(attempt)
		t.log.Info("BackgroundWork: Restart in %s.", delay)
		t.setAttempts(attempt + 1)
		t.sched.Reset(CheckForUpdatesKey, t.now().Add(delay))
	case d.StopSchedule:
		t.setAttempts(0)
		t.Stop()
	default:
		t.setAttempts(0)
	}
}

func (t *Trigger) setAttempts(n int) {
	// the cycle context may be expired, the counter must still be written
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), 5*time.Second)
	defer cancel()
	if err := t.attempts.SetAttemptCount(ctx, n); err != nil {
		t.log.Warning("BackgroundWork: failed to store attempt count: %v", err)
	}
}
