// Package daemon assembles the update daemon and manages its lifecycle:
// settings, state, downloader, scanner, background work, trigger and the
// control endpoint.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/internal/device"
	"github.com/ffupdater/ffupdaterd/internal/installer"
	"github.com/ffupdater/ffupdaterd/internal/notify"
	"github.com/ffupdater/ffupdaterd/internal/server"
	"github.com/ffupdater/ffupdaterd/internal/settings"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

var (
	// ErrAlreadyRunning is returned when Start is called on a running daemon.
	ErrAlreadyRunning = errors.New("daemon is already running")
	// ErrNotRunning is returned when Shutdown is called on a stopped daemon.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrShutdownTimeout is returned when shutdown exceeds the configured timeout.
	ErrShutdownTimeout = errors.New("shutdown timed out")
)

const DefaultShutdownTimeout = 30 * time.Second

// Config holds the configuration for the daemon runner.
type Config struct {
	// SettingsPath is the settings file. Empty means settings.FileName in
	// settings.Dir().
	SettingsPath string

	Version   string
	Commit    string
	BuildType string

	// ShutdownTimeout bounds waiting for the running cycle on shutdown.
	ShutdownTimeout time.Duration
}

// Dependencies replace the platform collaborators, mostly for tests. Nil
// fields get the production implementation.
type Dependencies struct {
	Fs        afero.Fs
	Logger    logger.Logger
	Client    *http.Client
	Probe     device.Probe
	Notifier  notify.Sink
	Installer installer.Installer
	Now       func() time.Time
}

// Runner manages the daemon lifecycle.
type Runner struct {
	config *Config
	deps   *Dependencies

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	trigger  *background.Trigger
	reporter *background.Reporter
	addr     string
}

// New creates a runner. Nil config or deps select the defaults.
func New(config *Config, deps *Dependencies) *Runner {
	return &Runner{
		config: applyConfigDefaults(config),
		deps:   applyDependencyDefaults(deps),
	}
}

func applyConfigDefaults(config *Config) *Config {
	cfg := &Config{}
	if config != nil {
		*cfg = *config
	}
	if cfg.SettingsPath == "" {
		if dir, err := settings.Dir(); err == nil {
			cfg.SettingsPath = filepath.Join(dir, settings.FileName)
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return cfg
}

func applyDependencyDefaults(deps *Dependencies) *Dependencies {
	d := &Dependencies{}
	if deps != nil {
		*d = *deps
	}
	if d.Fs == nil {
		d.Fs = defaultFs()
	}
	if d.Logger == nil {
		d.Logger = logger.NewNopLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (r *Runner) Config() *Config {
	return r.config
}

// Reporter returns the status reporter of the running daemon.
func (r *Runner) Reporter() *background.Reporter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reporter
}

// Trigger returns the trigger of the running daemon.
func (r *Runner) Trigger() *background.Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trigger
}

// Addr returns the bound address of the control endpoint, empty while it
// is disabled.
func (r *Runner) Addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Start builds the components, schedules the background check and blocks
// until ctx is cancelled or Shutdown is called.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l := r.deps.Logger

	comp, err := Build(ctx, r.config, r.deps)
	if err != nil {
		r.mu.Unlock()
		cancel()
		return err
	}
	trigger := background.NewTrigger(ctx, background.TriggerOptions{
		Runner:   comp.Work,
		Settings: comp.Settings,
		Attempts: comp.State,
		Now:      r.deps.Now,
		Logger:   l,
	})
	reporter := &background.Reporter{
		Trigger:   trigger,
		Work:      comp.Work,
		Downloads: comp.Downloader,
		Store:     comp.State,
		Settings:  comp.Settings,
		Now:       r.deps.Now,
	}
	rpc := server.NewRPCServer(&server.RPCConfig{
		Secret:    comp.Settings.Current().RPC.Secret,
		Version:   r.config.Version,
		Commit:    r.config.Commit,
		BuildType: r.config.BuildType,
	}, trigger, reporter, comp.RPCNotifier, l)

	var srv *server.Server
	if comp.Settings.Current().RPC.Secret != "" {
		srv = server.NewServer(comp.Settings.Current().RPC.Listen, rpc, l)
		addr, err := srv.Listen()
		if err != nil {
			r.mu.Unlock()
			cancel()
			rpc.Close()
			_ = comp.Close()
			return err
		}
		r.addr = addr.String()
	} else {
		l.Info("Daemon: rpc.secret is empty, control endpoint disabled.")
	}

	r.running = true
	r.cancel = cancel
	r.done = make(chan struct{})
	r.trigger = trigger
	r.reporter = reporter
	done := r.done
	r.mu.Unlock()

	defer func() {
		cancel()
		trigger.Wait()
		comp.Work.Chains().Wait()
		rpc.Close()
		if err := comp.Close(); err != nil {
			l.Warning("Daemon: close state: %v", err)
		}
		r.mu.Lock()
		r.running = false
		r.addr = ""
		r.mu.Unlock()
		close(done)
	}()

	l.Info("Daemon: started, settings at %s", comp.Settings.Path())
	trigger.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := comp.Settings.Watch(gctx, func(s *settings.Settings) {
			l.Info("Daemon: settings changed, restarting background check.")
			comp.ApplySettings(s)
			trigger.ForceRestart()
		})
		if err != nil {
			l.Warning("Daemon: settings watcher stopped: %v", err)
		}
		return nil
	})
	if srv != nil {
		g.Go(func() error {
			return srv.Start(gctx)
		})
	}
	return g.Wait()
}

// Shutdown stops a running daemon and waits until Start returned.
func (r *Runner) Shutdown() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(r.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}
