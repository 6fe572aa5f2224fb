package background

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/afero"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/device"
	"github.com/ffupdater/ffupdaterd/internal/installer"
	"github.com/ffupdater/ffupdaterd/internal/notify"
	"github.com/ffupdater/ffupdaterd/internal/scanner"
	"github.com/ffupdater/ffupdaterd/internal/settings"
	"github.com/ffupdater/ffupdaterd/pkg/fetch"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// InstallerName is recorded as the installer of applications this daemon
// updated.
const InstallerName = "ffupdaterd"

// LargeDownloader is the part of fetch.Downloader the updater uses.
type LargeDownloader interface {
	DownloadLarge(ctx context.Context, url, dest string, onProgress fetch.ProgressFunc) *fetch.Handle[int64]
}

// Recorder stores a successful installation in the installed-app registry.
type Recorder interface {
	Record(app apps.InstalledApp) error
}

// AppUpdaterOptions configures the per-app update units.
type AppUpdaterOptions struct {
	Fs         afero.Fs
	Downloader LargeDownloader
	Installer  installer.Installer
	Registry   Recorder
	Probe      device.Probe
	Notifier   notify.Sink
	Logger     logger.Logger
}

// AppUpdater downloads and installs the update of one application, as far
// as the settings allow.
type AppUpdater struct {
	fs         afero.Fs
	downloader LargeDownloader
	mu         sync.RWMutex
	installer  installer.Installer
	registry   Recorder
	probe      device.Probe
	notifier   notify.Sink
	log        logger.Logger
}

// NewAppUpdater returns an updater that writes packages to opts.Fs. A nil
// Installer leaves downloaded packages for the user.
func NewAppUpdater(opts AppUpdaterOptions) *AppUpdater {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NewLogSink(opts.Logger)
	}
	if opts.Probe == nil {
		opts.Probe = device.StaticProbe{}
	}
	return &AppUpdater{
		fs:         opts.Fs,
		downloader: opts.Downloader,
		installer:  opts.Installer,
		registry:   opts.Registry,
		probe:      opts.Probe,
		notifier:   opts.Notifier,
		log:        logger.OrNop(opts.Logger),
	}
}

// Unit returns the chain unit updating c with the settings of the cycle.
func (u *AppUpdater) Unit(c scanner.Candidate, s *settings.Settings) Unit {
	return Unit{
		Name: string(c.Installed.ID),
		Run: func(ctx context.Context) error {
			return u.Update(ctx, c, s)
		},
	}
}

// Update runs the download and installation steps for c.
func (u *AppUpdater) Update(ctx context.Context, c scanner.Candidate, s *settings.Settings) error {
	id := c.Installed.ID
	bg := s.Background

	if !bg.Download.Enabled {
		u.log.Info("AppUpdater: %s: background downloads are disabled.", id)
		u.notify(ctx, notify.New(notify.UpdateAvailable, id, nil))
		return nil
	}
	if !bg.Download.Metered && u.probe.Snapshot(ctx).Metered {
		u.log.Info("AppUpdater: %s: skip download on metered network.", id)
		u.notify(ctx, notify.New(notify.UpdateAvailable, id, nil))
		return nil
	}

	path := c.Adapter.PackagePath(c.Status.LatestVersion)
	if !u.isCached(path) {
		if err := u.download(ctx, c, path); err != nil {
			u.notify(ctx, notify.New(notify.DownloadFailed, id, err))
			return err
		}
	} else {
		u.log.Info("AppUpdater: %s: reuse cached package %s.", id, path)
	}

	inst := u.currentInstaller()
	if !bg.Installation.Enabled || inst == nil {
		u.notify(ctx, notify.New(notify.UpdateDownloaded, id, nil))
		return nil
	}

	if err := inst.Install(ctx, id, path); err != nil {
		u.notify(ctx, notify.New(notify.InstallFailed, id, err))
		if bg.DeleteCacheIfInstallFailed {
			u.remove(path)
		}
		return err
	}

	if u.registry != nil {
		updated := c.Installed
		updated.Version = c.Status.LatestVersion
		updated.Installer = InstallerName
		if err := u.registry.Record(updated); err != nil {
			u.log.Warning("AppUpdater: %s: failed to record installation: %v", id, err)
		}
	}
	if bg.DeleteCacheIfInstallSuccessful {
		u.remove(path)
	}
	u.notify(ctx, notify.New(notify.InstallSucceeded, id, nil))
	return nil
}

// SetInstaller replaces the installer used by updates that have not reached
// the installation step yet.
func (u *AppUpdater) SetInstaller(inst installer.Installer) {
	u.mu.Lock()
	u.installer = inst
	u.mu.Unlock()
}

func (u *AppUpdater) currentInstaller() installer.Installer {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.installer
}

func (u *AppUpdater) download(ctx context.Context, c scanner.Candidate, path string) error {
	id := c.Installed.ID
	u.log.Info("AppUpdater: %s: download %s.", id, c.Status.DownloadURL)
	h := u.downloader.DownloadLarge(ctx, c.Status.DownloadURL, path, func(p fetch.Progress) {
		if p.HasPercent && p.Percent%25 == 0 {
			u.log.Debug("AppUpdater: %s: %d%%", id, p.Percent)
		}
	})
	if _, err := h.Wait(ctx); err != nil {
		return fmt.Errorf("download %s: %w", id, err)
	}
	return nil
}

func (u *AppUpdater) isCached(path string) bool {
	fi, err := u.fs.Stat(path)
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

func (u *AppUpdater) remove(path string) {
	if err := u.fs.Remove(path); err != nil {
		u.log.Warning("AppUpdater: failed to delete %s: %v", path, err)
	}
}

func (u *AppUpdater) notify(ctx context.Context, n notify.Notification) {
	if err := u.notifier.Notify(ctx, n); err != nil {
		u.log.Warning("AppUpdater: failed to show notification: %v", err)
	}
}
