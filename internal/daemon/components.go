package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/internal/apps/github"
	"github.com/ffupdater/ffupdaterd/internal/background"
	"github.com/ffupdater/ffupdaterd/internal/device"
	"github.com/ffupdater/ffupdaterd/internal/installer"
	"github.com/ffupdater/ffupdaterd/internal/notify"
	"github.com/ffupdater/ffupdaterd/internal/scanner"
	"github.com/ffupdater/ffupdaterd/internal/server"
	"github.com/ffupdater/ffupdaterd/internal/settings"
	"github.com/ffupdater/ffupdaterd/internal/state"
	"github.com/ffupdater/ffupdaterd/pkg/fetch"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

const statusCacheCleanup = time.Hour

// Components is the object graph shared by the daemon and the one-shot
// commands.
type Components struct {
	Settings    *settings.Store
	State       *state.Store
	Client      *http.Client
	Downloader  *fetch.Downloader
	Packages    *apps.PackageCache
	Catalog     *apps.Catalog
	Registry    *device.ManifestRegistry
	Probe       device.Probe
	RPCNotifier *server.RPCNotifier
	Notifier    notify.Sink
	Scanner     *scanner.Scanner
	Updater     *background.AppUpdater
	Work        *background.Work

	log            logger.Logger
	fixedInstaller bool
}

// Build wires the components from the settings file of cfg. Per-app chains
// started by Work live as long as ctx.
func Build(ctx context.Context, cfg *Config, deps *Dependencies) (c *Components, err error) {
	cfg = applyConfigDefaults(cfg)
	deps = applyDependencyDefaults(deps)
	l := deps.Logger

	c = &Components{log: l, fixedInstaller: deps.Installer != nil}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.Settings, err = settings.Open(cfg.SettingsPath, l); err != nil {
		return nil, err
	}
	s := c.Settings.Current()

	if c.Client = deps.Client; c.Client == nil {
		if c.Client, err = newClient(s, cfg, l); err != nil {
			return nil, err
		}
	}
	if c.State, err = state.Open(s.Paths.StateDB); err != nil {
		return nil, err
	}

	c.Downloader = fetch.New(fetch.Options{
		Client:         c.Client,
		Fs:             deps.Fs,
		RateLimitedAPI: s.Network.RateLimitedAPI,
		Logger:         l,
	})
	c.Packages = apps.NewPackageCache(deps.Fs, s.Paths.CacheDir)
	deviceABIs := abisOf(s.Device.ABIs)
	if c.Catalog, err = buildCatalog(s, c.Downloader, c.Packages, deviceABIs); err != nil {
		return nil, err
	}
	c.Registry = device.NewManifestRegistry(deps.Fs, s.Paths.InstalledManifest)
	c.Probe = newProbe(deps.Probe, s, l)

	c.RPCNotifier = server.NewRPCNotifier(l)
	c.Notifier = deps.Notifier
	if c.Notifier == nil {
		c.Notifier = newNotifier(c.RPCNotifier, l)
	}

	inst := deps.Installer
	if inst == nil {
		inst = commandInstaller(s, l)
	}

	c.Scanner = scanner.New(scanner.Options{
		Registry:     c.Registry,
		Catalog:      c.Catalog,
		Reachability: c.Downloader,
		Cache:        apps.NewStatusCache(statusCacheCleanup),
		DeviceABIs:   deviceABIs,
		Logger:       l,
	})
	c.Updater = background.NewAppUpdater(background.AppUpdaterOptions{
		Fs:         deps.Fs,
		Downloader: c.Downloader,
		Installer:  inst,
		Registry:   c.Registry,
		Probe:      c.Probe,
		Notifier:   c.Notifier,
		Logger:     l,
	})
	c.Work = background.NewWork(background.WorkOptions{
		Settings:     c.Settings,
		Probe:        c.Probe,
		Downloads:    c.Downloader,
		Scanner:      c.Scanner,
		NewUnit:      c.Updater.Unit,
		Notifier:     c.Notifier,
		State:        c.State,
		ChainContext: ctx,
		Now:          deps.Now,
		Logger:       l,
	})
	return c, nil
}

// Close releases the state database.
func (c *Components) Close() error {
	if c.State == nil {
		return nil
	}
	return c.State.Close()
}

// ApplySettings pushes settings that live outside the per-cycle read into
// the long-lived components: the data saver flag, the tracked apps and the
// installer command. Paths and network settings are bound when the
// components are built and need a restart.
func (c *Components) ApplySettings(s *settings.Settings) {
	if p, ok := c.Probe.(*device.DBusProbe); ok {
		p.SetDataSaver(s.Device.DataSaver)
	}

	catalog, err := buildCatalog(s, c.Downloader, c.Packages, abisOf(s.Device.ABIs))
	if err != nil {
		c.log.Warning("Daemon: keeping previous app catalog: %v", err)
	} else {
		c.Catalog.Replace(catalog)
	}

	if !c.fixedInstaller {
		c.Updater.SetInstaller(commandInstaller(s, c.log))
	}
}

func commandInstaller(s *settings.Settings, l logger.Logger) installer.Installer {
	if len(s.Installer.Command) == 0 {
		return nil
	}
	return installer.NewCommandInstaller(s.Installer.Command, l)
}

func newClient(s *settings.Settings, cfg *Config, l logger.Logger) (*http.Client, error) {
	pass, err := s.ProxyPassword()
	if err != nil {
		l.Warning("Daemon: proxy password unavailable: %v", err)
	}
	client, err := fetch.NewClient(fetch.NetworkConfig{
		ProxyURL:      s.Network.Proxy,
		ProxyUser:     s.Network.ProxyUser,
		ProxyPassword: pass,
		DNSServer:     s.Network.DNSServer,
		CAFile:        s.Network.CAFile,
		TrustUserCAs:  s.Network.TrustUserCAs,
		UserAgent:     "ffupdaterd/" + cfg.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return client, nil
}

func abisOf(names []string) []apps.ABI {
	if len(names) == 0 {
		return apps.DeviceABIs()
	}
	out := make([]apps.ABI, 0, len(names))
	for _, n := range names {
		out = append(out, apps.ABI(n))
	}
	return out
}

func buildCatalog(s *settings.Settings, f github.Fetcher, packages *apps.PackageCache, deviceABIs []apps.ABI) (*apps.Catalog, error) {
	catalog, err := apps.NewCatalog()
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, ac := range s.Apps {
		supported := deviceABIs
		if len(ac.ABIs) > 0 {
			supported = abisOf(ac.ABIs)
		}
		a, err := github.New(github.Config{
			ID:                apps.ID(ac.ID),
			Owner:             ac.Owner,
			Repo:              ac.Repo,
			AssetPattern:      ac.AssetPattern,
			Signature:         ac.Signature,
			ABIs:              supported,
			Host:              ac.Host,
			TrustedInstallers: ac.TrustedInstallers,
			CacheTTL:          ac.CacheTTL,
			APIBase:           s.Network.RateLimitedAPI,
		}, f, packages, deviceABIs)
		if err != nil {
			errs = append(errs, fmt.Errorf("app %q: %w", ac.ID, err))
			continue
		}
		if err := catalog.Register(a); err != nil {
			errs = append(errs, err)
		}
	}
	return catalog, errors.Join(errs...)
}

func newProbe(p device.Probe, s *settings.Settings, l logger.Logger) device.Probe {
	if p != nil {
		return p
	}
	dp, err := device.NewDBusProbe(s.Device.DataSaver, l)
	if err != nil {
		l.Warning("Daemon: device state unavailable, gating on settings only: %v", err)
		return device.StaticProbe{DataSaver: s.Device.DataSaver}
	}
	return dp
}

func newNotifier(rpc *server.RPCNotifier, l logger.Logger) notify.Sink {
	sinks := notify.MultiSink{notify.NewLogSink(l), rpc}
	desktop, err := notify.NewDesktopSink()
	if err != nil {
		l.Warning("Daemon: desktop notifications unavailable: %v", err)
		return sinks
	}
	return append(sinks, desktop)
}

func defaultFs() afero.Fs {
	return afero.NewOsFs()
}
