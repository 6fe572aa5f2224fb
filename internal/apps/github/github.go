// Package github implements the apps.Adapter capability for applications
// published as GitHub release assets.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/pkg/fetch"
)

const (
	DefaultAPIBase = fetch.DefaultRateLimitedAPI
	abiPlaceholder = "{abi}"
)

var (
	ErrNoMatchingAsset = errors.New("no release asset matches")
	ErrInvalidConfig   = errors.New("invalid github app config")
)

// Fetcher is the part of fetch.Downloader the adapter needs.
type Fetcher interface {
	DownloadSmall(ctx context.Context, rawURL string) *fetch.Handle[string]
}

// Config describes one tracked application.
type Config struct {
	ID    apps.ID
	Owner string
	Repo  string
	// AssetPattern is a path.Match pattern for the package asset. {abi} is
	// replaced by the best ABI the device supports.
	AssetPattern string
	Signature    string
	ABIs         []apps.ABI
	// Host is probed for reachability. Defaults to the API host.
	Host              string
	TrustedInstallers []string
	CacheTTL          time.Duration
	APIBase           string
}

type release struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
	Assets     []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// Adapter checks the latest release of a repository.
type Adapter struct {
	cfg        Config
	fetcher    Fetcher
	packages   *apps.PackageCache
	deviceABIs []apps.ABI
	now        func() time.Time
}

var _ apps.Adapter = (*Adapter)(nil)

// New creates an adapter. deviceABIs selects the asset for {abi} patterns.
func New(cfg Config, fetcher Fetcher, packages *apps.PackageCache, deviceABIs []apps.ABI) (*Adapter, error) {
	if cfg.ID == "" || cfg.Owner == "" || cfg.Repo == "" || cfg.AssetPattern == "" {
		return nil, fmt.Errorf("%w: id, owner, repo and asset_pattern are required", ErrInvalidConfig)
	}
	if _, err := path.Match(cfg.AssetPattern, ""); err != nil {
		return nil, fmt.Errorf("%w: asset_pattern: %v", ErrInvalidConfig, err)
	}
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	cfg.APIBase = strings.TrimSuffix(cfg.APIBase, "/")
	if cfg.Host == "" {
		cfg.Host = strings.TrimPrefix(cfg.APIBase, "https://")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = apps.DefaultStatusTTL
	}
	if len(deviceABIs) == 0 {
		deviceABIs = apps.DeviceABIs()
	}
	return &Adapter{
		cfg:        cfg,
		fetcher:    fetcher,
		packages:   packages,
		deviceABIs: deviceABIs,
		now:        time.Now,
	}, nil
}

func (a *Adapter) ID() apps.ID                  { return a.cfg.ID }
func (a *Adapter) SupportedABIs() []apps.ABI    { return a.cfg.ABIs }
func (a *Adapter) ReachabilityHost() string     { return a.cfg.Host }
func (a *Adapter) SignatureFingerprint() string { return a.cfg.Signature }

// InstalledByTrustedSource accepts apps without a recorded installer and
// apps installed by one of the configured installers.
func (a *Adapter) InstalledByTrustedSource(app apps.InstalledApp) bool {
	if app.Installer == "" {
		return true
	}
	for _, t := range a.cfg.TrustedInstallers {
		if t == app.Installer {
			return true
		}
	}
	return false
}

func (a *Adapter) FetchLatestStatus(ctx context.Context, installed apps.InstalledApp, cache *apps.StatusCache) (apps.UpdateStatus, error) {
	if cache != nil {
		if st, ok := cache.Get(a.cfg.ID, installed.Version); ok {
			return st, nil
		}
	}
	rel, err := a.latestRelease(ctx)
	if err != nil {
		return apps.UpdateStatus{}, err
	}
	assetURL, err := a.findAsset(rel)
	if err != nil {
		return apps.UpdateStatus{}, err
	}
	latest := strings.TrimPrefix(rel.TagName, "v")
	st := apps.UpdateStatus{
		App:               a.cfg.ID,
		InstalledVersion:  installed.Version,
		LatestVersion:     latest,
		DownloadURL:       assetURL,
		IsUpdateAvailable: apps.IsNewer(installed.Version, latest),
		FetchedAt:         a.now(),
	}
	if cache != nil {
		cache.Set(st, a.cfg.CacheTTL)
	}
	return st, nil
}

func (a *Adapter) PackagePath(version string) string {
	return a.packages.Path(a.cfg.ID, version)
}

func (a *Adapter) DeleteCachedFilesExcept(version string) error {
	return a.packages.DeleteExcept(a.cfg.ID, version)
}

func (a *Adapter) latestRelease(ctx context.Context) (*release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", a.cfg.APIBase, a.cfg.Owner, a.cfg.Repo)
	body, err := a.fetcher.DownloadSmall(ctx, url).Wait(ctx)
	if err != nil {
		return nil, err
	}
	var rel release
	if err := json.Unmarshal([]byte(body), &rel); err != nil {
		return nil, fmt.Errorf("decode release of %s/%s: %w", a.cfg.Owner, a.cfg.Repo, err)
	}
	if rel.TagName == "" {
		return nil, fmt.Errorf("release of %s/%s has no tag", a.cfg.Owner, a.cfg.Repo)
	}
	return &rel, nil
}

func (a *Adapter) findAsset(rel *release) (string, error) {
	patterns := []string{a.cfg.AssetPattern}
	if strings.Contains(a.cfg.AssetPattern, abiPlaceholder) {
		patterns = patterns[:0]
		for _, abi := range a.deviceABIs {
			if !containsABI(a.cfg.ABIs, abi) {
				continue
			}
			patterns = append(patterns, strings.ReplaceAll(a.cfg.AssetPattern, abiPlaceholder, string(abi)))
		}
	}
	for _, p := range patterns {
		for _, asset := range rel.Assets {
			if ok, _ := path.Match(p, asset.Name); ok {
				return asset.BrowserDownloadURL, nil
			}
		}
	}
	return "", fmt.Errorf("%w %q in release %s", ErrNoMatchingAsset, a.cfg.AssetPattern, rel.TagName)
}

func containsABI(list []apps.ABI, abi apps.ABI) bool {
	if len(list) == 0 {
		return true
	}
	for _, l := range list {
		if l == abi {
			return true
		}
	}
	return false
}
