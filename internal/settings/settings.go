// Package settings loads the daemon configuration from a YAML file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ffupdater/ffupdaterd/internal/gate"
	"github.com/ffupdater/ffupdaterd/internal/scheduler"
)

const (
	DefaultUpdateCheckInterval = 6 * time.Hour
	MinUpdateCheckInterval     = 15 * time.Minute
	MaxUpdateCheckInterval     = 28 * 24 * time.Hour

	DefaultRPCListen      = "127.0.0.1:7437"
	DefaultRateLimitedAPI = "https://api.github.com"

	FileName = "settings.yaml"

	EnvConfigDir = "FFUPDATERD_CONFIG_DIR"
	EnvDebug     = "FFUPDATERD_DEBUG"
)

// Settings is the content of the settings file. Every key is optional;
// missing keys keep the value from Default.
type Settings struct {
	Background Background  `yaml:"background"`
	Foreground Foreground  `yaml:"foreground"`
	Network    Network     `yaml:"network"`
	Device     Device      `yaml:"device"`
	Paths      Paths       `yaml:"paths"`
	RPC        RPC         `yaml:"rpc"`
	Installer  Installer   `yaml:"installer"`
	Apps       []AppConfig `yaml:"apps"`
}

// Background controls the periodic update cycle and what it may do with
// the updates it finds.
type Background struct {
	UpdateCheck                    UpdateCheck  `yaml:"update_check"`
	Download                       Download     `yaml:"download"`
	Installation                   Installation `yaml:"installation"`
	DeleteCacheIfInstallSuccessful bool         `yaml:"delete_cache_if_install_successful"`
	DeleteCacheIfInstallFailed     bool         `yaml:"delete_cache_if_install_failed"`
	ExcludedApps                   []string     `yaml:"excluded_apps"`
}

// UpdateCheck gates and schedules the cycle itself.
type UpdateCheck struct {
	Enabled        bool          `yaml:"enabled"`
	Metered        bool          `yaml:"metered"`
	WhenDeviceIdle bool          `yaml:"when_device_idle"`
	Interval       time.Duration `yaml:"interval"`
	// Cron optionally aligns the regular slots to a cron expression.
	Cron string `yaml:"cron"`
}

// Download allows fetching packages in the background.
type Download struct {
	Enabled bool `yaml:"enabled"`
	Metered bool `yaml:"metered"`
}

// Installation allows handing downloaded packages to the installer.
type Installation struct {
	Enabled bool `yaml:"enabled"`
}

// Foreground holds what the interactive commands show.
type Foreground struct {
	HiddenApps []string `yaml:"hidden_apps"`
}

// Network configures the shared HTTP client. Changes apply after a restart.
type Network struct {
	Proxy          string `yaml:"proxy"`
	ProxyUser      string `yaml:"proxy_user"`
	DNSServer      string `yaml:"dns_server"`
	CAFile         string `yaml:"ca_file"`
	TrustUserCAs   bool   `yaml:"trust_user_cas"`
	RateLimitedAPI string `yaml:"rate_limited_api"`
}

// Device overrides detected device properties.
type Device struct {
	DataSaver bool     `yaml:"data_saver"`
	ABIs      []string `yaml:"abis"`
}

// Paths of the daemon's files. Empty values resolve next to the settings
// file. Changes apply after a restart.
type Paths struct {
	CacheDir          string `yaml:"cache_dir"`
	StateDB           string `yaml:"state_db"`
	InstalledManifest string `yaml:"installed_manifest"`
	LogFile           string `yaml:"log_file"`
}

// RPC configures the control endpoint.
type RPC struct {
	// Listen is the host:port of the websocket endpoint.
	Listen string `yaml:"listen"`
	// Secret is the bearer token of the control endpoint. Empty disables it.
	Secret string `yaml:"secret"`
}

// Installer selects how packages are installed.
type Installer struct {
	// Command is run with the package path appended.
	Command []string `yaml:"command"`
}

// AppConfig describes one tracked application published on GitHub.
type AppConfig struct {
	ID                string        `yaml:"id"`
	Owner             string        `yaml:"owner"`
	Repo              string        `yaml:"repo"`
	AssetPattern      string        `yaml:"asset_pattern"`
	Signature         string        `yaml:"signature"`
	ABIs              []string      `yaml:"abis"`
	Host              string        `yaml:"host"`
	TrustedInstallers []string      `yaml:"trusted_installers"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// Default returns the settings used for keys missing from the file.
func Default() *Settings {
	return &Settings{
		Background: Background{
			UpdateCheck: UpdateCheck{
				Enabled:  true,
				Metered:  true,
				Interval: DefaultUpdateCheckInterval,
			},
			Download:                       Download{Enabled: true},
			DeleteCacheIfInstallSuccessful: true,
		},
		Network: Network{RateLimitedAPI: DefaultRateLimitedAPI},
		RPC:     RPC{Listen: DefaultRPCListen},
	}
}

// Dir returns the configuration directory.
func Dir() (string, error) {
	if d := os.Getenv(EnvConfigDir); d != "" {
		return d, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "ffupdaterd"), nil
}

// Parse decodes data over the defaults and normalizes the result. Paths
// left empty are placed under dir.
func Parse(data []byte, dir string) (*Settings, error) {
	s := Default()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if c := s.Background.UpdateCheck.Cron; c != "" {
		if err := scheduler.ValidateCron(c); err != nil {
			return nil, fmt.Errorf("background.update_check.cron: %w", err)
		}
	}
	s.normalize(dir)
	return s, nil
}

// Load reads the settings file at path. A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	return Parse(data, filepath.Dir(path))
}

func (s *Settings) normalize(dir string) {
	s.Background.UpdateCheck.Interval = ClampInterval(s.Background.UpdateCheck.Interval)
	if s.Network.RateLimitedAPI == "" {
		s.Network.RateLimitedAPI = DefaultRateLimitedAPI
	}
	if s.RPC.Listen == "" {
		s.RPC.Listen = DefaultRPCListen
	}
	if s.Paths.CacheDir == "" {
		s.Paths.CacheDir = filepath.Join(dir, "cache")
	}
	if s.Paths.StateDB == "" {
		s.Paths.StateDB = filepath.Join(dir, "state.db")
	}
	if s.Paths.InstalledManifest == "" {
		s.Paths.InstalledManifest = filepath.Join(dir, "installed.yaml")
	}
}

// ClampInterval bounds an update check interval. Zero means the default.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return DefaultUpdateCheckInterval
	case d < MinUpdateCheckInterval:
		return MinUpdateCheckInterval
	case d > MaxUpdateCheckInterval:
		return MaxUpdateCheckInterval
	}
	return d
}

// Gate returns the preferences the background gates consult.
func (s *Settings) Gate() gate.Settings {
	uc := s.Background.UpdateCheck
	return gate.Settings{
		UpdateCheckEnabled:      uc.Enabled,
		UpdateCheckOnMetered:    uc.Metered,
		UpdateCheckOnlyWhenIdle: uc.WhenDeviceIdle,
	}
}
