package settings

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/ffupdater/ffupdaterd/internal/scheduler"
)

func TestDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	bg := s.Background
	if !bg.UpdateCheck.Enabled || !bg.UpdateCheck.Metered || bg.UpdateCheck.WhenDeviceIdle {
		t.Errorf("unexpected update check defaults %+v", bg.UpdateCheck)
	}
	if bg.UpdateCheck.Interval != 6*time.Hour {
		t.Errorf("default interval = %v", bg.UpdateCheck.Interval)
	}
	if !bg.Download.Enabled || bg.Download.Metered || bg.Installation.Enabled {
		t.Errorf("unexpected download/installation defaults %+v %+v", bg.Download, bg.Installation)
	}
	if !bg.DeleteCacheIfInstallSuccessful || bg.DeleteCacheIfInstallFailed {
		t.Error("unexpected delete cache defaults")
	}
	if s.Network.RateLimitedAPI != DefaultRateLimitedAPI || s.RPC.Listen != DefaultRPCListen {
		t.Error("unexpected network or rpc defaults")
	}
	if s.Paths.StateDB == "" || s.Paths.CacheDir == "" || s.Paths.InstalledManifest == "" {
		t.Errorf("paths must default under the config dir: %+v", s.Paths)
	}
}

func TestParse(t *testing.T) {
	data := []byte(`
background:
  update_check:
    metered: false
    when_device_idle: true
    interval: 12h
    cron: "0 */12 * * *"
  installation:
    enabled: true
  excluded_apps: [brave]
foreground:
  hidden_apps: [chromium]
network:
  proxy: socks5://127.0.0.1:1080
  proxy_user: alice
apps:
  - id: fennec
    owner: mozilla
    repo: fenix
    asset_pattern: "fenix-*-{abi}.apk"
    signature: "AA:BB"
    abis: [arm64-v8a]
    cache_ttl: 30m
`)
	s, err := Parse(data, "/etc/ffupdaterd")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	uc := s.Background.UpdateCheck
	if !uc.Enabled || uc.Metered || !uc.WhenDeviceIdle || uc.Interval != 12*time.Hour || uc.Cron != "0 */12 * * *" {
		t.Errorf("unexpected update check %+v", uc)
	}
	if !s.Background.Installation.Enabled || !s.Background.Download.Enabled {
		t.Error("explicit keys override, missing keys keep defaults")
	}
	if len(s.Background.ExcludedApps) != 1 || s.Foreground.HiddenApps[0] != "chromium" {
		t.Error("unexpected app sets")
	}
	if len(s.Apps) != 1 || s.Apps[0].CacheTTL != 30*time.Minute || s.Apps[0].ABIs[0] != "arm64-v8a" {
		t.Errorf("unexpected apps %+v", s.Apps)
	}
	if s.Paths.StateDB != filepath.Join("/etc/ffupdaterd", "state.db") {
		t.Errorf("unexpected state db path %s", s.Paths.StateDB)
	}
	g := s.Gate()
	if !g.UpdateCheckEnabled || g.UpdateCheckOnMetered || !g.UpdateCheckOnlyWhenIdle {
		t.Errorf("unexpected gate settings %+v", g)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("background: [1, 2"), "/tmp"); err == nil {
		t.Fatal("expected parse error")
	}
	_, err := Parse([]byte("background:\n  update_check:\n    cron: \"61 * * * *\"\n"), "/tmp")
	if !errors.Is(err, scheduler.ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}
}

func TestClampInterval(t *testing.T) {
	tests := []struct {
		in, want time.Duration
	}{
		{0, 6 * time.Hour},
		{time.Minute, 15 * time.Minute},
		{time.Hour, time.Hour},
		{60 * 24 * time.Hour, 28 * 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := ClampInterval(tt.in); got != tt.want {
			t.Errorf("ClampInterval(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestProxyPassword(t *testing.T) {
	origGet := keyringGet
	defer func() { keyringGet = origGet }()

	stored := map[string]string{"alice": "s3cret"}
	keyringGet = func(service, user string) (string, error) {
		if service != KeyringService {
			t.Fatalf("unexpected service %s", service)
		}
		p, ok := stored[user]
		if !ok {
			return "", keyring.ErrNotFound
		}
		return p, nil
	}

	s := Default()
	if p, err := s.ProxyPassword(); err != nil || p != "" {
		t.Fatalf("no proxy user: %q, %v", p, err)
	}
	s.Network.ProxyUser = "alice"
	if p, err := s.ProxyPassword(); err != nil || p != "s3cret" {
		t.Fatalf("ProxyPassword = %q, %v", p, err)
	}
	s.Network.ProxyUser = "bob"
	if p, err := s.ProxyPassword(); err != nil || p != "" {
		t.Fatalf("missing secret: %q, %v", p, err)
	}

	keyringGet = func(string, string) (string, error) { return "", errors.New("locked") }
	if _, err := s.ProxyPassword(); err == nil {
		t.Fatal("expected keyring error")
	}
}

func TestStoreProxyPassword(t *testing.T) {
	keyring.MockInit()
	if err := StoreProxyPassword("alice", "s3cret"); err != nil {
		t.Fatalf("StoreProxyPassword: %v", err)
	}
	s := Default()
	s.Network.ProxyUser = "alice"
	if p, err := s.ProxyPassword(); err != nil || p != "s3cret" {
		t.Fatalf("ProxyPassword = %q, %v", p, err)
	}
}

func TestStore_ReloadAndWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, []byte("background:\n  update_check:\n    interval: 1h\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if st.Current().Background.UpdateCheck.Interval != time.Hour {
		t.Fatal("expected 1h interval")
	}
	if changed, err := st.Reload(); err != nil || changed {
		t.Fatalf("reload without change = %v, %v", changed, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Settings, 4)
	done := make(chan error, 1)
	go func() { done <- st.Watch(ctx, func(s *Settings) { changes <- s }) }()
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("background:\n  update_check:\n    interval: 2h\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	select {
	case s := <-changes:
		if s.Background.UpdateCheck.Interval != 2*time.Hour {
			t.Fatalf("expected 2h after change, got %v", s.Background.UpdateCheck.Interval)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for settings change")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}

func TestStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	st, err := Open(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("background: [broken"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if st.Current() == nil || !st.Current().Background.UpdateCheck.Enabled {
		t.Fatal("previous settings must stay current")
	}
}
