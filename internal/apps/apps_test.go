package apps

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ffupdater/ffupdaterd/pkg/fetch"
)

type stubAdapter struct{ id ID }

func (s stubAdapter) ID() ID                                     { return s.id }
func (s stubAdapter) SupportedABIs() []ABI                       { return []ABI{ABIX86_64} }
func (s stubAdapter) ReachabilityHost() string                   { return "example.com" }
func (s stubAdapter) SignatureFingerprint() string               { return "" }
func (s stubAdapter) InstalledByTrustedSource(InstalledApp) bool { return true }
func (s stubAdapter) FetchLatestStatus(context.Context, InstalledApp, *StatusCache) (UpdateStatus, error) {
	return UpdateStatus{App: s.id}, nil
}
func (s stubAdapter) PackagePath(string) string            { return "" }
func (s stubAdapter) DeleteCachedFilesExcept(string) error { return nil }

func TestCatalog(t *testing.T) {
	c, err := NewCatalog(stubAdapter{"firefox"}, stubAdapter{"brave"})
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	if err := c.Register(stubAdapter{"brave"}); !errors.Is(err, ErrDuplicateApp) {
		t.Fatalf("expected ErrDuplicateApp, got %v", err)
	}
	if _, err := c.Lookup("chromium"); !errors.Is(err, ErrUnknownApp) {
		t.Fatalf("expected ErrUnknownApp, got %v", err)
	}
	a, err := c.Lookup("firefox")
	if err != nil || a.ID() != "firefox" {
		t.Fatalf("Lookup(firefox) = %v, %v", a, err)
	}
	ids := c.IDs()
	if len(ids) != 2 || ids[0] != "brave" || ids[1] != "firefox" {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestCatalog_Replace(t *testing.T) {
	c, err := NewCatalog(stubAdapter{"firefox"})
	if err != nil {
		t.Fatal(err)
	}
	next, err := NewCatalog(stubAdapter{"brave"})
	if err != nil {
		t.Fatal(err)
	}
	c.Replace(next)
	if _, err := c.Lookup("firefox"); !errors.Is(err, ErrUnknownApp) {
		t.Fatalf("removed app must be unknown, got %v", err)
	}
	if _, err := c.Lookup("brave"); err != nil {
		t.Fatalf("Lookup(brave): %v", err)
	}

	if err := next.Register(stubAdapter{"vivaldi"}); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Lookup("vivaldi"); !errors.Is(err, ErrUnknownApp) {
		t.Fatal("replaced catalog must not share its map with the source")
	}
}

func TestStatusCache(t *testing.T) {
	sc := NewStatusCache(time.Minute)
	if _, ok := sc.Get("firefox", "1.0"); ok {
		t.Fatal("expected empty cache")
	}
	now := time.Now()
	sc.Set(UpdateStatus{App: "firefox", InstalledVersion: "1.0", LatestVersion: "2.0", FetchedAt: now.Add(-time.Minute)}, 0)
	sc.Set(UpdateStatus{App: "firefox", InstalledVersion: "1.1", LatestVersion: "2.1", FetchedAt: now}, time.Hour)

	st, ok := sc.Get("firefox", "1.0")
	if !ok || st.LatestVersion != "2.0" {
		t.Fatalf("Get = %+v, %v", st, ok)
	}
	if _, ok := sc.Get("firefox", "2.0"); ok {
		t.Fatal("status is keyed by installed version")
	}
	latest := sc.Latest()
	if latest["firefox"].LatestVersion != "2.1" {
		t.Fatalf("expected most recent status, got %+v", latest["firefox"])
	}
	sc.Set(UpdateStatus{App: "brave", FetchedAt: now}, time.Nanosecond)
	time.Sleep(time.Millisecond)
	if _, ok := sc.Get("brave", ""); ok {
		t.Fatal("expected expired entry")
	}
	sc.Flush()
	if len(sc.Latest()) != 0 {
		t.Fatal("expected empty cache after flush")
	}
}

func TestPackageCache_DeleteExcept(t *testing.T) {
	fs := afero.NewMemMapFs()
	pc := NewPackageCache(fs, "/cache")
	for _, v := range []string{"4.0", "4.5", "5.0"} {
		if err := afero.WriteFile(fs, pc.Path("firefox", v), []byte("apk"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	other := pc.Path("brave", "1.0")
	if err := afero.WriteFile(fs, other, []byte("apk"), 0o644); err != nil {
		t.Fatal(err)
	}
	stalePart := pc.Path("firefox", "4.5") + fetch.PartialSuffix
	latestPart := pc.Path("firefox", "5.0") + fetch.PartialSuffix
	for _, p := range []string{stalePart, latestPart} {
		if err := afero.WriteFile(fs, p, []byte("ap"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := pc.DeleteExcept("firefox", "5.0"); err != nil {
		t.Fatalf("DeleteExcept: %v", err)
	}
	if exists, _ := afero.Exists(fs, stalePart); exists {
		t.Fatal("partial download of an old version should be removed")
	}
	if exists, _ := afero.Exists(fs, latestPart); !exists {
		t.Fatal("partial download of the latest version must be kept")
	}
	if !pc.Exists("firefox", "5.0") {
		t.Fatal("latest package must be kept")
	}
	for _, v := range []string{"4.0", "4.5"} {
		if pc.Exists("firefox", v) {
			t.Fatalf("package %s should be removed", v)
		}
	}
	if !pc.Exists("brave", "1.0") {
		t.Fatal("other apps must not be touched")
	}
	if err := pc.DeleteExcept("chromium", "1.0"); err != nil {
		t.Fatalf("missing app directory should not fail: %v", err)
	}
	if err := pc.DeleteExcept("brave", ""); err != nil || pc.Exists("brave", "1.0") {
		t.Fatalf("empty keep version should remove all (err %v)", err)
	}
}

func TestPackageCache_PathSanitizesVersion(t *testing.T) {
	pc := NewPackageCache(afero.NewMemMapFs(), "/c")
	if got := pc.Path("firefox", "1.0/../x y"); got != "/c/firefox/firefox_1.0_.._x_y.apk" {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestIsNewer(t *testing.T) {
	tests := []struct {
		installed, latest string
		want              bool
	}{
		{"1.0.0", "1.0.1", true},
		{"v2.0", "1.9", false},
		{"120.0", "120.0", false},
		{"", "1.0", true},
		{"1.0", "", false},
		{"nightly-a", "nightly-b", true},
		{"nightly-a", "nightly-a", false},
	}
	for _, tt := range tests {
		if got := IsNewer(tt.installed, tt.latest); got != tt.want {
			t.Errorf("IsNewer(%q, %q) = %v, want %v", tt.installed, tt.latest, got, tt.want)
		}
	}
}

func TestSupportsOneOf(t *testing.T) {
	if !SupportsOneOf(abisFor("arm64"), []ABI{ABIArm}) {
		t.Fatal("arm64 devices run armeabi-v7a packages")
	}
	if SupportsOneOf(abisFor("amd64"), []ABI{ABIArm64}) {
		t.Fatal("x86_64 devices cannot run arm64 packages")
	}
	if SupportsOneOf(abisFor("riscv64"), []ABI{ABIX86}) {
		t.Fatal("riscv64 devices cannot run x86 packages")
	}
}

func TestAbisFor_UnknownArchitecture(t *testing.T) {
	got := abisFor("riscv64")
	if len(got) != 1 || got[0] != "riscv64" {
		t.Fatalf("abisFor(riscv64) = %v, want [riscv64]", got)
	}
	if !SupportsOneOf(got, []ABI{"riscv64"}) {
		t.Fatal("apps configured for the GOARCH name must match")
	}
}
