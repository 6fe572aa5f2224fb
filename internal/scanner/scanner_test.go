package scanner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

type fakeRegistry struct {
	installed []apps.InstalledApp
	refreshes int
	err       error
}

func (r *fakeRegistry) Refresh(context.Context) error {
	r.refreshes++
	return r.err
}

func (r *fakeRegistry) Installed() []apps.InstalledApp {
	return r.installed
}

type fakeAdapter struct {
	id       apps.ID
	sig      string
	abis     []apps.ABI
	host     string
	trusted  bool
	latest   string
	delay    time.Duration
	err      error
	packages *apps.PackageCache
	fetches  atomic.Int32
}

func newAdapter(id apps.ID, latest string) *fakeAdapter {
	return &fakeAdapter{
		id:      id,
		sig:     "AA:BB:CC",
		abis:    []apps.ABI{apps.ABIX86_64},
		host:    "example.com",
		trusted: true,
		latest:  latest,
	}
}

func (a *fakeAdapter) ID() apps.ID                                     { return a.id }
func (a *fakeAdapter) SupportedABIs() []apps.ABI                       { return a.abis }
func (a *fakeAdapter) ReachabilityHost() string                        { return a.host }
func (a *fakeAdapter) SignatureFingerprint() string                    { return a.sig }
func (a *fakeAdapter) InstalledByTrustedSource(apps.InstalledApp) bool { return a.trusted }
func (a *fakeAdapter) PackagePath(v string) string                     { return a.packages.Path(a.id, v) }

func (a *fakeAdapter) FetchLatestStatus(ctx context.Context, inst apps.InstalledApp, cache *apps.StatusCache) (apps.UpdateStatus, error) {
	a.fetches.Add(1)
	select {
	case <-time.After(a.delay):
	case <-ctx.Done():
		return apps.UpdateStatus{}, ctx.Err()
	}
	if a.err != nil {
		return apps.UpdateStatus{}, a.err
	}
	return apps.UpdateStatus{
		App:               a.id,
		InstalledVersion:  inst.Version,
		LatestVersion:     a.latest,
		IsUpdateAvailable: apps.IsNewer(inst.Version, a.latest),
	}, nil
}

func (a *fakeAdapter) DeleteCachedFilesExcept(v string) error {
	if a.packages == nil {
		return nil
	}
	return a.packages.DeleteExcept(a.id, v)
}

type fakeNet map[string]bool

func (f fakeNet) IsHostReachable(_ context.Context, host string) bool { return f[host] }

var t0 = time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)

func installed(id apps.ID, version string, at time.Duration) apps.InstalledApp {
	return apps.InstalledApp{ID: id, Version: version, Signature: "aabbcc", InstalledAt: t0.Add(at)}
}

func newScanner(t *testing.T, reg apps.Registry, net Reachability, adapters ...apps.Adapter) *Scanner {
	t.Helper()
	cat, err := apps.NewCatalog(adapters...)
	if err != nil {
		t.Fatal(err)
	}
	return New(Options{
		Registry:     reg,
		Catalog:      cat,
		Reachability: net,
		Cache:        apps.NewStatusCache(time.Minute),
		DeviceABIs:   []apps.ABI{apps.ABIX86_64, apps.ABIX86},
		Logger:       logger.NewMockLogger(),
	})
}

func outdatedIDs(r *Report) []apps.ID {
	ids := make([]apps.ID, len(r.Outdated))
	for i, c := range r.Outdated {
		ids[i] = c.Installed.ID
	}
	return ids
}

func TestFindOutdated_ExcludesUnverifiedSignature(t *testing.T) {
	a := newAdapter("firefox", "2.0")
	inst := installed("firefox", "1.0", 0)
	inst.Signature = "deadbeef"
	reg := &fakeRegistry{installed: []apps.InstalledApp{inst}}
	s := newScanner(t, reg, fakeNet{"example.com": true}, a)

	r, err := s.FindOutdated(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("FindOutdated: %v", err)
	}
	if len(r.Outdated) != 0 || len(r.Checked) != 0 {
		t.Fatalf("unverified install must not be reported, got %v", outdatedIDs(r))
	}
	if a.fetches.Load() != 0 {
		t.Fatal("unverified install must not be checked")
	}
	if reg.refreshes != 1 {
		t.Fatal("expected registry refresh")
	}
}

func TestFindOutdated_OrderedByInstallTime(t *testing.T) {
	a1 := newAdapter("a1", "2.0")
	a1.delay = 30 * time.Millisecond
	a2 := newAdapter("a2", "2.0")
	a2.delay = 10 * time.Millisecond
	a3 := newAdapter("a3", "2.0")
	reg := &fakeRegistry{installed: []apps.InstalledApp{
		installed("a3", "1.0", 3*time.Hour),
		installed("a1", "1.0", time.Hour),
		installed("a2", "1.0", 2*time.Hour),
	}}
	s := newScanner(t, reg, fakeNet{"example.com": true}, a1, a2, a3)

	r, err := s.FindOutdated(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("FindOutdated: %v", err)
	}
	got := outdatedIDs(r)
	if len(got) != 3 || got[0] != "a1" || got[1] != "a2" || got[2] != "a3" {
		t.Fatalf("expected [a1 a2 a3], got %v", got)
	}
}

func TestFindOutdated_Filters(t *testing.T) {
	excluded := newAdapter("excluded", "2.0")
	hidden := newAdapter("hidden", "2.0")
	wrongABI := newAdapter("arm-only", "2.0")
	wrongABI.abis = []apps.ABI{apps.ABIArm64}
	foreign := newAdapter("foreign", "2.0")
	foreign.trusted = false
	offline := newAdapter("offline", "2.0")
	offline.host = "down.example.com"
	current := newAdapter("current", "1.0")
	wanted := newAdapter("wanted", "2.0")

	var list []apps.InstalledApp
	for _, id := range []apps.ID{"excluded", "hidden", "arm-only", "foreign", "offline", "current", "wanted", "untracked"} {
		list = append(list, installed(id, "1.0", 0))
	}
	s := newScanner(t, &fakeRegistry{installed: list}, fakeNet{"example.com": true},
		excluded, hidden, wrongABI, foreign, offline, current, wanted)

	r, err := s.FindOutdated(context.Background(), Filters{Excluded: []apps.ID{"excluded"}, Hidden: []apps.ID{"hidden"}})
	if err != nil {
		t.Fatalf("FindOutdated: %v", err)
	}
	if got := outdatedIDs(r); len(got) != 1 || got[0] != "wanted" {
		t.Fatalf("expected [wanted], got %v", got)
	}
	if len(r.Checked) != 2 {
		t.Fatalf("expected current and wanted to be checked, got %+v", r.Checked)
	}
	for _, a := range []*fakeAdapter{excluded, hidden, wrongABI, foreign, offline} {
		if a.fetches.Load() != 0 {
			t.Errorf("%s should have been filtered before fetching", a.id)
		}
	}
}

func TestFindOutdated_CleansPackageCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	pc := apps.NewPackageCache(fs, "/cache")
	for _, v := range []string{"4.0", "4.9", "5.0"} {
		if err := afero.WriteFile(fs, pc.Path("x", v), []byte("pkg"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	x := newAdapter("x", "5.0")
	x.packages = pc
	s := newScanner(t, &fakeRegistry{installed: []apps.InstalledApp{installed("x", "5.0", 0)}}, fakeNet{"example.com": true}, x)

	r, err := s.FindOutdated(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("FindOutdated: %v", err)
	}
	if len(r.Outdated) != 0 {
		t.Fatal("x is up to date")
	}
	if !pc.Exists("x", "5.0") {
		t.Fatal("package of the latest version must be kept")
	}
	if pc.Exists("x", "4.0") || pc.Exists("x", "4.9") {
		t.Fatal("older packages must be removed")
	}
}

func TestFindOutdated_FetchErrorFailsScan(t *testing.T) {
	broken := newAdapter("broken", "2.0")
	broken.err = errors.New("boom")
	s := newScanner(t, &fakeRegistry{installed: []apps.InstalledApp{installed("broken", "1.0", 0)}}, fakeNet{"example.com": true}, broken)

	if _, err := s.FindOutdated(context.Background(), Filters{}); !errors.Is(err, broken.err) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestFindOutdated_RegistryError(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("unreadable")}
	s := newScanner(t, reg, nil)
	if _, err := s.FindOutdated(context.Background(), Filters{}); !errors.Is(err, reg.err) {
		t.Fatalf("expected registry error, got %v", err)
	}
}

func TestSignatureMatches(t *testing.T) {
	if !signatureMatches("AA:BB:CC", "aabbcc") {
		t.Fatal("fingerprints compare without separators and case")
	}
	if signatureMatches("", "") {
		t.Fatal("an empty fingerprint never verifies")
	}
}
