// Package scanner finds the tracked applications that have an update
// available.
package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// DefaultParallelism bounds concurrent probes and status fetches.
const DefaultParallelism = 4

// Reachability probes update-check hosts.
type Reachability interface {
	IsHostReachable(ctx context.Context, host string) bool
}

// Filters are the user settings applied to a scan.
type Filters struct {
	Excluded []apps.ID
	Hidden   []apps.ID
}

// Candidate is one tracked application together with its adapter and the
// status found for it.
type Candidate struct {
	Installed apps.InstalledApp
	Adapter   apps.Adapter
	Status    apps.UpdateStatus
}

// Report is the result of a scan.
type Report struct {
	// Outdated is ordered by installation time, oldest first.
	Outdated []Candidate
	// Checked holds the status of every application that was checked.
	Checked []apps.UpdateStatus
}

// Options configures a Scanner.
type Options struct {
	Registry     apps.Registry
	Catalog      *apps.Catalog
	Reachability Reachability
	Cache        *apps.StatusCache
	DeviceABIs   []apps.ABI
	Parallelism  int
	Logger       logger.Logger
}

// Scanner finds the installed applications that have an update.
type Scanner struct {
	registry    apps.Registry
	catalog     *apps.Catalog
	net         Reachability
	cache       *apps.StatusCache
	deviceABIs  []apps.ABI
	parallelism int
	log         logger.Logger
}

// New returns a Scanner. Missing DeviceABIs default to those of the host.
func New(opts Options) *Scanner {
	if opts.DeviceABIs == nil {
		opts.DeviceABIs = apps.DeviceABIs()
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	return &Scanner{
		registry:    opts.Registry,
		catalog:     opts.Catalog,
		net:         opts.Reachability,
		cache:       opts.Cache,
		deviceABIs:  opts.DeviceABIs,
		parallelism: opts.Parallelism,
		log:         logger.OrNop(opts.Logger),
	}
}

// FindOutdated refreshes the registry, filters the installed applications
// and fetches their latest status. Cached packages of every checked
// application are pruned down to its latest version.
func (s *Scanner) FindOutdated(ctx context.Context, f Filters) (*Report, error) {
	if err := s.registry.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("refresh installed apps: %w", err)
	}

	candidates := s.eligible(f)
	candidates = s.reachable(ctx, candidates)
	if err := s.fetchStatuses(ctx, candidates); err != nil {
		return nil, err
	}

	report := &Report{Checked: make([]apps.UpdateStatus, 0, len(candidates))}
	for _, c := range candidates {
		report.Checked = append(report.Checked, c.Status)
		if c.Status.IsUpdateAvailable {
			report.Outdated = append(report.Outdated, *c)
		}
		if err := c.Adapter.DeleteCachedFilesExcept(c.Status.LatestVersion); err != nil {
			s.log.Warning("Scanner: failed to clean package cache of %s: %v", c.Installed.ID, err)
		}
	}
	sort.SliceStable(report.Outdated, func(i, j int) bool {
		return report.Outdated[i].Installed.InstalledAt.Before(report.Outdated[j].Installed.InstalledAt)
	})

	ids := make([]string, len(report.Outdated))
	for i, c := range report.Outdated {
		ids[i] = c.Installed.ID.String()
	}
	s.log.Debug("Scanner: [%s] are outdated.", strings.Join(ids, ","))
	return report, nil
}

func (s *Scanner) eligible(f Filters) []*Candidate {
	skip := make(map[apps.ID]bool, len(f.Excluded)+len(f.Hidden))
	for _, id := range f.Excluded {
		skip[id] = true
	}
	for _, id := range f.Hidden {
		skip[id] = true
	}

	var out []*Candidate
	for _, inst := range s.registry.Installed() {
		adapter, err := s.catalog.Lookup(inst.ID)
		if err != nil {
			continue
		}
		switch {
		case !signatureMatches(adapter.SignatureFingerprint(), inst.Signature):
			s.log.Debug("Scanner: %s has an unverified signature", inst.ID)
		case skip[inst.ID]:
		case !apps.SupportsOneOf(s.deviceABIs, adapter.SupportedABIs()):
			s.log.Debug("Scanner: %s is not available for this device", inst.ID)
		case !adapter.InstalledByTrustedSource(inst):
			s.log.Debug("Scanner: %s was installed by %s", inst.ID, inst.Installer)
		default:
			out = append(out, &Candidate{Installed: inst, Adapter: adapter})
		}
	}
	return out
}

func (s *Scanner) reachable(ctx context.Context, candidates []*Candidate) []*Candidate {
	if s.net == nil {
		return candidates
	}
	var (
		mu    sync.Mutex
		hosts = make(map[string]bool)
	)
	for _, c := range candidates {
		hosts[c.Adapter.ReachabilityHost()] = false
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for host := range hosts {
		host := host
		g.Go(func() error {
			ok := s.net.IsHostReachable(gctx, host)
			mu.Lock()
			hosts[host] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := candidates[:0]
	for _, c := range candidates {
		if hosts[c.Adapter.ReachabilityHost()] {
			out = append(out, c)
		} else {
			s.log.Info("Scanner: skip %s because %s is unreachable", c.Installed.ID, c.Adapter.ReachabilityHost())
		}
	}
	return out
}

func (s *Scanner) fetchStatuses(ctx context.Context, candidates []*Candidate) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for _, c := range candidates {
		c := c
		g.Go(func() error {
			st, err := c.Adapter.FetchLatestStatus(gctx, c.Installed, s.cache)
			if err != nil {
				return fmt.Errorf("fetch latest status of %s: %w", c.Installed.ID, err)
			}
			c.Status = st
			return nil
		})
	}
	return g.Wait()
}

func signatureMatches(expected, actual string) bool {
	e, a := normalizeFingerprint(expected), normalizeFingerprint(actual)
	return e != "" && e == a
}

func normalizeFingerprint(s string) string {
	return strings.ToLower(strings.NewReplacer(":", "", " ", "").Replace(s))
}
