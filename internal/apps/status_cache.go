package apps

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultStatusTTL is used by adapters that do not configure their own
// freshness window.
const DefaultStatusTTL = 10 * time.Minute

// StatusCache keeps recent UpdateStatus values so repeated checks within the
// freshness window do not hit the network again.
type StatusCache struct {
	c *gocache.Cache
}

func NewStatusCache(cleanupInterval time.Duration) *StatusCache {
	return &StatusCache{c: gocache.New(DefaultStatusTTL, cleanupInterval)}
}

func statusKey(id ID, installedVersion string) string {
	return string(id) + "@" + installedVersion
}

// Get returns a fresh status of id computed against installedVersion.
func (s *StatusCache) Get(id ID, installedVersion string) (UpdateStatus, bool) {
	v, ok := s.c.Get(statusKey(id, installedVersion))
	if !ok {
		return UpdateStatus{}, false
	}
	return v.(UpdateStatus), true
}

// Set stores status for ttl. A zero ttl means DefaultStatusTTL.
func (s *StatusCache) Set(status UpdateStatus, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultStatusTTL
	}
	s.c.Set(statusKey(status.App, status.InstalledVersion), status, ttl)
}

// Latest returns every cached status, one per application, the most recently
// fetched winning.
func (s *StatusCache) Latest() map[ID]UpdateStatus {
	out := make(map[ID]UpdateStatus)
	for _, item := range s.c.Items() {
		st := item.Object.(UpdateStatus)
		if prev, ok := out[st.App]; !ok || st.FetchedAt.After(prev.FetchedAt) {
			out[st.App] = st
		}
	}
	return out
}

// Flush drops every entry.
func (s *StatusCache) Flush() {
	s.c.Flush()
}
