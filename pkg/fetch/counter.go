package fetch

import (
	"sync"
	"sync/atomic"
	"time"
)

// StalenessWindow bounds how long a nonzero counter is trusted without a
// corroborating start or end event.
const StalenessWindow = time.Hour

// RunningDownloads counts in-flight large downloads. It is shared by
// reference between all Downloader instances of the process.
type RunningDownloads struct {
	count      atomic.Int32
	lastChange atomic.Int64
	now        func() time.Time
}

// NewRunningDownloads returns a counter using now as its clock. A nil clock
// means time.Now.
func NewRunningDownloads(now func() time.Time) *RunningDownloads {
	if now == nil {
		now = time.Now
	}
	r := &RunningDownloads{now: now}
	r.lastChange.Store(now().UnixNano())
	return r
}

// Acquire increments the counter and returns the paired release. The
// release is idempotent so it can be deferred on every exit path.
func (r *RunningDownloads) Acquire() (release func()) {
	r.touch()
	r.count.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			r.touch()
			r.count.Add(-1)
		})
	}
}

func (r *RunningDownloads) touch() {
	r.lastChange.Store(r.now().UnixNano())
}

// Count returns the raw number of in-flight downloads.
func (r *RunningDownloads) Count() int {
	return int(r.count.Load())
}

// LastChange returns the time of the last start or end event.
func (r *RunningDownloads) LastChange() time.Time {
	return time.Unix(0, r.lastChange.Load())
}

// IsAnyRunning reports whether a download is in flight. A counter that has
// not changed for StalenessWindow is considered stuck and ignored.
func (r *RunningDownloads) IsAnyRunning() bool {
	if r.count.Load() == 0 {
		return false
	}
	return r.now().Sub(r.LastChange()) < StalenessWindow
}
