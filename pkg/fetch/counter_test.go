package fetch

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestRunningDownloads_AcquireRelease(t *testing.T) {
	r := NewRunningDownloads(nil)
	if r.IsAnyRunning() {
		t.Fatal("expected no download running initially")
	}
	release := r.Acquire()
	if !r.IsAnyRunning() {
		t.Fatal("expected a running download after Acquire")
	}
	release()
	release()
	if r.Count() != 0 {
		t.Fatalf("expected counter 0 after double release, got %d", r.Count())
	}
	if r.IsAnyRunning() {
		t.Fatal("expected no download running after release")
	}
}

func TestRunningDownloads_StuckCounterIsStale(t *testing.T) {
	clock := newFakeClock()
	r := NewRunningDownloads(clock.Now)

	_ = r.Acquire() // never released, simulates a crash
	clock.Advance(59 * time.Minute)
	if !r.IsAnyRunning() {
		t.Fatal("expected running within the staleness window")
	}
	clock.Advance(2 * time.Minute)
	if r.IsAnyRunning() {
		t.Fatal("expected stuck counter to be ignored after the staleness window")
	}
	if r.Count() != 1 {
		t.Fatalf("raw counter should stay 1, got %d", r.Count())
	}
}

func TestRunningDownloads_LastChangeUpdatedOnStartAndEnd(t *testing.T) {
	clock := newFakeClock()
	r := NewRunningDownloads(clock.Now)

	clock.Advance(time.Minute)
	release := r.Acquire()
	if got := r.LastChange(); !got.Equal(clock.Now()) {
		t.Fatalf("LastChange after start = %v, want %v", got, clock.Now())
	}
	clock.Advance(time.Minute)
	release()
	if got := r.LastChange(); !got.Equal(clock.Now()) {
		t.Fatalf("LastChange after end = %v, want %v", got, clock.Now())
	}
}

func TestRunningDownloads_Concurrent(t *testing.T) {
	r := NewRunningDownloads(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.Acquire()
			defer release()
		}()
	}
	wg.Wait()
	if r.Count() != 0 {
		t.Fatalf("expected 0, got %d", r.Count())
	}
}
