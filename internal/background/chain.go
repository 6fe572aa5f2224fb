package background

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// ErrChainExists is returned by BeginUnique when a chain with the same key
// is still running. The running chain is kept.
var ErrChainExists = errors.New("chain already running")

// Unit is one step of a chain.
type Unit struct {
	Name string
	Run  func(ctx context.Context) error
}

type chainRun struct {
	units   []Unit
	next    int
	current string
	cancel  context.CancelFunc
}

// Chains runs uniquely keyed chains of units. Units of a chain run strictly
// one after another; a failing unit is logged and the chain continues.
type Chains struct {
	log logger.Logger

	mu     sync.Mutex
	active map[string]*chainRun
	wg     sync.WaitGroup
}

// NewChains returns an empty set of chains.
func NewChains(l logger.Logger) *Chains {
	return &Chains{
		log:    logger.OrNop(l),
		active: make(map[string]*chainRun),
	}
}

// BeginUnique starts units as a chain under key. If a chain with key is
// still running, nothing is enqueued and ErrChainExists is returned. An
// empty chain is a no-op.
func (c *Chains) BeginUnique(ctx context.Context, key string, units []Unit) error {
	if len(units) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.active[key]; exists {
		return fmt.Errorf("%w: %s", ErrChainExists, key)
	}
	ctx, cancel := context.WithCancel(ctx)
	run := &chainRun{units: units, cancel: cancel}
	c.active[key] = run
	c.wg.Add(1)
	go c.run(ctx, key, run)
	return nil
}

func (c *Chains) run(ctx context.Context, key string, run *chainRun) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
		run.cancel()
	}()

	for {
		c.mu.Lock()
		if run.next >= len(run.units) || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		unit := run.units[run.next]
		run.next++
		run.current = unit.Name
		c.mu.Unlock()

		if err := c.runUnit(ctx, unit); err != nil {
			c.log.Warning("Chain %s: %s failed: %v", key, unit.Name, err)
		}
	}
}

func (c *Chains) runUnit(ctx context.Context, unit Unit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("Chain: PANIC [%s]: %v\n%s", unit.Name, r, debug.Stack())
			err = fmt.Errorf("%w: %v", ErrUnknownFailure, r)
		}
	}()
	return unit.Run(ctx)
}

// IsRunning reports whether a chain with key is running.
func (c *Chains) IsRunning(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

// Progress returns the unit being executed and the number of units still
// waiting in the chain with key.
func (c *Chains) Progress(key string) (current string, waiting int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	run, ok := c.active[key]
	if !ok {
		return "", 0, false
	}
	return run.current, len(run.units) - run.next, true
}

// Cancel aborts the chain with key, its current unit included.
func (c *Chains) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if run, ok := c.active[key]; ok {
		run.cancel()
	}
}

// Wait blocks until every running chain finished.
func (c *Chains) Wait() {
	c.wg.Wait()
}
