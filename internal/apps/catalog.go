package apps

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownApp   = errors.New("unknown app")
	ErrDuplicateApp = errors.New("app already registered")
)

// Catalog maps application identities to their adapters.
type Catalog struct {
	mu       sync.RWMutex
	adapters map[ID]Adapter
}

// NewCatalog registers adapters in order and fails on a duplicate identity.
func NewCatalog(adapters ...Adapter) (*Catalog, error) {
	c := &Catalog{adapters: make(map[ID]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := c.Register(a); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds a. Each identity can be registered once.
func (c *Catalog) Register(a Adapter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.adapters[a.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateApp, a.ID())
	}
	c.adapters[a.ID()] = a
	return nil
}

// Lookup returns the adapter of id.
func (c *Catalog) Lookup(id ID) (Adapter, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.adapters[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, id)
	}
	return a, nil
}

// IDs returns all registered identities in lexical order.
func (c *Catalog) IDs() []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]ID, 0, len(c.adapters))
	for id := range c.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Replace swaps the adapters of c for those of next. Holders of c see the
// new set on their next lookup.
func (c *Catalog) Replace(next *Catalog) {
	next.mu.RLock()
	adapters := make(map[ID]Adapter, len(next.adapters))
	for id, a := range next.adapters {
		adapters[id] = a
	}
	next.mu.RUnlock()

	c.mu.Lock()
	c.adapters = adapters
	c.mu.Unlock()
}
