package settings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

const watchDebounce = 250 * time.Millisecond

// Store holds the current settings and reloads them from disk.
type Store struct {
	path string
	log  logger.Logger

	mu  sync.RWMutex
	cur *Settings
}

// Open loads path into a new Store.
func Open(path string, l logger.Logger) (*Store, error) {
	s := &Store{path: path, log: logger.OrNop(l)}
	cur, err := Load(path)
	if err != nil {
		return nil, err
	}
	s.cur = cur
	return s, nil
}

// NewStaticStore wraps fixed settings, for callers without a file.
func NewStaticStore(s *Settings) *Store {
	return &Store{cur: s, log: logger.NewNopLogger()}
}

func (s *Store) Path() string {
	return s.path
}

// Current returns the settings of the last successful load. The value must
// not be modified.
func (s *Store) Current() *Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur
}

// Reload re-reads the file and reports whether anything changed. On error
// the previous settings stay current.
func (s *Store) Reload() (bool, error) {
	if s.path == "" {
		return false, nil
	}
	next, err := Load(s.path)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := !reflect.DeepEqual(s.cur, next)
	s.cur = next
	return changed, nil
}

// Watch reloads the settings whenever the file is written, created or
// replaced, and calls onChange with the new value if it differs. It blocks
// until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(*Settings)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			s.log.Warning("Settings: failed to close watcher: %v", err)
		}
	}()
	// watch the directory, editors replace the file instead of writing it
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}
		case <-debounce:
			debounce = nil
			changed, err := s.Reload()
			if err != nil {
				s.log.Error("Settings: reload %s: %v", s.path, err)
				continue
			}
			if changed {
				s.log.Info("Settings: %s changed", s.path)
				onChange(s.Current())
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed unexpectedly")
			}
			s.log.Warning("Settings: watcher error: %v", err)
		}
	}
}
