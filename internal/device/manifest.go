package device

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/ffupdater/ffupdaterd/internal/apps"
)

type manifestFile struct {
	Apps []apps.InstalledApp `yaml:"apps"`
}

// ManifestRegistry is an installed-application registry kept in a YAML
// file. Installers record into it; the scanner refreshes it every cycle.
type ManifestRegistry struct {
	fs   afero.Fs
	path string

	mu       sync.RWMutex
	snapshot []apps.InstalledApp
}

var _ apps.Registry = (*ManifestRegistry)(nil)

func NewManifestRegistry(fs afero.Fs, path string) *ManifestRegistry {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &ManifestRegistry{fs: fs, path: path}
}

// Refresh re-reads the manifest. A missing file is an empty registry.
func (r *ManifestRegistry) Refresh(_ context.Context) error {
	list, err := r.load()
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = list
	r.mu.Unlock()
	return nil
}

// Installed returns the snapshot of the last Refresh.
func (r *ManifestRegistry) Installed() []apps.InstalledApp {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]apps.InstalledApp, len(r.snapshot))
	copy(out, r.snapshot)
	return out
}

// Record inserts or replaces the entry of app.ID and writes the manifest.
func (r *ManifestRegistry) Record(app apps.InstalledApp) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list, err := r.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == app.ID {
			list[i] = app
			replaced = true
		}
	}
	if !replaced {
		list = append(list, app)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := yaml.Marshal(manifestFile{Apps: list})
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	tmp := r.path + ".tmp"
	if err := afero.WriteFile(r.fs, tmp, data, 0o644); err != nil {
		return err
	}
	if err := r.fs.Rename(tmp, r.path); err != nil {
		return err
	}
	r.snapshot = list
	return nil
}

func (r *ManifestRegistry) load() ([]apps.InstalledApp, error) {
	data, err := afero.ReadFile(r.fs, r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var mf manifestFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", r.path, err)
	}
	return mf.Apps, nil
}
