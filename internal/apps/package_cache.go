package apps

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ffupdater/ffupdaterd/pkg/fetch"
)

const packageExt = ".apk"

// PackageCache is the directory of downloaded package files, one
// subdirectory per application.
type PackageCache struct {
	fs  afero.Fs
	dir string
}

func NewPackageCache(fs afero.Fs, dir string) *PackageCache {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &PackageCache{fs: fs, dir: dir}
}

func (p *PackageCache) Fs() afero.Fs {
	return p.fs
}

// Path returns the file the package of id at version is stored in.
func (p *PackageCache) Path(id ID, version string) string {
	return filepath.Join(p.dir, string(id), string(id)+"_"+sanitizeVersion(version)+packageExt)
}

// Exists reports whether a non-empty package of id at version is cached.
func (p *PackageCache) Exists(id ID, version string) bool {
	fi, err := p.fs.Stat(p.Path(id, version))
	return err == nil && !fi.IsDir() && fi.Size() > 0
}

// Delete removes the package of id at version. A missing file is not an
// error.
func (p *PackageCache) Delete(id ID, version string) error {
	err := p.fs.Remove(p.Path(id, version))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// DeleteExcept removes every cached package of id other than keepVersion,
// together with partial downloads of those versions. An empty keepVersion
// removes all of them.
func (p *PackageCache) DeleteExcept(id ID, keepVersion string) error {
	appDir := filepath.Join(p.dir, string(id))
	entries, err := afero.ReadDir(p.fs, appDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	keep := ""
	if keepVersion != "" {
		keep = filepath.Base(p.Path(id, keepVersion))
	}
	var errs []error
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), fetch.PartialSuffix)
		if e.IsDir() || name == keep || !strings.HasSuffix(name, packageExt) {
			continue
		}
		if err := p.fs.Remove(filepath.Join(appDir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", e.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func sanitizeVersion(v string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, v)
}
