// Package apps holds the data model shared by the scanner, the background
// work and the vendor adapters: tracked applications, their installed
// snapshots, update statuses and the caches kept for them.
package apps

import (
	"context"
	"time"
)

// ID is the stable key of a tracked application.
type ID string

func (id ID) String() string {
	return string(id)
}

// InstalledApp is an immutable snapshot of one installed application, taken
// from the installed-package registry at scan time.
type InstalledApp struct {
	ID          ID        `yaml:"id" json:"id"`
	Version     string    `yaml:"version" json:"version"`
	Signature   string    `yaml:"signature" json:"signature"`
	Installer   string    `yaml:"installer,omitempty" json:"installer,omitempty"`
	InstalledAt time.Time `yaml:"installed_at" json:"installed_at"`
}

// UpdateStatus is the result of one update check.
type UpdateStatus struct {
	App               ID        `json:"app"`
	InstalledVersion  string    `json:"installed_version"`
	LatestVersion     string    `json:"latest_version"`
	DownloadURL       string    `json:"download_url"`
	IsUpdateAvailable bool      `json:"is_update_available"`
	FetchedAt         time.Time `json:"fetched_at"`
}

// Adapter is the vendor specific capability of a tracked application.
type Adapter interface {
	ID() ID
	// SupportedABIs lists the hardware ABIs packages are published for.
	SupportedABIs() []ABI
	// ReachabilityHost is probed before fetching the latest status.
	ReachabilityHost() string
	// SignatureFingerprint is the expected install signature.
	SignatureFingerprint() string
	// InstalledByTrustedSource is false when another, unverified installer
	// manages the application.
	InstalledByTrustedSource(app InstalledApp) bool
	// FetchLatestStatus resolves the newest available version, preferring a
	// fresh entry of cache over a network call.
	FetchLatestStatus(ctx context.Context, installed InstalledApp, cache *StatusCache) (UpdateStatus, error)
	// PackagePath is where the package of version is (or will be) cached.
	PackagePath(version string) string
	// DeleteCachedFilesExcept removes every cached package except version.
	DeleteCachedFilesExcept(version string) error
}

// Registry is the installed-package registry of the device.
type Registry interface {
	// Refresh re-reads the registry. Snapshots returned afterwards reflect it.
	Refresh(ctx context.Context) error
	Installed() []InstalledApp
}
