// Package notify delivers user visible notifications about background work.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ffupdater/ffupdaterd/internal/apps"
	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

// Kind is the type of a notification.
type Kind int

const (
	// NetworkError reports a background cycle that kept failing for
	// network reasons.
	NetworkError Kind = iota
	// GenericError reports a background cycle that kept failing otherwise.
	GenericError
	UpdateAvailable
	UpdateDownloaded
	DownloadFailed
	InstallFailed
	InstallSucceeded
)

func (k Kind) String() string {
	switch k {
	case NetworkError:
		return "network-error"
	case GenericError:
		return "error"
	case UpdateAvailable:
		return "update-available"
	case UpdateDownloaded:
		return "update-downloaded"
	case DownloadFailed:
		return "download-failed"
	case InstallFailed:
		return "install-failed"
	case InstallSucceeded:
		return "install-succeeded"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Category groups kinds that are cleared together.
type Category int

const (
	CategoryBackgroundError Category = iota
	CategoryDownloadError
	CategoryAppStatus
)

// Category returns the group k is cleared with.
func (k Kind) Category() Category {
	switch k {
	case NetworkError, GenericError:
		return CategoryBackgroundError
	case DownloadFailed:
		return CategoryDownloadError
	}
	return CategoryAppStatus
}

// Notification is one event shown to the user.
type Notification struct {
	Kind Kind
	// App is empty for notifications about the background work itself.
	App   apps.ID
	Title string
	Body  string
	Err   error
}

// Sink receives notifications.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
	// Clear removes shown notifications of category.
	Clear(ctx context.Context, c Category) error
}

// New builds a Notification with a default title for kind.
func New(kind Kind, app apps.ID, err error) Notification {
	n := Notification{Kind: kind, App: app, Err: err}
	switch kind {
	case NetworkError:
		n.Title = "Background update check failed"
		n.Body = "The update check failed repeatedly because of network problems."
	case GenericError:
		n.Title = "Background update check failed"
		n.Body = "The update check failed repeatedly."
	case UpdateAvailable:
		n.Title = fmt.Sprintf("Update available for %s", app)
	case UpdateDownloaded:
		n.Title = fmt.Sprintf("Update for %s downloaded", app)
		n.Body = "The update is ready to be installed."
	case DownloadFailed:
		n.Title = fmt.Sprintf("Download of %s failed", app)
	case InstallFailed:
		n.Title = fmt.Sprintf("Installation of %s failed", app)
	case InstallSucceeded:
		n.Title = fmt.Sprintf("%s was updated", app)
	}
	if err != nil {
		if n.Body != "" {
			n.Body += " "
		}
		n.Body += err.Error()
	}
	return n
}

// LogSink writes notifications to a logger.
type LogSink struct {
	log logger.Logger
}

func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{log: logger.OrNop(l)}
}

func (s *LogSink) Notify(_ context.Context, n Notification) error {
	switch n.Kind {
	case NetworkError, GenericError, DownloadFailed, InstallFailed:
		s.log.Error("Notification [%s] %s: %s", n.Kind, n.Title, n.Body)
	default:
		s.log.Info("Notification [%s] %s: %s", n.Kind, n.Title, n.Body)
	}
	return nil
}

func (s *LogSink) Clear(context.Context, Category) error {
	return nil
}

// MultiSink forwards to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, s := range m {
		if err := s.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Clear(ctx context.Context, c Category) error {
	var errs []error
	for _, s := range m {
		if err := s.Clear(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordingSink keeps every call, for tests.
type RecordingSink struct {
	mu       sync.Mutex
	notified []Notification
	cleared  []Category
}

func (r *RecordingSink) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	r.notified = append(r.notified, n)
	r.mu.Unlock()
	return nil
}

func (r *RecordingSink) Clear(_ context.Context, c Category) error {
	r.mu.Lock()
	r.cleared = append(r.cleared, c)
	r.mu.Unlock()
	return nil
}

func (r *RecordingSink) Notified() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.notified...)
}

func (r *RecordingSink) Cleared() []Category {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Category(nil), r.cleared...)
}
