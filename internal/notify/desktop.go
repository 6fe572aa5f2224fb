package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notificationsDest  = "org.freedesktop.Notifications"
	notificationsPath  = dbus.ObjectPath("/org/freedesktop/Notifications")
	notificationsIface = "org.freedesktop.Notifications"
	appName            = "ffupdaterd"
)

// Caller is the subset of dbus.BusObject the desktop sink uses.
type Caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// DesktopSink shows notifications through the freedesktop notification
// service on the session bus. A notification of the same kind and app
// replaces the previous one.
type DesktopSink struct {
	obj Caller

	mu  sync.Mutex
	ids map[string]uint32
	cat map[string]Category
}

// NewDesktopSink connects to the session bus.
func NewDesktopSink() (*DesktopSink, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("get session dbus: %w", err)
	}
	return NewDesktopSinkWithCaller(conn.Object(notificationsDest, notificationsPath)), nil
}

func NewDesktopSinkWithCaller(obj Caller) *DesktopSink {
	return &DesktopSink{obj: obj, ids: make(map[string]uint32), cat: make(map[string]Category)}
}

func notificationKey(n Notification) string {
	return n.Kind.String() + "/" + string(n.App)
}

func (d *DesktopSink) Notify(ctx context.Context, n Notification) error {
	key := notificationKey(n)
	d.mu.Lock()
	replaces := d.ids[key]
	d.mu.Unlock()

	urgency := byte(1)
	if n.Kind.Category() != CategoryAppStatus {
		urgency = 2
	}
	hints := map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)}

	var id uint32
	err := d.obj.CallWithContext(ctx, notificationsIface+".Notify", 0,
		appName, replaces, "", n.Title, n.Body, []string{}, hints, int32(-1)).Store(&id)
	if err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	d.mu.Lock()
	d.ids[key] = id
	d.cat[key] = n.Kind.Category()
	d.mu.Unlock()
	return nil
}

func (d *DesktopSink) Clear(ctx context.Context, c Category) error {
	d.mu.Lock()
	var ids []uint32
	for key, cat := range d.cat {
		if cat == c {
			ids = append(ids, d.ids[key])
			delete(d.ids, key)
			delete(d.cat, key)
		}
	}
	d.mu.Unlock()

	for _, id := range ids {
		if err := d.obj.CallWithContext(ctx, notificationsIface+".CloseNotification", 0, id).Err; err != nil {
			return fmt.Errorf("close notification %d: %w", id, err)
		}
	}
	return nil
}
