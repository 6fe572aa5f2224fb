package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/ffupdater/ffupdaterd/pkg/logger"
)

const (
	upowerDest      = "org.freedesktop.UPower"
	upowerPath      = dbus.ObjectPath("/org/freedesktop/UPower/devices/DisplayDevice")
	upowerDevice    = "org.freedesktop.UPower.Device"
	nmDest          = "org.freedesktop.NetworkManager"
	nmPath          = dbus.ObjectPath("/org/freedesktop/NetworkManager")
	logindDest      = "org.freedesktop.login1"
	logindPath      = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager   = "org.freedesktop.login1.Manager"
	ppdDest         = "net.hadess.PowerProfiles"
	ppdPath         = dbus.ObjectPath("/net/hadess/PowerProfiles")
	powerSaverValue = "power-saver"

	// UPower WarningLevel values
	upowerWarningLow      = 3
	upowerWarningCritical = 4
	// NetworkManager NMMetered values
	nmMeteredYes      = 1
	nmMeteredGuessYes = 3

	propertyTimeout = 5 * time.Second
)

// PropertyReader reads one D-Bus property.
type PropertyReader func(ctx context.Context, dest string, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)

// DBusProbe reads the environment from UPower, NetworkManager, logind and
// power-profiles-daemon on the system bus.
type DBusProbe struct {
	read      PropertyReader
	dataSaver bool
	log       logger.Logger
	now       func() time.Time

	mu             sync.Mutex
	observed       bool
	powerSaveSince time.Time
}

// NewDBusProbe connects to the system bus. dataSaver has no D-Bus source and
// is taken from settings.
func NewDBusProbe(dataSaver bool, l logger.Logger) (*DBusProbe, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("get dbus: %w", err)
	}
	return NewDBusProbeWithReader(busReader(conn), dataSaver, l, nil), nil
}

// NewDBusProbeWithReader creates a probe on top of an arbitrary reader.
func NewDBusProbeWithReader(read PropertyReader, dataSaver bool, l logger.Logger, now func() time.Time) *DBusProbe {
	if now == nil {
		now = time.Now
	}
	return &DBusProbe{read: read, dataSaver: dataSaver, log: logger.OrNop(l), now: now}
}

func busReader(conn *dbus.Conn) PropertyReader {
	return func(ctx context.Context, dest string, path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
		var v dbus.Variant
		err := conn.Object(dest, path).
			CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, iface, prop).
			Store(&v)
		return v, err
	}
}

// SetDataSaver updates the data saver flag after a settings change.
func (p *DBusProbe) SetDataSaver(v bool) {
	p.mu.Lock()
	p.dataSaver = v
	p.mu.Unlock()
}

func (p *DBusProbe) Snapshot(ctx context.Context) Environment {
	env := Environment{
		BatteryLow:  p.batteryLow(ctx),
		Metered:     p.metered(ctx),
		Interactive: p.interactive(ctx),
	}
	powerSave := p.powerSaver(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	env.DataSaver = p.dataSaver
	switch {
	case !powerSave:
		p.powerSaveSince = time.Time{}
	case p.observed && p.powerSaveSince.IsZero():
		p.powerSaveSince = p.now()
	}
	p.observed = true
	env.PowerSaveEnabledAt = p.powerSaveSince
	return env
}

func (p *DBusProbe) get(ctx context.Context, dest string, path dbus.ObjectPath, iface, prop string) (interface{}, bool) {
	ctx, cancel := context.WithTimeout(ctx, propertyTimeout)
	defer cancel()
	v, err := p.read(ctx, dest, path, iface, prop)
	if err != nil {
		p.log.Debug("DeviceProbe: read %s.%s: %v", iface, prop, err)
		return nil, false
	}
	return v.Value(), true
}

func (p *DBusProbe) batteryLow(ctx context.Context) bool {
	v, ok := p.get(ctx, upowerDest, upowerPath, upowerDevice, "WarningLevel")
	if !ok {
		return false
	}
	level, _ := v.(uint32)
	return level == upowerWarningLow || level == upowerWarningCritical
}

func (p *DBusProbe) metered(ctx context.Context) bool {
	v, ok := p.get(ctx, nmDest, nmPath, nmDest, "Metered")
	if !ok {
		return false
	}
	m, _ := v.(uint32)
	return m == nmMeteredYes || m == nmMeteredGuessYes
}

func (p *DBusProbe) interactive(ctx context.Context) bool {
	v, ok := p.get(ctx, logindDest, logindPath, logindManager, "IdleHint")
	if !ok {
		return false
	}
	idle, _ := v.(bool)
	return !idle
}

func (p *DBusProbe) powerSaver(ctx context.Context) bool {
	v, ok := p.get(ctx, ppdDest, ppdPath, ppdDest, "ActiveProfile")
	if !ok {
		return false
	}
	profile, _ := v.(string)
	return profile == powerSaverValue
}
