package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/godbus/dbus/v5"
)

const (
	bluezBusName          = "org.bluez"
	bluezAdapterInterface = "org.bluez.Adapter1"
	bluezDeviceInterface  = "org.bluez.Device1"
	bluezProfileManager   = "org.bluez.ProfileManager1"
	sppProfilePath        = dbus.ObjectPath("/com/wongchs/brainwaved/spp")
)

// BluezAdapter opens an RFCOMM channel to a bonded classic-Bluetooth device
// through BlueZ. It registers a client-role SPP profile once; BlueZ hands the
// RFCOMM socket back through the profile's NewConnection method when
// ConnectProfile succeeds.
type BluezAdapter struct {
	mu         sync.Mutex
	conn       *dbus.Conn
	registered bool
	delivered  chan deliveredFD
}

type deliveredFD struct {
	device dbus.ObjectPath
	fd     int
}

// NewBluezAdapter returns an adapter backed by the system bus. The bus is
// connected lazily on first use.
func NewBluezAdapter() *BluezAdapter {
	return &BluezAdapter{delivered: make(chan deliveredFD, 1)}
}

// sppProfile is the org.bluez.Profile1 implementation BlueZ calls back into.
type sppProfile struct {
	delivered chan<- deliveredFD
}

func (p *sppProfile) NewConnection(device dbus.ObjectPath, fd dbus.UnixFD, _ map[string]dbus.Variant) *dbus.Error {
	select {
	case p.delivered <- deliveredFD{device: device, fd: int(fd)}:
	default:
		// No Open is waiting; BlueZ owns retry, just refuse the socket.
		syscall.Close(int(fd))
	}
	return nil
}

func (p *sppProfile) RequestDisconnection(device dbus.ObjectPath) *dbus.Error {
	slog.Info("[BT] disconnection requested by stack", "device", device)
	return nil
}

func (p *sppProfile) Release() *dbus.Error {
	slog.Warn("[BT] SPP profile released by BlueZ")
	return nil
}

// bus connects to the system bus once and reuses the connection.
func (a *BluezAdapter) bus() (*dbus.Conn, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		return a.conn, nil
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: system bus: %v", ErrAdapterUnavailable, err)
	}
	a.conn = conn
	return conn, nil
}

// ensureProfile exports and registers the client SPP profile with BlueZ.
// Idempotent; BlueZ keeps the registration for the bus connection lifetime.
func (a *BluezAdapter) ensureProfile(conn *dbus.Conn) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.registered {
		return nil
	}

	if err := conn.Export(&sppProfile{delivered: a.delivered}, sppProfilePath, "org.bluez.Profile1"); err != nil {
		return fmt.Errorf("%w: exporting profile: %v", ErrOpenFailed, err)
	}

	opts := map[string]dbus.Variant{
		"Role":                 dbus.MakeVariant("client"),
		"AutoConnect":          dbus.MakeVariant(false),
		"RequireAuthorization": dbus.MakeVariant(false),
	}
	call := conn.Object(bluezBusName, "/org/bluez").Call(bluezProfileManager+".RegisterProfile", 0, sppProfilePath, SPPUUID, opts)
	if call.Err != nil {
		return fmt.Errorf("%w: registering SPP profile: %v", ErrOpenFailed, call.Err)
	}
	a.registered = true
	return nil
}

// managedObjects fetches the BlueZ object tree.
func managedObjects(conn *dbus.Conn) (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := conn.Object(bluezBusName, "/").
		Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdapterUnavailable, err)
	}
	return objects, nil
}

// checkPowered verifies at least one powered bluetooth adapter exists.
func checkPowered(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant) error {
	found := false
	for _, ifaces := range objects {
		props, ok := ifaces[bluezAdapterInterface]
		if !ok {
			continue
		}
		found = true
		if powered, ok := props["Powered"].Value().(bool); ok && powered {
			return nil
		}
	}
	if !found {
		return fmt.Errorf("%w: no bluetooth adapter on the bus", ErrAdapterUnavailable)
	}
	return fmt.Errorf("%w: adapter present but powered off", ErrAdapterDisabled)
}

// resolvePeer finds the bonded device matching peer by exact name, or by
// address when the name is unset.
func resolvePeer(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, peer PeerIdentity) (dbus.ObjectPath, error) {
	for path, ifaces := range objects {
		props, ok := ifaces[bluezDeviceInterface]
		if !ok {
			continue
		}
		paired, _ := props["Paired"].Value().(bool)
		if !paired {
			continue
		}
		name, _ := props["Name"].Value().(string)
		addr, _ := props["Address"].Value().(string)

		if peer.Name != "" && name == peer.Name {
			return path, nil
		}
		if peer.Name == "" && peer.Address != "" && addr == peer.Address {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s (is it paired?)", ErrPeerNotFound, peer)
}

// Open connects the SPP profile on the bonded device and returns the RFCOMM
// socket as a Channel.
func (a *BluezAdapter) Open(ctx context.Context, peer PeerIdentity) (Channel, error) {
	conn, err := a.bus()
	if err != nil {
		return nil, err
	}

	objects, err := managedObjects(conn)
	if err != nil {
		return nil, err
	}
	if err := checkPowered(objects); err != nil {
		return nil, err
	}
	devPath, err := resolvePeer(objects, peer)
	if err != nil {
		return nil, err
	}
	if err := a.ensureProfile(conn); err != nil {
		return nil, err
	}

	// Drain a stale fd from a previous aborted attempt.
	select {
	case old := <-a.delivered:
		syscall.Close(old.fd)
	default:
	}

	call := conn.Object(bluezBusName, devPath).CallWithContext(ctx, bluezDeviceInterface+".ConnectProfile", 0, SPPUUID)
	if call.Err != nil {
		return nil, fmt.Errorf("%w: ConnectProfile %s: %v", ErrOpenFailed, peer, call.Err)
	}

	select {
	case d := <-a.delivered:
		// Nonblocking mode hands the fd to the runtime poller, so closing
		// the file unblocks a pending read.
		if err := syscall.SetNonblock(d.fd, true); err != nil {
			syscall.Close(d.fd)
			return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
		}
		return os.NewFile(uintptr(d.fd), "rfcomm:"+peer.String()), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, ctx.Err())
	}
}

// Scan lists bonded devices known to BlueZ.
func (a *BluezAdapter) Scan(ctx context.Context) ([]PeerIdentity, error) {
	conn, err := a.bus()
	if err != nil {
		return nil, err
	}
	objects, err := managedObjects(conn)
	if err != nil {
		return nil, err
	}

	var peers []PeerIdentity
	for _, ifaces := range objects {
		props, ok := ifaces[bluezDeviceInterface]
		if !ok {
			continue
		}
		if paired, _ := props["Paired"].Value().(bool); !paired {
			continue
		}
		name, _ := props["Name"].Value().(string)
		addr, _ := props["Address"].Value().(string)
		peers = append(peers, PeerIdentity{Name: name, Address: addr})
	}
	return peers, nil
}
