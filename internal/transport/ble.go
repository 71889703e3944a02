package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic UART Service UUIDs, the de-facto serial-over-BLE profile. TX is the
// wearable's notify characteristic (device to host), RX accepts writes.
const (
	nusServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	nusRXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e"
	nusTXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// BLEAdapter reaches wearables that expose the JSON stream over a NUS-style
// BLE characteristic instead of classic SPP.
type BLEAdapter struct {
	ScanTimeout time.Duration

	enableOnce sync.Once
	enableErr  error
}

func (a *BLEAdapter) enable() error {
	a.enableOnce.Do(func() {
		if err := bluetooth.DefaultAdapter.Enable(); err != nil {
			a.enableErr = fmt.Errorf("%w: %v", ErrAdapterDisabled, err)
		}
	})
	return a.enableErr
}

func (a *BLEAdapter) scanTimeout() time.Duration {
	if a.ScanTimeout > 0 {
		return a.ScanTimeout
	}
	return 10 * time.Second
}

// findPeer scans advertisements until the named peer shows up or the timeout
// elapses.
func (a *BLEAdapter) findPeer(ctx context.Context, peer PeerIdentity) (bluetooth.Address, error) {
	adapter := bluetooth.DefaultAdapter
	found := make(chan bluetooth.Address, 1)

	go func() {
		err := adapter.Scan(func(ad *bluetooth.Adapter, result bluetooth.ScanResult) {
			match := (peer.Name != "" && result.LocalName() == peer.Name) ||
				(peer.Name == "" && peer.Address != "" && result.Address.String() == peer.Address)
			if match {
				ad.StopScan()
				select {
				case found <- result.Address:
				default:
				}
			}
		})
		if err != nil {
			slog.Warn("[BLE] scan failed", "error", err)
		}
	}()

	timer := time.NewTimer(a.scanTimeout())
	defer timer.Stop()

	select {
	case addr := <-found:
		return addr, nil
	case <-timer.C:
		adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("%w: %s not advertising", ErrPeerNotFound, peer)
	case <-ctx.Done():
		adapter.StopScan()
		return bluetooth.Address{}, fmt.Errorf("%w: %v", ErrOpenFailed, ctx.Err())
	}
}

// Open connects to the peer, subscribes to its TX characteristic, and
// bridges notifications into a byte stream.
func (a *BLEAdapter) Open(ctx context.Context, peer PeerIdentity) (Channel, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	addr, err := a.findPeer(ctx, peer)
	if err != nil {
		return nil, err
	}

	device, err := bluetooth.DefaultAdapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", ErrOpenFailed, peer, err)
	}

	svcUUID, _ := bluetooth.ParseUUID(nusServiceUUID)
	services, err := device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return nil, fmt.Errorf("%w: service discovery %s: %v", ErrOpenFailed, peer, err)
	}

	rxUUID, _ := bluetooth.ParseUUID(nusRXCharUUID)
	txUUID, _ := bluetooth.ParseUUID(nusTXCharUUID)
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{rxUUID, txUUID})
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("%w: characteristic discovery %s: %v", ErrOpenFailed, peer, err)
	}

	var rxChar, txChar *bluetooth.DeviceCharacteristic
	for i := range chars {
		switch chars[i].UUID() {
		case rxUUID:
			rxChar = &chars[i]
		case txUUID:
			txChar = &chars[i]
		}
	}
	if txChar == nil {
		device.Disconnect()
		return nil, fmt.Errorf("%w: %s has no TX characteristic", ErrOpenFailed, peer)
	}

	ch := &bleChannel{device: device, rx: rxChar}
	ch.pr, ch.pw = io.Pipe()

	if err := txChar.EnableNotifications(func(buf []byte) {
		data := make([]byte, len(buf))
		copy(data, buf)
		// Blocks until the session's read loop consumes the chunk;
		// backpressure instead of an unbounded queue.
		ch.pw.Write(data)
	}); err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("%w: enabling notifications: %v", ErrOpenFailed, err)
	}

	return ch, nil
}

// Scan lists advertising peers for the configured timeout.
func (a *BLEAdapter) Scan(ctx context.Context) ([]PeerIdentity, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}

	adapter := bluetooth.DefaultAdapter
	var (
		mu    sync.Mutex
		seen  = map[string]bool{}
		peers []PeerIdentity
	)

	go func() {
		timer := time.NewTimer(a.scanTimeout())
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
		}
		adapter.StopScan()
	}()

	err := adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if !seen[addr] {
			seen[addr] = true
			peers = append(peers, PeerIdentity{Name: result.LocalName(), Address: addr})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %v", ErrAdapterUnavailable, err)
	}
	return peers, nil
}

// bleChannel adapts notification callbacks to the Channel byte-stream
// contract via an in-process pipe.
type bleChannel struct {
	device bluetooth.Device
	rx     *bluetooth.DeviceCharacteristic
	pr     *io.PipeReader
	pw     *io.PipeWriter

	closeOnce sync.Once
}

func (c *bleChannel) Read(p []byte) (int, error) {
	return c.pr.Read(p)
}

func (c *bleChannel) Write(p []byte) (int, error) {
	if c.rx == nil {
		return 0, fmt.Errorf("transport: peer has no writable characteristic")
	}
	return c.rx.WriteWithoutResponse(p)
}

func (c *bleChannel) Close() error {
	c.closeOnce.Do(func() {
		c.pw.CloseWithError(io.EOF)
		c.pr.Close()
		c.device.Disconnect()
	})
	return nil
}
