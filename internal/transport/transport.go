// Package transport abstracts the byte channel to the wearable so the
// session layer can be exercised against mocks. Implementations cover
// classic Bluetooth SPP via BlueZ, BLE, and a wired serial port.
package transport

import (
	"context"
	"errors"
	"io"
)

// SPPUUID is the standard Serial Port Profile service identifier the
// wearable listens on.
const SPPUUID = "00001101-0000-1000-8000-00805F9B34FB"

// Sentinel errors an Adapter reports from Open. Wrapped with detail; match
// with errors.Is.
var (
	ErrPeerNotFound       = errors.New("transport: peer not found among bonded devices")
	ErrAdapterUnavailable = errors.New("transport: bluetooth adapter unavailable")
	ErrAdapterDisabled    = errors.New("transport: bluetooth adapter disabled")
	ErrOpenFailed         = errors.New("transport: channel open failed")
)

// PeerIdentity identifies the one paired wearable a session connects to.
// Immutable for the process lifetime.
type PeerIdentity struct {
	Name    string
	Address string
}

// String returns the name when known, otherwise the address.
func (p PeerIdentity) String() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Address
}

// Channel is an open byte stream to the peer. Close must unblock a pending
// Read; a Read returning 0 bytes with a nil error signals end of stream.
type Channel = io.ReadWriteCloser

// Adapter opens channels to the wearable and discovers candidate peers.
type Adapter interface {
	// Open resolves peer and establishes a byte channel to it. The returned
	// error wraps one of the sentinel errors above.
	Open(ctx context.Context, peer PeerIdentity) (Channel, error)
	// Scan lists peers visible to this adapter (bonded devices for classic
	// Bluetooth, advertisements for BLE).
	Scan(ctx context.Context) ([]PeerIdentity, error)
}
