package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// SerialAdapter connects to a wearable wired to a local serial port. Used on
// the bench, where the sensor streams the same JSON frames over USB.
type SerialAdapter struct {
	Port string
	Baud int
}

// Open opens the configured serial port. The peer identity is ignored; a
// wired port has exactly one peer.
func (a *SerialAdapter) Open(ctx context.Context, _ PeerIdentity) (Channel, error) {
	if a.Port == "" {
		return nil, fmt.Errorf("%w: no serial port configured", ErrAdapterUnavailable)
	}
	baud := a.Baud
	if baud <= 0 {
		baud = 115200
	}

	port, err := serial.Open(a.Port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrOpenFailed, a.Port, err)
	}
	return port, nil
}

// Scan lists serial ports on the machine.
func (a *SerialAdapter) Scan(ctx context.Context) ([]PeerIdentity, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: listing serial ports: %v", ErrAdapterUnavailable, err)
	}
	peers := make([]PeerIdentity, 0, len(ports))
	for _, p := range ports {
		peers = append(peers, PeerIdentity{Name: p, Address: p})
	}
	return peers, nil
}
