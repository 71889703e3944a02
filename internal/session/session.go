// Package session owns the lifecycle of the connection to the wearable: a
// Session is one connection attempt with its read loop, a Supervisor keeps
// exactly one Session alive and restarts it after failures.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wongchs/brainwaved/internal/frame"
	"github.com/wongchs/brainwaved/internal/transport"
)

// readChunkSize is the fixed read buffer, matching the wearable's flush size.
const readChunkSize = 1024

// ErrSessionClosed reports a deliberate local Close rather than a transport
// failure.
var ErrSessionClosed = errors.New("session: closed")

// Events carries the callbacks a Session delivers on its own read-loop
// goroutine, never the caller's. Registration is fixed at construction so a
// consumer cannot be swapped out mid-stream.
type Events struct {
	// OnMessage receives every classified frame in the order its bytes
	// arrived, including malformed ones for the caller to report.
	OnMessage func(frame.Message)
	// OnDisconnect fires once with the terminal reason when the stream ends
	// for any cause other than a local Close.
	OnDisconnect func(reason error)
}

// Session is a single connection attempt to the peer. It moves
// Idle → Opening → Streaming → Closed; Closed is terminal and always
// reachable through Close or a read failure.
type Session struct {
	adapter transport.Adapter
	peer    transport.PeerIdentity
	acc     *frame.Accumulator
	events  Events

	mu     sync.Mutex
	ch     transport.Channel
	opened bool
	closed bool
	err    error

	done chan struct{}
}

// New builds an idle session. maxBufferBytes bounds the frame accumulator;
// 0 selects the default cap.
func New(adapter transport.Adapter, peer transport.PeerIdentity, maxBufferBytes int, events Events) *Session {
	return &Session{
		adapter: adapter,
		peer:    peer,
		acc:     frame.NewAccumulator(maxBufferBytes),
		events:  events,
		done:    make(chan struct{}),
	}
}

// Open resolves the peer, opens the channel and starts the read loop. It
// returns a transport sentinel (wrapped) on failure; the session is then
// Closed and must not be reused.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.opened || s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session: reopened after use")
	}
	s.opened = true
	s.mu.Unlock()

	ch, err := s.adapter.Open(ctx, s.peer)
	if err != nil {
		s.finish(err, false)
		return err
	}

	s.mu.Lock()
	if s.closed {
		// Close raced the open; release the channel we no longer own.
		s.mu.Unlock()
		ch.Close()
		return ErrSessionClosed
	}
	s.ch = ch
	s.mu.Unlock()

	go s.readLoop(ch)
	return nil
}

// readLoop reads fixed-size chunks until end of stream or error, feeding the
// accumulator and dispatching classified frames in arrival order.
func (s *Session) readLoop(ch transport.Channel) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := ch.Read(buf)
		if n > 0 {
			for _, res := range s.acc.Feed(buf[:n]) {
				if res.Err != nil {
					slog.Warn("[SESSION] dropping corrupt frame buffer", "peer", s.peer.String(), "error", res.Err)
					continue
				}
				s.dispatch(frame.Classify(res.Frame))
			}
		}
		if err != nil {
			s.finish(err, true)
			return
		}
		if n == 0 {
			// A zero-length read signals channel closure.
			s.finish(io.EOF, true)
			return
		}
	}
}

// dispatch delivers one message unless the session has been closed.
func (s *Session) dispatch(msg frame.Message) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed || s.events.OnMessage == nil {
		return
	}
	s.events.OnMessage(msg)
}

// finish records the terminal reason, closes the channel and signals Done.
// The disconnect event is suppressed when the close was deliberate.
func (s *Session) finish(reason error, fromReadLoop bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if fromReadLoop {
			close(s.done)
		}
		return
	}
	s.closed = true
	s.err = reason
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	s.acc.Reset()

	if s.events.OnDisconnect != nil {
		s.events.OnDisconnect(reason)
	}
	close(s.done)
}

// Close tears the session down. Idempotent, safe from any goroutine and any
// state, never returns an error even when already closed. A blocked read is
// unblocked by closing the channel out from under it; the read loop then
// exits without firing OnDisconnect.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = ErrSessionClosed
	ch := s.ch
	s.ch = nil
	readLoopRunning := ch != nil
	s.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	s.acc.Reset()
	if !readLoopRunning {
		// No read loop owns done; the session never reached Streaming.
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

// Done is closed when the session reaches its terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal reason once Done is closed: ErrSessionClosed for
// a local Close, io.EOF for a clean peer hangup, or the read error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
