package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/wongchs/brainwaved/internal/frame"
	"github.com/wongchs/brainwaved/internal/transport"
)

// State is the supervisor's connection state. Transitions are serialized;
// Connected never moves to Retrying without passing through Disconnected.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateRetrying
	StateStopped
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateRetrying:
		return "retrying"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ErrStopped is returned by Start and RequestReconnectNow after Stop. Stop
// is terminal: a stopped Supervisor is never restarted, callers construct a
// new one.
var ErrStopped = errors.New("session: supervisor stopped")

// StateListener observes every state change plus informational re-reports
// (such as "already connected"). Called with the supervisor's transition
// mutex held; listeners must not call back into the Supervisor.
type StateListener func(state State, detail string)

// SupervisorOptions configures the retry behavior.
type SupervisorOptions struct {
	// RetryDelay is the fixed wait between attempts. The wearable's
	// companion apps have always used five seconds.
	RetryDelay time.Duration
	// MaxBufferBytes bounds each session's frame accumulator.
	MaxBufferBytes int
}

// DefaultSupervisorOptions returns the production retry policy.
func DefaultSupervisorOptions() SupervisorOptions {
	return SupervisorOptions{RetryDelay: 5 * time.Second}
}

// Supervisor keeps at most one live Session to the peer, retrying after
// every failure with a fixed delay and no attempt limit. All transport
// failures surface through the StateListener; none propagate to callers.
type Supervisor struct {
	adapter   transport.Adapter
	peer      transport.PeerIdentity
	opts      SupervisorOptions
	onState   StateListener
	onMessage func(frame.Message)

	mu      sync.Mutex
	state   State
	sess    *Session
	started bool
	stopped bool

	kick   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSupervisor builds a supervisor for the given peer. onMessage receives
// every classified frame from whichever session is live; onState observes
// connection-state changes. Either may be nil.
func NewSupervisor(adapter transport.Adapter, peer transport.PeerIdentity, opts SupervisorOptions, onState StateListener, onMessage func(frame.Message)) *Supervisor {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		adapter:   adapter,
		peer:      peer,
		opts:      opts,
		onState:   onState,
		onMessage: onMessage,
		state:     StateIdle,
		kick:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// transition assigns the new state and dispatches the listener under one
// mutex so observers never see transitions out of order.
func (s *Supervisor) transition(state State, detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(state, detail)
}

func (s *Supervisor) transitionLocked(state State, detail string) {
	s.state = state
	slog.Info("[SUPERVISOR] state", "state", state.String(), "detail", detail)
	if s.onState != nil {
		s.onState(state, detail)
	}
}

// Start begins connecting. The first call starts the run loop; later calls
// are no-ops. After Stop it returns ErrStopped.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run()
	return nil
}

// RequestReconnectNow is the manual refresh. While Connected it only
// re-reports the current state; an active session is never torn down by a
// refresh. Otherwise it cancels any pending backoff so the next attempt
// starts immediately.
func (s *Supervisor) RequestReconnectNow() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.state == StateConnected {
		// Not a transition, just a report for the UI.
		detail := fmt.Sprintf("already connected to %s", s.peer)
		if s.onState != nil {
			s.onState(StateConnected, detail)
		}
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	select {
	case s.kick <- struct{}{}:
	default:
	}
	return nil
}

// Stop cancels any in-flight attempt or backoff wait, closes the live
// session, and leaves the supervisor in StateStopped. Idempotent; no
// callbacks fire after it returns except the single Stopped transition.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	sess := s.sess
	s.mu.Unlock()

	s.cancel()
	if sess != nil {
		sess.Close()
	}
	s.wg.Wait()
	s.transition(StateStopped, "supervisor stopped")
}

// setSession records the live session, closing it immediately when a Stop
// raced the handoff.
func (s *Supervisor) setSession(sess *Session) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if sess != nil {
			sess.Close()
		}
		return false
	}
	s.sess = sess
	s.mu.Unlock()
	return true
}

// run is the single goroutine that owns open, wait and retry. All state
// transitions besides the final Stopped happen here.
func (s *Supervisor) run() {
	defer s.wg.Done()

	for {
		if s.ctx.Err() != nil {
			return
		}

		s.transition(StateConnecting, fmt.Sprintf("connecting to %s", s.peer))

		sess := New(s.adapter, s.peer, s.opts.MaxBufferBytes, Events{OnMessage: s.onMessage})
		if !s.setSession(sess) {
			return
		}

		if err := sess.Open(s.ctx); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.transition(StateDisconnected, describeOpenFailure(s.peer, err))
		} else {
			s.transition(StateConnected, fmt.Sprintf("connected to %s", s.peer))

			select {
			case <-sess.Done():
			case <-s.ctx.Done():
				sess.Close()
				<-sess.Done()
				return
			}

			reason := sess.Err()
			if errors.Is(reason, ErrSessionClosed) {
				return
			}
			s.transition(StateDisconnected, fmt.Sprintf("connection lost: %v", reason))
		}

		s.setSession(nil)
		if s.ctx.Err() != nil {
			return
		}

		s.transition(StateRetrying, fmt.Sprintf("retrying in %s", s.opts.RetryDelay))
		timer := time.NewTimer(s.opts.RetryDelay)
		select {
		case <-timer.C:
		case <-s.kick:
			timer.Stop()
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// describeOpenFailure renders a transport failure as the human-readable
// status string the UI shows.
func describeOpenFailure(peer transport.PeerIdentity, err error) string {
	switch {
	case errors.Is(err, transport.ErrPeerNotFound):
		return fmt.Sprintf("%s not found, make sure it is paired", peer)
	case errors.Is(err, transport.ErrAdapterUnavailable):
		return "this device does not support bluetooth"
	case errors.Is(err, transport.ErrAdapterDisabled):
		return "bluetooth is not enabled"
	default:
		return fmt.Sprintf("failed to connect: %v", err)
	}
}
