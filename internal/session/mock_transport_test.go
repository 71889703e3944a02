package session

import (
	"context"
	"io"
	"sync"

	"github.com/wongchs/brainwaved/internal/transport"
)

// scriptedChannel feeds pre-arranged chunks to the read loop. Closing the
// channel unblocks a pending Read, and exhausting the script yields the
// configured terminal error.
type scriptedChannel struct {
	chunks chan []byte
	eofErr error // returned once chunks is closed and drained; io.EOF by default

	closeOnce sync.Once
	closed    chan struct{}
}

func newScriptedChannel() *scriptedChannel {
	return &scriptedChannel{
		chunks: make(chan []byte, 64),
		eofErr: io.EOF,
		closed: make(chan struct{}),
	}
}

func (c *scriptedChannel) push(data string) {
	c.chunks <- []byte(data)
}

// endStream marks the script complete; subsequent reads observe eofErr.
func (c *scriptedChannel) endStream() {
	close(c.chunks)
}

func (c *scriptedChannel) Read(p []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, io.ErrClosedPipe
	case chunk, ok := <-c.chunks:
		if !ok {
			return 0, c.eofErr
		}
		return copy(p, chunk), nil
	}
}

func (c *scriptedChannel) Write(p []byte) (int, error) {
	return len(p), nil
}

func (c *scriptedChannel) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *scriptedChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// mockAdapter scripts a sequence of Open outcomes: the first failBefore
// calls fail with openErr, later ones hand out fresh scripted channels.
type mockAdapter struct {
	mu          sync.Mutex
	failBefore  int
	openErr     error
	opens       int
	inFlight    int
	maxInFlight int
	channels    []*scriptedChannel

	// onOpen, when set, is invoked for each successful open with the new
	// channel, before Open returns.
	onOpen func(*scriptedChannel)
}

func (a *mockAdapter) Open(_ context.Context, _ transport.PeerIdentity) (transport.Channel, error) {
	a.mu.Lock()
	a.opens++
	a.inFlight++
	if a.inFlight > a.maxInFlight {
		a.maxInFlight = a.inFlight
	}
	fail := a.opens <= a.failBefore
	err := a.openErr
	onOpen := a.onOpen
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.inFlight--
		a.mu.Unlock()
	}()

	if fail {
		if err == nil {
			err = transport.ErrOpenFailed
		}
		return nil, err
	}

	ch := newScriptedChannel()
	a.mu.Lock()
	a.channels = append(a.channels, ch)
	a.mu.Unlock()
	if onOpen != nil {
		onOpen(ch)
	}
	return ch, nil
}

func (a *mockAdapter) Scan(context.Context) ([]transport.PeerIdentity, error) {
	return nil, nil
}

func (a *mockAdapter) openCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.opens
}

func (a *mockAdapter) latestChannel() *scriptedChannel {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.channels) == 0 {
		return nil
	}
	return a.channels[len(a.channels)-1]
}
