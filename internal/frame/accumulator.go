// Package frame extracts complete JSON frames from the wearable's raw byte
// stream and classifies them. The wire format has no length prefix or
// delimiter; a frame boundary is the end of the first complete JSON value in
// the accumulated bytes.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxBufferBytes caps accumulator growth when the caller passes 0.
const DefaultMaxBufferBytes = 1 << 20

// ErrBufferOverflow reports that the accumulated bytes exceeded the cap
// without forming a complete frame.
var ErrBufferOverflow = errors.New("frame: buffer exceeded cap without a complete frame")

// Result is the outcome of scanning the buffer after an append. A feed that
// needs more bytes produces no Result at all.
type Result struct {
	// Frame is the raw bytes of one complete JSON value, nil when Err is set.
	Frame json.RawMessage
	// Err reports an unrecoverable buffer state: a syntax error that more
	// bytes cannot repair, or the buffer cap being exceeded. The buffer has
	// been reset when Err is set.
	Err error
}

// Accumulator buffers undelimited bytes between reads and carves complete
// JSON values out of them. The internal buffer persists across Feed calls;
// it is cleared only when a frame is extracted, on an unrecoverable error,
// or by Reset. Not safe for concurrent use; a session owns exactly one.
type Accumulator struct {
	buf []byte
	max int
}

// NewAccumulator returns an Accumulator whose buffer may grow to maxBytes
// before pending data is discarded. maxBytes <= 0 selects
// DefaultMaxBufferBytes.
func NewAccumulator(maxBytes int) *Accumulator {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBufferBytes
	}
	return &Accumulator{max: maxBytes}
}

// Feed appends chunk to the buffer and returns every complete frame that can
// now be extracted, in stream order. Incomplete trailing data stays buffered
// for the next call. Two objects flushed by the peer in a single chunk both
// come out of the same call.
func (a *Accumulator) Feed(chunk []byte) []Result {
	if len(chunk) == 0 {
		return nil
	}
	a.buf = append(a.buf, chunk...)

	var results []Result
	for {
		res, ok := a.next()
		if !ok {
			break
		}
		results = append(results, res)
		if res.Err != nil {
			break
		}
	}

	if len(a.buf) > a.max {
		a.buf = nil
		results = append(results, Result{Err: ErrBufferOverflow})
	}
	return results
}

// next tries to decode the first complete JSON value at the front of the
// buffer. ok is false when the buffer is empty or holds only an incomplete
// prefix.
func (a *Accumulator) next() (Result, bool) {
	trimmed := bytes.TrimLeft(a.buf, " \t\r\n")
	if len(trimmed) == 0 {
		a.buf = a.buf[:0]
		return Result{}, false
	}
	a.buf = append(a.buf[:0], trimmed...)

	dec := json.NewDecoder(bytes.NewReader(a.buf))
	var raw json.RawMessage
	err := dec.Decode(&raw)
	if err == nil {
		consumed := int(dec.InputOffset())
		frame := make(json.RawMessage, len(raw))
		copy(frame, raw)
		a.buf = append(a.buf[:0], a.buf[consumed:]...)
		return Result{Frame: frame}, true
	}

	// Truncated input: a complete value may still arrive.
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Result{}, false
	}

	// A syntax error mid-buffer can never be repaired by more bytes. Drop the
	// pending data so the stream can resync on the next object boundary.
	a.buf = nil
	return Result{Err: fmt.Errorf("frame: discarding corrupt buffer: %w", err)}, true
}

// Pending reports how many bytes are buffered awaiting a complete frame.
func (a *Accumulator) Pending() int {
	return len(a.buf)
}

// Reset discards any buffered bytes. Called on session teardown so a new
// connection starts with a fresh stream.
func (a *Accumulator) Reset() {
	a.buf = nil
}
