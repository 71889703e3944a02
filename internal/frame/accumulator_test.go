package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// feedAll pushes data through the accumulator in fixed-size chunks and
// collects every result.
func feedAll(t *testing.T, a *Accumulator, data []byte, chunkSize int) []Result {
	t.Helper()
	var results []Result
	for off := 0; off < len(data); off += chunkSize {
		end := off + chunkSize
		if end > len(data) {
			end = len(data)
		}
		results = append(results, a.Feed(data[off:end])...)
	}
	return results
}

func TestFeedSingleObject(t *testing.T) {
	a := NewAccumulator(0)
	results := a.Feed([]byte(`{"data":[1.0,2.0,3.0]}`))

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("unexpected error: %v", results[0].Err)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after full extraction, want 0", a.Pending())
	}
}

func TestFeedArbitraryChunkSplits(t *testing.T) {
	objects := []string{
		`{"data":[1.5,2.5,3.5,4.5]}`,
		`{"seizure_detected":true,"data":[9.0],"timestamp":"2024-01-01T00:00:00Z"}`,
		`{"data":[]}`,
		`{"data":[-0.25,100.125]}`,
	}
	stream := []byte(strings.Join(objects, ""))

	for _, chunkSize := range []int{1, 2, 3, 7, 16, 1024} {
		t.Run(fmt.Sprintf("chunk=%d", chunkSize), func(t *testing.T) {
			a := NewAccumulator(0)
			results := feedAll(t, a, stream, chunkSize)

			if len(results) != len(objects) {
				t.Fatalf("got %d frames, want %d", len(results), len(objects))
			}
			for i, res := range results {
				if res.Err != nil {
					t.Fatalf("frame %d: unexpected error %v", i, res.Err)
				}
				var got, want any
				if err := json.Unmarshal(res.Frame, &got); err != nil {
					t.Fatalf("frame %d: invalid JSON extracted: %v", i, err)
				}
				if err := json.Unmarshal([]byte(objects[i]), &want); err != nil {
					t.Fatal(err)
				}
				if fmt.Sprint(got) != fmt.Sprint(want) {
					t.Errorf("frame %d = %s, want %s", i, res.Frame, objects[i])
				}
			}
			if a.Pending() != 0 {
				t.Errorf("Pending() = %d after complete stream, want 0", a.Pending())
			}
		})
	}
}

func TestFeedConcatenatedObjectsInOneChunk(t *testing.T) {
	a := NewAccumulator(0)
	results := a.Feed([]byte(`{"data":[1]}{"data":[2]}{"data":[3]}`))

	if len(results) != 3 {
		t.Fatalf("got %d frames, want 3 from one flush", len(results))
	}
	for i, res := range results {
		if res.Err != nil {
			t.Fatalf("frame %d: unexpected error %v", i, res.Err)
		}
		msg := Classify(res.Frame)
		if msg.Kind != KindTelemetry {
			t.Errorf("frame %d classified as %v, want telemetry", i, msg.Kind)
		}
		if len(msg.Samples) != 1 || msg.Samples[0] != float64(i+1) {
			t.Errorf("frame %d samples = %v, want [%d]", i, msg.Samples, i+1)
		}
	}
}

func TestFeedIncompleteKeepsBuffering(t *testing.T) {
	a := NewAccumulator(0)

	if results := a.Feed([]byte(`{"data":[1.0,`)); len(results) != 0 {
		t.Fatalf("incomplete prefix produced %d results, want 0", len(results))
	}
	if a.Pending() == 0 {
		t.Fatal("Pending() = 0, want buffered prefix retained")
	}

	results := a.Feed([]byte(`2.0]}`))
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("completing the object gave %v", results)
	}
}

func TestFeedWhitespaceBetweenFrames(t *testing.T) {
	a := NewAccumulator(0)
	results := a.Feed([]byte("  {\"data\":[1]}\n\t{\"data\":[2]}\r\n"))

	if len(results) != 2 {
		t.Fatalf("got %d frames, want 2", len(results))
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 (trailing whitespace dropped)", a.Pending())
	}
}

func TestFeedCorruptBufferResets(t *testing.T) {
	a := NewAccumulator(0)
	results := a.Feed([]byte(`{invalid`))

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 error result", len(results))
	}
	if results[0].Err == nil {
		t.Fatal("corrupt buffer should surface an error result")
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after corrupt reset, want 0", a.Pending())
	}

	// Stream recovers on the next object.
	results = a.Feed([]byte(`{"data":[1]}`))
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("stream did not recover after reset: %v", results)
	}
}

func TestFeedBufferOverflow(t *testing.T) {
	a := NewAccumulator(32)

	// A syntactically open object that never completes.
	results := a.Feed([]byte(`{"data":[` + strings.Repeat("1,", 64)))
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 overflow result", len(results))
	}
	if !errors.Is(results[0].Err, ErrBufferOverflow) {
		t.Fatalf("err = %v, want ErrBufferOverflow", results[0].Err)
	}
	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after overflow, want 0", a.Pending())
	}
}

func TestReset(t *testing.T) {
	a := NewAccumulator(0)
	a.Feed([]byte(`{"data":[1.0,`))
	a.Reset()

	if a.Pending() != 0 {
		t.Errorf("Pending() = %d after Reset, want 0", a.Pending())
	}

	// A fresh stream after reset must not see stale bytes.
	results := a.Feed([]byte(`{"data":[7]}`))
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("post-reset feed gave %v", results)
	}
}

func TestFeedEmptyChunk(t *testing.T) {
	a := NewAccumulator(0)
	if results := a.Feed(nil); results != nil {
		t.Errorf("Feed(nil) = %v, want nil", results)
	}
}
