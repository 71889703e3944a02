package frame

import "encoding/json"

// Kind tags a classified message.
type Kind int

const (
	// KindMalformed marks a structurally valid JSON value that does not match
	// any known message shape. The frame is dropped, the stream continues.
	KindMalformed Kind = iota
	// KindTelemetry is a batch of EEG amplitude samples.
	KindTelemetry
	// KindSeizure is a frame the wearable flagged as a detected seizure.
	KindSeizure
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindSeizure:
		return "seizure"
	default:
		return "malformed"
	}
}

// Message is one classified frame. Samples keep full float64 precision;
// narrowing for presentation is the consumer's business.
type Message struct {
	Kind      Kind
	Timestamp string    // ISO-8601, seizure frames only
	Samples   []float64 // nil for malformed frames
	Raw       json.RawMessage
}

// wireFrame mirrors the wearable's JSON shape. Pointers distinguish an
// absent field from a zero value.
type wireFrame struct {
	SeizureDetected *bool      `json:"seizure_detected"`
	Data            *[]float64 `json:"data"`
	Timestamp       *string    `json:"timestamp"`
}

// Classify interprets one complete JSON frame. A frame with
// seizure_detected == true plus a data array and a timestamp string is a
// seizure event; any frame with a data array is telemetry; everything else
// is malformed. Classify never fails: unexpected shapes come back as
// KindMalformed for the caller to report.
func Classify(raw json.RawMessage) Message {
	var w wireFrame
	if err := json.Unmarshal(raw, &w); err != nil {
		// Valid JSON but not an object (array, scalar, mismatched types).
		return Message{Kind: KindMalformed, Raw: raw}
	}

	if w.SeizureDetected != nil && *w.SeizureDetected && w.Data != nil && w.Timestamp != nil {
		return Message{
			Kind:      KindSeizure,
			Timestamp: *w.Timestamp,
			Samples:   *w.Data,
			Raw:       raw,
		}
	}

	if w.Data != nil {
		return Message{Kind: KindTelemetry, Samples: *w.Data, Raw: raw}
	}

	return Message{Kind: KindMalformed, Raw: raw}
}
