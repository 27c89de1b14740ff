package flume

import "encoding/json"

// Citation identifies a source referenced by the assistant's answer.
// Number matches the [n] markers in the visible text.
type Citation struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Date   string `json:"date,omitempty"`
}

// Transcript carries text derived from an audio attachment.
type Transcript struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// Metadata is the envelope appended once to the end of a completed stream.
// All fields are optional; a zero Metadata is valid and means "nothing to
// report". Unknown fields survive a decode/encode round trip via Extra so
// that older clients pass newer envelopes through unchanged.
type Metadata struct {
	Citations  []Citation  `json:"citations,omitempty"`
	Thinking   string      `json:"thinking,omitempty"`
	Action     string      `json:"action,omitempty"`
	ThreadID   string      `json:"threadId,omitempty"`
	Transcript *Transcript `json:"transcript,omitempty"`

	// Extra holds fields this version does not understand.
	Extra map[string]json.RawMessage `json:"-"`
}

// IsZero reports whether the envelope carries no information at all.
// The encoder uses it to skip the envelope entirely.
func (m Metadata) IsZero() bool {
	return len(m.Citations) == 0 && m.Thinking == "" && m.Action == "" &&
		m.ThreadID == "" && m.Transcript == nil && len(m.Extra) == 0
}

// knownMetadataKeys are the envelope fields this version understands.
// UnmarshalJSON routes everything else into Extra.
var knownMetadataKeys = map[string]bool{
	"citations":  true,
	"thinking":   true,
	"action":     true,
	"threadId":   true,
	"transcript": true,
}

// MarshalJSON emits known fields plus any Extra fields at the top level.
func (m Metadata) MarshalJSON() ([]byte, error) {
	type plain Metadata
	raw, err := json.Marshal(plain(m))
	if err != nil {
		return nil, err
	}
	if len(m.Extra) == 0 {
		return raw, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range m.Extra {
		if !knownMetadataKeys[k] {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes known fields and preserves unknown ones in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	type plain Metadata
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*m = Metadata(p)
	for k, v := range all {
		if knownMetadataKeys[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}
		m.Extra[k] = v
	}
	return nil
}
