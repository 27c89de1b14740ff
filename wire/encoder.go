package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/flumechat/flume"
)

// flusher is implemented by writers that can push buffered bytes to the
// client immediately (http.ResponseWriter, gin's writer).
type flusher interface {
	Flush()
}

// Encoder drains an upstream token stream into w, re-emitting each visible
// token unchanged, and appends the metadata envelope exactly once when the
// upstream completes cleanly. Cancellation is checked at token granularity;
// once observed, the stream is closed without an envelope — consumers treat
// early closure as "no metadata available", not as an error.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an Encoder writing to w. If w implements Flush, each
// token is flushed as it is written.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode copies s to the writer. base seeds the envelope with fields known
// before generation (thread ID, search citations, transcript); citations
// and thinking gathered during generation are merged in at completion.
// The returned metadata is what was actually appended (zero when no
// envelope was written).
func (e *Encoder) Encode(ctx context.Context, s flume.Stream, base flume.Metadata) (flume.Metadata, error) {
	meta := base

	for {
		if err := ctx.Err(); err != nil {
			// User-initiated stop: clean close, no envelope.
			return flume.Metadata{}, nil
		}

		evt, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Mid-stream failure: whatever prose was already written
			// stands; no envelope follows a dirty termination.
			return flume.Metadata{}, fmt.Errorf("wire: upstream: %w", err)
		}

		switch evt := evt.(type) {
		case flume.EventTextDelta:
			if _, err := io.WriteString(e.w, evt.Delta); err != nil {
				return flume.Metadata{}, fmt.Errorf("wire: write: %w", err)
			}
			e.flush()
		case flume.EventThinkingDelta:
			meta.Thinking += evt.Delta
		case flume.EventAction:
			// Progress labels are transient; they surface through early
			// action-only envelopes (WriteAction), never the final one.
			if err := e.WriteAction(evt.Label); err != nil {
				return flume.Metadata{}, err
			}
		case flume.EventCitation:
			meta.Citations = append(meta.Citations, evt.Citation)
		}
	}

	// A label in the final envelope would linger on screen after the
	// answer; the turn is over, so there is no in-progress work to name.
	meta.Action = ""

	if err := e.WriteEnvelope(meta); err != nil {
		return flume.Metadata{}, err
	}
	return meta, nil
}

// WriteEnvelope appends the delimited metadata block. A zero envelope is
// skipped entirely — the protocol allows at most one, not exactly one.
func (e *Encoder) WriteEnvelope(meta flume.Metadata) error {
	if meta.IsZero() {
		return nil
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "%s%s%s%s", metadataSeparator, MetadataStart, payload, MetadataEnd); err != nil {
		return fmt.Errorf("wire: write envelope: %w", err)
	}
	e.flush()
	return nil
}

// WriteAction emits an envelope carrying only a progress label. The
// gateway uses it to surface stage progress before prose starts flowing.
func (e *Encoder) WriteAction(label string) error {
	return e.WriteEnvelope(flume.Metadata{Action: label})
}

func (e *Encoder) flush() {
	if f, ok := e.w.(flusher); ok {
		f.Flush()
	}
}
