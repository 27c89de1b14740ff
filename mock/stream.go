package mock

import (
	"io"

	"github.com/flumechat/flume"
)

// Interface compliance checks.
var (
	_ flume.Stream = (*Stream)(nil)
	_ flume.Stream = (*ScriptedStream)(nil)
)

// Stream is a test double for flume.Stream.
// Set the function fields for the methods you need. NextFn and MessageFn
// panic when nil to catch missing setup. CloseFn and StateFn are nil-safe
// (no-op and zero value) because test code commonly calls defer stream.Close()
// and these methods rarely need custom behavior.
type Stream struct {
	NextFn    func() (flume.Event, error)
	StateFn   func() flume.StreamState
	MessageFn func() (flume.AssistantMessage, error)
	CloseFn   func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (flume.Event, error) {
	return s.NextFn()
}

// State delegates to StateFn. Returns StreamStateNew when StateFn is nil.
func (s *Stream) State() flume.StreamState {
	if s.StateFn == nil {
		return flume.StreamStateNew
	}
	return s.StateFn()
}

// Message delegates to MessageFn.
func (s *Stream) Message() (flume.AssistantMessage, error) {
	return s.MessageFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}

// ScriptedStream replays a fixed event sequence and assembles the message
// the way a real provider stream would: text and thinking deltas accumulate,
// citations collect, and completion yields StopEndTurn.
type ScriptedStream struct {
	events []flume.Event
	pos    int
	state  flume.StreamState
	msg    flume.AssistantMessage
	err    error // non-nil: returned after the scripted events instead of EOF
}

// NewScriptedStream creates a stream that emits events in order, then EOF.
func NewScriptedStream(events ...flume.Event) *ScriptedStream {
	return &ScriptedStream{events: events}
}

// FailWith makes the stream return err (instead of EOF) once the scripted
// events run out, simulating a mid-stream transport failure.
func (s *ScriptedStream) FailWith(err error) *ScriptedStream {
	s.err = err
	return s
}

// Next returns the next scripted event.
func (s *ScriptedStream) Next() (flume.Event, error) {
	if s.state == flume.StreamStateClosed {
		return nil, flume.ErrStreamClosed
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			s.state = flume.StreamStateError
			s.msg.StopReason = flume.StopError
			return nil, s.err
		}
		s.state = flume.StreamStateComplete
		s.msg.StopReason = flume.StopEndTurn
		return nil, io.EOF
	}
	evt := s.events[s.pos]
	s.pos++
	s.state = flume.StreamStateStreaming
	s.absorb(evt)
	return evt, nil
}

func (s *ScriptedStream) absorb(evt flume.Event) {
	switch e := evt.(type) {
	case flume.EventTextDelta:
		s.appendText(e.Delta)
	case flume.EventThinkingDelta:
		s.msg.Thinking += e.Delta
	case flume.EventCitation:
		s.msg.Citations = append(s.msg.Citations, e.Citation)
	}
}

func (s *ScriptedStream) appendText(delta string) {
	if n := len(s.msg.Content); n > 0 {
		if tb, ok := s.msg.Content[n-1].(flume.TextBlock); ok {
			s.msg.Content[n-1] = flume.TextBlock{Text: tb.Text + delta}
			return
		}
	}
	s.msg.Content = append(s.msg.Content, flume.TextBlock{Text: delta})
}

// State returns the current stream state.
func (s *ScriptedStream) State() flume.StreamState { return s.state }

// Message returns the message assembled from the events replayed so far.
func (s *ScriptedStream) Message() (flume.AssistantMessage, error) {
	return s.msg, nil
}

// Close marks the stream aborted unless it already reached a terminal state.
func (s *ScriptedStream) Close() error {
	if s.state != flume.StreamStateComplete && s.state != flume.StreamStateError {
		s.state = flume.StreamStateClosed
		s.msg.StopReason = flume.StopAborted
	}
	return nil
}
