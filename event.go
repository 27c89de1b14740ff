package flume

// Event is a sealed interface representing a streaming event.
// Events are purely semantic. Transport/protocol errors come from
// Next()'s error return, not from events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventTextDelta represents a visible text content delta.
type EventTextDelta struct {
	Delta string
}

func (EventTextDelta) event() {}

// EventThinkingDelta represents a thinking content delta.
type EventThinkingDelta struct {
	Delta string
}

func (EventThinkingDelta) event() {}

// EventAction carries a short human-readable progress label emitted while
// the upstream works on something other than prose, e.g. "Searching the web...".
// Labels replace each other; only the most recent one is meaningful.
type EventAction struct {
	Label string
}

func (EventAction) event() {}

// EventCitation reports a source discovered during generation. Citations
// accumulate over the turn and reach the client in the metadata envelope
// after all visible text.
type EventCitation struct {
	Citation Citation
}

func (EventCitation) event() {}

// Interface compliance checks.
var (
	_ Event = EventTextDelta{}
	_ Event = EventThinkingDelta{}
	_ Event = EventAction{}
	_ Event = EventCitation{}
)
