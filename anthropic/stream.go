package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/flumechat/flume"
)

// stream implements [flume.Stream] by parsing SSE events from an HTTP response body.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ctx     context.Context
	state   flume.StreamState
	msg     flume.AssistantMessage
	blocks  map[int]*blockState
	textPos map[int]int     // SSE block index -> position in msg.Content
	seen    map[string]bool // citation URLs already emitted
	err     error           // terminal error, if any
}

// blockState tracks the state of a content block being assembled.
type blockState struct {
	blockType string
	textBuf   strings.Builder
}

// Interface compliance check.
var _ flume.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	return &stream{
		body:    body,
		scanner: bufio.NewScanner(body),
		ctx:     ctx,
		state:   flume.StreamStateNew,
		blocks:  make(map[int]*blockState),
		textPos: make(map[int]int),
		seen:    make(map[string]bool),
	}
}

// Next reads the next semantic event from the SSE stream.
// Returns io.EOF when the stream completes normally.
func (s *stream) Next() (flume.Event, error) {
	switch s.state {
	case flume.StreamStateComplete:
		return nil, io.EOF
	case flume.StreamStateError:
		return nil, s.err
	case flume.StreamStateClosed:
		return nil, fmt.Errorf("anthropic: stream closed")
	}

	for {
		eventType, data, err := s.readSSEEvent()
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		s.state = flume.StreamStateStreaming

		evt, err := s.processEvent(eventType, data)
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		// processEvent may set a terminal state (e.g. message_stop).
		if s.state == flume.StreamStateComplete {
			return nil, io.EOF
		}

		if evt != nil {
			return evt, nil
		}
		// Non-semantic event (ping, message_start, etc.) - keep reading.
	}
}

// State returns the current stream state.
func (s *stream) State() flume.StreamState {
	return s.state
}

// Message returns the assembled AssistantMessage.
func (s *stream) Message() (flume.AssistantMessage, error) {
	if s.state == flume.StreamStateNew {
		return flume.AssistantMessage{}, fmt.Errorf("anthropic: no data received yet")
	}
	return s.msg, nil
}

// Close closes the underlying HTTP response body.
func (s *stream) Close() error {
	if s.state != flume.StreamStateComplete && s.state != flume.StreamStateError {
		s.state = flume.StreamStateClosed
		s.msg.StopReason = flume.StopAborted
		s.msg.RawStopReason = "aborted"
	}
	return s.body.Close()
}

// terminate records a terminal error and sets the appropriate state and stop reason.
func (s *stream) terminate(err error) {
	if err == io.EOF {
		// Normal completion via message_stop should set StreamStateComplete
		// before we reach here. If we get raw EOF, the stream ended unexpectedly.
		s.state = flume.StreamStateError
		s.err = fmt.Errorf("anthropic: unexpected end of stream")
		s.msg.StopReason = flume.StopError
		s.msg.RawStopReason = "error"
		return
	}
	s.state = flume.StreamStateError
	s.err = err
	if s.ctx.Err() != nil {
		s.msg.StopReason = flume.StopAborted
		s.msg.RawStopReason = "aborted"
	} else {
		s.msg.StopReason = flume.StopError
		s.msg.RawStopReason = "error"
	}
}

// readSSEEvent reads lines until a complete SSE event is assembled.
// Returns the event type and the data payload.
func (s *stream) readSSEEvent() (string, string, error) {
	var eventType string
	var dataBuf strings.Builder

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Empty line signals end of event.
			if dataBuf.Len() > 0 {
				return eventType, dataBuf.String(), nil
			}
			// Empty event, keep reading.
			continue
		}

		if strings.HasPrefix(line, "event: ") {
			eventType = strings.TrimPrefix(line, "event: ")
		} else if strings.HasPrefix(line, "data: ") {
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(strings.TrimPrefix(line, "data: "))
		}
		// Ignore comments (lines starting with ':') and unknown fields.
	}

	if err := s.scanner.Err(); err != nil {
		return "", "", fmt.Errorf("anthropic: %w", err)
	}

	// Scanner exhausted without error = EOF.
	if dataBuf.Len() > 0 {
		return eventType, dataBuf.String(), nil
	}
	return "", "", io.EOF
}

// processEvent maps an SSE event to a semantic flume.Event.
// Returns nil event for non-semantic events (ping, message_start, etc.).
func (s *stream) processEvent(eventType, data string) (flume.Event, error) {
	switch eventType {
	case "message_start":
		return nil, s.handleMessageStart(data)
	case "content_block_start":
		return s.handleContentBlockStart(data)
	case "content_block_delta":
		return s.handleContentBlockDelta(data)
	case "message_delta":
		return nil, s.handleMessageDelta(data)
	case "message_stop":
		s.state = flume.StreamStateComplete
		return nil, nil
	case "ping", "content_block_stop":
		return nil, nil
	case "error":
		return nil, s.handleError(data)
	default:
		// Unknown event types are ignored per the API spec.
		return nil, nil
	}
}

func (s *stream) handleMessageStart(data string) error {
	var evt sseMessageStart
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return fmt.Errorf("anthropic: failed to parse message_start: %w", err)
	}
	u := evt.Message.Usage
	s.msg.Usage.InputTokens = u.InputTokens
	if u.CacheReadInputTokens != nil {
		s.msg.Usage.CacheReadTokens = *u.CacheReadInputTokens
	}
	if u.CacheCreationInputTokens != nil {
		s.msg.Usage.CacheWriteTokens = *u.CacheCreationInputTokens
	}
	return nil
}

func (s *stream) handleContentBlockStart(data string) (flume.Event, error) {
	var evt sseContentBlockStart
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse content_block_start: %w", err)
	}

	s.blocks[evt.Index] = &blockState{blockType: evt.ContentBlock.Type}

	// Server tool use blocks (web search) produce an action label so the
	// client can show progress while the search runs.
	if evt.ContentBlock.Type == "server_tool_use" && evt.ContentBlock.Name == "web_search" {
		return flume.EventAction{Label: "Searching the web"}, nil
	}
	return nil, nil
}

func (s *stream) handleContentBlockDelta(data string) (flume.Event, error) {
	var evt sseContentBlockDelta
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return nil, fmt.Errorf("anthropic: failed to parse content_block_delta: %w", err)
	}

	bs := s.blocks[evt.Index]
	if bs == nil {
		return nil, fmt.Errorf("anthropic: delta for unknown block index %d", evt.Index)
	}

	switch evt.Delta.Type {
	case "text_delta":
		bs.textBuf.WriteString(evt.Delta.Text)
		s.setText(evt.Index, bs.textBuf.String())
		return flume.EventTextDelta{Delta: evt.Delta.Text}, nil
	case "thinking_delta":
		s.msg.Thinking += evt.Delta.Thinking
		return flume.EventThinkingDelta{Delta: evt.Delta.Thinking}, nil
	case "citations_delta":
		return s.handleCitation(evt.Delta.Citation), nil
	case "signature_delta", "input_json_delta":
		// Internal use only; not exposed as semantic events.
		return nil, nil
	default:
		return nil, nil
	}
}

// setText updates the TextBlock for the given SSE block index, creating it
// in arrival order on the first delta.
func (s *stream) setText(index int, text string) {
	pos, ok := s.textPos[index]
	if !ok {
		pos = len(s.msg.Content)
		s.textPos[index] = pos
		s.msg.Content = append(s.msg.Content, flume.TextBlock{})
	}
	s.msg.Content[pos] = flume.TextBlock{Text: text}
}

func (s *stream) handleCitation(c *sseCitation) flume.Event {
	if c == nil || c.URL == "" || s.seen[c.URL] {
		return nil
	}
	s.seen[c.URL] = true
	citation := flume.Citation{
		Number: len(s.msg.Citations) + 1,
		URL:    c.URL,
		Title:  c.Title,
	}
	s.msg.Citations = append(s.msg.Citations, citation)
	return flume.EventCitation{Citation: citation}
}

func (s *stream) handleMessageDelta(data string) error {
	var evt sseMessageDelta
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return fmt.Errorf("anthropic: failed to parse message_delta: %w", err)
	}

	s.msg.Usage.OutputTokens = evt.Usage.OutputTokens

	if evt.Delta.StopReason != nil {
		s.msg.RawStopReason = *evt.Delta.StopReason
		s.msg.StopReason = mapStopReason(*evt.Delta.StopReason)
	}

	return nil
}

func (s *stream) handleError(data string) error {
	var evt sseError
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return fmt.Errorf("anthropic: failed to parse error event: %w", err)
	}
	return fmt.Errorf("anthropic: %s: %s", evt.Error.Type, evt.Error.Message)
}

func mapStopReason(raw string) flume.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return flume.StopEndTurn
	case "max_tokens":
		return flume.StopLength
	default:
		return flume.StopUnknown
	}
}
