package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"

	"github.com/flumechat/flume"
	"google.golang.org/genai"
)

// stream implements [flume.Stream] by wrapping the genai SDK's streaming
// iterator. Each pulled chunk is parsed into zero or more semantic events,
// queued, and handed out one at a time; the assembled message accumulates
// in parallel.
type stream struct {
	ctx   context.Context
	pull  func() (*genai.GenerateContentResponse, error, bool)
	stop  func()
	state flume.StreamState
	msg   flume.AssistantMessage
	err   error

	queue  []flume.Event
	seen   map[string]bool // citation URLs already emitted
	finish genai.FinishReason
	raw    string
}

// Interface compliance check.
var _ flume.Stream = (*stream)(nil)

// NewStreamFromIter wraps a genai streaming iterator in a [flume.Stream].
// Exported for testing; production code goes through [Client.Stream].
func NewStreamFromIter(ctx context.Context, iterFn iter.Seq2[*genai.GenerateContentResponse, error]) flume.Stream {
	next, stop := iter.Pull2(iterFn)
	return &stream{
		ctx:   ctx,
		pull:  next,
		stop:  stop,
		state: flume.StreamStateNew,
		seen:  make(map[string]bool),
	}
}

func (s *stream) Next() (flume.Event, error) {
	switch s.state {
	case flume.StreamStateComplete:
		return nil, io.EOF
	case flume.StreamStateError:
		return nil, s.err
	case flume.StreamStateClosed:
		return nil, fmt.Errorf("gemini: stream closed")
	}
	s.state = flume.StreamStateStreaming

	for len(s.queue) == 0 {
		resp, err, ok := s.pull()
		if !ok {
			s.complete()
			return nil, io.EOF
		}
		if err != nil {
			s.fail(err)
			return nil, s.err
		}
		s.ingest(resp)
	}

	evt := s.queue[0]
	s.queue = s.queue[1:]
	return evt, nil
}

func (s *stream) State() flume.StreamState {
	return s.state
}

func (s *stream) Message() (flume.AssistantMessage, error) {
	if s.state == flume.StreamStateNew {
		return flume.AssistantMessage{}, fmt.Errorf("gemini: no data received yet")
	}
	return s.msg, nil
}

func (s *stream) Close() error {
	if s.state != flume.StreamStateComplete && s.state != flume.StreamStateError {
		s.state = flume.StreamStateClosed
		s.msg.StopReason = flume.StopAborted
		s.msg.RawStopReason = "aborted"
	}
	s.stop()
	return nil
}

// ingest parses one response chunk into events and folds it into the
// assembled message.
func (s *stream) ingest(resp *genai.GenerateContentResponse) {
	if resp.UsageMetadata != nil {
		s.msg.Usage = convertUsage(resp.UsageMetadata)
	}
	if len(resp.Candidates) == 0 {
		return
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != "" {
		s.finish = cand.FinishReason
		s.raw = string(cand.FinishReason)
	}

	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			switch {
			case part.Thought && part.Text != "":
				s.msg.Thinking += part.Text
				s.queue = append(s.queue, flume.EventThinkingDelta{Delta: part.Text})
			case part.Text != "":
				s.appendText(part.Text)
				s.queue = append(s.queue, flume.EventTextDelta{Delta: part.Text})
			}
		}
	}

	if cand.GroundingMetadata != nil {
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" || s.seen[chunk.Web.URI] {
				continue
			}
			s.seen[chunk.Web.URI] = true
			c := flume.Citation{
				Number: len(s.msg.Citations) + 1,
				URL:    chunk.Web.URI,
				Title:  chunk.Web.Title,
			}
			s.msg.Citations = append(s.msg.Citations, c)
			s.queue = append(s.queue, flume.EventCitation{Citation: c})
		}
	}
}

// appendText merges consecutive text deltas into the trailing TextBlock.
func (s *stream) appendText(text string) {
	if n := len(s.msg.Content); n > 0 {
		if tb, ok := s.msg.Content[n-1].(flume.TextBlock); ok {
			s.msg.Content[n-1] = flume.TextBlock{Text: tb.Text + text}
			return
		}
	}
	s.msg.Content = append(s.msg.Content, flume.TextBlock{Text: text})
}

func (s *stream) complete() {
	s.state = flume.StreamStateComplete
	s.msg.StopReason = convertFinishReason(s.finish)
	s.msg.RawStopReason = s.raw
}

func (s *stream) fail(err error) {
	s.state = flume.StreamStateError
	s.err = fmt.Errorf("gemini: %w", err)
	if errors.Is(err, context.Canceled) || s.ctx.Err() != nil {
		s.msg.StopReason = flume.StopAborted
		s.msg.RawStopReason = "aborted"
		return
	}
	s.msg.StopReason = flume.StopError
	s.msg.RawStopReason = "error"
}

func convertFinishReason(fr genai.FinishReason) flume.StopReason {
	switch fr {
	case genai.FinishReasonStop:
		return flume.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return flume.StopLength
	default:
		return flume.StopUnknown
	}
}

func convertUsage(u *genai.GenerateContentResponseUsageMetadata) flume.Usage {
	input := int(u.PromptTokenCount) - int(u.CachedContentTokenCount)
	if input < 0 {
		input = 0
	}
	return flume.Usage{
		InputTokens:     input,
		OutputTokens:    int(u.CandidatesTokenCount),
		CacheReadTokens: int(u.CachedContentTokenCount),
	}
}
