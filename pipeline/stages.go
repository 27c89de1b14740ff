package pipeline

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/flumechat/flume"
)

// Summarizer condenses an attached document into a short text summary.
type Summarizer interface {
	Summarize(ctx context.Context, filename string, data []byte) (string, error)
}

// Transcriber derives text from an attached audio recording.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
}

// Searcher enriches the turn with web results relevant to the user's query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]flume.Citation, error)
}

// summarizeBatchSize bounds the parallel fan-out of the summarize stage.
const summarizeBatchSize = 4

// RateLimitStage checks the user's quota. Exhausted quota is critical: no
// meaningful response can be produced.
func RateLimitStage(rl flume.RateLimiter) Stage {
	return Stage{
		Name: "ratelimit",
		Run: func(ctx context.Context, rc Context) (Update, error) {
			remaining, err := rl.Check(ctx, rc.Identity)
			if err != nil {
				return Update{}, flume.Critical(flume.CodeRateLimit, "ratelimit", err)
			}
			return Update{Quota: &remaining}, nil
		},
	}
}

// TranscribeStage derives a transcript from the first audio attachment.
// Runs only when the request carries audio. Failure is a warning: the turn
// proceeds without the transcript.
func TranscribeStage(tr Transcriber) Stage {
	return Stage{
		Name: "transcribe",
		When: func(rc Context) bool { return rc.Classification.HasAudio },
		Run: func(ctx context.Context, rc Context) (Update, error) {
			for _, msg := range rc.Messages {
				um, ok := msg.(flume.UserMessage)
				if !ok {
					continue
				}
				for _, b := range um.Content {
					ab, ok := b.(flume.AudioBlock)
					if !ok {
						continue
					}
					text, err := tr.Transcribe(ctx, ab.Filename, ab.Data)
					if err != nil {
						return Update{}, flume.Warning(flume.CodeUpstream, "transcribe", err)
					}
					return Update{Transcript: &flume.Transcript{Filename: ab.Filename, Text: text}}, nil
				}
			}
			return Update{}, nil
		},
	}
}

// SummarizeStage condenses attached documents in bounded parallel batches,
// awaiting each batch before starting the next. Individual document
// failures are warnings; successful summaries still land in the context.
func SummarizeStage(s Summarizer) Stage {
	return Stage{
		Name: "summarize",
		When: func(rc Context) bool { return rc.Classification.HasFiles },
		Run: func(ctx context.Context, rc Context) (Update, error) {
			files := collectFiles(rc.Messages)
			summaries := make(map[string]string, len(files))
			var errs []*flume.Error
			var mu sync.Mutex

			for start := 0; start < len(files); start += summarizeBatchSize {
				end := min(start+summarizeBatchSize, len(files))
				var wg sync.WaitGroup
				for _, fb := range files[start:end] {
					wg.Add(1)
					go func(fb flume.FileBlock) {
						defer wg.Done()
						summary, err := s.Summarize(ctx, fb.Filename, fb.Data)
						mu.Lock()
						defer mu.Unlock()
						if err != nil {
							errs = append(errs, flume.Warning(flume.CodeUpstream, "summarize",
								fmt.Errorf("%s: %w", fb.Filename, err)))
							return
						}
						summaries[fb.Filename] = summary
					}(fb)
				}
				wg.Wait()
			}

			return Update{Summaries: summaries, Errors: errs}, nil
		},
	}
}

// SearchStage enriches agent-model turns with web results. This is the
// stage most likely to hit its time budget; its absence only means no
// citations from search.
func SearchStage(s Searcher) Stage {
	return Stage{
		Name: "search",
		When: func(rc Context) bool { return rc.Model.IsAgent },
		Run: func(ctx context.Context, rc Context) (Update, error) {
			query := lastUserText(rc.Messages)
			if query == "" {
				return Update{}, nil
			}
			citations, err := s.Search(ctx, query)
			if err != nil {
				return Update{}, flume.Warning(flume.CodeUpstream, "search", err)
			}
			return Update{Citations: citations}, nil
		},
	}
}

// GenerateStage opens the upstream token stream. It returns as soon as the
// stream is established; draining happens in the encoder, outside the
// stage's time budget. Upstream failure here is critical unless a fallback
// model is configured, in which case one retry with the fallback happens
// before re-raising.
func GenerateStage(provider flume.Provider, fallbackModel string) Stage {
	return Stage{
		Name: "generate",
		Run: func(ctx context.Context, rc Context) (Update, error) {
			req := buildRequest(rc)

			// Providers bind the returned stream to the context they were
			// given, and the engine cancels the stage context as soon as the
			// stage returns. The stream is drained later, by the encoder, so
			// it must be established on a detached context. The time budget
			// still bounds establishment through the engine's timeout race;
			// the caller owns the stream's lifetime via Close.
			streamCtx := context.WithoutCancel(ctx)
			stream, err := provider.Stream(streamCtx, req)
			if err != nil && fallbackModel != "" && fallbackModel != req.Model {
				req.Model = fallbackModel
				stream, err = provider.Stream(streamCtx, req)
			}
			if err != nil {
				return Update{}, flume.Critical(flume.CodeUpstream, "generate", err)
			}
			if ctx.Err() != nil {
				// The budget expired (or the request was cancelled) while
				// dialing: the engine has already discarded this run, so the
				// stream would leak without a close here.
				stream.Close()
				return Update{}, ctx.Err()
			}
			return Update{Stream: stream}, nil
		},
	}
}

// buildRequest folds stage outputs (summaries, transcript) into the
// provider request as synthetic context ahead of the user's messages.
func buildRequest(rc Context) flume.Request {
	messages := rc.Messages
	var preamble string
	for _, name := range slices.Sorted(maps.Keys(rc.Summaries)) {
		preamble += fmt.Sprintf("Summary of %s:\n%s\n\n", name, rc.Summaries[name])
	}
	if rc.Transcript != nil {
		preamble += fmt.Sprintf("Transcript of %s:\n%s\n\n", rc.Transcript.Filename, rc.Transcript.Text)
	}
	if preamble != "" {
		augmented := make([]flume.Message, 0, len(messages)+1)
		augmented = append(augmented, flume.UserMessage{
			Content: []flume.ContentBlock{flume.TextBlock{Text: preamble}},
		})
		augmented = append(augmented, messages...)
		messages = augmented
	}
	return flume.Request{
		Model:        rc.Model.ID,
		SystemPrompt: rc.SystemPrompt,
		Messages:     messages,
	}
}

func collectFiles(messages []flume.Message) []flume.FileBlock {
	var files []flume.FileBlock
	for _, msg := range messages {
		um, ok := msg.(flume.UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Content {
			if fb, ok := b.(flume.FileBlock); ok {
				files = append(files, fb)
			}
		}
	}
	return files
}

func lastUserText(messages []flume.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		um, ok := messages[i].(flume.UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Content {
			if tb, ok := b.(flume.TextBlock); ok {
				return tb.Text
			}
		}
	}
	return ""
}
