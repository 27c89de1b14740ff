// Package pipeline assembles a per-request context through an ordered list
// of builder steps, then runs a fixed list of processing stages over it.
// Stages are individually timeboxed; a timeout degrades the response (the
// stage's effect is absent) instead of failing the turn.
package pipeline

import (
	"time"

	"github.com/flumechat/flume"
)

// Classification captures what kinds of content the request carries.
// Derived once from the validated messages; stages use it as a run predicate.
type Classification struct {
	HasImages bool
	HasFiles  bool
	HasAudio  bool
}

// StageMetric records wall-clock timing for one stage run.
type StageMetric struct {
	Stage    string
	Start    time.Time
	End      time.Time
	Skipped  bool
	TimedOut bool
}

// Duration returns the stage's wall-clock duration.
func (m StageMetric) Duration() time.Duration { return m.End.Sub(m.Start) }

// Context accumulates request state over the pipeline's lifetime. Builder
// steps and stages add fields; nothing removes them. All state is
// per-request — nothing here is shared across requests.
type Context struct {
	RequestID string
	ThreadID  string

	// Required before any stage runs. The builder fails fast otherwise.
	Identity flume.Identity
	Model    flume.ModelConfig
	Messages []flume.Message

	SystemPrompt   string
	Classification Classification
	Quota          int

	// Stage outputs.
	Transcript *flume.Transcript
	Summaries  map[string]string // attachment filename -> summary
	Citations  []flume.Citation  // search enrichment, pre-generation
	Stream     flume.Stream      // set by the generation stage

	Metrics []StageMetric
	Errors  []*flume.Error
}

// Update is a partial context produced by a builder step or stage. The
// engine merges updates into the context; a nil pointer field means "no
// change", preserving the later-stages-only-add invariant.
type Update struct {
	Identity       *flume.Identity
	Model          *flume.ModelConfig
	Messages       []flume.Message
	ThreadID       *string
	SystemPrompt   *string
	Classification *Classification
	Quota          *int
	Transcript     *flume.Transcript
	Summaries      map[string]string
	Citations      []flume.Citation
	Stream         flume.Stream
	Errors         []*flume.Error
}

// apply merges u into rc. Slices and maps append/merge; scalars overwrite
// only when the update carries them.
func (rc *Context) apply(u Update) {
	if u.Identity != nil {
		rc.Identity = *u.Identity
	}
	if u.Model != nil {
		rc.Model = *u.Model
	}
	if u.Messages != nil {
		rc.Messages = u.Messages
	}
	if u.ThreadID != nil {
		rc.ThreadID = *u.ThreadID
	}
	if u.SystemPrompt != nil {
		rc.SystemPrompt = *u.SystemPrompt
	}
	if u.Classification != nil {
		rc.Classification = *u.Classification
	}
	if u.Quota != nil {
		rc.Quota = *u.Quota
	}
	if u.Transcript != nil {
		rc.Transcript = u.Transcript
	}
	if len(u.Summaries) > 0 {
		if rc.Summaries == nil {
			rc.Summaries = make(map[string]string, len(u.Summaries))
		}
		for k, v := range u.Summaries {
			rc.Summaries[k] = v
		}
	}
	rc.Citations = append(rc.Citations, u.Citations...)
	if u.Stream != nil {
		rc.Stream = u.Stream
	}
	rc.Errors = append(rc.Errors, u.Errors...)
}

// CriticalError returns the first critical-severity error recorded on the
// context, or nil.
func (rc *Context) CriticalError() *flume.Error {
	for _, e := range rc.Errors {
		if e.Severity == flume.SeverityCritical {
			return e
		}
	}
	return nil
}

// Warnings returns the warning-severity errors recorded so far.
func (rc *Context) Warnings() []*flume.Error {
	var out []*flume.Error
	for _, e := range rc.Errors {
		if e.Severity == flume.SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// Classify derives content classification from a message list.
func Classify(messages []flume.Message) Classification {
	var c Classification
	for _, msg := range messages {
		um, ok := msg.(flume.UserMessage)
		if !ok {
			continue
		}
		for _, b := range um.Content {
			switch b.(type) {
			case flume.ImageBlock:
				c.HasImages = true
			case flume.FileBlock:
				c.HasFiles = true
			case flume.AudioBlock:
				c.HasAudio = true
			}
		}
	}
	return c
}
