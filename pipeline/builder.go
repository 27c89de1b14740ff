package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/flumechat/flume"
	log "github.com/sirupsen/logrus"
)

// ErrIncompleteContext indicates the builder finished without a required
// field. This is a contract violation in the step list, not a request
// failure — it should never reach a user.
var ErrIncompleteContext = errors.New("incomplete request context")

// Step is one unit of context assembly. Steps run in list order; each sees
// the context accumulated so far and returns a partial update merged by the
// builder. Steps that need I/O (authentication, body parsing) implement Run
// directly; pure derivations use Field via FieldStep.
type Step struct {
	Name string
	Run  func(ctx context.Context, rc Context) (Update, error)
}

// Field is a synchronous factory: a pure function of already-known context
// returning additional fields.
type Field func(rc Context) Update

// FieldStep lifts a synchronous Field into a Step.
func FieldStep(name string, f Field) Step {
	return Step{
		Name: name,
		Run: func(_ context.Context, rc Context) (Update, error) {
			return f(rc), nil
		},
	}
}

// Builder assembles a request context by running steps in order.
type Builder struct {
	steps []Step
	log   *log.Entry
}

// NewBuilder creates a Builder over the given steps.
func NewBuilder(steps ...Step) *Builder {
	return &Builder{steps: steps, log: log.WithField("component", "builder")}
}

// Build runs the steps left to right, merging each step's partial update.
// A failing step surfaces as a critical error to the caller; there are no
// retries at this layer. After all steps complete the required fields
// (identity, model, messages) are checked — a miss is ErrIncompleteContext.
func (b *Builder) Build(ctx context.Context, rc Context) (*Context, error) {
	for _, step := range b.steps {
		update, err := step.Run(ctx, rc)
		if err != nil {
			var pe *flume.Error
			if errors.As(err, &pe) {
				return nil, pe
			}
			return nil, flume.Critical(flume.CodeUnexpected, step.Name, err)
		}
		rc.apply(update)
	}

	if err := b.checkRequired(rc); err != nil {
		return nil, err
	}

	b.log.WithFields(log.Fields{
		"request_id": rc.RequestID,
		"user":       rc.Identity.ID,
		"model":      rc.Model.ID,
		"messages":   len(rc.Messages),
		"has_images": rc.Classification.HasImages,
		"has_files":  rc.Classification.HasFiles,
		"has_audio":  rc.Classification.HasAudio,
	}).Info("request context assembled")

	return &rc, nil
}

func (b *Builder) checkRequired(rc Context) error {
	switch {
	case rc.Identity.ID == "":
		return fmt.Errorf("identity not set: %w", ErrIncompleteContext)
	case rc.Model.ID == "":
		return fmt.Errorf("model not set: %w", ErrIncompleteContext)
	case len(rc.Messages) == 0:
		return fmt.Errorf("messages not set: %w", ErrIncompleteContext)
	}
	return nil
}

// IdentityStep authenticates the request. resolve returns the user identity
// or flume.ErrUnauthenticated; failures are critical.
func IdentityStep(resolve func(ctx context.Context) (flume.Identity, error)) Step {
	return Step{
		Name: "identity",
		Run: func(ctx context.Context, _ Context) (Update, error) {
			id, err := resolve(ctx)
			if err != nil {
				return Update{}, flume.Critical(flume.CodeAuth, "identity", err)
			}
			return Update{Identity: &id}, nil
		},
	}
}

// MessagesStep parses and validates the request body. parse returns the
// message list and the thread ID; malformed bodies are critical.
func MessagesStep(parse func(ctx context.Context) ([]flume.Message, string, error)) Step {
	return Step{
		Name: "messages",
		Run: func(ctx context.Context, _ Context) (Update, error) {
			msgs, threadID, err := parse(ctx)
			if err != nil {
				return Update{}, flume.Critical(flume.CodeValidation, "messages", err)
			}
			for _, m := range msgs {
				if err := flume.ValidateMessage(m); err != nil {
					return Update{}, flume.Critical(flume.CodeValidation, "messages", err)
				}
			}
			return Update{Messages: msgs, ThreadID: &threadID}, nil
		},
	}
}

// ClassifyField derives content classification from the parsed messages.
func ClassifyField() Step {
	return FieldStep("classify", func(rc Context) Update {
		c := Classify(rc.Messages)
		return Update{Classification: &c}
	})
}

// ModelField selects the effective model for the request. Deterministic,
// no I/O: substitution (vision, default fallback) is the selector's job.
func ModelField(selector flume.ModelSelector, requested string) Step {
	return FieldStep("model", func(rc Context) Update {
		cfg := selector.Select(requested, rc.Messages)
		return Update{Model: &cfg}
	})
}

// SystemPromptField builds the system prompt from a base prompt plus
// fragments conditioned on the assembled context.
func SystemPromptField(base string) Step {
	return FieldStep("system_prompt", func(rc Context) Update {
		prompt := base
		if rc.Classification.HasFiles {
			prompt += "\n\nThe user attached documents. Summaries may be provided; cite them when used."
		}
		if rc.Classification.HasAudio {
			prompt += "\n\nThe user attached audio. A transcript may be provided."
		}
		if rc.Model.IsAgent {
			prompt += "\n\nYou may take multiple research steps before answering."
		}
		return Update{SystemPrompt: &prompt}
	})
}
