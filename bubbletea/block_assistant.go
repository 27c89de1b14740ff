package bubbletea

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/flumechat/flume"
	"github.com/flumechat/flume/markdown"
	"github.com/flumechat/flume/render"
	"github.com/flumechat/flume/wire"
)

var _ MessageBlock = (*AssistantBlock)(nil)

// AssistantBlock renders one assistant turn: a progress label while the
// server works, then markdown prose revealed at a paced rate, then a
// citation footer once the turn settles. The block holds the latest parse
// result as the reveal target; Tick advances the revealed prefix.
//
// Finalized paragraphs (separated by double newline) are rendered once per
// width and cached; only the trailing unfinalized text is re-rendered on
// each tick.
type AssistantBlock struct {
	theme    flume.Theme
	styles   Styles
	smoother *render.Smoother

	action       string
	citations    []flume.Citation
	spinnerFrame string

	// finalizedRaw is the stable prefix of the displayed text ending at the
	// last double newline. It's rendered once per width and cached.
	finalizedRaw     string
	finalizedByWidth map[int]string
}

// NewAssistantBlock creates a block for a new streaming assistant turn.
func NewAssistantBlock(theme flume.Theme, styles Styles) *AssistantBlock {
	s := render.New(render.Config{})
	s.StartTurn()
	return &AssistantBlock{
		theme:            theme,
		styles:           styles,
		smoother:         s,
		finalizedByWidth: make(map[int]string),
	}
}

// NewSettledAssistantBlock creates a fully-revealed block for history replay.
func NewSettledAssistantBlock(text string, citations []flume.Citation, theme flume.Theme, styles Styles) *AssistantBlock {
	b := NewAssistantBlock(theme, styles)
	b.smoother.Reveal(text)
	b.citations = citations
	b.promoteFinalized()
	return b
}

// Apply records the latest parse result as the reveal target.
func (b *AssistantBlock) Apply(res wire.Result) {
	b.smoother.SetTarget(res.DisplayText)
	b.action = res.Action
	if res.CitationsChanged || b.citations == nil {
		b.citations = res.Citations
	}
}

// Complete signals that the stream ended; the reveal drains to the full text.
func (b *AssistantBlock) Complete() {
	b.smoother.Complete()
}

// Tick advances the paced reveal by one frame.
func (b *AssistantBlock) Tick() {
	b.smoother.Tick()
	b.promoteFinalized()
}

// Settled reports whether the turn's text is fully revealed.
func (b *AssistantBlock) Settled() bool { return b.smoother.Settled() }

// SetSpinnerFrame updates the spinner frame shown next to the action label.
func (b *AssistantBlock) SetSpinnerFrame(frame string) {
	b.spinnerFrame = frame
}

func (b *AssistantBlock) Update(msg tea.Msg) (MessageBlock, tea.Cmd) {
	return b, nil
}

func (b *AssistantBlock) View(width int) string {
	var parts []string

	if b.action != "" {
		label := b.action
		if b.spinnerFrame != "" {
			label = b.spinnerFrame + " " + label
		}
		parts = append(parts, b.styles.Action.Render(label))
	}

	if prose := b.renderProse(width); prose != "" {
		parts = append(parts, prose)
	}

	if b.Settled() && len(b.citations) > 0 {
		parts = append(parts, b.renderCitations(width))
	}

	return strings.Join(parts, "\n\n")
}

func (b *AssistantBlock) renderProse(width int) string {
	finalizedRendered := b.renderFinalized(width)
	trailing := b.trailingRaw()
	if hasUnclosedFence(trailing) {
		// Close fence only for rendering so partial streams display safely.
		trailing += "\n```"
	}
	// Empty trailing text (displayed ends exactly at "\n\n") should not be
	// passed to the renderer — some renderers return whitespace for empty
	// input, which would append spurious blank lines after finalized content.
	if trailing == "" {
		return finalizedRendered
	}
	trailingRendered := markdown.Render(trailing, width, b.theme)
	// Whitespace-only trailing input (e.g. " ") may render to whitespace;
	// treat it the same as empty to avoid spurious blank lines.
	if strings.TrimSpace(trailingRendered) == "" {
		return finalizedRendered
	}
	switch finalizedRendered {
	case "":
		return trailingRendered
	default:
		// Trim trailing/leading whitespace from independently-rendered
		// fragments to avoid a visible seam (extra blank lines) at the
		// finalization boundary. The paragraph break is reconstructed
		// with a single "\n\n" to match full-document render output.
		return strings.TrimRight(finalizedRendered, "\n") + "\n\n" + strings.TrimLeft(trailingRendered, "\n")
	}
}

func (b *AssistantBlock) renderCitations(width int) string {
	var sb strings.Builder
	sb.WriteString(b.styles.Muted.Render("Sources:"))
	for _, c := range b.citations {
		sb.WriteString("\n")
		line := fmt.Sprintf("[%d] %s", c.Number, c.Title)
		if c.Title == "" {
			line = fmt.Sprintf("[%d] %s", c.Number, c.URL)
		}
		sb.WriteString(b.styles.Citation.Render(line))
		if c.Title != "" && c.URL != "" {
			sb.WriteString(" " + b.styles.Muted.Render("("+c.URL+")"))
		}
	}
	return sb.String()
}

// promoteFinalized scans for the last "\n\n" boundary in the displayed text
// that doesn't fall inside an unclosed fenced code block. Splitting inside a
// fence would produce a finalized fragment with an unclosed opening fence and
// a trailing fragment starting mid-code-block, causing transient glitches.
func (b *AssistantBlock) promoteFinalized() {
	raw := b.smoother.Displayed()
	// Walk backwards through all "\n\n" positions to find the last one
	// where the prefix has all fences closed.
	for end := len(raw); ; {
		idx := strings.LastIndex(raw[:end], "\n\n")
		if idx <= 0 {
			return
		}
		candidate := raw[:idx]
		if !hasUnclosedFence(candidate) {
			if candidate != b.finalizedRaw {
				b.finalizedRaw = candidate
				// Width-sensitive cache must be invalidated when finalized text grows.
				clear(b.finalizedByWidth)
			}
			return
		}
		end = idx
	}
}

func (b *AssistantBlock) renderFinalized(width int) string {
	if width <= 0 || b.finalizedRaw == "" {
		return ""
	}
	if cached, ok := b.finalizedByWidth[width]; ok {
		return cached
	}
	rendered := markdown.Render(b.finalizedRaw, width, b.theme)
	b.finalizedByWidth[width] = rendered
	return rendered
}

func (b *AssistantBlock) trailingRaw() string {
	raw := b.smoother.Displayed()
	if b.finalizedRaw == "" {
		return raw
	}
	prefix := b.finalizedRaw + "\n\n"
	return strings.TrimPrefix(raw, prefix)
}

// hasUnclosedFence detects whether s contains an unclosed fenced code block
// by checking for an odd number of "```" occurrences. This uses a simple
// substring count which does not distinguish triple backticks inside inline
// code spans (e.g., `foo ``` bar`). In practice streamed model output rarely
// contains literal triple backticks in inline code, so this is acceptable.
func hasUnclosedFence(s string) bool {
	return strings.Count(s, "```")%2 == 1
}
