package bubbletea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/flumechat/flume"
	"github.com/flumechat/flume/wire"
)

var _ tea.Model = Model{}

// Model is the Bubble Tea model for the flume TUI.
type Model struct {
	// Input is the text input component. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable output area. Exported for test access.
	Viewport viewport.Model

	chat    ChatFunc
	session *flume.Session
	theme   flume.Theme
	styles  Styles
	spin    spinner.Model

	blocks     []MessageBlock
	blockFocus int // index of focused collapsible block (-1 = none)

	// Per-turn streaming state. The parser re-derives the turn's display
	// text from every chunk; assistant and thinking point at the blocks the
	// current turn is filling.
	parser     *wire.Parser
	assistant  *AssistantBlock
	thinking   *ThinkingBlock
	lastResult wire.Result

	running bool
	ticking bool
	cancel  context.CancelFunc
	chunkCh chan string
	doneCh  chan error
	err     error
	ready   bool
}

// New creates a new TUI Model with the given chat function, session, and theme.
func New(chat ChatFunc, session *flume.Session, theme flume.Theme) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		Input:      ti,
		chat:       chat,
		session:    session,
		theme:      theme,
		styles:     NewStyles(theme),
		spin:       sp,
		parser:     wire.NewParser(),
		blockFocus: -1,
	}
}

// Running returns whether a turn is currently streaming.
func (m Model) Running() bool { return m.running }

// Err returns the last error, if any.
func (m Model) Err() error { return m.err }

// SetRunning is a test helper that puts the model in a running state.
func SetRunning(m Model) (Model, tea.Cmd) {
	m.running = true
	return m, nil
}

// SetRunningWithCancel is a test helper that puts the model in a running state
// with a cancel function.
func SetRunningWithCancel(m Model, cancel func()) (Model, tea.Cmd) {
	m.running = true
	m.cancel = cancel
	return m, nil
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m = m.handleWindowSize(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case ChunkMsg:
		res := m.parser.ProcessChunk([]byte(msg.Chunk))
		m = m.applyResult(res)
		m.Viewport.SetContent(m.renderContent())
		m.Viewport.GotoBottom()
		if m.chunkCh != nil {
			cmds = append(cmds, listenForChunk(m.chunkCh, m.doneCh))
		}
		if !m.ticking && m.assistant != nil {
			m.ticking = true
			cmds = append(cmds, revealTick())
		}
		return m, tea.Batch(cmds...)

	case RevealTickMsg:
		return m.handleRevealTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		if m.assistant != nil {
			m.assistant.SetSpinnerFrame(m.spin.View())
			m.Viewport.SetContent(m.renderContent())
		}
		if m.running {
			return m, cmd
		}
		return m, nil

	case ChatDoneMsg:
		return m.handleChatDone(msg)
	}

	// Pass remaining messages to sub-components.
	// Viewport always receives messages for scrolling (keyboard and mouse).
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)

	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder

	// Output area.
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")

	// Status line.
	b.WriteString(m.statusLine())
	b.WriteString("\n")

	// Input area.
	b.WriteString(m.Input.View())

	return b.String()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	inputH := 1
	statusHeight := 1
	borderHeight := 2 // newlines between sections
	vpHeight := msg.Height - inputH - statusHeight - borderHeight

	if vpHeight < 1 {
		vpHeight = 1
	}

	if !m.ready {
		m.Viewport = viewport.New(msg.Width, vpHeight)
		m = m.renderSession()
		m.Viewport.SetContent(m.renderContent())
		m.Viewport.GotoBottom()
		m.ready = true
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = vpHeight
	}

	m.Input.Width = msg.Width
	return m
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running {
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		if m.running {
			return m, nil
		}
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		return m.submitInput(text)

	case tea.KeyTab:
		if !m.running && m.blockFocus >= 0 {
			block, cmd := m.blocks[m.blockFocus].Update(ToggleMsg{})
			m.blocks[m.blockFocus] = block
			m.Viewport.SetContent(m.renderContent())
			return m, cmd
		}
		return m, nil

	case tea.KeyShiftTab:
		if !m.running {
			m = m.cycleFocusPrev()
			m.Viewport.SetContent(m.renderContent())
		}
		return m, nil
	}

	// When idle, pass keys to both the input (for typing) and viewport
	// (for scrolling). Only forward non-character keys to viewport to avoid
	// conflicts (e.g. 'j'/'k' are viewport scroll AND text characters).
	if !m.running {
		var cmd tea.Cmd
		var cmds []tea.Cmd

		if msg.Type != tea.KeyRunes {
			m.Viewport, cmd = m.Viewport.Update(msg)
			cmds = append(cmds, cmd)
		}

		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)

		return m, tea.Batch(cmds...)
	}

	return m, nil
}

func (m Model) submitInput(text string) (tea.Model, tea.Cmd) {
	m.Input.SetValue("")
	m.err = nil

	// Append user message to session.
	userMsg := flume.UserMessage{
		Content:   []flume.ContentBlock{flume.TextBlock{Text: text}},
		Timestamp: time.Now(),
	}
	m.session.Messages = append(m.session.Messages, userMsg)

	// Add user message block.
	m.blocks = append(m.blocks, NewUserMessageBlock(text, nil, m.styles))
	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()

	// Reset per-turn streaming state.
	m.parser = wire.NewParser()
	m.assistant = nil
	m.thinking = nil
	m.lastResult = wire.Result{}

	// Set up channels and context for the turn.
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.chunkCh = make(chan string, 256)
	m.doneCh = make(chan error, 1)
	m.running = true

	m.Input.Blur()

	return m, tea.Batch(
		startChat(m.chat, ctx, m.session, m.chunkCh, m.doneCh),
		listenForChunk(m.chunkCh, m.doneCh),
		m.spin.Tick,
	)
}

// applyResult routes the latest parse result into the turn's blocks,
// creating them on first content.
func (m Model) applyResult(res wire.Result) Model {
	if res.Thinking != "" {
		if m.thinking == nil {
			m.thinking = NewThinkingBlock(m.styles)
			m.blocks = append(m.blocks, m.thinking)
			m = m.updateBlockFocus()
		}
		m.thinking.SetText(res.Thinking)
	}

	if m.assistant == nil && (res.HasReceivedContent || res.Action != "") {
		m.assistant = NewAssistantBlock(m.theme, m.styles)
		m.assistant.SetSpinnerFrame(m.spin.View())
		m.blocks = append(m.blocks, m.assistant)
	}
	if m.assistant != nil {
		m.assistant.Apply(res)
	}

	m.lastResult = res
	return m
}

func (m Model) handleRevealTick() (tea.Model, tea.Cmd) {
	if m.assistant != nil {
		m.assistant.Tick()
		m.Viewport.SetContent(m.renderContent())
		m.Viewport.GotoBottom()
	}
	if m.running || (m.assistant != nil && !m.assistant.Settled()) {
		return m, revealTick()
	}
	m.ticking = false
	return m, nil
}

func (m Model) handleChatDone(msg ChatDoneMsg) (tea.Model, tea.Cmd) {
	res := m.parser.Finalize(true)
	m = m.applyResult(res)
	if m.assistant != nil {
		m.assistant.Complete()
	}

	cancelled := msg.Err != nil && errors.Is(msg.Err, context.Canceled)
	if res.HasReceivedContent || res.Thinking != "" {
		m.session.Messages = append(m.session.Messages, m.assistantMessage(res, cancelled))
	}

	m.running = false
	m.cancel = nil
	m.chunkCh = nil
	m.doneCh = nil
	if msg.Err != nil && !cancelled {
		m.err = msg.Err
		m.blocks = append(m.blocks, NewErrorBlock(msg.Err, m.styles))
	}

	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()
	m = m.updateBlockFocus()

	var cmds []tea.Cmd
	cmds = append(cmds, m.Input.Focus())
	if !m.ticking && m.assistant != nil && !m.assistant.Settled() {
		m.ticking = true
		cmds = append(cmds, revealTick())
	}
	return m, tea.Batch(cmds...)
}

// assistantMessage assembles the session-history message for a finished turn.
func (m Model) assistantMessage(res wire.Result, cancelled bool) flume.AssistantMessage {
	stop := flume.StopEndTurn
	if cancelled {
		stop = flume.StopAborted
	}
	return flume.AssistantMessage{
		Content:    []flume.ContentBlock{flume.TextBlock{Text: res.DisplayText}},
		Citations:  res.Citations,
		Thinking:   res.Thinking,
		StopReason: stop,
		Timestamp:  time.Now(),
	}
}

// renderSession creates blocks from existing session messages.
func (m Model) renderSession() Model {
	for _, msg := range m.session.Messages {
		switch msg := msg.(type) {
		case flume.UserMessage:
			var text string
			var attachments []string
			for _, b := range msg.Content {
				switch cb := b.(type) {
				case flume.TextBlock:
					text += cb.Text
				case flume.ImageBlock:
					attachments = append(attachments, "image")
				case flume.FileBlock:
					attachments = append(attachments, cb.Filename)
				case flume.AudioBlock:
					attachments = append(attachments, cb.Filename)
				}
			}
			m.blocks = append(m.blocks, NewUserMessageBlock(text, attachments, m.styles))
		case flume.AssistantMessage:
			if msg.Thinking != "" {
				tb := NewThinkingBlock(m.styles)
				tb.SetText(msg.Thinking)
				m.blocks = append(m.blocks, tb)
			}
			m.blocks = append(m.blocks, NewSettledAssistantBlock(msg.Text(), msg.Citations, m.theme, m.styles))
		}
	}
	m = m.updateBlockFocus()
	return m
}

func (m Model) renderContent() string {
	if len(m.blocks) == 0 {
		return ""
	}
	var b strings.Builder
	for i, block := range m.blocks {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.View(m.Viewport.Width))
	}
	return b.String()
}

// updateBlockFocus scans backwards to find the last collapsible block.
// Only the focused block responds to Tab. ShiftTab cycles to the previous
// collapsible block.
func (m Model) updateBlockFocus() Model {
	m.blockFocus = -1
	for i := len(m.blocks) - 1; i >= 0; i-- {
		if _, ok := m.blocks[i].(*ThinkingBlock); ok {
			m.blockFocus = i
			return m
		}
	}
	return m
}

// cycleFocusPrev moves blockFocus to the previous collapsible block, wrapping around.
func (m Model) cycleFocusPrev() Model {
	start := m.blockFocus - 1
	if start < 0 {
		start = len(m.blocks) - 1
	}
	for i := range len(m.blocks) {
		idx := (start - i + len(m.blocks)) % len(m.blocks)
		if _, ok := m.blocks[idx].(*ThinkingBlock); ok {
			m.blockFocus = idx
			return m
		}
	}
	m.blockFocus = -1
	return m
}

func (m Model) statusLine() string {
	if m.err != nil {
		return m.styles.Error.Render(fmt.Sprintf("Error: %v", m.err))
	}
	if m.running {
		return m.styles.Muted.Render("Generating... (Ctrl+C to stop)")
	}
	return m.styles.Muted.Render("Enter to send, Ctrl+C to quit")
}

// startChat runs the chat function in a goroutine and signals completion.
func startChat(chat ChatFunc, ctx context.Context, session *flume.Session, chunkCh chan<- string, doneCh chan<- error) tea.Cmd {
	return func() tea.Msg {
		err := chat(ctx, session, func(chunk string) {
			select {
			case chunkCh <- chunk:
			case <-ctx.Done():
			}
		})
		close(chunkCh)
		doneCh <- err
		return nil
	}
}

// listenForChunk waits for the next chunk from the channel.
// When the channel closes, it reads the error from doneCh and returns ChatDoneMsg.
func listenForChunk(ch <-chan string, doneCh <-chan error) tea.Cmd {
	return func() tea.Msg {
		chunk, ok := <-ch
		if !ok {
			err := <-doneCh
			return ChatDoneMsg{Err: err}
		}
		return ChunkMsg{Chunk: chunk}
	}
}
