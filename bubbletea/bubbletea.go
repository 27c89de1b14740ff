// Package bubbletea provides the Bubble Tea TUI for the flume chat client.
package bubbletea

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/flumechat/flume"
)

// ChatFunc streams one assistant turn. The onChunk callback receives raw
// wire-protocol chunks as they arrive from the server. The function blocks
// until the turn completes or the context is cancelled.
type ChatFunc func(ctx context.Context, session *flume.Session, onChunk func(string)) error

// Run creates and runs the Bubble Tea TUI program. It blocks until the program
// exits. The context is used for graceful shutdown — when cancelled, the
// program quits.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// ChunkMsg wraps a raw wire chunk for delivery to the Bubble Tea model.
type ChunkMsg struct {
	Chunk string
}

// ChatDoneMsg signals that the current turn's stream has ended.
type ChatDoneMsg struct {
	Err error
}

// RevealTickMsg drives the paced text reveal. The model reschedules it while
// an assistant block is still revealing.
type RevealTickMsg struct{}

// frameInterval is the reveal tick cadence, roughly 30 fps.
const frameInterval = 33 * time.Millisecond

func revealTick() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg {
		return RevealTickMsg{}
	})
}
