package bubbletea_test

import (
	"context"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/flumechat/flume"
	bt "github.com/flumechat/flume/bubbletea"
	"github.com/stretchr/testify/require"
)

// initModel creates a model and sends a WindowSizeMsg to initialize the viewport.
func initModel(t *testing.T, chat bt.ChatFunc) bt.Model {
	t.Helper()
	session := &flume.Session{}
	theme := flume.DefaultTheme()
	m := bt.New(chat, session, theme)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	model, ok := updated.(bt.Model)
	require.True(t, ok)
	return model
}

// updateModel sends a message and returns the updated Model.
func updateModel(t *testing.T, m bt.Model, msg tea.Msg) bt.Model {
	t.Helper()
	updated, _ := m.Update(msg)
	model, ok := updated.(bt.Model)
	require.True(t, ok)
	return model
}

// nopChat is a chat function that produces no output.
func nopChat(_ context.Context, _ *flume.Session, _ func(string)) error {
	return nil
}

// scriptedChat replays the given wire chunks and returns err.
func scriptedChat(chunks []string, err error) bt.ChatFunc {
	return func(_ context.Context, _ *flume.Session, onChunk func(string)) error {
		for _, c := range chunks {
			onChunk(c)
		}
		return err
	}
}
