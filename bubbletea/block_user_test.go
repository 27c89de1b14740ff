package bubbletea_test

import (
	"testing"

	"github.com/flumechat/flume"
	bt "github.com/flumechat/flume/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestUserMessageBlock(t *testing.T) {
	t.Parallel()

	styles := bt.NewStyles(flume.DefaultTheme())

	t.Run("renders text with prefix", func(t *testing.T) {
		t.Parallel()

		b := bt.NewUserMessageBlock("hello there", nil, styles)
		view := b.View(80)
		assert.Contains(t, view, "> ")
		assert.Contains(t, view, "hello there")
	})

	t.Run("lists attachments", func(t *testing.T) {
		t.Parallel()

		b := bt.NewUserMessageBlock("summarize these", []string{"report.pdf", "call.mp3"}, styles)
		view := b.View(80)
		assert.Contains(t, view, "report.pdf")
		assert.Contains(t, view, "call.mp3")
	})
}
