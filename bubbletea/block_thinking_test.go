package bubbletea_test

import (
	"testing"

	"github.com/flumechat/flume"
	bt "github.com/flumechat/flume/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThinkingBlock(t *testing.T) {
	t.Parallel()

	styles := bt.NewStyles(flume.DefaultTheme())

	t.Run("starts collapsed", func(t *testing.T) {
		t.Parallel()

		b := bt.NewThinkingBlock(styles)
		b.SetText("hidden reasoning")

		view := b.View(80)
		assert.Contains(t, view, "▶ Thinking")
		assert.NotContains(t, view, "hidden reasoning")
	})

	t.Run("toggle expands and collapses", func(t *testing.T) {
		t.Parallel()

		b := bt.NewThinkingBlock(styles)
		b.SetText("the reasoning")

		updated, _ := b.Update(bt.ToggleMsg{})
		block, ok := updated.(*bt.ThinkingBlock)
		require.True(t, ok)
		view := block.View(80)
		assert.Contains(t, view, "▼ Thinking")
		assert.Contains(t, view, "the reasoning")

		updated, _ = block.Update(bt.ToggleMsg{})
		block, ok = updated.(*bt.ThinkingBlock)
		require.True(t, ok)
		assert.NotContains(t, block.View(80), "the reasoning")
	})

	t.Run("set text replaces content", func(t *testing.T) {
		t.Parallel()

		b := bt.NewThinkingBlock(styles)
		b.SetText("partial")
		b.SetText("partial plus more")

		updated, _ := b.Update(bt.ToggleMsg{})
		block, ok := updated.(*bt.ThinkingBlock)
		require.True(t, ok)
		view := block.View(80)
		assert.Contains(t, view, "partial plus more")
	})
}
