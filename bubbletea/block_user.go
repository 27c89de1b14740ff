package bubbletea

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var _ MessageBlock = (*UserMessageBlock)(nil)

// UserMessageBlock renders a user message with a "> " prefix and a one-line
// summary of any attachments.
type UserMessageBlock struct {
	text        string
	attachments []string
	styles      Styles
}

// NewUserMessageBlock creates a UserMessageBlock.
func NewUserMessageBlock(text string, attachments []string, styles Styles) *UserMessageBlock {
	return &UserMessageBlock{text: text, attachments: attachments, styles: styles}
}

func (b *UserMessageBlock) Update(msg tea.Msg) (MessageBlock, tea.Cmd) {
	return b, nil
}

func (b *UserMessageBlock) View(width int) string {
	content := b.styles.UserMsg.Render("> ") + b.text
	for _, name := range b.attachments {
		content += "\n" + b.styles.Muted.Render(fmt.Sprintf("  ⎘ %s", name))
	}
	return lipgloss.NewStyle().Width(width).Render(content)
}
