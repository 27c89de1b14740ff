package gemini_test

import (
	"testing"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/gemini"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertMessages(t *testing.T) {
	t.Parallel()

	t.Run("user and assistant roles", func(t *testing.T) {
		t.Parallel()

		msgs := []flume.Message{
			flume.UserMessage{Content: []flume.ContentBlock{flume.TextBlock{Text: "hi"}}},
			flume.AssistantMessage{Content: []flume.ContentBlock{flume.TextBlock{Text: "hello"}}},
		}
		got := gemini.ConvertMessages(msgs)

		require.Len(t, got, 2)
		assert.Equal(t, "user", got[0].Role)
		assert.Equal(t, "hi", got[0].Parts[0].Text)
		assert.Equal(t, "model", got[1].Role)
		assert.Equal(t, "hello", got[1].Parts[0].Text)
	})

	t.Run("attachments become inline data", func(t *testing.T) {
		t.Parallel()

		msgs := []flume.Message{
			flume.UserMessage{Content: []flume.ContentBlock{
				flume.TextBlock{Text: "describe these"},
				flume.ImageBlock{Data: []byte{0x89, 0x50}, MimeType: "image/png"},
				flume.FileBlock{Filename: "report.pdf", Data: []byte("%PDF"), MimeType: "application/pdf"},
				flume.AudioBlock{Filename: "call.mp3", Data: []byte{0xff}, MimeType: "audio/mpeg"},
			}},
		}
		got := gemini.ConvertMessages(msgs)

		require.Len(t, got, 1)
		require.Len(t, got[0].Parts, 4)
		assert.Equal(t, "describe these", got[0].Parts[0].Text)
		assert.Equal(t, "image/png", got[0].Parts[1].InlineData.MIMEType)
		assert.Equal(t, "application/pdf", got[0].Parts[2].InlineData.MIMEType)
		assert.Equal(t, "audio/mpeg", got[0].Parts[3].InlineData.MIMEType)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		assert.Nil(t, gemini.ConvertMessages(nil))
	})
}
