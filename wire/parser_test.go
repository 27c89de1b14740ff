package wire_test

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/mock"
	"github.com/flumechat/flume/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(payload string) string {
	return "\n\n" + wire.MetadataStart + payload + wire.MetadataEnd
}

func TestParser_PlainTextOnly(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()
	res := p.ProcessChunk([]byte("Hello"))
	assert.Equal(t, "Hello", res.DisplayText)
	assert.True(t, res.HasReceivedContent)
	assert.True(t, res.ContentChanged)

	res = p.ProcessChunk([]byte(" world"))
	assert.Equal(t, "Hello world", res.DisplayText)

	res = p.Finalize(true)
	assert.Equal(t, "Hello world", res.DisplayText)
}

func TestParser_RoundTripWithEncoder(t *testing.T) {
	t.Parallel()

	visible := "Streaming answers are nice.\n\nEven with paragraphs — and unicode: 你好."
	citations := []flume.Citation{
		{Number: 1, URL: "https://example.com/a", Title: "A", Date: "2026-01-02"},
		{Number: 2, URL: "https://example.com/b", Title: "B"},
	}

	var buf bytes.Buffer
	s := mock.NewScriptedStream(
		flume.EventTextDelta{Delta: visible},
		flume.EventCitation{Citation: citations[0]},
		flume.EventCitation{Citation: citations[1]},
	)
	_, err := wire.NewEncoder(&buf).Encode(context.Background(), s, flume.Metadata{})
	require.NoError(t, err)

	p := wire.NewParser()
	res := p.ProcessChunk(buf.Bytes())
	res = p.Finalize(true)

	assert.Equal(t, visible, res.DisplayText, "display text recovers the visible prose exactly")
	assert.Equal(t, citations, res.Citations)
	assert.NotContains(t, res.DisplayText, wire.MetadataStart)
	assert.NotContains(t, res.DisplayText, wire.MetadataEnd)
}

// Split-boundary idempotence: parsing T split at every byte offset into two
// chunks yields the same result as parsing T whole.
func TestParser_SplitBoundaryIdempotence(t *testing.T) {
	t.Parallel()

	texts := []string{
		"no envelope at all, just prose with 你好 unicode",
		"prose before" + envelope(`{"citations":[{"number":1,"url":"https://e.com","title":"E"}]}`),
		envelope(`{"action":"Searching the web..."}`) + "prose after" +
			envelope(`{"citations":[{"number":1,"url":"https://e.com","title":"E"}],"thinking":"t"}`),
	}

	for i, text := range texts {
		t.Run(fmt.Sprintf("text_%d", i), func(t *testing.T) {
			t.Parallel()

			whole := wire.NewParser()
			whole.ProcessChunk([]byte(text))
			want := whole.Finalize(true)

			for off := 0; off <= len(text); off++ {
				p := wire.NewParser()
				p.ProcessChunk([]byte(text[:off]))
				p.ProcessChunk([]byte(text[off:]))
				got := p.Finalize(true)

				require.Equal(t, want.DisplayText, got.DisplayText, "split at %d", off)
				require.Equal(t, want.Citations, got.Citations, "split at %d", off)
				require.Equal(t, want.Thinking, got.Thinking, "split at %d", off)
			}
		})
	}
}

func TestParser_ActionEnvelopeBeforeProse(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()

	res := p.ProcessChunk([]byte(envelope(`{"action":"Searching the web..."}`)))
	assert.Equal(t, "Searching the web...", res.Action, "label shows while no prose has arrived")
	assert.Empty(t, res.DisplayText)
	assert.False(t, res.HasReceivedContent)

	res = p.ProcessChunk([]byte("Here is the result"))
	assert.Equal(t, "Here is the result", res.DisplayText)
	assert.Empty(t, res.Action, "prose after the envelope retires the label")

	res = p.Finalize(true)
	assert.Equal(t, "Here is the result", res.DisplayText)
	assert.Empty(t, res.Action)
	assert.NotContains(t, res.DisplayText, "<<<")
}

func TestParser_UnclosedEnvelopeIsHidden(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()
	res := p.ProcessChunk([]byte("Answer." + "\n\n" + wire.MetadataStart + `{"citations":[`))
	assert.Equal(t, "Answer.", res.DisplayText, "an in-progress envelope never leaks into prose")
	assert.Empty(t, res.Citations)

	res = p.ProcessChunk([]byte(`{"number":1,"url":"https://e.com","title":"E"}]}` + wire.MetadataEnd))
	assert.Equal(t, "Answer.", res.DisplayText)
	require.Len(t, res.Citations, 1)
	assert.True(t, res.CitationsChanged)
}

func TestParser_PartialStartMarkerIsHeldBack(t *testing.T) {
	t.Parallel()

	t.Run("chunk ends inside the marker", func(t *testing.T) {
		t.Parallel()

		p := wire.NewParser()
		res := p.ProcessChunk([]byte("Here is the result\n\n<<<METADATA_ST"))
		assert.Equal(t, "Here is the result", res.DisplayText,
			"delimiter bytes never reach the visible view")

		res = p.ProcessChunk([]byte(`ART>>>{"action":"Searching"}` + wire.MetadataEnd))
		assert.Equal(t, "Here is the result", res.DisplayText)
	})

	t.Run("chunk ends inside the separator", func(t *testing.T) {
		t.Parallel()

		p := wire.NewParser()
		res := p.ProcessChunk([]byte("paragraph one\n\n"))
		assert.Equal(t, "paragraph one", res.DisplayText)

		res = p.ProcessChunk([]byte("paragraph two"))
		assert.Equal(t, "paragraph one\n\nparagraph two", res.DisplayText,
			"an ambiguous tail that turns out to be prose is released")
	})

	t.Run("display never shrinks across chunks", func(t *testing.T) {
		t.Parallel()

		text := "prose" + envelope(`{"thinking":"t"}`)
		for off := 0; off <= len(text); off++ {
			p := wire.NewParser()
			first := p.ProcessChunk([]byte(text[:off]))
			second := p.ProcessChunk([]byte(text[off:]))
			require.True(t, len(second.DisplayText) >= len(first.DisplayText) &&
				second.DisplayText[:len(first.DisplayText)] == first.DisplayText,
				"split at %d: %q then %q", off, first.DisplayText, second.DisplayText)
		}
	})

	t.Run("finalize releases a tail that can no longer complete", func(t *testing.T) {
		t.Parallel()

		p := wire.NewParser()
		res := p.ProcessChunk([]byte("trailing blank line\n\n"))
		assert.Equal(t, "trailing blank line", res.DisplayText)

		res = p.Finalize(true)
		assert.Equal(t, "trailing blank line\n\n", res.DisplayText)
	})
}

func TestParser_MalformedMetadataIsIgnored(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()
	p.ProcessChunk([]byte(envelope(`{invalid}`)))
	res := p.ProcessChunk([]byte("trailing prose"))

	assert.Equal(t, "trailing prose", res.DisplayText)
	assert.Empty(t, res.Citations)
	assert.Empty(t, res.Action)
}

func TestParser_MultiByteRuneSplitAcrossChunks(t *testing.T) {
	t.Parallel()

	text := []byte("héllo 世界")
	p := wire.NewParser()
	for _, b := range text {
		p.ProcessChunk([]byte{b})
	}
	res := p.Finalize(true)
	assert.Equal(t, "héllo 世界", res.DisplayText)
}

func TestParser_LegacyBareJSONTail(t *testing.T) {
	t.Parallel()

	body := `The answer is 42.` + "\n" + `{"citations":[{"number":1,"url":"https://e.com","title":"E"}],"threadId":"th_1"}`

	// Non-streaming: the trailing object is the envelope.
	p := wire.NewParser()
	p.ProcessChunk([]byte(body))
	res := p.Finalize(false)
	assert.Equal(t, "The answer is 42.", res.DisplayText)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "th_1", res.ThreadID)

	// Streaming: the tail is left alone.
	p = wire.NewParser()
	p.ProcessChunk([]byte(body))
	res = p.Finalize(true)
	assert.Contains(t, res.DisplayText, `"citations"`)
	assert.Empty(t, res.Citations)
}

func TestParser_LegacyTailIgnoresNonEnvelopeBraces(t *testing.T) {
	t.Parallel()

	// A genuine answer ending in balanced braces that does not decode as
	// an envelope stays in the display text.
	body := "Use the literal {\"x\": }" // invalid JSON tail
	p := wire.NewParser()
	p.ProcessChunk([]byte(body))
	res := p.Finalize(false)
	assert.Equal(t, body, res.DisplayText)
}

func TestParser_IdempotentOnEmptyAndRepeatedFinalize(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()
	p.ProcessChunk([]byte("stable"))

	first := p.ProcessChunk(nil)
	assert.False(t, first.ContentChanged)

	second := p.ProcessChunk([]byte{})
	assert.Equal(t, first.DisplayText, second.DisplayText)
	assert.False(t, second.ContentChanged)

	f1 := p.Finalize(true)
	f2 := p.Finalize(true)
	assert.Equal(t, f1.DisplayText, f2.DisplayText)
	assert.False(t, f2.ContentChanged)
	assert.False(t, f2.CitationsChanged)
}

func TestParser_HasReceivedContentIsMonotonic(t *testing.T) {
	t.Parallel()

	p := wire.NewParser()
	res := p.ProcessChunk([]byte("x"))
	require.True(t, res.HasReceivedContent)

	// Nothing can unset it, not even an envelope-only continuation.
	res = p.ProcessChunk([]byte(envelope(`{"action":"Working..."}`)))
	assert.True(t, res.HasReceivedContent)
}
