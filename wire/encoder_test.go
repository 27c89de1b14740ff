package wire_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/mock"
	"github.com/flumechat/flume/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoder_PassesTextThroughUnchanged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := mock.NewScriptedStream(
		flume.EventTextDelta{Delta: "Hello, "},
		flume.EventTextDelta{Delta: "wörld — 你好"},
	)

	meta, err := wire.NewEncoder(&buf).Encode(context.Background(), s, flume.Metadata{})
	require.NoError(t, err)
	assert.True(t, meta.IsZero(), "nothing to report, no envelope")
	assert.Equal(t, "Hello, wörld — 你好", buf.String())
}

func TestEncoder_AppendsEnvelopeAfterAllVisibleText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := mock.NewScriptedStream(
		flume.EventTextDelta{Delta: "The answer"},
		flume.EventCitation{Citation: flume.Citation{Number: 1, URL: "https://example.com", Title: "Example"}},
		flume.EventThinkingDelta{Delta: "let me check"},
	)

	meta, err := wire.NewEncoder(&buf).Encode(context.Background(), s, flume.Metadata{ThreadID: "thread_1"})
	require.NoError(t, err)

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "The answer\n\n"+wire.MetadataStart))
	assert.True(t, strings.HasSuffix(out, wire.MetadataEnd))
	assert.Equal(t, "thread_1", meta.ThreadID)
	require.Len(t, meta.Citations, 1)
	assert.Equal(t, "let me check", meta.Thinking)

	// Exactly one envelope.
	assert.Equal(t, 1, strings.Count(out, wire.MetadataStart))
}

func TestEncoder_ActionBecomesEarlyEnvelopeNotFinal(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := mock.NewScriptedStream(
		flume.EventAction{Label: "Searching the web..."},
		flume.EventTextDelta{Delta: "Here is the result"},
		flume.EventCitation{Citation: flume.Citation{Number: 1, URL: "https://example.com"}},
	)

	_, err := wire.NewEncoder(&buf).Encode(context.Background(), s, flume.Metadata{})
	require.NoError(t, err)

	out := buf.String()
	idx := strings.Index(out, "Searching the web...")
	require.GreaterOrEqual(t, idx, 0, "action label travels in an early envelope")
	assert.Less(t, idx, strings.Index(out, "Here is the result"), "action precedes the prose")

	// The final envelope carries the citation but not the stale label.
	final := out[strings.LastIndex(out, wire.MetadataStart):]
	assert.Contains(t, final, "example.com")
	assert.NotContains(t, final, "Searching")
}

func TestEncoder_CancellationOmitsEnvelope(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer

	calls := 0
	s := &mock.Stream{
		NextFn: func() (flume.Event, error) {
			calls++
			if calls == 2 {
				cancel() // user clicks stop mid-stream
			}
			return flume.EventTextDelta{Delta: "token "}, nil
		},
	}

	meta, err := wire.NewEncoder(&buf).Encode(ctx, s, flume.Metadata{Citations: []flume.Citation{{Number: 1}}})
	require.NoError(t, err, "cancellation is a clean close, not an error")
	assert.True(t, meta.IsZero())
	assert.NotContains(t, buf.String(), wire.MetadataStart, "no envelope after cancellation")
}

func TestEncoder_UpstreamFailureOmitsEnvelope(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := mock.NewScriptedStream(flume.EventTextDelta{Delta: "partial"}).FailWith(assert.AnError)

	_, err := wire.NewEncoder(&buf).Encode(context.Background(), s, flume.Metadata{})
	require.Error(t, err)
	assert.Equal(t, "partial", buf.String())
	assert.NotContains(t, buf.String(), wire.MetadataStart)
}
