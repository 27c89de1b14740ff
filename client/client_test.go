package client_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/client"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Chat(t *testing.T) {
	t.Parallel()

	t.Run("streams body chunks and sends auth header", func(t *testing.T) {
		t.Parallel()

		var gotReq client.ChatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			require.NoError(t, json.Unmarshal(body, &gotReq))

			flusher := w.(http.Flusher)
			io.WriteString(w, "Hello")
			flusher.Flush()
			io.WriteString(w, " world")
		}))
		t.Cleanup(srv.Close)

		c := client.New(srv.URL, client.WithToken("tok-1"))
		var chunks []string
		err := c.Chat(context.Background(), client.ChatRequest{
			Stream:   true,
			Messages: []client.Message{{Role: "user", Content: []client.Block{{Type: "text", Text: "hi"}}}},
		}, func(chunk string) { chunks = append(chunks, chunk) })

		require.NoError(t, err)
		assert.Equal(t, "Hello world", strings.Join(chunks, ""))
		assert.True(t, gotReq.Stream)
		require.Len(t, gotReq.Messages, 1)
	})

	t.Run("cancellation mid-stream reports ctx.Err", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			flusher := w.(http.Flusher)
			io.WriteString(w, "partial pro")
			flusher.Flush()
			<-release
		}))
		t.Cleanup(srv.Close)
		t.Cleanup(func() { close(release) })

		ctx, cancel := context.WithCancel(context.Background())
		c := client.New(srv.URL)

		var received strings.Builder
		errCh := make(chan error, 1)
		go func() {
			errCh <- c.Chat(ctx, client.ChatRequest{Stream: true}, func(chunk string) {
				received.WriteString(chunk)
				cancel()
			})
		}()

		select {
		case err := <-errCh:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("Chat did not return after cancellation")
		}
		assert.Equal(t, "partial pro", received.String(), "chunks before the abort were delivered")
	})

	t.Run("status codes map to sentinels", func(t *testing.T) {
		t.Parallel()

		cases := []struct {
			status int
			body   string
			want   error
		}{
			{http.StatusUnauthorized, `{"error":{"code":"auth","message":"bad token"}}`, flume.ErrUnauthenticated},
			{http.StatusTooManyRequests, `{"error":{"code":"rate_limit","message":"slow down"}}`, flume.ErrRateLimited},
			{http.StatusBadRequest, `{"error":{"code":"validation","message":"no messages"}}`, flume.ErrValidation},
		}
		for _, tc := range cases {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			c := client.New(srv.URL)
			err := c.Chat(context.Background(), client.ChatRequest{}, func(string) {})
			assert.ErrorIs(t, err, tc.want)
			srv.Close()
		}
	})

	t.Run("non-JSON error body is preserved", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "upstream down")
		}))
		t.Cleanup(srv.Close)

		c := client.New(srv.URL)
		err := c.Chat(context.Background(), client.ChatRequest{}, func(string) {})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
		assert.Contains(t, err.Error(), "upstream down")
	})
}

func TestMessageConversion(t *testing.T) {
	t.Parallel()

	msgs := []flume.Message{
		flume.UserMessage{Content: []flume.ContentBlock{
			flume.TextBlock{Text: "look at this"},
			flume.ImageBlock{Data: []byte{1, 2, 3}, MimeType: "image/png"},
			flume.FileBlock{Filename: "doc.pdf", Data: []byte("%PDF"), MimeType: "application/pdf"},
			flume.AudioBlock{Filename: "a.mp3", Data: []byte{9}, MimeType: "audio/mpeg"},
		}},
		flume.AssistantMessage{Content: []flume.ContentBlock{flume.TextBlock{Text: "nice"}}},
	}

	wireMsgs := client.FromMessages(msgs)
	require.Len(t, wireMsgs, 2)
	assert.Equal(t, "user", wireMsgs[0].Role)
	assert.Equal(t, "assistant", wireMsgs[1].Role)

	back, err := client.ToMessages(wireMsgs)
	require.NoError(t, err)
	require.Len(t, back, 2)

	user, ok := back[0].(flume.UserMessage)
	require.True(t, ok)
	require.Len(t, user.Content, 4)
	assert.Equal(t, flume.TextBlock{Text: "look at this"}, user.Content[0])
	img, ok := user.Content[1].(flume.ImageBlock)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, img.Data)
	file, ok := user.Content[2].(flume.FileBlock)
	require.True(t, ok)
	assert.Equal(t, "doc.pdf", file.Filename)
}

func TestToMessages_Invalid(t *testing.T) {
	t.Parallel()

	_, err := client.ToMessages([]client.Message{{Role: "system"}})
	assert.ErrorIs(t, err, flume.ErrValidation)

	_, err = client.ToMessages([]client.Message{{Role: "user", Content: []client.Block{{Type: "video"}}}})
	assert.ErrorIs(t, err, flume.ErrValidation)
}
