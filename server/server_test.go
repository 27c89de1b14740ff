package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/client"
	"github.com/flumechat/flume/mock"
	"github.com/flumechat/flume/pipeline"
	"github.com/flumechat/flume/server"
	"github.com/flumechat/flume/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() flume.Catalog {
	return flume.Catalog{
		Models: map[string]flume.ModelConfig{
			"std":    {ID: "std", SupportsTemperature: true},
			"vision": {ID: "vision", SupportsVision: true},
			"agent":  {ID: "agent", SupportsVision: true, IsAgent: true},
		},
		Default: "std",
		Vision:  "vision",
	}
}

func testDeps(provider flume.Provider) server.Deps {
	return server.Deps{
		Provider: provider,
		Auth: func(_ context.Context, token string) (flume.Identity, error) {
			if token == "" {
				return flume.Identity{}, flume.ErrUnauthenticated
			}
			return flume.Identity{ID: "user-1"}, nil
		},
		Catalog: testCatalog(),
	}
}

func scriptedProvider(events ...flume.Event) *mock.Provider {
	return &mock.Provider{
		StreamFn: func(_ context.Context, _ flume.Request) (flume.Stream, error) {
			return mock.NewScriptedStream(events...), nil
		},
	}
}

// postChat sends a chat request and returns the response. The caller owns
// the response body.
func postChat(t *testing.T, url string, req client.ChatRequest) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	httpReq, err := http.NewRequest(http.MethodPost, url+"/v1/chat", bytes.NewReader(body))
	require.NoError(t, err)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer tok-1")

	resp, err := http.DefaultClient.Do(httpReq)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func userRequest(text string) client.ChatRequest {
	return client.ChatRequest{
		Stream: true,
		Messages: []client.Message{
			{Role: "user", Content: []client.Block{{Type: "text", Text: text}}},
		},
	}
}

// parseBody runs the full response body through a wire parser, the way the
// TUI consumes it.
func parseBody(t *testing.T, resp *http.Response, streaming bool) wire.Result {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	p := wire.NewParser()
	p.ProcessChunk(body)
	return p.Finalize(streaming)
}

func decodeError(t *testing.T, resp *http.Response) (code, message string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Error.Code, payload.Error.Message
}

func TestServer_StreamingChat(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(
		flume.EventTextDelta{Delta: "The answer "},
		flume.EventTextDelta{Delta: "is 42. [1]"},
		flume.EventThinkingDelta{Delta: "checking sources"},
		flume.EventCitation{Citation: flume.Citation{Number: 1, URL: "https://a.example", Title: "A"}},
	)
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, userRequest("what is the answer?"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req_"))

	res := parseBody(t, resp, true)
	assert.Equal(t, "The answer is 42. [1]", res.DisplayText)
	assert.Equal(t, "checking sources", res.Thinking)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "https://a.example", res.Citations[0].URL)
	assert.True(t, strings.HasPrefix(res.ThreadID, "thr_"), "server assigns a thread ID on the first turn")
}

func TestServer_ThreadIDEchoed(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(flume.EventTextDelta{Delta: "Hi again."})
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	req := userRequest("hello")
	req.ThreadID = "thr_existing"
	resp := postChat(t, srv.URL, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := parseBody(t, resp, true)
	assert.Equal(t, "thr_existing", res.ThreadID)
}

func TestServer_NonStreamingLegacyTail(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(
		flume.EventTextDelta{Delta: "Short answer."},
		flume.EventCitation{Citation: flume.Citation{Number: 1, URL: "https://b.example", Title: "B"}},
	)
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	req := userRequest("quick one")
	req.Stream = false
	resp := postChat(t, srv.URL, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Legacy shape: prose, blank line, bare JSON without the envelope markers.
	res := parseBody(t, resp, false)
	assert.Equal(t, "Short answer.", res.DisplayText)
	require.Len(t, res.Citations, 1)
	assert.Equal(t, "https://b.example", res.Citations[0].URL)
}

func TestServer_ActionEnvelopeMidStream(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(
		flume.EventAction{Label: "Searching the web"},
		flume.EventTextDelta{Delta: "Found it."},
	)
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, userRequest("find something"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	// The action envelope precedes the prose on the wire.
	assert.Less(t, bytes.Index(body, []byte("Searching the web")), bytes.Index(body, []byte("Found it.")))

	p := wire.NewParser()
	p.ProcessChunk(body)
	res := p.Finalize(true)
	assert.Equal(t, "Found it.", res.DisplayText)
	assert.Empty(t, res.Action, "final envelope retires the label")
}

func TestServer_Unauthenticated(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(flume.EventTextDelta{Delta: "never sent"})
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	body, _ := json.Marshal(userRequest("hi"))
	resp, err := http.Post(srv.URL+"/v1/chat", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "auth", code)
}

func TestServer_Validation(t *testing.T) {
	t.Parallel()

	provider := scriptedProvider(flume.EventTextDelta{Delta: "never sent"})
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	t.Run("missing messages", func(t *testing.T) {
		resp := postChat(t, srv.URL, client.ChatRequest{Stream: true})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		code, msg := decodeError(t, resp)
		assert.Equal(t, "validation", code)
		assert.Contains(t, msg, "messages")
	})

	t.Run("unknown role rejected by schema", func(t *testing.T) {
		req := client.ChatRequest{
			Stream:   true,
			Messages: []client.Message{{Role: "system", Content: []client.Block{{Type: "text", Text: "x"}}}},
		}
		resp := postChat(t, srv.URL, req)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		code, _ := decodeError(t, resp)
		assert.Equal(t, "validation", code)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		httpReq, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat", strings.NewReader("{not json"))
		require.NoError(t, err)
		httpReq.Header.Set("Authorization", "Bearer tok-1")
		resp, err := http.DefaultClient.Do(httpReq)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestServer_RateLimited(t *testing.T) {
	t.Parallel()

	deps := testDeps(scriptedProvider(flume.EventTextDelta{Delta: "never sent"}))
	deps.RateLimiter = &mock.RateLimiter{
		CheckFn: func(_ context.Context, _ flume.Identity) (int, error) {
			return 0, flume.ErrRateLimited
		},
	}
	srv := httptest.NewServer(server.New(server.Config{}, deps).Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, userRequest("hi"))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	code, _ := decodeError(t, resp)
	assert.Equal(t, "rate_limit", code)
}

func TestServer_UpstreamFailure(t *testing.T) {
	t.Parallel()

	provider := &mock.Provider{
		StreamFn: func(_ context.Context, _ flume.Request) (flume.Stream, error) {
			return nil, errors.New("connection refused")
		},
	}
	srv := httptest.NewServer(server.New(server.Config{}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, userRequest("hi"))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	code, msg := decodeError(t, resp)
	assert.Equal(t, "upstream_failure", code)
	assert.Contains(t, msg, "connection refused")
}

func TestServer_FallbackModel(t *testing.T) {
	t.Parallel()

	var models []string
	provider := &mock.Provider{
		StreamFn: func(_ context.Context, req flume.Request) (flume.Stream, error) {
			models = append(models, req.Model)
			if req.Model != "vision" {
				return nil, errors.New("model overloaded")
			}
			return mock.NewScriptedStream(flume.EventTextDelta{Delta: "Fallback answer."}), nil
		},
	}
	srv := httptest.NewServer(server.New(server.Config{FallbackModel: "vision"}, testDeps(provider)).Handler())
	t.Cleanup(srv.Close)

	resp := postChat(t, srv.URL, userRequest("hi"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := parseBody(t, resp, true)
	assert.Equal(t, "Fallback answer.", res.DisplayText)
	assert.Equal(t, []string{"std", "vision"}, models)
}

// failingSummarizer always errors, exercising partial-failure tolerance.
type failingSummarizer struct{}

func (failingSummarizer) Summarize(_ context.Context, _ string, _ []byte) (string, error) {
	return "", errors.New("summarizer unavailable")
}

func TestServer_WarningDegradesResponse(t *testing.T) {
	t.Parallel()

	deps := testDeps(scriptedProvider(flume.EventTextDelta{Delta: "Answer without the summary."}))
	deps.Summarizer = failingSummarizer{}
	srv := httptest.NewServer(server.New(server.Config{}, deps).Handler())
	t.Cleanup(srv.Close)

	req := client.ChatRequest{
		Stream: true,
		Messages: []client.Message{
			{Role: "user", Content: []client.Block{
				{Type: "text", Text: "summarize this"},
				{Type: "file", Filename: "doc.pdf", Data: []byte("%PDF"), MimeType: "application/pdf"},
			}},
		},
	}
	resp := postChat(t, srv.URL, req)
	require.Equal(t, http.StatusOK, resp.StatusCode, "a failing enrichment stage does not fail the turn")

	res := parseBody(t, resp, true)
	assert.Equal(t, "Answer without the summary.", res.DisplayText)
}

func TestServer_TranscriptInEnvelope(t *testing.T) {
	t.Parallel()

	deps := testDeps(scriptedProvider(flume.EventTextDelta{Delta: "You said hello."}))
	deps.Transcriber = transcriberFunc(func(_ context.Context, filename string, _ []byte) (string, error) {
		return "hello there", nil
	})
	srv := httptest.NewServer(server.New(server.Config{}, deps).Handler())
	t.Cleanup(srv.Close)

	req := client.ChatRequest{
		Stream: true,
		Messages: []client.Message{
			{Role: "user", Content: []client.Block{
				{Type: "text", Text: "what does it say?"},
				{Type: "audio", Filename: "note.mp3", Data: []byte{1}, MimeType: "audio/mpeg"},
			}},
		},
	}
	resp := postChat(t, srv.URL, req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := parseBody(t, resp, true)
	require.NotNil(t, res.Transcript)
	assert.Equal(t, "note.mp3", res.Transcript.Filename)
	assert.Equal(t, "hello there", res.Transcript.Text)
}

type transcriberFunc func(ctx context.Context, filename string, data []byte) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	return f(ctx, filename, data)
}

// Compile-time check that the optional deps satisfy the pipeline interfaces.
var (
	_ pipeline.Summarizer  = failingSummarizer{}
	_ pipeline.Transcriber = transcriberFunc(nil)
)
