package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/flumechat/flume"
)

const chatPath = "/v1/chat"

// Client streams chat turns from a flume gateway.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// WithToken sets the bearer token sent with each request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a [Client] for the gateway at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Chat posts req and streams the raw response body to onChunk as it
// arrives. Chunks are handed over exactly as read from the connection; the
// caller feeds them to a wire.Parser.
//
// Context cancellation mid-stream is a clean abort, reported as ctx.Err():
// the transport error caused by tearing down the connection is not
// surfaced.
func (c *Client) Chat(ctx context.Context, req ChatRequest, onChunk func(string)) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("client: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseError(resp)
	}

	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			onChunk(string(buf[:n]))
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("client: %w", err)
		}
	}
}

// parseError maps a non-200 response to a sentinel-wrapped error so callers
// can branch with errors.Is.
func parseError(resp *http.Response) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return fmt.Errorf("client: HTTP %d (failed to read body: %w)", resp.StatusCode, readErr)
	}

	msg := string(body)
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("client: %s: %w", msg, flume.ErrUnauthenticated)
	case http.StatusTooManyRequests:
		return fmt.Errorf("client: %s: %w", msg, flume.ErrRateLimited)
	case http.StatusBadRequest:
		return fmt.Errorf("client: %s: %w", msg, flume.ErrValidation)
	default:
		return fmt.Errorf("client: HTTP %d: %s", resp.StatusCode, msg)
	}
}
