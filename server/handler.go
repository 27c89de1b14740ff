package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/client"
	"github.com/flumechat/flume/pipeline"
	"github.com/flumechat/flume/wire"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// handleChat runs one chat turn: validate the body, assemble the request
// context, execute the pipeline, then stream the provider's answer in the
// wire protocol. Pipeline warnings degrade the response; only critical
// errors produce a non-200.
func (s *Server) handleChat(c *gin.Context) {
	requestID := c.GetString(requestIDKey)

	req, ok := s.decodeRequest(c)
	if !ok {
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = "thr_" + uuid.New().String()[:8]
	}

	token := bearerToken(c.GetHeader("Authorization"))
	builder := pipeline.NewBuilder(
		pipeline.IdentityStep(func(ctx context.Context) (flume.Identity, error) {
			return s.deps.Auth(ctx, token)
		}),
		pipeline.MessagesStep(func(_ context.Context) ([]flume.Message, string, error) {
			msgs, err := client.ToMessages(req.Messages)
			return msgs, threadID, err
		}),
		pipeline.ClassifyField(),
		pipeline.ModelField(s.deps.Catalog, req.Model),
		pipeline.SystemPromptField(s.cfg.SystemPrompt),
	)

	rc, err := builder.Build(c.Request.Context(), pipeline.Context{RequestID: requestID})
	if err != nil {
		s.writeError(c, err)
		return
	}

	pipe := pipeline.New(s.cfg.Timeouts, s.stages()...)
	rc, err = pipe.Execute(c.Request.Context(), rc)
	if err != nil {
		s.writeError(c, err)
		return
	}

	for _, w := range rc.Warnings() {
		log.WithFields(log.Fields{
			"request_id": requestID,
			"stage":      w.Stage,
			"code":       string(w.Code),
		}).Warn(w.Error())
	}

	stream := rc.Stream
	if stream == nil {
		errorJSON(c, http.StatusBadGateway, flume.CodeUpstream, "no response stream")
		return
	}
	defer stream.Close()

	base := flume.Metadata{
		ThreadID:   rc.ThreadID,
		Citations:  rc.Citations,
		Transcript: rc.Transcript,
	}

	if req.Stream {
		s.writeStreaming(c, stream, base)
		return
	}
	s.writeBuffered(c, stream, base)
}

// decodeRequest reads, schema-validates, and decodes the request body.
// It writes the error response itself and reports success via ok.
func (s *Server) decodeRequest(c *gin.Context) (client.ChatRequest, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, flume.CodeValidation, "failed to read request body")
		return client.ChatRequest{}, false
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		errorJSON(c, http.StatusBadRequest, flume.CodeValidation, "request body is not valid JSON")
		return client.ChatRequest{}, false
	}
	if err := s.schema.Validate(raw); err != nil {
		errorJSON(c, http.StatusBadRequest, flume.CodeValidation, err.Error())
		return client.ChatRequest{}, false
	}

	var req client.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		errorJSON(c, http.StatusBadRequest, flume.CodeValidation, err.Error())
		return client.ChatRequest{}, false
	}
	return req, true
}

// writeStreaming drains the stream into the response as it arrives, ending
// with the metadata envelope. Once prose has been written the status is
// committed; a later upstream failure can only be logged.
func (s *Server) writeStreaming(c *gin.Context, stream flume.Stream, base flume.Metadata) {
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)

	enc := wire.NewEncoder(c.Writer)
	if _, err := enc.Encode(c.Request.Context(), stream, base); err != nil {
		log.WithFields(log.Fields{
			"request_id": c.GetString(requestIDKey),
			"error":      err.Error(),
		}).Warn("Stream terminated before completion")
	}
}

// writeBuffered collects the whole answer, then responds with the prose
// followed by a bare JSON metadata tail. Pre-envelope clients parse this
// shape; it only exists on the non-streaming path.
func (s *Server) writeBuffered(c *gin.Context, stream flume.Stream, base flume.Metadata) {
	meta := base
	var prose strings.Builder

	for {
		evt, err := stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			errorJSON(c, http.StatusBadGateway, flume.CodeUpstream, err.Error())
			return
		}
		switch evt := evt.(type) {
		case flume.EventTextDelta:
			prose.WriteString(evt.Delta)
		case flume.EventThinkingDelta:
			meta.Thinking += evt.Delta
		case flume.EventCitation:
			meta.Citations = append(meta.Citations, evt.Citation)
		}
	}

	out := prose.String()
	if !meta.IsZero() {
		payload, err := json.Marshal(meta)
		if err != nil {
			errorJSON(c, http.StatusInternalServerError, flume.CodeUnexpected, err.Error())
			return
		}
		out += "\n\n" + string(payload)
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(out))
}

// writeError maps a pipeline error onto an HTTP status and the JSON error
// envelope.
func (s *Server) writeError(c *gin.Context, err error) {
	code := flume.CodeOf(err)
	msg := err.Error()
	// The stage wrapper repeats code and severity; the cause is the part
	// worth sending to the client.
	var pe *flume.Error
	if errors.As(err, &pe) && pe.Err != nil {
		msg = pe.Err.Error()
	}
	errorJSON(c, statusFor(code), code, msg)
}

func statusFor(code flume.ErrorCode) int {
	switch code {
	case flume.CodeAuth:
		return http.StatusUnauthorized
	case flume.CodeValidation:
		return http.StatusBadRequest
	case flume.CodeRateLimit:
		return http.StatusTooManyRequests
	case flume.CodeUpstream:
		return http.StatusBadGateway
	case flume.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorJSON(c *gin.Context, status int, code flume.ErrorCode, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": string(code), "message": msg}})
}

// bearerToken extracts the token from an Authorization header value.
// Returns "" when the header is missing or not a Bearer scheme.
func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimPrefix(header, prefix)
}
