// Package server is the flume HTTP gateway. It exposes POST /v1/chat, runs
// the request pipeline, and streams the assistant's answer in the wire
// protocol (prose first, one metadata envelope at the end).
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/flumechat/flume"
	"github.com/flumechat/flume/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v5"
	log "github.com/sirupsen/logrus"
)

// AuthFunc resolves a bearer token to a user identity. It returns
// flume.ErrUnauthenticated (possibly wrapped) when the token is invalid.
type AuthFunc func(ctx context.Context, token string) (flume.Identity, error)

// Config holds gateway settings, typically loaded from viper.
type Config struct {
	Addr          string
	SystemPrompt  string
	FallbackModel string
	Timeouts      pipeline.Timeouts
}

// Deps are the collaborators the gateway wires into the pipeline. Provider,
// Auth and Catalog are required; the rest are optional — a nil dependency
// drops its stage from the pipeline.
type Deps struct {
	Provider    flume.Provider
	Auth        AuthFunc
	Catalog     flume.Catalog
	RateLimiter flume.RateLimiter
	Transcriber pipeline.Transcriber
	Summarizer  pipeline.Summarizer
	Searcher    pipeline.Searcher
}

// Server is the gateway. Create it with New; serve with Run or mount
// Handler in a test server.
type Server struct {
	cfg    Config
	deps   Deps
	engine *gin.Engine
	schema *jsonschema.Schema
}

// New creates a Server with its routes and middleware configured.
func New(cfg Config, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		schema: jsonschema.MustCompileString("chat_request.schema.json", chatRequestSchema),
	}

	engine := gin.New()
	engine.Use(RequestIDMiddleware(), LoggingMiddleware(), gin.Recovery())
	engine.POST("/v1/chat", s.handleChat)
	s.engine = engine
	return s
}

// Handler returns the underlying http.Handler, for httptest.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.engine}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithFields(log.Fields{"error": err.Error()}).Warn("Shutdown did not complete cleanly")
		}
	}()

	log.WithFields(log.Fields{"addr": s.cfg.Addr}).Info("Gateway listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// stages assembles the pipeline stage list from the configured deps.
func (s *Server) stages() []pipeline.Stage {
	var stages []pipeline.Stage
	if s.deps.RateLimiter != nil {
		stages = append(stages, pipeline.RateLimitStage(s.deps.RateLimiter))
	}
	if s.deps.Transcriber != nil {
		stages = append(stages, pipeline.TranscribeStage(s.deps.Transcriber))
	}
	if s.deps.Summarizer != nil {
		stages = append(stages, pipeline.SummarizeStage(s.deps.Summarizer))
	}
	if s.deps.Searcher != nil {
		stages = append(stages, pipeline.SearchStage(s.deps.Searcher))
	}
	stages = append(stages, pipeline.GenerateStage(s.deps.Provider, s.cfg.FallbackModel))
	return stages
}
