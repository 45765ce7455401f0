// Package api serves the Claude Messages API over gin.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nghyane/claude-relay/internal/config"
	log "github.com/nghyane/claude-relay/internal/logging"
	"github.com/nghyane/claude-relay/internal/metrics"
	"github.com/nghyane/claude-relay/internal/registry"
	"github.com/nghyane/claude-relay/internal/runtime/executor"
	"github.com/nghyane/claude-relay/internal/tokens"
	"github.com/nghyane/claude-relay/internal/translator/ir"
	"github.com/nghyane/claude-relay/internal/usage"
)

// DefaultPingInterval is how long a stream may stay silent before a ping
// event is written.
const DefaultPingInterval = 15 * time.Second

type serverOptionConfig struct {
	extraMiddleware []gin.HandlerFunc
	metrics         *metrics.Recorder
	usage           *usage.LoggerPlugin
	counter         *tokens.Counter
	pingInterval    time.Duration
}

// ServerOption customises Server construction.
type ServerOption func(*serverOptionConfig)

func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithMetrics enables request metrics and, when the config allows it, the
// metrics endpoint.
func WithMetrics(r *metrics.Recorder) ServerOption {
	return func(cfg *serverOptionConfig) { cfg.metrics = r }
}

// WithUsage serves /v0/usage from p.
func WithUsage(p *usage.LoggerPlugin) ServerOption {
	return func(cfg *serverOptionConfig) { cfg.usage = p }
}

func WithTokenCounter(c *tokens.Counter) ServerOption {
	return func(cfg *serverOptionConfig) { cfg.counter = c }
}

func WithPingInterval(d time.Duration) ServerOption {
	return func(cfg *serverOptionConfig) { cfg.pingInterval = d }
}

// Server wires the gin engine to the route table and the batcher.
type Server struct {
	engine *gin.Engine
	server *http.Server

	cfg      atomic.Pointer[config.Config]
	registry *registry.ModelRegistry
	batcher  *executor.Batcher

	metrics      *metrics.Recorder
	usage        *usage.LoggerPlugin
	counter      *tokens.Counter
	pingInterval time.Duration
}

func NewServer(cfg *config.Config, reg *registry.ModelRegistry, batcher *executor.Batcher, opts ...ServerOption) *Server {
	o := &serverOptionConfig{pingInterval: DefaultPingInterval}
	for _, opt := range opts {
		opt(o)
	}
	if o.counter == nil {
		o.counter = tokens.Default()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:       gin.New(),
		registry:     reg,
		batcher:      batcher,
		metrics:      o.metrics,
		usage:        o.usage,
		counter:      o.counter,
		pingInterval: o.pingInterval,
	}
	s.cfg.Store(cfg)
	s.setupMiddleware(o.extraMiddleware)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(extra []gin.HandlerFunc) {
	s.engine.Use(log.GinLogrusLogger())
	s.engine.Use(log.GinLogrusRecovery())
	if s.metrics != nil {
		s.engine.Use(s.metrics.Middleware())
	}
	for _, mw := range extra {
		s.engine.Use(mw)
	}
	s.engine.Use(corsMiddleware())
}

func (s *Server) setupRoutes(cfg *config.Config) {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		handler := gin.WrapH(s.metrics.Handler())
		s.engine.GET(path, func(c *gin.Context) {
			log.SkipGinRequestLogging(c)
			handler(c)
		})
	}

	v1 := s.engine.Group("/v1", s.authMiddleware(), decompressMiddleware())
	v1.POST("/messages", s.handleMessages)
	v1.POST("/messages/count_tokens", s.handleCountTokens)
	v1.GET("/models", s.handleModels)
	v1.GET("/models/:model", s.handleModel)

	s.engine.GET("/v0/usage", s.authMiddleware(), s.handleUsage)

	s.engine.NoRoute(func(c *gin.Context) {
		respondError(c, http.StatusNotFound, ir.ClaudeErrNotFound, fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path))
	})
}

// Handler exposes the engine, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) getConfig() *config.Config { return s.cfg.Load() }

// UpdateConfig applies a reloaded config. Listen address and metrics path
// changes need a restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.cfg.Swap(cfg)
	if old != nil && old.Addr() != cfg.Addr() {
		log.Warnf("listen address changed from %s to %s; restart to apply", old.Addr(), cfg.Addr())
	}
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	log.Infof("listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop shuts down gracefully; open streams are given until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("stopping API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
