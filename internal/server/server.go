// Package server exposes the query engine over HTTP: POST /v1/query for
// questions, GET /health for dependency checks, GET /metrics for the
// Prometheus scrape endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dev.strata.query/internal/config"
	"dev.strata.query/internal/engine"
	"dev.strata.query/internal/workflow"
)

// Engine is the part of the query engine the HTTP surface uses.
type Engine interface {
	RunQuery(ctx context.Context, query string, overrides workflow.Overrides) (*workflow.State, error)
	CheckHealth(ctx context.Context) engine.Health
}

// Server wraps the gin router with lifecycle management.
type Server struct {
	engine   Engine
	router   *gin.Engine
	server   *http.Server
	settings config.ServerSettings
	log      *logrus.Logger

	mu      sync.RWMutex
	running bool
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a custom logger for the server.
func WithLogger(log *logrus.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// New builds the router and its routes. metricsHandler may be nil, in
// which case no /metrics endpoint is mounted.
func New(settings config.ServerSettings, eng Engine, metricsHandler http.Handler, opts ...Option) *Server {
	s := &Server{
		engine:   eng,
		settings: settings,
		log:      logrus.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if settings.Mode != "" {
		gin.SetMode(settings.Mode)
	}

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.requestLogger())

	s.router.GET("/health", s.handleHealth)
	if metricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	v1 := s.router.Group("/v1")
	{
		v1.POST("/query", s.handleQuery)
	}
	return s
}

// requestLogger logs every request with its status and latency.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.log.WithFields(fields).Error("Request failed")
			return
		}
		s.log.WithFields(fields).Info("Request completed")
	}
}

// Router returns the underlying gin engine, for tests and embedding.
func (s *Server) Router() *gin.Engine { return s.router }

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

// Start runs the HTTP server until Shutdown or a listener error.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	addr := fmt.Sprintf("%s:%d", s.settings.Host, s.settings.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Generation-backed answers can take a while.
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.running = true
	s.mu.Unlock()

	s.log.WithField("addr", addr).Info("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.log.Info("Shutting down HTTP server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.log.Info("HTTP server stopped")
	return nil
}

// IsRunning reports whether the server is accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
