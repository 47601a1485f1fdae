// Package api exposes the service operations over HTTP. Responses
// carry aggregate results and item metadata only; message bodies and
// credentials never leave the daemon.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Raywonder/flexpbx-mailer/internal/config"
	"github.com/Raywonder/flexpbx-mailer/internal/engine"
	"github.com/Raywonder/flexpbx-mailer/internal/metrics"
)

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	engine     *engine.Engine
	config     *config.API
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(eng *engine.Engine, cfg *config.API, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    eng,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(metrics.HTTPMiddleware)
	s.router.Use(middleware.Recoverer)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/messages", s.handleEnqueue)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Post("/test-send", s.handleTestSend)
		r.Post("/cycle", s.handleRunCycle)
		r.Get("/queue/summary", s.handleQueueSummary)
		r.Post("/queue/retry-failed", s.handleRetryFailed)
		r.Get("/statistics", s.handleStatistics)
		r.Delete("/logs", s.handleClearLogs)
	})
}

// Handler returns the router, used directly in tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
