// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package api serves the devstack monitor API.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/sharedco/devstack/internal/container"
	"github.com/sharedco/devstack/internal/health"
	"github.com/sharedco/devstack/internal/metrics"
	"github.com/sharedco/devstack/internal/models"
)

// Engine is the project surface the API exposes.
type Engine interface {
	Config() *models.ProjectConfig
	Ports() map[string]int
	List(ctx context.Context) ([]container.Summary, error)
	ServiceHealth(ctx context.Context, service string) (health.Status, error)
	Stats(ctx context.Context, service string) (*container.Stats, error)
	AllStats(ctx context.Context) (map[string]*container.Stats, error)
	StartService(ctx context.Context, service string) error
	StopService(ctx context.Context, service string) error
	RestartService(ctx context.Context, service string) error
	Logs(ctx context.Context, service string, follow bool, tail int, w io.Writer) error
}

// Server represents the HTTP API server
type Server struct {
	router     *chi.Mux
	engine     Engine
	metrics    *metrics.Metrics
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a new API server instance listening on addr.
func NewServer(addr string, eng Engine, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:  chi.NewRouter(),
		engine:  eng,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: localOrigin,
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	// No write timeout: log streams stay open.
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// setupMiddleware configures global middleware
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())
	s.router.Get("/stats", s.handleAllStats)

	s.router.Route("/services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/health", s.handleServiceHealth)
			r.Get("/stats", s.handleServiceStats)
			r.Get("/logs", s.handleLogs)
			r.Get("/logs/ws", s.handleLogsWS)
			r.Group(func(r chi.Router) {
				r.Use(requireLocalJSON)
				r.Post("/start", s.handleStart)
				r.Post("/stop", s.handleStop)
				r.Post("/restart", s.handleRestart)
			})
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("monitor API listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Router returns the underlying router (useful for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
