// Package api serves the mailmerge HTTP API: contact store, imports,
// selection preview, sending sessions, the sending log and the sandbox outbox.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/iase/mailmerge/internal/config"
	"github.com/iase/mailmerge/internal/contact"
	"github.com/iase/mailmerge/internal/ipfilter"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/session"
	"github.com/iase/mailmerge/internal/storage"
	"github.com/iase/mailmerge/internal/syncer"
	"github.com/iase/mailmerge/internal/template"
)

// Version is reported by /health
var Version = "dev"

// Store is the persistence the API reads from
type Store interface {
	LoadContacts(ctx context.Context) (contact.Store, error)
	ListLog(ctx context.Context, limit int) ([]*storage.LogEntry, error)
	ClearLog(ctx context.Context) (int, error)
	ListOutbox(ctx context.Context, filter storage.OutboxFilter) ([]*storage.OutboxMessage, error)
}

// Deps are the components behind the API
type Deps struct {
	Store   Store
	Syncer  *syncer.Syncer
	Runner  *session.Runner
	Catalog *template.Catalog
	Engine  *template.Engine
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	deps       Deps
	config     *config.APIConfig
	logger     *slog.Logger
	filter     *ipfilter.Filter
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	logger = logger.With("component", "api")
	s := &Server{
		router:    chi.NewRouter(),
		deps:      deps,
		config:    cfg,
		logger:    logger,
		filter:    ipfilter.New(cfg.AllowedIPs, logger),
		startTime: time.Now(),
	}
	if s.filter.Enabled() {
		s.logger.Info("api IP filtering enabled", "allowed_networks", s.filter.Count())
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	// RealIP rewrites RemoteAddr, the filter must see the peer first
	s.router.Use(s.filter.HTTPMiddleware)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/contacts", s.handleContacts)
		r.Put("/contacts", s.handleReplace)
		r.Delete("/contacts/{uid}", s.handleDeleteContact)
		r.Post("/import", s.handleImport)
		r.Post("/sync", s.handleSync)
		r.Get("/nations", s.handleNations)
		r.Get("/selection", s.handleSelection)

		r.Post("/session", s.handleStartSession)
		r.Get("/session", s.handleSessionProgress)
		r.Delete("/session", s.handleCancelSession)

		r.Get("/log", s.handleLog)
		r.Delete("/log", s.handleClearLog)

		r.Get("/templates", s.handleTemplates)
		r.Post("/templates/preview", s.handlePreview)

		r.Get("/outbox", s.handleOutbox)
	})
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
