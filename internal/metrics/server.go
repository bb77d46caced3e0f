package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iase/mailmerge/internal/ipfilter"
)

const (
	defaultAddr = ":9090"
	defaultPath = "/metrics"
)

// Server exposes the registry of one Metrics instance for scraping
type Server struct {
	http   *http.Server
	path   string
	logger *slog.Logger
}

// NewServer builds the scrape endpoint on addr. allowedIPs restricts the
// metrics path to those addresses or CIDRs; /health is always open.
func NewServer(m *Metrics, addr, path string, allowedIPs []string, logger *slog.Logger) *Server {
	if addr == "" {
		addr = defaultAddr
	}
	if path == "" {
		path = defaultPath
	}
	logger = logger.With("component", "metrics")

	filter := ipfilter.New(allowedIPs, logger)
	if filter.Enabled() {
		logger.Info("metrics IP filtering enabled", "allowed_networks", filter.Count())
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Group(func(r chi.Router) {
		r.Use(filter.HTTPMiddleware)
		r.Handle(path, promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{
			EnableOpenMetrics: true,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelError),
		}))
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		path:   path,
		logger: logger,
	}
}

// Handler returns the router serving the scrape and health endpoints
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// ListenAndServe blocks until Shutdown
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting metrics server", "addr", s.http.Addr, "path", s.path)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting scrapes and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down metrics server")
	return s.http.Shutdown(ctx)
}
