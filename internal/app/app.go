// Package app wires storage, delivery, sessions, sync and the HTTP servers
// into one application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iase/mailmerge/internal/api"
	"github.com/iase/mailmerge/internal/config"
	"github.com/iase/mailmerge/internal/mailer"
	"github.com/iase/mailmerge/internal/metrics"
	"github.com/iase/mailmerge/internal/remote"
	"github.com/iase/mailmerge/internal/session"
	"github.com/iase/mailmerge/internal/storage"
	"github.com/iase/mailmerge/internal/syncer"
	"github.com/iase/mailmerge/internal/template"
)

// App is the main application
type App struct {
	config        *config.Config
	storage       *storage.BoltStorage
	syncer        *syncer.Syncer
	runner        *session.Runner
	catalog       *template.Catalog
	engine        *template.Engine
	apiServer     *api.Server
	metrics       *metrics.Metrics
	collector     *metrics.Collector
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	store, err := storage.NewBoltStorage(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a, err := build(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, store *storage.BoltStorage, logger *slog.Logger) (*App, error) {
	engine := template.NewEngine()
	catalog := template.DefaultCatalog()
	if cfg.Templates.CatalogFile != "" {
		c, err := template.LoadCatalog(cfg.Templates.CatalogFile, engine)
		if err != nil {
			return nil, fmt.Errorf("failed to load letters catalog: %w", err)
		}
		catalog = c
		logger.Info("letters catalog loaded", "path", cfg.Templates.CatalogFile)
	}

	m, err := mailer.New(&cfg.Mailer, store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create mailer: %w", err)
	}

	// A nil fetcher disables remote sync
	var fetcher syncer.Fetcher
	if cfg.Remote.ContactsURL != "" || cfg.Remote.NationsURL != "" {
		fetcher = remote.NewClient(remote.Config{
			ContactsURL:     cfg.Remote.ContactsURL,
			NationsURL:      cfg.Remote.NationsURL,
			APIKey:          cfg.Remote.APIKey,
			Timeout:         cfg.Remote.Timeout,
			FallbackNations: cfg.Remote.FallbackNations,
		}, logger)
	}
	contactSync := syncer.New(fetcher, store, cfg.Remote.RefreshInterval, logger)

	runner := session.NewRunner(session.Config{
		From:     cfg.Session.From,
		FromName: cfg.Session.FromName,
		ReplyTo:  cfg.Session.ReplyTo,
		Mode:     cfg.Mailer.Mode,
		Defaults: session.Request{
			Nations:      cfg.Session.Nations,
			MaxCount:     cfg.Session.MaxCount,
			Language:     cfg.Session.Language,
			Letter:       cfg.Session.Letter,
			Delay:        cfg.Session.Delay,
			RandomWindow: cfg.Session.RandomWindow,
			FinalDelay:   cfg.Session.FinalDelay,
		},
	}, store, m, catalog, engine, logger)

	a := &App{
		config:  cfg,
		storage: store,
		syncer:  contactSync,
		runner:  runner,
		catalog: catalog,
		engine:  engine,
		logger:  logger,
	}

	if cfg.API.Enabled {
		a.apiServer = api.NewServer(api.Deps{
			Store:   store,
			Syncer:  contactSync,
			Runner:  runner,
			Catalog: catalog,
			Engine:  engine,
		}, &cfg.API, logger)
	}

	if cfg.Metrics.Enabled {
		if err := a.setupMetrics(); err != nil {
			return nil, err
		}
	}

	return a, nil
}

func (a *App) setupMetrics() error {
	a.metrics = metrics.New()
	metrics.SetGlobal(a.metrics)

	stats := metrics.StatsFunc(func(ctx context.Context) (*metrics.ContactStats, error) {
		s, err := a.storage.LoadContacts(ctx)
		if err != nil {
			return nil, err
		}
		return &metrics.ContactStats{
			Active:               len(s.Active),
			Deleted:              len(s.Deleted),
			LastImportExportDate: s.LastImportExportDate,
		}, nil
	})

	collector, err := metrics.NewCollector(a.storage, a.metrics, stats, a.config.Storage.Path, a.config.Metrics.FlushInterval)
	if err != nil {
		return fmt.Errorf("failed to create metrics collector: %w", err)
	}
	a.collector = collector

	a.metricsServer = metrics.NewServer(a.metrics, a.config.Metrics.ListenAddr, a.config.Metrics.Path, a.config.Metrics.AllowedIPs, a.logger)
	a.logger.Info("metrics enabled", "addr", a.config.Metrics.ListenAddr)
	return nil
}

// Config returns the loaded configuration
func (a *App) Config() *config.Config { return a.config }

// Storage returns the application storage
func (a *App) Storage() *storage.BoltStorage { return a.storage }

// Syncer returns the contact syncer
func (a *App) Syncer() *syncer.Syncer { return a.syncer }

// Runner returns the session runner
func (a *App) Runner() *session.Runner { return a.runner }

// Catalog returns the letters catalog
func (a *App) Catalog() *template.Catalog { return a.catalog }

// Engine returns the template engine
func (a *App) Engine() *template.Engine { return a.engine }

// Logger returns the application logger
func (a *App) Logger() *slog.Logger { return a.logger }

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting mailmerge",
		"mailer", a.config.Mailer.Mode,
		"api_enabled", a.config.API.Enabled,
		"api_addr", a.config.API.ListenAddr,
		"metrics_enabled", a.config.Metrics.Enabled,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if a.collector != nil {
		a.collector.Start(ctx)
	}
	a.syncer.Start(ctx)

	errCh := make(chan error, 2)

	if a.apiServer != nil {
		go func() {
			if err := a.apiServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("api server: %w", err)
			}
		}()
	}

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop intake first
	if a.apiServer != nil {
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api server shutdown error", "error", err)
		}
	}

	a.syncer.Stop()

	// Let a running session stop before the next email
	if err := a.runner.Cancel(); err == nil {
		a.logger.Info("waiting for sending session to stop")
	}
	a.runner.Wait()

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists counters
	if a.collector != nil {
		if err := a.collector.Stop(); err != nil {
			a.logger.Error("metrics collector stop error", "error", err)
		}
	}

	if err := a.storage.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases resources without the server shutdown sequence, for one-shot
// CLI commands.
func (a *App) Close() error {
	a.runner.Wait()
	if a.collector != nil {
		if err := a.collector.Persist(context.Background()); err != nil {
			a.logger.Warn("failed to persist metrics", "error", err)
		}
	}
	return a.storage.Close()
}

// SetupLogger creates a logger based on configuration
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
