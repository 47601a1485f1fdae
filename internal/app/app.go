// Package app wires the daemon together: storage, secret store, rate
// limiter, delivery engine, API and metrics servers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Raywonder/flexpbx-mailer/internal/api"
	"github.com/Raywonder/flexpbx-mailer/internal/config"
	"github.com/Raywonder/flexpbx-mailer/internal/engine"
	"github.com/Raywonder/flexpbx-mailer/internal/metrics"
	"github.com/Raywonder/flexpbx-mailer/internal/ratelimit"
	"github.com/Raywonder/flexpbx-mailer/internal/render"
	"github.com/Raywonder/flexpbx-mailer/internal/secret"
	"github.com/Raywonder/flexpbx-mailer/internal/store"
	"github.com/Raywonder/flexpbx-mailer/internal/transport"
)

// App is the main application
type App struct {
	config        *config.Config
	db            *store.DB
	rateDB        *bolt.DB
	limiter       *ratelimit.Limiter
	engine        *engine.Engine
	scheduler     *engine.Scheduler
	cleaner       *engine.Cleaner
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	secrets, err := secret.Open(cfg.Storage.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open secret store: %w", err)
	}

	rateDB, err := bolt.Open(cfg.Storage.RateDBPath, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open rate database: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(rateDB, cfg.Worker.RateFlushInterval)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	m := metrics.New()
	metrics.SetGlobal(m)

	templates := store.NewTemplateRepository(db.DB)
	eng := engine.New(engine.Deps{
		Configs:   store.NewConfigRepository(db.DB),
		Templates: templates,
		Queue:     store.NewQueueRepository(db.DB),
		Logs:      store.NewLogRepository(db.DB),
		Renderer:  render.New(templates),
		Limiter:   limiter,
		Sender:    transport.NewSender(secrets, logger.With("component", "transport")),
		Metrics:   m,
		Logger:    logger,
	}, engine.Options{
		RetryBase:         cfg.Worker.RetryBase,
		RetryCap:          cfg.Worker.RetryCap,
		FailFastPermanent: cfg.FailFast(),
	})

	a := &App{
		config:    cfg,
		db:        db,
		rateDB:    rateDB,
		limiter:   limiter,
		engine:    eng,
		scheduler: engine.NewScheduler(eng, cfg.Worker.CycleInterval, logger),
		cleaner:   engine.NewCleaner(eng, cfg.Worker.LogRetentionDays, cfg.Worker.CleanupInterval, logger),
		apiServer: api.NewServer(eng, &cfg.API, logger.With("component", "api")),
		logger:    logger,
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	return a, nil
}

// Engine exposes the delivery engine, used by CLI commands that run
// one-off operations against the same stack.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting flexmaild",
		"api_addr", a.config.API.ListenAddr,
		"database", a.config.Storage.DatabasePath,
		"cycle_interval", a.config.Worker.CycleInterval,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.scheduler.Start(ctx)
	a.cleaner.Start(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

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

	// Stop background work first so no cycle is mid-flight when the
	// stores close.
	a.scheduler.Stop()
	a.cleaner.Stop()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	// Persists the in-memory rate windows.
	if err := a.limiter.Stop(); err != nil {
		a.logger.Error("rate limiter stop error", "error", err)
	}

	if err := a.rateDB.Close(); err != nil {
		a.logger.Error("rate database close error", "error", err)
	}

	if err := a.db.Close(); err != nil {
		a.logger.Error("database close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.Logging) *slog.Logger {
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
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
