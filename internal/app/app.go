// Package app wires configuration, infrastructure, stores, services, and the
// HTTP transport into a runnable server.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"kuropanel/internal/config"
	"kuropanel/internal/infrastructure"
	"kuropanel/internal/keys"
	"kuropanel/internal/ledger"
	customMiddleware "kuropanel/internal/middleware"
	"kuropanel/internal/referral"
	"kuropanel/internal/services"
	"kuropanel/internal/store"
	handlers "kuropanel/internal/transport/http"
)

const (
	Version = "1.0.0"
	AppName = "Kuro Panel Key Server"
)

// Application is the dependency container for a running server.
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	Metrics       *infrastructure.Metrics
	OTelProviders *infrastructure.OTelProviders
	Store         store.Store
	Services      *ServiceContainer

	storeCloser func() error
}

// ServiceContainer holds the domain services.
type ServiceContainer struct {
	Ledger     *ledger.Ledger
	Keys       *keys.Manager
	Referral   *referral.Service
	Settings   *services.SettingsService
	Validation *services.ValidationService
	Issuance   *services.IssuanceService
}

// NewApplication builds the full application from configuration.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.String("store_backend", cfg.Store.Backend))

	otelCfg := infrastructure.DefaultOTelConfig(Version)
	otelCfg.Enabled = cfg.Tracing.Enabled
	otelCfg.SampleRate = cfg.Tracing.SampleRate
	otelProviders, err := infrastructure.InitializeOTel(otelCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Metrics:       infrastructure.NewMetrics(),
		OTelProviders: otelProviders,
	}

	if err := app.initializeStore(ctx); err != nil {
		return nil, err
	}
	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeStore selects the persistence backend from configuration.
func (a *Application) initializeStore(ctx context.Context) error {
	switch a.Config.Store.Backend {
	case "redis":
		rs, err := store.OpenRedis(ctx, a.Config.Store.RedisURL, a.Config.Store.RedisPrefix)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Store = rs
		a.storeCloser = rs.Close
	default:
		a.Store = store.NewMemory()
	}
	return nil
}

// initializeServices constructs the domain services in dependency order.
func (a *Application) initializeServices() {
	led := ledger.New(a.Store, a.Logger)
	keyManager := keys.NewManager(a.Store, a.Logger)
	settings := services.NewSettingsService(a.Store)

	a.Services = &ServiceContainer{
		Ledger:     led,
		Keys:       keyManager,
		Referral:   referral.New(a.Store, led, a.Logger),
		Settings:   settings,
		Validation: services.NewValidationService(keyManager, settings, a.Metrics, a.Logger),
		Issuance:   services.NewIssuanceService(keyManager, led, settings, a.Metrics, a.Logger),
	}
}

// setupRouter configures the HTTP router and middleware chain.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Compress(5))
	r.Use(customMiddleware.MetricsCollector(a.Metrics))
	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	if a.Config.Security.RateLimit.Enabled {
		r.Use(customMiddleware.NewRateLimiter(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		).Handler)
	}

	validateHandler := handlers.NewValidateHandler(a.Services.Validation, a.Services.Settings, a.Logger)
	adminHandler := handlers.NewAdminHandler(
		a.Services.Issuance,
		a.Services.Keys,
		a.Services.Ledger,
		a.Services.Referral,
		a.Services.Settings,
		a.Logger,
	)
	healthHandler := handlers.NewHealthHandler(a.Store, Version)

	r.Mount("/api/admin", adminHandler.Routes())
	r.Mount("/api/health", healthHandler.Routes())
	r.Handle("/metrics", a.Metrics.Handler())
	r.Mount("/", validateHandler.Routes())

	a.Router = r
}

// createServer builds the HTTP server from configuration.
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start begins serving. It returns once the listener goroutine is running;
// listener failures cancel the supplied context through cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "server listening",
		slog.Int("port", a.Config.Server.Port),
		slog.String("version", Version))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	return nil
}

// Stop gracefully shuts the application down.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "error shutting down tracing", slog.String("error", err.Error()))
		}
	}

	if a.storeCloser != nil {
		if err := a.storeCloser(); err != nil {
			a.Logger.ErrorContext(ctx, "error closing store", slog.String("error", err.Error()))
		}
	}

	infrastructure.CloseLogFile()
	a.Logger.InfoContext(ctx, "shutdown complete")
	return nil
}

// Run serves until an interrupt or termination signal arrives.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
