// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the agrodata server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agrodata/config"
	"agrodata/internal/cache"
	"agrodata/internal/dataaccess"
	"agrodata/internal/errhandler"
	"agrodata/internal/httpclient"
	"agrodata/internal/lookups"
	"agrodata/internal/retry"
	"agrodata/internal/server"
	"agrodata/internal/session"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config     *config.Config
	logger     *slog.Logger
	store      cache.Store
	stopSweep  func()
	vault      session.Vault
	feed       *errhandler.Feed
	redirector *session.Redirector
	fetcher    *dataaccess.Fetcher
	lookups    *lookups.Service
	server     *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig holds the loaded application configuration produced by config.Load.
	AppConfig *config.LoadResult

	Logger *slog.Logger
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}

	if cfg.AppConfig.Config == nil {
		return nil, fmt.Errorf("app config contains nil Config")
	}

	appCfg := cfg.AppConfig.Config
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		config: appCfg,
		logger: logger,
	}

	store, stopSweep, err := initCache(appCfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	app.store = store
	app.stopSweep = stopSweep

	vault, err := initVault(ctx, appCfg, logger)
	if err != nil {
		closeErr := app.closeCache()
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize session vault: %w (also: cache close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize session vault: %w", err)
	}
	app.vault = vault

	// Log configuration status
	app.logStartupInfo(cfg.AppConfig.File)

	app.feed = errhandler.NewFeed(0)
	app.redirector = session.NewRedirector()
	handler := errhandler.New(errhandler.Config{
		Notifier:      app.feed,
		Credentials:   vault,
		Navigator:     app.redirector,
		Logger:        logger,
		Production:    appCfg.Server.Production(),
		RedirectDelay: appCfg.Session.RedirectDelay,
		SignInPath:    appCfg.Session.SignInPath,
	})

	app.fetcher = dataaccess.New(dataaccess.Config{
		Store:                 store,
		Policy:                retryPolicy(appCfg.Retry),
		AllowDuplicateFetches: appCfg.Retry.AllowDuplicateFetches,
		ErrorHandler:          handler,
		Logger:                logger,
	})

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = time.Duration(appCfg.HTTP.Timeout) * time.Second
	httpCfg.ResponseHeaderTimeout = time.Duration(appCfg.HTTP.ResponseHeaderTimeout) * time.Second

	app.lookups = lookups.New(lookups.Config{
		Fetcher:    app.fetcher,
		Vault:      vault,
		Operations: appCfg.Operations,
		Retry:      appCfg.Retry,
		HTTPClient: httpclient.NewHTTPClient(&httpCfg),
		Logger:     logger,
	})

	app.server = server.New(server.Deps{
		Lookups:       app.lookups,
		Cache:         app.fetcher,
		Notifications: app.feed,
		Redirects:     app.redirector,
		Logger:        logger,
	}, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
	})

	return app, nil
}

// initCache builds the configured store. A tiered store keeps a local
// memory copy in front of the shared backend.
func initCache(cfg config.CacheConfig, logger *slog.Logger) (cache.Store, func(), error) {
	var shared cache.Store
	switch cfg.Type {
	case "redis":
		s, err := cache.NewRedisStore(cache.RedisConfig{URL: cfg.Redis.URL, Prefix: cfg.Redis.Prefix}, logger)
		if err != nil {
			return nil, nil, err
		}
		shared = s
	case "olric":
		s, err := cache.NewOlricStore(cache.OlricConfig{Servers: cfg.Olric.Servers, DMap: cfg.Olric.DMap}, logger)
		if err != nil {
			return nil, nil, err
		}
		shared = s
	case "", "memory":
		local := cache.NewMemoryStore()
		return local, local.StartJanitor(cfg.SweepInterval), nil
	default:
		return nil, nil, fmt.Errorf("unknown cache type: %q", cfg.Type)
	}

	if !cfg.Tiered {
		return shared, func() {}, nil
	}
	local := cache.NewMemoryStore()
	return cache.NewTieredStore(local, shared, cfg.LocalTTL), local.StartJanitor(cfg.SweepInterval), nil
}

// initVault builds the credential vault and seeds it with the configured
// upstream API keys.
func initVault(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Vault, error) {
	var vault session.Vault
	switch cfg.Session.Type {
	case "redis":
		v, err := session.NewRedisVault(cfg.Session.RedisURL, cfg.Session.RedisKey, logger)
		if err != nil {
			return nil, err
		}
		vault = v
	case "", "memory":
		vault = session.NewMemoryVault()
	default:
		return nil, fmt.Errorf("unknown session type: %q", cfg.Session.Type)
	}

	creds := make(map[string]string, len(cfg.Operations))
	for name, op := range cfg.Operations {
		creds[name] = op.APIKey
	}
	if err := session.Seed(ctx, vault, creds); err != nil {
		return nil, errors.Join(fmt.Errorf("seed credentials: %w", err), vault.Close())
	}
	return vault, nil
}

func retryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:       cfg.MaxAttempts,
		Delay:             cfg.Delay,
		Backoff:           retry.Backoff(cfg.Backoff),
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxDelay:          cfg.MaxDelay,
	}
}

// Lookups returns the data operations service.
func (a *App) Lookups() *lookups.Service {
	return a.lookups
}

// Handler returns the HTTP handler of the application.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown via server.Shutdown(ctx), honoring the passed context timeout/cancellation.
// 2. Session vault close.
// 3. Cache sweep stop and store close.
//
// Shutdown is idempotent and safe for repeated calls; after the first call, subsequent calls are no-ops.
// It attempts every close step, aggregates failures, and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Close the vault
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			a.logger.Error("vault close error", "error", err)
			errs = append(errs, fmt.Errorf("vault close: %w", err))
		}
	}

	// 3. Close the cache
	if err := a.closeCache(); err != nil {
		a.logger.Error("cache close error", "error", err)
		errs = append(errs, fmt.Errorf("cache close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeCache() error {
	if a.stopSweep != nil {
		a.stopSweep()
	}
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(file string) {
	cfg := a.config

	if file != "" {
		a.logger.Info("configuration file loaded", "path", file)
	}

	// Security warnings
	if cfg.Server.MasterKey == "" {
		a.logger.Warn("SECURITY WARNING: AGRODATA_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set AGRODATA_MASTER_KEY environment variable to secure this server")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	// Metrics configuration
	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	a.logger.Info("cache configured", "type", cfg.Cache.Type, "tiered", cfg.Cache.Tiered)
	a.logger.Info("session vault configured", "type", cfg.Session.Type)
	a.logger.Info("retry policy",
		"max_attempts", cfg.Retry.MaxAttempts,
		"delay", cfg.Retry.Delay,
		"backoff", cfg.Retry.Backoff,
		"allow_duplicate_fetches", cfg.Retry.AllowDuplicateFetches,
	)

	for name, op := range cfg.Operations {
		a.logger.Info("operation configured",
			"operation", name,
			"base_url", op.BaseURL,
			"cache_ttl", op.CacheTTL,
			"credential", op.APIKey != "",
		)
	}
}
