package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/target/smart-resizer/config"
	httpx "github.com/target/smart-resizer/internal/http"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// NewHTTPServer builds the API server without starting it.
func NewHTTPServer(cfg *HTTPServerConfig) *http.Server {
	if cfg == nil {
		return nil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	appCfg := cfg.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	handler := httpx.NewRouter(routerServices(cfg, appCfg, logger))

	addr := appCfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = ":8080"
	}
	readHeader := appCfg.HTTP.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeader,
		// Uploads are bounded by MaxUploadBytes; allow slow clients enough time to send them.
		ReadTimeout:  2 * time.Minute,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

func routerServices(cfg *HTTPServerConfig, appCfg *config.AppConfig, logger *slog.Logger) httpx.RouterServices {
	services := httpx.RouterServices{
		Catalog:        cfg.Services.Catalog,
		Pricing:        cfg.Services.Pricing,
		HealthChecks:   healthChecks(cfg.DB, cfg.RedisClient),
		OwnerHeader:    appCfg.HTTP.OwnerHeader,
		MaxUploadBytes: appCfg.Admission.MaxUploadBytes,
		Logger:         logger,
	}
	// Leave the interfaces nil when a service is missing so the router skips its routes.
	if cfg.Services.Admission != nil {
		services.Admission = cfg.Services.Admission
	}
	if cfg.Services.Progress != nil {
		services.Progress = cfg.Services.Progress
	}
	if cfg.Services.Retries != nil {
		services.Retries = cfg.Services.Retries
	}
	if appCfg.Storage.ServeFiles && cfg.Services.Store != nil {
		services.Files = cfg.Services.Store.Handler()
		services.FilesPath = appCfg.Storage.PublicPath
	}
	if appCfg.HTTP.CompressionEnabled {
		logger.Info("HTTP compression enabled", "level", appCfg.HTTP.CompressionLevel)
		services.Compression = &httpx.CompressionConfig{Level: appCfg.HTTP.CompressionLevel, Logger: logger}
	}
	return services
}

func healthChecks(db *sql.DB, rdb redis.UniversalClient) []httpx.HealthCheck {
	var checks []httpx.HealthCheck
	if db != nil {
		checks = append(checks, db.PingContext)
	}
	if rdb != nil {
		checks = append(checks, func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	return checks
}

// serveHTTP blocks in ListenAndServe. A server closed by Shutdown is not an error.
func serveHTTP(server *http.Server, logger *slog.Logger) error {
	logger.Info("starting HTTP server", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ShutdownConfig contains dependencies for HTTP server shutdown.
type ShutdownConfig struct {
	Context context.Context
	Server  *http.Server
	Timeout time.Duration
	Logger  *slog.Logger
}

// ShutdownHTTPServer gracefully shuts down the HTTP server.
func ShutdownHTTPServer(cfg ShutdownConfig) error {
	if cfg.Server == nil {
		return nil
	}
	if cfg.Logger != nil {
		cfg.Logger.Info("shutting down HTTP server")
	}

	parent := cfg.Context
	if parent == nil {
		parent = context.Background()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	if err := cfg.Server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	if cfg.Logger != nil {
		cfg.Logger.Info("HTTP server stopped")
	}
	return nil
}
