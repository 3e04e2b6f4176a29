// Command bazaar runs the marketplace gateway: the public API plus the
// token authentication and entitlement pipeline in front of it.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/plugbazaar/bazaar/pkg/api"
	"github.com/plugbazaar/bazaar/pkg/artifacts"
	"github.com/plugbazaar/bazaar/pkg/authority"
	"github.com/plugbazaar/bazaar/pkg/authz"
	"github.com/plugbazaar/bazaar/pkg/config"
	"github.com/plugbazaar/bazaar/pkg/marketplace"
	"github.com/plugbazaar/bazaar/pkg/middleware"
	"github.com/plugbazaar/bazaar/pkg/observability"
	"github.com/plugbazaar/bazaar/pkg/revocation"
	"github.com/plugbazaar/bazaar/pkg/stats"
	"github.com/plugbazaar/bazaar/pkg/token"
	"github.com/plugbazaar/bazaar/pkg/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bazaar: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithFields(map[string]interface{}{
		"db_driver": cfg.Database.Driver,
		"authority": cfg.Authority.BaseURL,
		"artifacts": cfg.Artifacts.Backend,
	}).Info("starting bazaar gateway")

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := revocation.NewClient(
		cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB,
		cfg.Redis.PoolSize, cfg.Redis.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	authorityClient, err := authority.NewClient(authority.Options{
		BaseURL:     cfg.Authority.BaseURL,
		Timeout:     cfg.Authority.Timeout,
		MaxInFlight: cfg.Authority.MaxInFlight,
		MaxRetries:  cfg.Authority.MaxRetries,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create authority client: %w", err)
	}

	codec, err := token.NewCodec(
		cfg.Auth.AccountSecret, cfg.Auth.APISecret, cfg.Auth.PluginSecret)
	if err != nil {
		return fmt.Errorf("failed to create token codec: %w", err)
	}

	registry := revocation.NewRegistry(redisClient)
	pipeline := authz.NewPipeline(codec, registry, authorityClient, logger, metrics)

	archives, err := openArchiveStore(ctx, cfg.Artifacts)
	if err != nil {
		return err
	}

	server := api.NewServer(api.Deps{
		Security:    middleware.NewSecurityContext(pipeline, logger),
		RateLimit:   middleware.NewRateLimitMiddleware(redisClient, logger),
		Marketplace: marketplace.NewHandlers(marketplace.NewService(db, archives), metrics),
		Users:       users.NewHandlers(users.NewService(db)),
		Logger:      logger,
		Metrics:     metrics,
	})

	rollup := stats.NewRollup(db, logger)
	if err := rollup.Start(); err != nil {
		return fmt.Errorf("failed to start stats rollup: %w", err)
	}
	defer rollup.Stop()

	httpServer := server.NewHTTPServer(cfg.Server)
	healthServer := newHealthServer(cfg.Server, db, redisClient, authorityClient, metrics)

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("api server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("api server failed")
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	shutdown := observability.NewShutdownManager(
		logger, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}
	return shutdown.WaitForShutdown()
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openArchiveStore(ctx context.Context, cfg config.ArtifactsConfig) (artifacts.Storage, error) {
	switch cfg.Backend {
	case "s3":
		return artifacts.NewS3Storage(ctx, artifacts.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			BaseURL:      cfg.BaseURL,
		}, nil)
	case "filesystem":
		return artifacts.NewFilesystemStorage(cfg.Root, cfg.BaseURL, nil)
	default:
		return nil, fmt.Errorf("unknown artifacts backend %q", cfg.Backend)
	}
}

func newHealthServer(cfg config.ServerConfig, db *sql.DB, redisClient *redis.Client, authorityClient *authority.Client, metrics *observability.Metrics) *http.Server {
	mux := http.NewServeMux()
	checker := observability.NewHealthChecker(db, redisClient, authorityClient)
	observability.RegisterHealthRoutes(mux, checker)
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%s", cfg.Host, cfg.HealthPort),
		Handler: mux,
	}
}
