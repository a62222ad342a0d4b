// Package main is the entry point for the PayGate API server.
//
// It loads configuration, builds the store, provider clients, identity
// verifier and rate limiter, mounts the webhook, order and admin routes on the
// core chassis, and serves HTTP until SIGINT or SIGTERM.
//
// With DISPATCH_MODE=async, verified webhooks are published to SQS and
// applied by cmd/event-worker instead of inside the request.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"paygate/internal/api/handlers"
	"paygate/internal/auth"
	"paygate/internal/config"
	"paygate/internal/core"
	"paygate/internal/db"
	"paygate/internal/dispatch"
	"paygate/internal/events"
	"paygate/internal/external"
	"paygate/internal/ratelimit"
	"paygate/internal/types"
)

// memoryDatabaseURL selects the in-process store. Only honoured with
// APP_ENV=local.
const memoryDatabaseURL = "memory"

// telemetry is the union of the metric sinks the server wires.
// dispatch.CloudWatchMetrics and dispatch.NoopMetrics both satisfy it.
type telemetry interface {
	dispatch.Metrics
	handlers.WebhookMetrics
	handlers.OrderMetrics
	core.MetricsCollector
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	appEnv := os.Getenv("APP_ENV")
	cfg, err := config.LoadConfig(config.NewSecretProvider(appEnv, os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("paygate API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
		"dispatch_mode", cfg.Dispatch.Mode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	srv, err := buildServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return runHTTPServer(srv, cfg, logger)
}

// buildServer wires every dependency into a mounted core.Server. Resources
// it opens are released by srv.Shutdown.
func buildServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	codec := events.NewCodec()

	store, err := openStore(ctx, srv, cfg, codec, logger)
	if err != nil {
		return nil, err
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	awsOpts = append(awsOpts, awsconfig.WithRegion(cfg.AWS.Region))
	if cfg.AWS.EndpointURL != "" {
		awsOpts = append(awsOpts, awsconfig.WithBaseEndpoint(cfg.AWS.EndpointURL))
	}
	needAWS := cfg.Dispatch.IsAsync() || cfg.Observability.EnableMetrics

	var metrics telemetry = dispatch.NoopMetrics{}
	var sqsClient *sqs.Client
	if needAWS {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		if cfg.Observability.EnableMetrics {
			metrics = dispatch.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
		}
		if cfg.Dispatch.IsAsync() {
			sqsClient = sqs.NewFromConfig(awsCfg)
		}
	}
	srv.Metrics = metrics

	if !cfg.Redis.URL.IsZero() {
		rdb, err := ratelimit.Open(ctx, cfg.Redis.URL.Unmask())
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		srv.RateLimitStore = ratelimit.NewStore(rdb, types.RealClock{}, logger)
		srv.HealthProbes = append(srv.HealthProbes, ratelimit.Probe(rdb))
		srv.OnShutdown(func(context.Context) error { return rdb.Close() })
	} else {
		logger.Warn("REDIS_URL not set; order rate limiting disabled")
	}

	keys := auth.NewCertKeySource(auth.NewCertClient(cfg.Identity.KeyTimeout), cfg.Identity.CertsURL, types.RealClock{}, logger)
	srv.Verifier = auth.NewTokenVerifier(keys, auth.VerifierConfig{
		ProjectID:   cfg.Identity.ProjectID,
		RoleClaim:   cfg.Identity.RoleClaim,
		TenantClaim: cfg.Identity.TenantClaim,
		KeyTimeout:  cfg.Identity.KeyTimeout,
		Logger:      logger,
	})
	srv.AdminKeys = auth.NewAdminKeyChecker(cfg.Security.AdminKeyHash.Unmask())

	registry := external.NewClientRegistry(cfg, logger)
	dispatcher := dispatch.NewDispatcher(store, types.RealClock{}, metrics, logger)

	webhook := handlers.NewWebhookHandler(registry.Verifiers, events.NewNormalizers(logger), dispatcher, metrics, logger)
	if sqsClient != nil {
		webhook.WithPublisher(dispatch.NewPublisher(sqsClient, cfg.Dispatch.QueueURL, codec, logger))
	}
	orders := handlers.NewOrderHandler(registry, store, metrics, cfg, srv.Validator, logger)
	admin := handlers.NewAdminHandler(store, srv.RequireRole(types.RoleAdmin), logger)

	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, webhook.RegisterRoutes)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, orders.RegisterRoutes, admin.RegisterRoutes)
	srv.MountRoutes()
	return srv, nil
}

// openStore returns the Postgres store, applying pending migrations first, or
// the in-memory store when DATABASE_URL=memory in local mode.
func openStore(ctx context.Context, srv *core.Server, cfg *config.Config, codec *events.Codec, logger *slog.Logger) (db.Store, error) {
	url := cfg.Database.URL.Unmask()
	if url == memoryDatabaseURL {
		if cfg.Environment != "local" {
			return nil, errors.New("the in-memory store is only available with APP_ENV=local")
		}
		logger.Warn("using in-memory store; data is lost on exit")
		return db.NewMemoryStore(), nil
	}

	mg, err := db.NewMigrator(url, logger)
	if err != nil {
		return nil, fmt.Errorf("opening migrator: %w", err)
	}
	upErr := mg.Up()
	if err := mg.Close(); err != nil {
		logger.Warn("closing migrator", "error", err)
	}
	if upErr != nil {
		return nil, fmt.Errorf("applying migrations: %w", upErr)
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	srv.HealthProbes = append(srv.HealthProbes, core.NewProbe("database", pool.Ping))
	srv.OnShutdown(func(context.Context) error {
		pool.Close()
		return nil
	})
	return db.NewPostgresStore(pool, codec, logger), nil
}

// runHTTPServer serves until a shutdown signal or listener error, then drains
// in-flight requests within cfg.Server.ShutdownTimeout.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
