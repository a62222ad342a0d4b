// Package main is the entry point for the event worker Lambda.
//
// In async dispatch mode the API publishes verified PaymentEvents to SQS. This
// function is the queue's trigger: it decodes each record and runs it through
// the same dispatcher the API uses in sync mode. Records that fail
// transiently are returned as batch item failures and redelivered; the
// processed-event ledger makes redelivery safe.
//
// Cold start:
//  1. Resolve *_SSM_PARAM secrets and read the worker configuration.
//  2. Open the database pool.
//  3. Build the CloudWatch metrics sink when ENABLE_METRICS is set.
//  4. Register the consumer with lambda.Start.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"paygate/internal/config"
	"paygate/internal/db"
	"paygate/internal/dispatch"
	"paygate/internal/events"
	"paygate/internal/types"
)

// workerConfig is the subset of the service configuration the worker needs.
// Provider and identity credentials are not required here.
type workerConfig struct {
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	Concurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5" validate:"min=1,max=50"`

	Database      config.DatabaseConfig
	AWS           config.AWSConfig
	Observability config.ObservabilityConfig
}

func loadWorkerConfig() (*workerConfig, error) {
	provider := config.NewSecretProvider(os.Getenv("APP_ENV"), os.Getenv("AWS_REGION"))
	if err := config.ResolveSecrets(provider); err != nil {
		return nil, err
	}

	var wc workerConfig
	if err := envconfig.Process("", &wc); err != nil {
		return nil, fmt.Errorf("processing worker configuration: %w", err)
	}
	if err := validator.New().Struct(wc); err != nil {
		return nil, fmt.Errorf("worker configuration validation failed: %w", err)
	}
	return &wc, nil
}

func newConsumer(ctx context.Context, wc *workerConfig, logger *slog.Logger) (*dispatch.Consumer, error) {
	codec := events.NewCodec()

	pool, err := db.NewPool(ctx, wc.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	store := db.NewPostgresStore(pool, codec, logger)

	var metrics dispatch.Metrics = dispatch.NoopMetrics{}
	if wc.Observability.EnableMetrics {
		opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(wc.AWS.Region)}
		if wc.AWS.EndpointURL != "" {
			opts = append(opts, awsconfig.WithBaseEndpoint(wc.AWS.EndpointURL))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		metrics = dispatch.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), wc.Observability.MetricNamespace, logger)
	}

	dispatcher := dispatch.NewDispatcher(store, types.RealClock{}, metrics, logger)
	return dispatch.NewConsumer(dispatcher, codec, wc.Concurrency, logger), nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("event worker initializing (cold start)")

	wc, err := loadWorkerConfig()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if wc.LogLevel == "debug" {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	consumer, err := newConsumer(ctx, wc, logger)
	cancel()
	if err != nil {
		logger.Error("failed to initialize event worker", "error", err)
		os.Exit(1)
	}

	logger.Info("event worker initialized",
		"concurrency", wc.Concurrency,
		"metrics_enabled", wc.Observability.EnableMetrics,
		"metric_namespace", wc.Observability.MetricNamespace,
	)
	lambda.Start(consumer.Handle)
}
