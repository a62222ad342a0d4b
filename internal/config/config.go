// Package config defines the process configuration for PayGate.
//
// Values are resolved once at startup via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"paygate/internal/types"
)

// SecretString is an alias for types.SecretString so config consumers do not
// need to import types for secret fields.
type SecretString = types.SecretString

// Dispatch modes.
const (
	DispatchSync  = "sync"
	DispatchAsync = "async"
)

// Config is the top-level configuration. Sub-components receive only the
// section they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"paygate"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	AWS           AWSConfig
	Identity      IdentityConfig
	Stripe        StripeConfig
	Razorpay      RazorpayConfig
	Dispatch      DispatchConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build is injected via ldflags, not env.
	Build BuildInfo
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"1"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// RedisConfig configures the rate limiter backend. An empty URL disables
// rate limiting.
type RedisConfig struct {
	URL SecretString `envconfig:"REDIS_URL"`

	// OrderLimit is the number of order creations allowed per subject per window.
	OrderLimit  int           `envconfig:"ORDER_RATE_LIMIT" default:"20" validate:"min=1"`
	OrderWindow time.Duration `envconfig:"ORDER_RATE_WINDOW" default:"1m"`
}

// AWSConfig holds regional settings shared by SQS, CloudWatch and SSM.
type AWSConfig struct {
	Region      string `envconfig:"AWS_REGION" default:"ap-south-1"`
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"` // LocalStack
}

// IdentityConfig configures ID token verification.
type IdentityConfig struct {
	ProjectID string `envconfig:"IDENTITY_PROJECT_ID" validate:"required"`
	// CertsURL serves the PEM certificates keyed by key id.
	CertsURL   string        `envconfig:"IDENTITY_CERTS_URL" default:"https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com" validate:"url"`
	KeyTimeout time.Duration `envconfig:"IDENTITY_KEY_TIMEOUT" default:"3s"`
	// RoleClaim is the custom claim carrying the caller's role.
	RoleClaim   string `envconfig:"IDENTITY_ROLE_CLAIM" default:"role"`
	TenantClaim string `envconfig:"IDENTITY_TENANT_CLAIM" default:"tenant_id"`
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	SecretKey      SecretString  `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret  SecretString  `envconfig:"STRIPE_WEBHOOK_SECRET" validate:"required"`
	BaseURL        string        `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com" validate:"url"`
	ToleranceLimit time.Duration `envconfig:"STRIPE_SIGNATURE_TOLERANCE" default:"300s"`
}

// RazorpayConfig holds Razorpay credentials.
type RazorpayConfig struct {
	KeyID         string       `envconfig:"RAZORPAY_KEY_ID" validate:"required"`
	KeySecret     SecretString `envconfig:"RAZORPAY_KEY_SECRET" validate:"required"`
	WebhookSecret SecretString `envconfig:"RAZORPAY_WEBHOOK_SECRET" validate:"required"`
	BaseURL       string       `envconfig:"RAZORPAY_BASE_URL" default:"https://api.razorpay.com" validate:"url"`
}

// DispatchConfig selects between in-request dispatch and the SQS-backed
// event worker.
type DispatchConfig struct {
	Mode     string `envconfig:"DISPATCH_MODE" default:"sync" validate:"oneof=sync async"`
	QueueURL string `envconfig:"EVENT_QUEUE_URL" validate:"required_if=Mode async"`
	// DefaultProvider is used for order creation when the request names none.
	DefaultProvider string `envconfig:"DEFAULT_PAYMENT_PROVIDER" default:"razorpay" validate:"oneof=stripe razorpay"`
	// Plans maps plan ids to amounts in minor units, e.g. "basic:49900,pro:99900".
	Plans map[string]int64 `envconfig:"PAYMENT_PLANS"`
	// WorkerConcurrency bounds per-batch fan-out in the event worker.
	WorkerConcurrency int `envconfig:"WORKER_CONCURRENCY" default:"5" validate:"min=1"`
}

// SecurityConfig holds admin access and CORS settings.
type SecurityConfig struct {
	// AdminKeyHash is a bcrypt hash of the operator key accepted in X-Admin-Key.
	AdminKeyHash       SecretString `envconfig:"ADMIN_KEY_HASH"`
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// ObservabilityConfig holds metrics settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PayGate"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"false"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// IsAsync reports whether webhooks are queued instead of dispatched inline.
func (c DispatchConfig) IsAsync() bool {
	return c.Mode == DispatchAsync
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
