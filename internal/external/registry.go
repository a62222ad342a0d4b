package external

import (
	"log/slog"
	"net/http"
	"time"

	"paygate/internal/config"
	"paygate/internal/types"
)

// ClientRegistry holds the payment provider clients and webhook verifiers.
// It is built once in main and injected; nothing in this package keeps
// global client state.
type ClientRegistry struct {
	Payments  map[types.Provider]PaymentProviderClient
	Verifiers Verifiers
}

// Client returns the order client for p.
func (r *ClientRegistry) Client(p types.Provider) (PaymentProviderClient, bool) {
	c, ok := r.Payments[p]
	return c, ok
}

type RegistryOption func(*registryConfig)

type registryConfig struct {
	httpClient *http.Client
	baseOpts   []BaseClientOption
}

// WithHTTPClient overrides the HTTP client used by the real provider clients.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(rc *registryConfig) { rc.httpClient = c }
}

// WithBaseClientOptions forwards options to every provider BaseClient.
func WithBaseClientOptions(opts ...BaseClientOption) RegistryOption {
	return func(rc *registryConfig) { rc.baseOpts = append(rc.baseOpts, opts...) }
}

// NewClientRegistry builds the provider clients. With APP_ENV=local, order
// creation is stubbed so the service boots without provider credentials.
// Verifiers are always real: a stubbed verifier would accept forged webhooks.
func NewClientRegistry(cfg *config.Config, logger *slog.Logger, opts ...RegistryOption) *ClientRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	rc := &registryConfig{httpClient: &http.Client{Timeout: 20 * time.Second}}
	for _, opt := range opts {
		opt(rc)
	}

	reg := &ClientRegistry{
		Payments: make(map[types.Provider]PaymentProviderClient, 2),
		Verifiers: NewVerifiers(
			NewStripeVerifier(cfg.Stripe.WebhookSecret.Unmask(), cfg.Stripe.ToleranceLimit),
			NewRazorpayVerifier(cfg.Razorpay.WebhookSecret.Unmask()),
		),
	}

	if cfg.Environment == "local" {
		logger.Info("initializing payment clients in STUB mode", "environment", cfg.Environment)
		stubLogger := logger.With("mode", "stub")
		reg.Payments[types.ProviderStripe] = NewStubPaymentClient(types.ProviderStripe, stubLogger)
		reg.Payments[types.ProviderRazorpay] = NewStubPaymentClient(types.ProviderRazorpay, stubLogger)
		return reg
	}

	logger.Info("initializing payment clients", "environment", cfg.Environment)
	reg.Payments[types.ProviderRazorpay] = NewRazorpayClient(rc.httpClient, RazorpayClientConfig{
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret.Unmask(),
		BaseURL:   cfg.Razorpay.BaseURL,
		Logger:    logger.With("client", "razorpay"),
	}, rc.baseOpts...)

	if !cfg.Stripe.SecretKey.IsZero() {
		reg.Payments[types.ProviderStripe] = NewStripeClient(rc.httpClient, StripeClientConfig{
			SecretKey: cfg.Stripe.SecretKey.Unmask(),
			BaseURL:   cfg.Stripe.BaseURL,
			Logger:    logger.With("client", "stripe"),
		}, rc.baseOpts...)
	} else {
		logger.Warn("STRIPE_SECRET_KEY not set; Stripe order creation disabled")
	}
	return reg
}
