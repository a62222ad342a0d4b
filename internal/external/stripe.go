package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"paygate/internal/types"
)

const stripeAPIBase = "https://api.stripe.com"

// DefaultStripeTolerance is the maximum age of a signed Stripe delivery.
const DefaultStripeTolerance = 300 * time.Second

// StripeClientConfig holds the configuration for a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string
	Logger    *slog.Logger
}

// StripeClient creates PaymentIntents through the Stripe REST API, routing
// every call through BaseClient.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig, opts ...BaseClientOption) *StripeClient {
	opts = append([]BaseClientOption{WithUpstreamCode(types.ErrCodeUpstreamStripe)}, opts...)
	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "PayGate/1.0", opts...)
	return NewStripeClientWithBase(base, cfg)
}

func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

func (s *StripeClient) Provider() types.Provider { return types.ProviderStripe }

// CreateOrder creates a PaymentIntent. The receipt doubles as the
// Idempotency-Key so a retried request never creates a second intent.
func (s *StripeClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	params := url.Values{}
	params.Set("amount", fmt.Sprintf("%d", req.Amount))
	params.Set("currency", strings.ToLower(req.Currency))
	params.Set("automatic_payment_methods[enabled]", "true")
	if req.Receipt != "" {
		params.Set("description", req.Receipt)
	}
	for _, k := range sortedKeys(req.Metadata) {
		params.Set("metadata["+k+"]", req.Metadata[k])
	}

	resp, err := s.doPost(ctx, "/v1/payment_intents", params, req.Receipt)
	if err != nil {
		return OrderResult{}, s.wrapStripeError("CreateOrder", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return OrderResult{}, s.handleErrorResponse(resp, "CreateOrder")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return OrderResult{}, types.NewAppError(types.ErrCodeUpstreamStripe, "failed to decode Stripe PaymentIntent", err)
	}

	s.logger.InfoContext(ctx, "stripe payment intent created", "intent_id", intent.ID, "amount", intent.Amount)
	return OrderResult{
		ProviderOrderID: intent.ID,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(intent.Currency),
		ClientSecret:    intent.ClientSecret,
	}, nil
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return s.base.Do(req)
}

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with unreadable body", operation, resp.StatusCode), readErr)
	}
	var stripeErr stripeErrorResponse
	if err := json.Unmarshal(body, &stripeErr); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with non-JSON body", operation, resp.StatusCode), err)
	}
	return mapStripeError(operation, resp.StatusCode, stripeErr.Error)
}

// mapStripeError maps a Stripe API error. Request errors the caller caused
// (bad amount, bad currency) surface as upstream_payment_rejected; auth and
// everything else as Stripe unavailable.
func mapStripeError(operation string, statusCode int, e stripeErrorBody) error {
	switch {
	case statusCode == http.StatusBadRequest && e.Type == "invalid_request_error":
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamPaymentError,
			fmt.Sprintf("%s: Stripe rejected the request: %s", operation, e.Message), nil,
			map[string]any{"stripe_code": e.Code, "param": e.Param})
	case statusCode == http.StatusPaymentRequired || e.DeclineCode != "":
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamPaymentError,
			fmt.Sprintf("%s: payment declined: %s", operation, e.Message), nil,
			map[string]any{"decline_code": e.DeclineCode})
	default:
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", operation, statusCode, e.Message), nil)
	}
}

func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, operation+": Stripe request failed", err)
}

type stripePaymentIntent struct {
	ID           string `json:"id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret"`
}

// StripeVerifier checks Stripe-Signature with stripe-go, which validates the
// v1 HMAC-SHA256 over "timestamp.payload" and rejects stale timestamps.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewStripeVerifier(secret string, tolerance time.Duration) *StripeVerifier {
	if tolerance <= 0 {
		tolerance = DefaultStripeTolerance
	}
	return &StripeVerifier{secret: secret, tolerance: tolerance}
}

func (v *StripeVerifier) Provider() types.Provider { return types.ProviderStripe }

func (v *StripeVerifier) Verify(payload []byte, headers http.Header) error {
	sig := headers.Get(HeaderStripeSignature)
	if sig == "" {
		return types.NewAppError(types.ErrCodeWebhookSignatureMalformed, "missing Stripe-Signature header", nil)
	}

	err := webhook.ValidatePayloadWithTolerance(payload, sig, v.secret, v.tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned), errors.Is(err, webhook.ErrInvalidHeader):
		return types.NewAppError(types.ErrCodeWebhookSignatureMalformed, "malformed Stripe-Signature header", err)
	case errors.Is(err, webhook.ErrTooOld):
		return types.NewAppError(types.ErrCodeWebhookSignatureMismatch, "Stripe signature timestamp outside tolerance", err)
	default:
		return types.NewAppError(types.ErrCodeWebhookSignatureMismatch, "Stripe signature does not match payload", err)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var (
	_ PaymentProviderClient = (*StripeClient)(nil)
	_ SignatureVerifier     = (*StripeVerifier)(nil)
)
