package external

import (
	"context"
	"net/http"

	"paygate/internal/types"
)

// OrderRequest is a provider-neutral order to create. Amount is in minor
// units. Metadata is written to Razorpay notes or Stripe metadata and must
// carry the subject linkage keys.
type OrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Metadata map[string]string
}

// OrderResult identifies the order on the provider side.
type OrderResult struct {
	ProviderOrderID string
	Amount          int64
	Currency        string
	// ClientSecret is set for Stripe PaymentIntents and handed to the browser.
	ClientSecret string
}

// PaymentProviderClient creates orders at a payment provider.
type PaymentProviderClient interface {
	Provider() types.Provider
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// SignatureVerifier authenticates a webhook delivery from its exact raw body
// and headers. It runs before any JSON parsing. Failures are AppErrors with
// ErrCodeWebhookSignatureMismatch or ErrCodeWebhookSignatureMalformed.
type SignatureVerifier interface {
	Provider() types.Provider
	Verify(payload []byte, headers http.Header) error
}

// Header names carrying provider signatures.
const (
	HeaderStripeSignature   = "Stripe-Signature"
	HeaderRazorpaySignature = "X-Razorpay-Signature"
	HeaderRazorpayEventID   = "X-Razorpay-Event-Id"
)
