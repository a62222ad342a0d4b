// Package events turns provider webhook payloads into PaymentEvents.
//
// Normalizers run only after the signature has been verified, and never drop
// an event: provider types outside the known mapping become EventUnknown so
// the dispatcher can still record them.
package events

import (
	"log/slog"
	"net/http"

	"paygate/internal/types"
)

// Normalizer parses one provider's payload format.
type Normalizer interface {
	Provider() types.Provider
	Normalize(payload []byte, headers http.Header) (types.PaymentEvent, error)
}

// Normalizers maps providers to their normalizer.
type Normalizers map[types.Provider]Normalizer

// NewNormalizers returns the Stripe and Razorpay normalizers.
func NewNormalizers(logger *slog.Logger) Normalizers {
	if logger == nil {
		logger = slog.Default()
	}
	return Normalizers{
		types.ProviderStripe:   NewStripeNormalizer(logger),
		types.ProviderRazorpay: NewRazorpayNormalizer(logger),
	}
}

func (n Normalizers) Normalize(p types.Provider, payload []byte, headers http.Header) (types.PaymentEvent, error) {
	norm, ok := n[p]
	if !ok {
		return types.PaymentEvent{}, types.NewAppError(types.ErrCodeValidationProvider, "unsupported provider: "+string(p), nil)
	}
	return norm.Normalize(payload, headers)
}

func payloadError(msg string, err error) *types.AppError {
	return types.NewAppError(types.ErrCodeWebhookPayloadInvalid, msg, err)
}

// linkage copies the subject keys written at order creation into ev.
func linkage(ev *types.PaymentEvent, meta map[string]string) {
	if meta == nil {
		return
	}
	if ev.SubjectRef == "" {
		ev.SubjectRef = meta[types.MetaSubjectID]
	}
	if ev.TenantRef == "" {
		ev.TenantRef = meta[types.MetaTenantID]
	}
}
