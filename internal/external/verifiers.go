package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"paygate/internal/types"
)

// RazorpayVerifier checks X-Razorpay-Signature, the hex HMAC-SHA256 of the
// raw request body keyed with the webhook secret.
type RazorpayVerifier struct {
	secret []byte
}

func NewRazorpayVerifier(secret string) *RazorpayVerifier {
	return &RazorpayVerifier{secret: []byte(secret)}
}

func (v *RazorpayVerifier) Provider() types.Provider { return types.ProviderRazorpay }

func (v *RazorpayVerifier) Verify(payload []byte, headers http.Header) error {
	sig := strings.TrimSpace(headers.Get(HeaderRazorpaySignature))
	if sig == "" {
		return types.NewAppError(types.ErrCodeWebhookSignatureMalformed, "missing X-Razorpay-Signature header", nil)
	}
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return types.NewAppError(types.ErrCodeWebhookSignatureMalformed, "X-Razorpay-Signature is not a hex SHA-256 digest", err)
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return types.NewAppError(types.ErrCodeWebhookSignatureMismatch, "Razorpay signature does not match payload", nil)
	}
	return nil
}

// SignRazorpay computes the signature Razorpay would send for payload. It
// backs `paygatectl sign` and tests.
func SignRazorpay(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verifiers maps each provider to its signature verifier.
type Verifiers map[types.Provider]SignatureVerifier

// NewVerifiers builds a set keyed by each verifier's provider.
func NewVerifiers(vs ...SignatureVerifier) Verifiers {
	set := make(Verifiers, len(vs))
	for _, v := range vs {
		set[v.Provider()] = v
	}
	return set
}

// Verify dispatches to the provider's verifier. An unknown provider is a
// validation error, not a signature failure.
func (s Verifiers) Verify(p types.Provider, payload []byte, headers http.Header) error {
	v, ok := s[p]
	if !ok {
		return types.NewAppError(types.ErrCodeValidationProvider, "unsupported provider: "+string(p), nil)
	}
	return v.Verify(payload, headers)
}

var _ SignatureVerifier = (*RazorpayVerifier)(nil)
