package external

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"paygate/internal/types"
)

func newTestStripeClient(t *testing.T, serverURL string) *StripeClient {
	t.Helper()
	base := NewBaseClient(
		&http.Client{Timeout: 5 * time.Second},
		"test-stripe",
		RetryPolicy{MaxRetries: 0, MinWait: time.Millisecond, MaxWait: 10 * time.Millisecond},
		"PayGate-Test/1.0",
		WithSleepFunc(noopSleep),
		WithUpstreamCode(types.ErrCodeUpstreamStripe),
	)
	return NewStripeClientWithBase(base, StripeClientConfig{
		SecretKey: "sk_test_secret",
		BaseURL:   serverURL,
		Logger:    discardLogger(),
	})
}

func TestStripeCreateOrder_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk_test_secret" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Stripe-Version"); got != stripe.APIVersion {
			t.Errorf("Stripe-Version = %q", got)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "rcpt_42" {
			t.Errorf("Idempotency-Key = %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if r.PostForm.Get("amount") != "49900" || r.PostForm.Get("currency") != "usd" {
			t.Errorf("form = %v", r.PostForm)
		}
		if r.PostForm.Get("metadata[subject_id]") != "uid_1" || r.PostForm.Get("metadata[tenant_id]") != "ngo_7" {
			t.Errorf("metadata missing: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","amount":49900,"currency":"usd","client_secret":"pi_123_secret_abc"}`)
	}))
	defer server.Close()

	res, err := newTestStripeClient(t, server.URL).CreateOrder(context.Background(), OrderRequest{
		Amount:   49900,
		Currency: "USD",
		Receipt:  "rcpt_42",
		Metadata: map[string]string{types.MetaSubjectID: "uid_1", types.MetaTenantID: "ngo_7"},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if res.ProviderOrderID != "pi_123" || res.Currency != "USD" || res.ClientSecret != "pi_123_secret_abc" {
		t.Errorf("result = %+v", res)
	}
}

func TestStripeCreateOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   types.ErrorCode
	}{
		{"invalid request", http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"amount_too_small","message":"Amount must be at least 50"}}`, types.ErrCodeUpstreamPaymentError},
		{"card declined", http.StatusPaymentRequired, `{"error":{"type":"card_error","decline_code":"insufficient_funds"}}`, types.ErrCodeUpstreamPaymentError},
		{"bad key", http.StatusUnauthorized, `{"error":{"type":"authentication_error","message":"Invalid API Key"}}`, types.ErrCodeUpstreamStripe},
		{"non-json", http.StatusForbidden, `<html>nope</html>`, types.ErrCodeUpstreamStripe},
		{"server error", http.StatusInternalServerError, `{}`, types.ErrCodeUpstreamStripe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestStripeClient(t, server.URL).CreateOrder(context.Background(), OrderRequest{Amount: 10, Currency: "USD"})
			if code := appErrCode(t, err); code != tt.want {
				t.Errorf("code = %s, want %s", code, tt.want)
			}
		})
	}
}

func stripeHeaders(sig string) http.Header {
	h := http.Header{}
	if sig != "" {
		h.Set(HeaderStripeSignature, sig)
	}
	return h
}

func TestStripeVerifier_ValidSignature(t *testing.T) {
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","type":"checkout.session.completed"}`)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	if err := NewStripeVerifier(secret, 0).Verify(payload, stripeHeaders(sp.Header)); err != nil {
		t.Errorf("expected valid signature, got %v", err)
	}
}

func TestStripeVerifier_TamperedBody(t *testing.T) {
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test","amount":100}`)
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: secret})

	err := NewStripeVerifier(secret, 0).Verify([]byte(`{"id":"evt_test","amount":999}`), stripeHeaders(sp.Header))
	if code := appErrCode(t, err); code != types.ErrCodeWebhookSignatureMismatch {
		t.Errorf("code = %s", code)
	}
}

func TestStripeVerifier_MalformedHeader(t *testing.T) {
	v := NewStripeVerifier("whsec_test_secret", 0)
	for _, h := range []string{"", "garbage", "t=abc"} {
		err := v.Verify([]byte(`{}`), stripeHeaders(h))
		if code := appErrCode(t, err); code != types.ErrCodeWebhookSignatureMalformed {
			t.Errorf("header %q: code = %s", h, code)
		}
	}
}

func TestStripeVerifier_ExpiredTimestamp(t *testing.T) {
	secret := "whsec_test_secret"
	payload := []byte(`{"id":"evt_test"}`)
	old := time.Now().Add(-10 * time.Minute)
	header := fmt.Sprintf("t=%d,v1=%s", old.Unix(), hex.EncodeToString(webhook.ComputeSignature(old, payload, secret)))

	err := NewStripeVerifier(secret, 5*time.Minute).Verify(payload, stripeHeaders(header))
	if code := appErrCode(t, err); code != types.ErrCodeWebhookSignatureMismatch {
		t.Errorf("code = %s", code)
	}

	// The same delivery passes under a wider tolerance.
	if err := NewStripeVerifier(secret, 20*time.Minute).Verify(payload, stripeHeaders(header)); err != nil {
		t.Errorf("wide tolerance: %v", err)
	}
}
