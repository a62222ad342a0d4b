package external

import (
	"context"
	"strings"
	"testing"

	"paygate/internal/config"
	"paygate/internal/types"
)

func registryConfigFor(env string) *config.Config {
	return &config.Config{
		Environment: env,
		Stripe: config.StripeConfig{
			WebhookSecret: "whsec_x",
		},
		Razorpay: config.RazorpayConfig{
			KeyID:         "rzp_key",
			KeySecret:     "rzp_secret",
			WebhookSecret: "rzp_whsec",
		},
	}
}

func TestNewClientRegistry_LocalUsesStubClients(t *testing.T) {
	reg := NewClientRegistry(registryConfigFor("local"), discardLogger())

	for _, p := range []types.Provider{types.ProviderStripe, types.ProviderRazorpay} {
		c, ok := reg.Client(p)
		if !ok {
			t.Fatalf("no client for %s", p)
		}
		if _, isStub := c.(*StubPaymentClient); !isStub {
			t.Errorf("%s client is %T, want *StubPaymentClient", p, c)
		}
	}

	res, err := reg.Payments[types.ProviderRazorpay].CreateOrder(context.Background(), OrderRequest{Amount: 100, Currency: "inr"})
	if err != nil || !strings.HasPrefix(res.ProviderOrderID, "order_stub_") || res.Currency != "INR" {
		t.Errorf("stub order = %+v, %v", res, err)
	}
}

func TestNewClientRegistry_VerifiersAlwaysReal(t *testing.T) {
	for _, env := range []string{"local", "prod"} {
		reg := NewClientRegistry(registryConfigFor(env), discardLogger())
		if _, ok := reg.Verifiers[types.ProviderStripe].(*StripeVerifier); !ok {
			t.Errorf("%s: stripe verifier is %T", env, reg.Verifiers[types.ProviderStripe])
		}
		if _, ok := reg.Verifiers[types.ProviderRazorpay].(*RazorpayVerifier); !ok {
			t.Errorf("%s: razorpay verifier is %T", env, reg.Verifiers[types.ProviderRazorpay])
		}
	}
}

func TestNewClientRegistry_ProductionClients(t *testing.T) {
	cfg := registryConfigFor("prod")
	reg := NewClientRegistry(cfg, discardLogger())

	if _, ok := reg.Payments[types.ProviderRazorpay].(*RazorpayClient); !ok {
		t.Errorf("razorpay client is %T", reg.Payments[types.ProviderRazorpay])
	}
	if _, ok := reg.Client(types.ProviderStripe); ok {
		t.Error("stripe client should be absent without a secret key")
	}

	cfg.Stripe.SecretKey = "sk_live_x"
	reg = NewClientRegistry(cfg, discardLogger())
	if _, ok := reg.Payments[types.ProviderStripe].(*StripeClient); !ok {
		t.Errorf("stripe client is %T", reg.Payments[types.ProviderStripe])
	}
}
