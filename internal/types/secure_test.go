package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testWebhookSecret = "whsec_razorpay_signing_secret_123"

func TestSecretString_FormattingDoesNotLeak(t *testing.T) {
	s := SecretString(testWebhookSecret)

	for _, verb := range []string{"%s", "%v", "%+v", "%#v"} {
		out := fmt.Sprintf(verb, s)
		if strings.Contains(out, testWebhookSecret) {
			t.Errorf("fmt.Sprintf(%q) leaked the raw secret: %s", verb, out)
		}
		if out != redactedPlaceholder {
			t.Errorf("fmt.Sprintf(%q) = %q, want %q", verb, out, redactedPlaceholder)
		}
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	type providerConfig struct {
		KeySecret SecretString `json:"key_secret"`
		KeyID     string       `json:"key_id"`
	}

	data, err := json.Marshal(providerConfig{KeySecret: SecretString(testWebhookSecret), KeyID: "rzp_test_1"})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}

	result := string(data)
	if strings.Contains(result, testWebhookSecret) {
		t.Errorf("json.Marshal leaked the raw secret: %s", result)
	}
	if !strings.Contains(result, `"key_id":"rzp_test_1"`) {
		t.Errorf("non-secret field missing from output: %s", result)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testWebhookSecret)
	if s.Unmask() != testWebhookSecret {
		t.Errorf("Unmask() = %q, want %q", s.Unmask(), testWebhookSecret)
	}
	if s.IsZero() {
		t.Error("IsZero() = true for a populated secret")
	}
	if !SecretString("").IsZero() {
		t.Error("IsZero() = false for an empty secret")
	}
}
