package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"paygate/internal/config"
	"paygate/internal/core"
	"paygate/internal/external"
)

const testWebhookSecret = "rzp_main_test_secret"

// setTestEnv sets the minimal local environment for config.LoadConfig.
func setTestEnv(t *testing.T) {
	t.Helper()

	t.Setenv("APP_ENV", "local")
	t.Setenv("PORT", "8080")
	t.Setenv("DATABASE_URL", memoryDatabaseURL)
	t.Setenv("IDENTITY_PROJECT_ID", "paygate-test")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_dummy")
	t.Setenv("RAZORPAY_KEY_ID", "rzp_test_dummy")
	t.Setenv("RAZORPAY_KEY_SECRET", "dummy")
	t.Setenv("RAZORPAY_WEBHOOK_SECRET", testWebhookSecret)
	t.Setenv("DISPATCH_MODE", "sync")
	t.Setenv("REDIS_URL", "")
}

func buildTestServer(t *testing.T) *core.Server {
	t.Helper()
	setTestEnv(t)

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := buildServer(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	srv := buildTestServer(t)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("GET /health: got status %d; body: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
}

func TestHealthIncludesRedisProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	setTestEnv(t)
	t.Setenv("REDIS_URL", "redis://"+mr.Addr())

	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	srv, err := buildServer(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	defer srv.Shutdown(context.Background())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if !strings.Contains(rec.Body.String(), `"redis"`) {
		t.Errorf("health body does not report redis: %s", rec.Body.String())
	}

	mr.Close()
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health with redis down: got %d, want 503", rec.Code)
	}
}

func TestWebhookRouteIsWired(t *testing.T) {
	srv := buildTestServer(t)

	body := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_main","amount":1000,"currency":"INR","notes":{"subject_id":"uid_9"}}}},"created_at":1717000000}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", strings.NewReader(body))
	req.Header.Set("X-Razorpay-Signature", external.SignRazorpay([]byte(body), testWebhookSecret))
	req.Header.Set("X-Razorpay-Event-Id", "evt_main")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /webhooks/razorpay: got %d; body: %s", rec.Code, rec.Body.String())
	}
}

func TestOrdersRequireIdentity(t *testing.T) {
	srv := buildTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/orders", strings.NewReader(`{"donationAmount":500,"currency":"INR"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("POST /v1/payments/orders without token: got %d, want 401", rec.Code)
	}
}

func TestMemoryStoreRejectedOutsideLocal(t *testing.T) {
	setTestEnv(t)
	cfg, err := config.LoadConfig(nil)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.Environment = "prod"

	if _, err := buildServer(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatal("expected an error for the in-memory store outside local")
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		t.Run(level, func(t *testing.T) {
			if newLogger(level) == nil {
				t.Fatalf("newLogger(%q) returned nil", level)
			}
		})
	}
}
