package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/config"
	"paygate/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := NewServer(&config.Config{Environment: "local"}, discardLogger())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp APIErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return resp.Error
}

func TestNewServer_RequiresConfigAndLogger(t *testing.T) {
	if _, err := NewServer(nil, discardLogger()); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := NewServer(&config.Config{}, nil); err == nil {
		t.Error("expected error for nil logger")
	}

	srv := newTestServer(t)
	if srv.Validator == nil || srv.Router() == nil {
		t.Error("constructor should initialize validator and router")
	}
}

func TestServer_ShutdownRunsHooksAndJoinsErrors(t *testing.T) {
	srv := newTestServer(t)

	var order []string
	srv.OnShutdown(func(context.Context) error { order = append(order, "redis"); return nil })
	srv.OnShutdown(func(context.Context) error { order = append(order, "db"); return errors.New("pool busy") })

	err := srv.Shutdown(context.Background())
	if err == nil {
		t.Fatal("expected hook error to surface")
	}
	if len(order) != 2 || order[0] != "redis" || order[1] != "db" {
		t.Errorf("hooks ran as %v", order)
	}
}

func TestMountRoutes_PublicAndV1Groups(t *testing.T) {
	srv := newTestServer(t)
	srv.Verifier = &MockIdentityVerifier{Claims: map[string]types.IdentityClaim{
		"tok": {SubjectID: "uid_1", Role: types.RoleMember},
	}}
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, func(r chi.Router) {
		r.Post("/webhooks/razorpay", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Post("/payments/orders", func(w http.ResponseWriter, r *http.Request) {
			claim, _ := types.GetClaim(r.Context())
			JSON(w, r, http.StatusOK, map[string]string{"subject": claim.SubjectID})
		})
	})
	srv.MountRoutes()
	h := srv.Handler()

	// Webhooks are reachable without a bearer token.
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("webhook status = %d, want 200", rec.Code)
	}

	// /v1 requires one.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
	if d := decodeError(t, rec); d.Code != string(types.ErrCodeAuthTokenMissing) || d.Status != "unauthenticated" {
		t.Errorf("error = %+v", d)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/orders", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("X-Request-Id should be set on every response")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", rec.Code)
	}
}

func TestMountRoutes_PreflightBypassesAuth(t *testing.T) {
	srv := newTestServer(t)
	verifier := &MockIdentityVerifier{}
	srv.Verifier = verifier
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, func(r chi.Router) {
		r.Post("/payments/orders", func(w http.ResponseWriter, r *http.Request) {})
	})
	srv.MountRoutes()

	req := httptest.NewRequest(http.MethodOptions, "/v1/payments/orders", nil)
	req.Header.Set("Origin", "https://crm.example.org")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Allow-Origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
	if len(verifier.Calls) != 0 {
		t.Error("preflight must not reach the verifier")
	}
}

func TestRequestTimeoutFromConfig(t *testing.T) {
	srv := newTestServer(t)
	if srv.requestTimeout() != defaultRequestTimeout {
		t.Errorf("default timeout = %v", srv.requestTimeout())
	}
	srv.Config.Server.RequestTimeout = 3 * time.Second
	if srv.requestTimeout() != 3*time.Second {
		t.Errorf("configured timeout = %v", srv.requestTimeout())
	}
}
