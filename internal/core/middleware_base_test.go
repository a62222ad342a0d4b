package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"paygate/internal/types"
)

func TestRecoverer(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), `id"quoted`))
	rec := httptest.NewRecorder()

	srv.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})).ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body is not valid JSON: %v (%s)", err, rec.Body.String())
	}
	if resp.Error.RequestID != `id"quoted` || resp.Error.Status != "internal" {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRequestLogger_RedactsSignatureHeaders(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/razorpay", nil)
	req.Header.Set("X-Razorpay-Signature", "deadbeefcafebabe")
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("Content-Type", "application/json")

	RequestLogger(logger, defaultRedactedHeaders)(okHandler()).ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, "deadbeefcafebabe") || strings.Contains(out, "secret-token") {
		t.Errorf("sensitive header leaked: %s", out)
	}
	if !strings.Contains(out, "application/json") {
		t.Errorf("non-sensitive header missing: %s", out)
	}
}

func TestCORSMiddleware_AllowList(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://crm.example.org"})(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/orders", nil)
	req.Header.Set("Origin", "https://crm.example.org")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://crm.example.org" || rec.Header().Get("Vary") != "Origin" {
		t.Errorf("headers = %v", rec.Header())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/payments/orders", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unlisted origin should not be allowed")
	}
}

type recordingMetrics struct {
	endpoint, status string
}

func (m *recordingMetrics) RecordRequest(_, endpoint, status string, _ time.Duration) {
	m.endpoint, m.status = endpoint, status
}

func TestMetricsMiddleware(t *testing.T) {
	srv := newTestServer(t)
	m := &recordingMetrics{}
	srv.Metrics = m

	srv.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))

	if m.status != "202" || m.endpoint != "/webhooks/stripe" {
		t.Errorf("recorded %+v", m)
	}
}
