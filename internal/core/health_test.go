package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func runHealth(t *testing.T, probes ...HealthProbe) (int, healthResponse) {
	t.Helper()
	srv := newTestServer(t)
	srv.HealthProbes = probes

	rec := httptest.NewRecorder()
	srv.HandleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var resp healthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestHandleHealth_NoProbes(t *testing.T) {
	code, resp := runHealth(t)
	if code != http.StatusOK || resp.Status != "healthy" {
		t.Errorf("code = %d, resp = %+v", code, resp)
	}
}

func TestHandleHealth_AllHealthy(t *testing.T) {
	ok := func(context.Context) error { return nil }
	code, resp := runHealth(t, NewProbe("database", ok), NewProbe("redis", ok))
	if code != http.StatusOK {
		t.Errorf("code = %d", code)
	}
	if resp.Components["database"].Status != "healthy" || resp.Components["redis"].Status != "healthy" {
		t.Errorf("components = %+v", resp.Components)
	}
}

func TestHandleHealth_FailingProbe(t *testing.T) {
	code, resp := runHealth(t,
		NewProbe("database", func(context.Context) error { return nil }),
		NewProbe("redis", func(context.Context) error { return errors.New("dial tcp: refused") }),
	)
	if code != http.StatusServiceUnavailable || resp.Status != "unhealthy" {
		t.Errorf("code = %d, status = %s", code, resp.Status)
	}
	if resp.Components["redis"].Message != "dial tcp: refused" {
		t.Errorf("redis = %+v", resp.Components["redis"])
	}
}

func TestHandleHealth_PanickingProbe(t *testing.T) {
	code, resp := runHealth(t, NewProbe("database", func(context.Context) error { panic("nil pool") }))
	if code != http.StatusServiceUnavailable || resp.Components["database"].Status != "unhealthy" {
		t.Errorf("code = %d, resp = %+v", code, resp)
	}
}

func TestHandleHealth_SlowProbeTimesOut(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the health deadline")
	}
	slow := NewProbe("database", func(ctx context.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return nil
		case <-ctx.Done():
			// Report late so the handler sees an unfinished probe.
			time.Sleep(50 * time.Millisecond)
			return ctx.Err()
		}
	})
	code, resp := runHealth(t, slow)
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if resp.Components["database"].Status != "unhealthy" {
		t.Errorf("database = %+v", resp.Components["database"])
	}
}
