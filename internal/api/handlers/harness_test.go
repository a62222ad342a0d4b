package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paygate/internal/config"
	"paygate/internal/core"
	"paygate/internal/db"
	"paygate/internal/dispatch"
	"paygate/internal/events"
	"paygate/internal/external"
	"paygate/internal/types"
)

const (
	testStripeSecret   = "whsec_handler_test"
	testRazorpaySecret = "rzp_webhook_secret"
	testAdminKey       = "operator-key-0123456789"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockProviderClient implements external.PaymentProviderClient.
type mockProviderClient struct {
	mock.Mock
	provider types.Provider
}

func (m *mockProviderClient) Provider() types.Provider { return m.provider }

func (m *mockProviderClient) CreateOrder(ctx context.Context, req external.OrderRequest) (external.OrderResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(external.OrderResult), args.Error(1)
}

type staticClients map[types.Provider]external.PaymentProviderClient

func (c staticClients) Client(p types.Provider) (external.PaymentProviderClient, bool) {
	cl, ok := c[p]
	return cl, ok
}

type countingMetrics struct {
	dispatch.NoopMetrics
	accepted, rejected, orders int
}

func (m *countingMetrics) RecordWebhook(_ context.Context, _ types.Provider, rejected bool) {
	if rejected {
		m.rejected++
	} else {
		m.accepted++
	}
}

func (m *countingMetrics) RecordOrder(context.Context, types.Provider) { m.orders++ }

type harness struct {
	server   *core.Server
	store    *db.MemoryStore
	razorpay *mockProviderClient
	metrics  *countingMetrics
	webhook  *WebhookHandler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := discardLogger()
	cfg := &config.Config{Environment: "local"}
	cfg.Dispatch.DefaultProvider = "razorpay"
	cfg.Dispatch.Plans = map[string]int64{"monthly": 49900}
	cfg.Razorpay.KeyID = "rzp_test_key"

	srv, err := core.NewServer(cfg, logger)
	require.NoError(t, err)
	srv.Verifier = &core.MockIdentityVerifier{Claims: map[string]types.IdentityClaim{
		"member-token": {SubjectID: "uid_1", TenantID: "ngo_7", Role: types.RoleMember},
		"admin-token":  {SubjectID: "uid_admin", Role: types.RoleAdmin},
	}}
	srv.AdminKeys = core.MockAdminKeys{Key: testAdminKey}

	h := &harness{
		server:   srv,
		store:    db.NewMemoryStore(),
		razorpay: &mockProviderClient{provider: types.ProviderRazorpay},
		metrics:  &countingMetrics{},
	}

	verifiers := external.NewVerifiers(
		external.NewStripeVerifier(testStripeSecret, 0),
		external.NewRazorpayVerifier(testRazorpaySecret),
	)
	dispatcher := dispatch.NewDispatcher(h.store, nil, nil, logger)
	h.webhook = NewWebhookHandler(verifiers, events.NewNormalizers(logger), dispatcher, h.metrics, logger)

	orders := NewOrderHandler(staticClients{types.ProviderRazorpay: h.razorpay}, h.store, h.metrics, cfg, srv.Validator, logger)
	admin := NewAdminHandler(h.store, srv.RequireRole(types.RoleAdmin), logger)

	srv.PublicRouteRegistrars = []core.RouteRegistrar{h.webhook.RegisterRoutes}
	srv.V1RouteRegistrars = []core.RouteRegistrar{orders.RegisterRoutes, admin.RegisterRoutes}
	srv.MountRoutes()
	return h
}

func (h *harness) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp core.APIErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), "body: %s", rec.Body.String())
	return resp.Error.Code
}

func jsonRequest(method, path string, body any) *http.Request {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}
