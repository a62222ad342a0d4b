package external

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"paygate/internal/types"
)

// StubPaymentClient logs order creation and returns a fake provider order id.
// Used when APP_ENV=local.
type StubPaymentClient struct {
	provider types.Provider
	logger   *slog.Logger
}

func NewStubPaymentClient(provider types.Provider, logger *slog.Logger) *StubPaymentClient {
	return &StubPaymentClient{provider: provider, logger: logger}
}

func (s *StubPaymentClient) Provider() types.Provider { return s.provider }

func (s *StubPaymentClient) CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
	prefix := "order_stub_"
	if s.provider == types.ProviderStripe {
		prefix = "pi_stub_"
	}
	s.logger.InfoContext(ctx, "stub: CreateOrder called",
		"provider", s.provider,
		"amount", req.Amount,
		"currency", req.Currency,
	)
	res := OrderResult{
		ProviderOrderID: prefix + id,
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
	}
	if s.provider == types.ProviderStripe {
		res.ClientSecret = res.ProviderOrderID + "_secret_stub"
	}
	return res, nil
}

var _ PaymentProviderClient = (*StubPaymentClient)(nil)
