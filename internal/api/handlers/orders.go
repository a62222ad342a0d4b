package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"paygate/internal/config"
	"paygate/internal/core"
	"paygate/internal/external"
	"paygate/internal/types"
)

// OrderClients resolves the order client for a provider.
// *external.ClientRegistry satisfies it.
type OrderClients interface {
	Client(p types.Provider) (external.PaymentProviderClient, bool)
}

// OrderStore records orders created through the callable endpoint.
type OrderStore interface {
	CreateOrder(ctx context.Context, o *types.PaymentOrder) error
}

// OrderMetrics counts created orders.
type OrderMetrics interface {
	RecordOrder(ctx context.Context, provider types.Provider)
}

// CreateOrderRequest is the callable input. Exactly one of PlanID and
// DonationAmount must be set; DonationAmount is in minor units.
type CreateOrderRequest struct {
	PlanID         string            `json:"planId,omitempty" validate:"omitempty,plan_id"`
	DonationAmount int64             `json:"donationAmount,omitempty" validate:"omitempty,min=100,max=100000000"`
	Currency       string            `json:"currency" validate:"required,currency"`
	Receipt        string            `json:"receipt,omitempty" validate:"omitempty,max=64"`
	Notes          map[string]string `json:"notes,omitempty" validate:"omitempty,max=10,note_keys,dive,keys,max=40,endkeys,max=256"`
	Provider       string            `json:"provider,omitempty" validate:"omitempty,oneof=stripe razorpay"`
}

// CreateOrderResponse is the callable output.
type CreateOrderResponse struct {
	OrderID  string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`

	Provider     types.Provider `json:"provider"`
	Reference    string         `json:"reference"`
	ClientSecret string         `json:"clientSecret,omitempty"`
	KeyID        string         `json:"keyId,omitempty"`
}

// OrderHandler implements the authenticated payment-initiation endpoint.
type OrderHandler struct {
	clients         OrderClients
	store           OrderStore
	metrics         OrderMetrics
	validator       *core.Validator
	plans           map[string]int64
	defaultProvider types.Provider
	razorpayKeyID   string
	clock           types.Clock
	logger          *slog.Logger
}

func NewOrderHandler(
	clients OrderClients,
	store OrderStore,
	metrics OrderMetrics,
	cfg *config.Config,
	v *core.Validator,
	l *slog.Logger,
) *OrderHandler {
	if l == nil {
		l = slog.Default()
	}
	h := &OrderHandler{
		clients:         clients,
		store:           store,
		metrics:         metrics,
		validator:       v,
		plans:           map[string]int64{},
		defaultProvider: types.ProviderRazorpay,
		clock:           types.RealClock{},
		logger:          l,
	}
	if cfg != nil {
		maps.Copy(h.plans, cfg.Dispatch.Plans)
		if p, ok := types.ParseProvider(cfg.Dispatch.DefaultProvider); ok {
			h.defaultProvider = p
		}
		h.razorpayKeyID = cfg.Razorpay.KeyID
	}
	return h
}

// RegisterRoutes mounts the order routes inside /v1.
func (h *OrderHandler) RegisterRoutes(r chi.Router) {
	r.Post("/payments/orders", h.CreateOrder)
}

// CreateOrder handles POST /v1/payments/orders.
//
//  1. Require a verified caller.
//  2. Decode the body, with or without the callable {"data": ...} envelope.
//  3. Resolve the amount from the plan table or the donation.
//  4. Create the provider order with the caller's subject and tenant in its
//     metadata, which is how webhooks link payments back.
//  5. Record the order and return the provider order id.
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger)

	claim, ok := types.GetClaim(ctx)
	if !ok || claim.SubjectID == "" {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "Authentication required", nil))
		return
	}

	var req CreateOrderRequest
	if err := decodeCallable(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))

	if (req.PlanID == "") == (req.DonationAmount == 0) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidArgument,
			"exactly one of planId or donationAmount is required", nil))
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	amount := req.DonationAmount
	if req.PlanID != "" {
		planAmount, ok := h.plans[req.PlanID]
		if !ok {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationUnknownPlan,
				"unknown plan", nil, map[string]any{"planId": req.PlanID}))
			return
		}
		amount = planAmount
	}

	provider := h.defaultProvider
	if req.Provider != "" {
		provider = types.Provider(req.Provider)
	}
	client, ok := h.clients.Client(provider)
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationProvider,
			"payment provider is not enabled", nil))
		return
	}

	orderID := uuid.NewString()
	receipt := req.Receipt
	if receipt == "" {
		receipt = "rcpt_" + strings.ReplaceAll(orderID, "-", "")[:20]
	}

	meta := make(map[string]string, len(req.Notes)+4)
	maps.Copy(meta, req.Notes)
	meta[types.MetaSubjectID] = claim.SubjectID
	meta[types.MetaOrderID] = orderID
	if claim.TenantID != "" {
		meta[types.MetaTenantID] = claim.TenantID
	}
	if req.PlanID != "" {
		meta[types.MetaPlanID] = req.PlanID
	}

	result, err := client.CreateOrder(ctx, external.OrderRequest{
		Amount:   amount,
		Currency: req.Currency,
		Receipt:  receipt,
		Metadata: meta,
	})
	if err != nil {
		logger.ErrorContext(ctx, "provider order creation failed",
			"provider", string(provider),
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	order := &types.PaymentOrder{
		ID:              orderID,
		Provider:        provider,
		ProviderOrderID: result.ProviderOrderID,
		SubjectID:       claim.SubjectID,
		TenantID:        claim.TenantID,
		PlanID:          req.PlanID,
		Amount:          result.Amount,
		Currency:        result.Currency,
		Receipt:         receipt,
		Notes:           req.Notes,
		Status:          types.OrderStatusCreated,
		CreatedAt:       h.clock.Now(),
	}
	if err := h.store.CreateOrder(ctx, order); err != nil {
		logger.ErrorContext(ctx, "failed to record order",
			"provider_order_id", result.ProviderOrderID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordOrder(ctx, provider)
	}

	logger.InfoContext(ctx, "payment order created",
		"order_id", orderID,
		"provider", string(provider),
		"provider_order_id", result.ProviderOrderID,
		"amount", result.Amount,
		"currency", result.Currency,
	)

	resp := CreateOrderResponse{
		OrderID:      result.ProviderOrderID,
		Amount:       result.Amount,
		Currency:     result.Currency,
		Provider:     provider,
		Reference:    orderID,
		ClientSecret: result.ClientSecret,
	}
	if provider == types.ProviderRazorpay {
		resp.KeyID = h.razorpayKeyID
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// decodeCallable accepts the callable envelope {"data": {...}} as well as a
// bare object, and decodes strictly into dst.
func decodeCallable(w http.ResponseWriter, r *http.Request, dst any) error {
	var raw json.RawMessage
	if err := core.DecodeJSON(w, r, &raw); err != nil {
		return err
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "request body must be a JSON object", err)
	}
	if inner, ok := probe["data"]; ok && len(probe) == 1 {
		raw = inner
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidJSON, "invalid request payload", err)
	}
	return nil
}
