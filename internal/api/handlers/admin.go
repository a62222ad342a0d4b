package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paygate/internal/core"
	"paygate/internal/types"
)

// LedgerReader is the read side of the store used by operators.
type LedgerReader interface {
	GetProcessed(ctx context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error)
	GetEvent(ctx context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error)
	GetOrder(ctx context.Context, id string) (*types.PaymentOrder, error)
}

// EventLookupResponse pairs a ledger entry with the stored event.
type EventLookupResponse struct {
	Record *types.ProcessedEventRecord `json:"record"`
	Event  *StoredEvent                `json:"event,omitempty"`
}

// StoredEvent is the persisted PaymentEvent with its raw provider payload.
type StoredEvent struct {
	Kind            types.EventKind `json:"kind"`
	ProviderType    string          `json:"provider_type"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	SubjectRef      string          `json:"subject_ref,omitempty"`
	TenantRef       string          `json:"tenant_ref,omitempty"`
	PaymentRef      string          `json:"payment_ref,omitempty"`
	OrderRef        string          `json:"order_ref,omitempty"`
	SubscriptionRef string          `json:"subscription_ref,omitempty"`
	OccurredAt      time.Time       `json:"occurred_at"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// AdminHandler serves operator lookups. Every route requires the admin role,
// which an X-Admin-Key request also carries.
type AdminHandler struct {
	store        LedgerReader
	requireAdmin func(http.Handler) http.Handler
	logger       *slog.Logger
}

// NewAdminHandler takes the role guard from core.Server.RequireRole.
func NewAdminHandler(store LedgerReader, requireAdmin func(http.Handler) http.Handler, l *slog.Logger) *AdminHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AdminHandler{store: store, requireAdmin: requireAdmin, logger: l}
}

func (h *AdminHandler) RegisterRoutes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		if h.requireAdmin != nil {
			r.Use(h.requireAdmin)
		}
		r.Get("/events/{provider}/{eventID}", h.GetEvent)
		r.Get("/orders/{orderID}", h.GetOrder)
	})
}

// GetEvent handles GET /v1/admin/events/{provider}/{eventID}.
func (h *AdminHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	provider, ok := types.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationProvider, "unsupported payment provider", nil))
		return
	}
	eventID := chi.URLParam(r, "eventID")

	rec, err := h.store.GetProcessed(r.Context(), provider, eventID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if rec == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundEvent, "event not found", nil))
		return
	}

	resp := EventLookupResponse{Record: rec}
	ev, err := h.store.GetEvent(r.Context(), provider, eventID)
	if err != nil {
		// Non-fatal: the ledger entry is returned alone.
		types.LoggerFromContext(r.Context(), h.logger).WarnContext(r.Context(), "failed to load stored event",
			"provider", string(provider),
			"event_id", eventID,
			"error", err,
		)
	}
	if ev != nil {
		resp.Event = &StoredEvent{
			Kind:            ev.Kind,
			ProviderType:    ev.ProviderType,
			Amount:          ev.Amount,
			Currency:        ev.Currency,
			SubjectRef:      ev.SubjectRef,
			TenantRef:       ev.TenantRef,
			PaymentRef:      ev.PaymentRef,
			OrderRef:        ev.OrderRef,
			SubscriptionRef: ev.SubscriptionRef,
			OccurredAt:      ev.OccurredAt,
		}
		if json.Valid(ev.RawPayload) {
			resp.Event.Payload = ev.RawPayload
		}
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// GetOrder handles GET /v1/admin/orders/{orderID}.
func (h *AdminHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: order})
}
