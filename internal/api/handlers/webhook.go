// Package handlers contains the HTTP handlers for the PayGate API.
//
// This file implements the provider webhook endpoints. They are NOT behind
// auth middleware: each delivery is authenticated by its provider signature,
// computed over the exact raw body before anything parses it.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"paygate/internal/core"
	"paygate/internal/dispatch"
	"paygate/internal/types"
)

// maxWebhookBodySize is the largest webhook payload accepted (64 KB).
const maxWebhookBodySize = 64 * 1024

// WebhookVerifier checks a delivery's signature. external.Verifiers
// satisfies it.
type WebhookVerifier interface {
	Verify(p types.Provider, payload []byte, headers http.Header) error
}

// EventNormalizer turns a verified payload into a PaymentEvent.
// events.Normalizers satisfies it.
type EventNormalizer interface {
	Normalize(p types.Provider, payload []byte, headers http.Header) (types.PaymentEvent, error)
}

// EventDispatcher applies an event synchronously.
type EventDispatcher interface {
	Dispatch(ctx context.Context, ev types.PaymentEvent) (dispatch.Outcome, error)
}

// EventPublisher hands an event to the asynchronous worker.
type EventPublisher interface {
	Publish(ctx context.Context, ev types.PaymentEvent) error
}

// WebhookMetrics counts deliveries accepted or rejected before dispatch.
type WebhookMetrics interface {
	RecordWebhook(ctx context.Context, provider types.Provider, rejected bool)
}

// WebhookAck is the body returned to the provider on success.
type WebhookAck struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id"`
	Outcome  string `json:"outcome"`
}

// WebhookHandler verifies, normalizes and dispatches (or enqueues) provider
// events, then answers with the status the provider's retry logic expects:
// 200 for anything applied, ignored or already seen, 400 for deliveries that
// can never succeed, 500 for transient failures.
type WebhookHandler struct {
	verifier   WebhookVerifier
	normalizer EventNormalizer
	dispatcher EventDispatcher
	publisher  EventPublisher
	metrics    WebhookMetrics
	logger     *slog.Logger
}

// NewWebhookHandler builds a handler that dispatches in the request. Call
// WithPublisher to switch it to asynchronous mode.
func NewWebhookHandler(
	verifier WebhookVerifier,
	normalizer EventNormalizer,
	dispatcher EventDispatcher,
	metrics WebhookMetrics,
	logger *slog.Logger,
) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = dispatch.NoopMetrics{}
	}
	return &WebhookHandler{
		verifier:   verifier,
		normalizer: normalizer,
		dispatcher: dispatcher,
		metrics:    metrics,
		logger:     logger,
	}
}

// WithPublisher makes the handler enqueue verified events instead of
// dispatching them inline.
func (h *WebhookHandler) WithPublisher(p EventPublisher) *WebhookHandler {
	h.publisher = p
	return h
}

// RegisterRoutes mounts the webhook endpoints on the public router.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/{provider}", h.HandleProvider)
	r.Post("/webhook", h.HandleGeneric)
}

// HandleProvider serves POST /webhooks/{provider}.
func (h *WebhookHandler) HandleProvider(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, chi.URLParam(r, "provider"))
}

// HandleGeneric serves POST /webhook?provider=.
func (h *WebhookHandler) HandleGeneric(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, r.URL.Query().Get("provider"))
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, rawProvider string) {
	ctx := r.Context()
	logger := types.LoggerFromContext(ctx, h.logger).With("provider", rawProvider)

	provider, ok := types.ParseProvider(rawProvider)
	if !ok {
		h.reject(w, r, provider, types.NewAppError(types.ErrCodeValidationProvider,
			"unsupported payment provider", nil))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		logger.WarnContext(ctx, "failed to read webhook body", "error", err)
		var maxErr *http.MaxBytesError
		msg := "failed to read request body"
		if errors.As(err, &maxErr) {
			msg = "webhook payload exceeds 64KB"
		}
		h.reject(w, r, provider, types.NewAppError(types.ErrCodeWebhookPayloadInvalid, msg, err))
		return
	}

	if err := h.verifier.Verify(provider, payload, r.Header); err != nil {
		logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		h.reject(w, r, provider, err)
		return
	}

	ev, err := h.normalizer.Normalize(provider, payload, r.Header)
	if err != nil {
		logger.WarnContext(ctx, "webhook payload rejected", "error", err)
		h.reject(w, r, provider, err)
		return
	}
	h.metrics.RecordWebhook(ctx, provider, false)

	logger = logger.With("event_id", ev.ProviderEventID, "provider_type", ev.ProviderType)
	ctx = types.WithLogger(ctx, logger)

	if h.publisher != nil {
		if err := h.publisher.Publish(ctx, ev); err != nil {
			logger.ErrorContext(ctx, "failed to enqueue webhook event", "error", err)
			writeAckError(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, EventID: ev.ProviderEventID, Outcome: "queued"})
		return
	}

	outcome, err := h.dispatcher.Dispatch(ctx, ev)
	if err != nil {
		writeAckError(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, WebhookAck{Received: true, EventID: ev.ProviderEventID, Outcome: string(outcome)})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, r *http.Request, provider types.Provider, err error) {
	h.metrics.RecordWebhook(r.Context(), provider, true)
	writeAckError(w, r, err)
}

// writeAckError answers a provider. Retryable failures are always 500.
func writeAckError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "an unexpected error occurred", err)
	}
	status := appErr.Code.HTTPStatus()
	if appErr.Code.IsTransient() {
		status = http.StatusInternalServerError
	}
	core.JSON(w, r, status, core.APIErrorResponse{Error: core.ErrorDetail{
		Code:      string(appErr.Code),
		Status:    appErr.Code.CallableStatus(),
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: types.GetRequestID(r.Context()),
	}})
}
