package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"paygate/internal/db"
	"paygate/internal/types"
)

type handlers struct {
	clock  types.Clock
	logger *slog.Logger
}

// paymentCaptured records the payment and flips the originating order to
// paid. Both writes are idempotent, so two events for the same capture
// (payment.captured then order.paid) leave a single payment row.
func (h *handlers) paymentCaptured(ctx context.Context, tx db.Tx, ev types.PaymentEvent) error {
	ref := ev.PaymentRef
	if ref == "" {
		ref = ev.ProviderEventID
	}
	inserted, err := tx.InsertPayment(ctx, types.Payment{
		ID:         uuid.NewString(),
		Provider:   ev.Provider,
		PaymentRef: ref,
		OrderRef:   ev.OrderRef,
		SubjectID:  ev.SubjectRef,
		TenantID:   ev.TenantRef,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		CapturedAt: h.occurredAt(ev),
	})
	if err != nil {
		return err
	}
	if !inserted {
		h.logger.DebugContext(ctx, "payment already recorded", "payment_ref", ref)
	}

	if ev.OrderRef == "" {
		return nil
	}
	marked, err := tx.MarkOrderPaid(ctx, ev.Provider, ev.OrderRef, h.occurredAt(ev))
	if err != nil {
		return err
	}
	if !marked {
		h.logger.DebugContext(ctx, "no open order matched", "order_ref", ev.OrderRef)
	}
	return nil
}

func (h *handlers) subscriptionStatus(status types.SubscriptionStatus) Handler {
	return func(ctx context.Context, tx db.Tx, ev types.PaymentEvent) error {
		if ev.SubscriptionRef == "" {
			return types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "subscription event has no subscription id", nil)
		}
		return tx.UpsertSubscription(ctx, types.Subscription{
			Provider:        ev.Provider,
			SubscriptionRef: ev.SubscriptionRef,
			SubjectID:       ev.SubjectRef,
			TenantID:        ev.TenantRef,
			Status:          status,
			UpdatedAt:       h.occurredAt(ev),
		})
	}
}

func (h *handlers) occurredAt(ev types.PaymentEvent) time.Time {
	if ev.OccurredAt.IsZero() {
		return h.clock.Now()
	}
	return ev.OccurredAt
}
