// Package dispatch applies normalized payment events exactly once.
//
// Dispatch looks the event up in the idempotence ledger, then runs the
// kind's handler in the same transaction that inserts the ledger entry. The
// unique key on (provider, provider event id) serializes concurrent
// deliveries, so no in-process locking is used.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"paygate/internal/db"
	"paygate/internal/types"
)

// Outcome is what Dispatch did with an event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeUnlinked  Outcome = "unlinked"
	OutcomeFailed    Outcome = "failed"
)

// Handler applies one event kind's business mutation inside the ledger
// transaction.
type Handler func(ctx context.Context, tx db.Tx, ev types.PaymentEvent) error

// Metrics receives dispatch telemetry.
type Metrics interface {
	RecordDispatch(ctx context.Context, ev types.PaymentEvent, outcome Outcome, duration time.Duration)
}

// errAlreadyRecorded aborts a transaction that lost the ledger insert race.
var errAlreadyRecorded = errors.New("event already recorded")

type Dispatcher struct {
	store    db.Store
	handlers map[types.EventKind]Handler
	clock    types.Clock
	metrics  Metrics
	logger   *slog.Logger
}

// NewDispatcher returns a Dispatcher with the default handlers registered.
// A nil clock, metrics or logger falls back to a usable default.
func NewDispatcher(store db.Store, clock types.Clock, metrics Metrics, logger *slog.Logger) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		store:    store,
		handlers: map[types.EventKind]Handler{},
		clock:    clock,
		metrics:  metrics,
		logger:   logger,
	}
	h := &handlers{clock: clock, logger: logger}
	d.Register(types.EventPaymentCaptured, h.paymentCaptured)
	d.Register(types.EventCheckoutCompleted, h.paymentCaptured)
	d.Register(types.EventSubscriptionCreated, h.subscriptionStatus(types.SubscriptionActive))
	d.Register(types.EventSubscriptionCancelled, h.subscriptionStatus(types.SubscriptionCancelled))
	return d
}

// Register sets the handler for kind, replacing any previous one.
// EventUnknown cannot be given a handler.
func (d *Dispatcher) Register(kind types.EventKind, h Handler) {
	if kind == types.EventUnknown {
		return
	}
	d.handlers[kind] = h
}

// Dispatch applies ev at most once. A replay of an already-recorded event
// returns OutcomeDuplicate with no error. Any returned error means nothing
// was committed and the provider should redeliver.
func (d *Dispatcher) Dispatch(ctx context.Context, ev types.PaymentEvent) (Outcome, error) {
	start := d.clock.Now()
	logger := types.LoggerFromContext(ctx, d.logger).With(
		"provider", string(ev.Provider),
		"event_id", ev.ProviderEventID,
		"kind", string(ev.Kind),
	)

	if !ev.Provider.Valid() || ev.ProviderEventID == "" {
		return OutcomeFailed, types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "event has no provider event id", nil)
	}

	existing, err := d.store.GetProcessed(ctx, ev.Provider, ev.ProviderEventID)
	if err != nil {
		return d.fail(ctx, ev, start, logger, err)
	}
	if existing != nil {
		logger.InfoContext(ctx, "duplicate event skipped", "status", string(existing.Status))
		d.metrics.RecordDispatch(ctx, ev, OutcomeDuplicate, d.clock.Now().Sub(start))
		return OutcomeDuplicate, nil
	}

	if ev, err = d.linkOrder(ctx, ev); err != nil {
		return d.fail(ctx, ev, start, logger, err)
	}

	status, handler := d.resolve(ev)
	rec := types.ProcessedEventRecord{
		Provider:        ev.Provider,
		ProviderEventID: ev.ProviderEventID,
		Kind:            ev.Kind,
		Status:          status,
		ProcessedAt:     d.clock.Now(),
	}

	err = d.store.RunInTx(ctx, func(ctx context.Context, tx db.Tx) error {
		inserted, err := tx.InsertProcessed(ctx, rec)
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadyRecorded
		}
		if handler != nil {
			if err := handler(ctx, tx, ev); err != nil {
				return err
			}
		}
		return tx.SaveEvent(ctx, ev)
	})
	if errors.Is(err, errAlreadyRecorded) {
		logger.InfoContext(ctx, "event recorded by a concurrent delivery")
		d.metrics.RecordDispatch(ctx, ev, OutcomeDuplicate, d.clock.Now().Sub(start))
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return d.fail(ctx, ev, start, logger, err)
	}

	outcome := outcomeFor(status)
	switch outcome {
	case OutcomeIgnored:
		logger.InfoContext(ctx, "event kind has no handler, recorded as ignored", "provider_type", ev.ProviderType)
	case OutcomeUnlinked:
		logger.WarnContext(ctx, "event carries no subject reference, recorded as unlinked", "provider_type", ev.ProviderType)
	default:
		logger.InfoContext(ctx, "event processed")
	}
	d.metrics.RecordDispatch(ctx, ev, outcome, d.clock.Now().Sub(start))
	return outcome, nil
}

// linkOrder fills a missing subject and tenant from the order created through
// the callable endpoint. Razorpay does not copy order notes onto the payment
// entity, so the order id is often the only link a capture carries.
func (d *Dispatcher) linkOrder(ctx context.Context, ev types.PaymentEvent) (types.PaymentEvent, error) {
	if ev.SubjectRef != "" || ev.OrderRef == "" || !ev.Kind.RequiresSubject() {
		return ev, nil
	}
	order, err := d.store.FindOrderByProviderRef(ctx, ev.Provider, ev.OrderRef)
	if err != nil || order == nil {
		return ev, err
	}
	ev.SubjectRef = order.SubjectID
	if ev.TenantRef == "" {
		ev.TenantRef = order.TenantID
	}
	return ev, nil
}

// resolve decides the ledger status and the handler to run, if any.
func (d *Dispatcher) resolve(ev types.PaymentEvent) (types.LedgerStatus, Handler) {
	h, ok := d.handlers[ev.Kind]
	if !ok {
		return types.LedgerStatusIgnored, nil
	}
	if ev.Kind.RequiresSubject() && ev.SubjectRef == "" {
		return types.LedgerStatusUnlinked, nil
	}
	return types.LedgerStatusProcessed, h
}

func (d *Dispatcher) fail(ctx context.Context, ev types.PaymentEvent, start time.Time, logger *slog.Logger, err error) (Outcome, error) {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		err = types.NewAppError(types.ErrCodeInternalUnexpected, "event dispatch failed", err)
	}
	logger.ErrorContext(ctx, "event dispatch failed", "error", err)
	d.metrics.RecordDispatch(ctx, ev, OutcomeFailed, d.clock.Now().Sub(start))
	return OutcomeFailed, err
}

func outcomeFor(s types.LedgerStatus) Outcome {
	switch s {
	case types.LedgerStatusIgnored:
		return OutcomeIgnored
	case types.LedgerStatusUnlinked:
		return OutcomeUnlinked
	}
	return OutcomeProcessed
}
