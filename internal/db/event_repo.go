package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"paygate/internal/types"
)

// PayloadCodec compresses raw webhook bodies at rest.
type PayloadCodec interface {
	Compress(data []byte) []byte
	Decompress(data []byte) ([]byte, error)
}

// EventRepo stores normalized events alongside their compressed raw body.
type EventRepo struct {
	db    DBTX
	codec PayloadCodec
}

func NewEventRepo(db DBTX, codec PayloadCodec) *EventRepo {
	return &EventRepo{db: db, codec: codec}
}

func (r *EventRepo) Save(ctx context.Context, ev types.PaymentEvent) error {
	var raw []byte
	if len(ev.RawPayload) > 0 {
		raw = r.codec.Compress(ev.RawPayload)
	}
	_, err := r.db.Exec(ctx,
		`INSERT INTO payment_events (
			provider, provider_event_id, kind, provider_type, amount, currency,
			subject_ref, tenant_ref, payment_ref, order_ref, subscription_ref,
			occurred_at, raw_payload_zstd
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		ev.Provider, ev.ProviderEventID, ev.Kind, ev.ProviderType, ev.Amount, ev.Currency,
		ev.SubjectRef, ev.TenantRef, ev.PaymentRef, ev.OrderRef, ev.SubscriptionRef,
		ev.OccurredAt, raw,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to save payment event", err)
	}
	return nil
}

// Get returns the stored event with its raw payload restored, or nil.
func (r *EventRepo) Get(ctx context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error) {
	var (
		ev  types.PaymentEvent
		raw []byte
	)
	err := r.db.QueryRow(ctx,
		`SELECT provider, provider_event_id, kind, provider_type, amount, currency,
			subject_ref, tenant_ref, payment_ref, order_ref, subscription_ref,
			occurred_at, raw_payload_zstd
		 FROM payment_events
		 WHERE provider = $1 AND provider_event_id = $2`,
		provider, eventID,
	).Scan(&ev.Provider, &ev.ProviderEventID, &ev.Kind, &ev.ProviderType, &ev.Amount, &ev.Currency,
		&ev.SubjectRef, &ev.TenantRef, &ev.PaymentRef, &ev.OrderRef, &ev.SubscriptionRef,
		&ev.OccurredAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read payment event", err)
	}
	if len(raw) > 0 {
		payload, err := r.codec.Decompress(raw)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "stored payload is corrupt", err)
		}
		ev.RawPayload = payload
	}
	return &ev, nil
}
