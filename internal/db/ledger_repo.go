package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"paygate/internal/types"
)

// LedgerRepo is the idempotence ledger. (provider, provider_event_id) is the
// primary key of processed_events, so Insert is an atomic check-and-insert.
type LedgerRepo struct {
	db DBTX
}

func NewLedgerRepo(db DBTX) *LedgerRepo {
	return &LedgerRepo{db: db}
}

// Get returns the record for the event, or nil when it has not been seen.
func (r *LedgerRepo) Get(ctx context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error) {
	var rec types.ProcessedEventRecord
	err := r.db.QueryRow(ctx,
		`SELECT provider, provider_event_id, kind, status, processed_at
		 FROM processed_events
		 WHERE provider = $1 AND provider_event_id = $2`,
		provider, eventID,
	).Scan(&rec.Provider, &rec.ProviderEventID, &rec.Kind, &rec.Status, &rec.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read processed event", err)
	}
	return &rec, nil
}

// Insert records rec. It reports false, without error, when the event is
// already in the ledger.
func (r *LedgerRepo) Insert(ctx context.Context, rec types.ProcessedEventRecord) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO processed_events (provider, provider_event_id, kind, status, processed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (provider, provider_event_id) DO NOTHING`,
		rec.Provider, rec.ProviderEventID, rec.Kind, rec.Status, rec.ProcessedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert processed event", err)
	}
	return tag.RowsAffected() == 1, nil
}
