package db

import (
	"context"
	"log/slog"

	"paygate/internal/types"
)

// SubscriptionRepo tracks provider subscriptions by their provider id.
//
// Writes carry the event time and only apply when newer than the stored
// row, so a late "created" delivery cannot reactivate a cancelled
// subscription.
type SubscriptionRepo struct {
	db     DBTX
	logger *slog.Logger
}

func NewSubscriptionRepo(db DBTX, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

// Upsert writes s. Empty subject and tenant never overwrite known values.
func (r *SubscriptionRepo) Upsert(ctx context.Context, s types.Subscription) error {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO subscriptions (provider, subscription_ref, subject_id, tenant_id, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (provider, subscription_ref) DO UPDATE
		 SET status = EXCLUDED.status,
		     subject_id = COALESCE(NULLIF(EXCLUDED.subject_id, ''), subscriptions.subject_id),
		     tenant_id = COALESCE(NULLIF(EXCLUDED.tenant_id, ''), subscriptions.tenant_id),
		     updated_at = EXCLUDED.updated_at
		 WHERE subscriptions.updated_at <= EXCLUDED.updated_at`,
		s.Provider, s.SubscriptionRef, s.SubjectID, s.TenantID, s.Status, s.UpdatedAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert subscription", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.InfoContext(ctx, "stale subscription event ignored",
			slog.String("subscription_ref", s.SubscriptionRef),
			slog.String("status", string(s.Status)),
			slog.Time("event_time", s.UpdatedAt),
		)
	}
	return nil
}
