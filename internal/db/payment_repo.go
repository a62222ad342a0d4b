package db

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"paygate/internal/types"
)

// OrderRepo persists orders created through the callable endpoint.
type OrderRepo struct {
	db DBTX
}

func NewOrderRepo(db DBTX) *OrderRepo {
	return &OrderRepo{db: db}
}

func (r *OrderRepo) Create(ctx context.Context, o *types.PaymentOrder) error {
	notes, err := json.Marshal(o.Notes)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode order notes", err)
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO payment_orders (
			id, provider, provider_order_id, subject_id, tenant_id, plan_id,
			amount, currency, receipt, notes, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.Provider, o.ProviderOrderID, o.SubjectID, o.TenantID, o.PlanID,
		o.Amount, o.Currency, o.Receipt, notes, o.Status, o.CreatedAt,
	)
	if isUniqueViolation(err) {
		return types.NewAppError(types.ErrCodeConflictDuplicate, "order already recorded", err)
	}
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create order", err)
	}
	return nil
}

const selectOrder = `SELECT id, provider, provider_order_id, subject_id, tenant_id, plan_id,
		amount, currency, receipt, notes, status, created_at
	 FROM payment_orders`

func (r *OrderRepo) Get(ctx context.Context, id string) (*types.PaymentOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, selectOrder+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundOrder, "order not found", nil)
	}
	return o, err
}

// GetByProviderRef looks an order up by the provider's order id. It returns
// nil, nil when no order matches.
func (r *OrderRepo) GetByProviderRef(ctx context.Context, provider types.Provider, providerOrderID string) (*types.PaymentOrder, error) {
	o, err := scanOrder(r.db.QueryRow(ctx,
		selectOrder+` WHERE provider = $1 AND provider_order_id = $2`,
		provider, providerOrderID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// scanOrder reads one order row. pgx.ErrNoRows is returned unwrapped.
func scanOrder(row pgx.Row) (*types.PaymentOrder, error) {
	var (
		o     types.PaymentOrder
		notes []byte
	)
	err := row.Scan(&o.ID, &o.Provider, &o.ProviderOrderID, &o.SubjectID, &o.TenantID, &o.PlanID,
		&o.Amount, &o.Currency, &o.Receipt, &notes, &o.Status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to read order", err)
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &o.Notes); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to decode order notes", err)
		}
	}
	return &o, nil
}

// MarkPaid flips a created order to paid. It reports whether an order
// matched; an unknown order is not an error since payments may arrive for
// orders created elsewhere.
func (r *OrderRepo) MarkPaid(ctx context.Context, provider types.Provider, providerOrderID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE payment_orders
		 SET status = $1, paid_at = $2
		 WHERE provider = $3 AND provider_order_id = $4 AND status = $5`,
		types.OrderStatusPaid, at, provider, providerOrderID, types.OrderStatusCreated,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to mark order paid", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PaymentRepo records captured payments. (provider, payment_ref) is unique so
// two events describing one capture produce one row.
type PaymentRepo struct {
	db DBTX
}

func NewPaymentRepo(db DBTX) *PaymentRepo {
	return &PaymentRepo{db: db}
}

func (r *PaymentRepo) Insert(ctx context.Context, p types.Payment) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO payments (
			id, provider, payment_ref, order_ref, subject_id, tenant_id, amount, currency, captured_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (provider, payment_ref) DO NOTHING`,
		p.ID, p.Provider, p.PaymentRef, p.OrderRef, p.SubjectID, p.TenantID, p.Amount, p.Currency, p.CapturedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment", err)
	}
	return tag.RowsAffected() == 1, nil
}
