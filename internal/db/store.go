package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"paygate/internal/types"
)

// Tx is the set of writes available inside a dispatch transaction.
type Tx interface {
	InsertProcessed(ctx context.Context, rec types.ProcessedEventRecord) (bool, error)
	SaveEvent(ctx context.Context, ev types.PaymentEvent) error
	InsertPayment(ctx context.Context, p types.Payment) (bool, error)
	MarkOrderPaid(ctx context.Context, provider types.Provider, providerOrderID string, at time.Time) (bool, error)
	UpsertSubscription(ctx context.Context, s types.Subscription) error
}

// Store is the persistence boundary used by the dispatcher and handlers.
type Store interface {
	GetProcessed(ctx context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error)
	GetEvent(ctx context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error)
	CreateOrder(ctx context.Context, o *types.PaymentOrder) error
	GetOrder(ctx context.Context, id string) (*types.PaymentOrder, error)
	// FindOrderByProviderRef returns nil, nil when no order matches.
	FindOrderByProviderRef(ctx context.Context, provider types.Provider, providerOrderID string) (*types.PaymentOrder, error)

	// RunInTx runs fn in one transaction. A non-nil error from fn rolls back
	// every write fn made.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool   TxBeginner
	codec  PayloadCodec
	logger *slog.Logger
}

func NewPostgresStore(pool TxBeginner, codec PayloadCodec, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{pool: pool, codec: codec, logger: logger}
}

func (s *PostgresStore) GetProcessed(ctx context.Context, provider types.Provider, eventID string) (*types.ProcessedEventRecord, error) {
	return NewLedgerRepo(s.pool).Get(ctx, provider, eventID)
}

func (s *PostgresStore) GetEvent(ctx context.Context, provider types.Provider, eventID string) (*types.PaymentEvent, error) {
	return NewEventRepo(s.pool, s.codec).Get(ctx, provider, eventID)
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *types.PaymentOrder) error {
	return NewOrderRepo(s.pool).Create(ctx, o)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*types.PaymentOrder, error) {
	return NewOrderRepo(s.pool).Get(ctx, id)
}

func (s *PostgresStore) FindOrderByProviderRef(ctx context.Context, provider types.Provider, providerOrderID string) (*types.PaymentOrder, error) {
	return NewOrderRepo(s.pool).GetByProviderRef(ctx, provider, providerOrderID)
}

func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgStoreTx{
			ledger:   NewLedgerRepo(tx),
			events:   NewEventRepo(tx, s.codec),
			orders:   NewOrderRepo(tx),
			payments: NewPaymentRepo(tx),
			subs:     NewSubscriptionRepo(tx, s.logger),
		})
	})
	if err == nil {
		return nil
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	// Begin or commit failed; handler errors are already AppErrors.
	return types.NewAppError(types.ErrCodeInternalDB, "transaction failed", err)
}

type pgStoreTx struct {
	ledger   *LedgerRepo
	events   *EventRepo
	orders   *OrderRepo
	payments *PaymentRepo
	subs     *SubscriptionRepo
}

func (t *pgStoreTx) InsertProcessed(ctx context.Context, rec types.ProcessedEventRecord) (bool, error) {
	return t.ledger.Insert(ctx, rec)
}

func (t *pgStoreTx) SaveEvent(ctx context.Context, ev types.PaymentEvent) error {
	return t.events.Save(ctx, ev)
}

func (t *pgStoreTx) InsertPayment(ctx context.Context, p types.Payment) (bool, error) {
	return t.payments.Insert(ctx, p)
}

func (t *pgStoreTx) MarkOrderPaid(ctx context.Context, provider types.Provider, providerOrderID string, at time.Time) (bool, error) {
	return t.orders.MarkPaid(ctx, provider, providerOrderID, at)
}

func (t *pgStoreTx) UpsertSubscription(ctx context.Context, sub types.Subscription) error {
	return t.subs.Upsert(ctx, sub)
}

var _ Store = (*PostgresStore)(nil)
