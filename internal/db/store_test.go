package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"paygate/internal/types"
)

func newTxStore(tx *mockTx) *PostgresStore {
	return NewPostgresStore(&fakePool{mockDBTX: new(mockDBTX), tx: tx}, plainCodec{}, nil)
}

func ledgerRecord() types.ProcessedEventRecord {
	return types.ProcessedEventRecord{
		Provider:        types.ProviderRazorpay,
		ProviderEventID: "evt_1",
		Kind:            types.EventPaymentCaptured,
		Status:          types.LedgerStatusProcessed,
		ProcessedAt:     time.Now(),
	}
}

func TestPostgresStore_RunInTx_CommitsOnSuccess(t *testing.T) {
	tx := new(mockTx)
	tx.On("Exec", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "INSERT INTO processed_events")
	}), mock.Anything).Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	tx.On("Commit", mock.Anything).Return(nil).Once()
	// pgx.BeginFunc always rolls back after commit; a closed tx reports ErrTxClosed.
	tx.On("Rollback", mock.Anything).Return(pgx.ErrTxClosed).Maybe()

	err := newTxStore(tx).RunInTx(context.Background(), func(ctx context.Context, stx Tx) error {
		inserted, err := stx.InsertProcessed(ctx, ledgerRecord())
		require.NoError(t, err)
		assert.True(t, inserted)
		return nil
	})
	require.NoError(t, err)
	tx.AssertExpectations(t)
}

func TestPostgresStore_RunInTx_RollsBackOnHandlerError(t *testing.T) {
	tx := new(mockTx)
	tx.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil).Once()
	tx.On("Rollback", mock.Anything).Return(nil)

	handlerErr := types.NewAppError(types.ErrCodeWebhookPayloadInvalid, "subscription event has no subscription id", nil)
	err := newTxStore(tx).RunInTx(context.Background(), func(ctx context.Context, stx Tx) error {
		if _, err := stx.InsertProcessed(ctx, ledgerRecord()); err != nil {
			return err
		}
		return handlerErr
	})

	assert.Same(t, handlerErr, err)
	tx.AssertCalled(t, "Rollback", mock.Anything)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestPostgresStore_RunInTx_PlainErrorStaysMatchable(t *testing.T) {
	sentinel := errors.New("event already recorded")
	tx := new(mockTx)
	tx.On("Rollback", mock.Anything).Return(nil)

	err := newTxStore(tx).RunInTx(context.Background(), func(context.Context, Tx) error {
		return sentinel
	})

	requireCode(t, err, types.ErrCodeInternalDB)
	assert.ErrorIs(t, err, sentinel)
	tx.AssertNotCalled(t, "Commit", mock.Anything)
}

func TestPostgresStore_RunInTx_CommitFailure(t *testing.T) {
	tx := new(mockTx)
	tx.On("Commit", mock.Anything).Return(errors.New("connection lost")).Once()
	tx.On("Rollback", mock.Anything).Return(nil).Maybe()

	err := newTxStore(tx).RunInTx(context.Background(), func(context.Context, Tx) error { return nil })
	requireCode(t, err, types.ErrCodeInternalDB)
}

func TestPostgresStore_RunInTx_BeginFailure(t *testing.T) {
	pool := &fakePool{mockDBTX: new(mockDBTX), beginErr: errors.New("pool exhausted")}
	called := false

	err := NewPostgresStore(pool, plainCodec{}, nil).RunInTx(context.Background(), func(context.Context, Tx) error {
		called = true
		return nil
	})
	requireCode(t, err, types.ErrCodeInternalDB)
	assert.False(t, called)
}

func TestPostgresStore_FindOrderByProviderRef(t *testing.T) {
	pool := &fakePool{mockDBTX: new(mockDBTX)}
	pool.On("QueryRow", mock.Anything, mock.MatchedBy(func(sql string) bool {
		return assert.Contains(t, sql, "WHERE provider = $1 AND provider_order_id = $2")
	}), []any{types.ProviderRazorpay, "order_1"}).Return(&mockRow{scanFn: func(dest ...any) error {
		*dest[0].(*string) = "o1"
		*dest[3].(*string) = "uid_7"
		*dest[9].(*[]byte) = []byte(`{"campaign":"winter"}`)
		return nil
	}}).Once()
	pool.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows}).Once()

	store := NewPostgresStore(pool, plainCodec{}, nil)
	order, err := store.FindOrderByProviderRef(context.Background(), types.ProviderRazorpay, "order_1")
	require.NoError(t, err)
	require.NotNil(t, order)
	assert.Equal(t, "uid_7", order.SubjectID)
	assert.Equal(t, "winter", order.Notes["campaign"])

	order, err = store.FindOrderByProviderRef(context.Background(), types.ProviderRazorpay, "order_missing")
	require.NoError(t, err)
	assert.Nil(t, order)
}
