package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"payment-reconciliation-service/internal/models"
	"payment-reconciliation-service/internal/storage"
	apperrors "payment-reconciliation-service/pkg/errors"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := storage.OpenTest()
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))
	return NewService(db)
}

func deposit(userID, amount, reference string) ApplyRequest {
	return ApplyRequest{
		UserID:      userID,
		Amount:      decimal.RequireFromString(amount),
		Type:        models.TxDeposit,
		Description: "test deposit",
		Reference:   reference,
	}
}

func TestApplyCreatesWalletAndTransaction(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	result, err := s.Apply(ctx, deposit("user-1", "500.00", "DEP-1"))
	require.NoError(t, err)
	require.NotNil(t, result.Transaction)
	assert.False(t, result.AlreadyApplied)

	assert.True(t, result.Wallet.Balance.Equal(decimal.RequireFromString("500.00")))
	assert.True(t, result.Transaction.BalanceBefore.IsZero())
	assert.True(t, result.Transaction.BalanceAfter.Equal(decimal.RequireFromString("500.00")))
	assert.Equal(t, models.TxCompleted, result.Transaction.Status)

	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("500.00")))
}

func TestApplyIsIdempotentPerReference(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	first, err := s.Apply(ctx, deposit("user-1", "500.00", "DEP-1"))
	require.NoError(t, err)

	second, err := s.Apply(ctx, deposit("user-1", "500.00", "DEP-1"))
	require.NoError(t, err)
	assert.True(t, second.AlreadyApplied)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("500.00")),
		"replay must not move the balance, got %s", balance)
}

func TestDebitInsufficientBalance(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, deposit("user-1", "100.00", "DEP-1"))
	require.NoError(t, err)

	_, err = s.Debit(ctx, "user-1", decimal.RequireFromString("100.01"),
		models.TxGameEntry, "game entry")
	require.Error(t, err)
	assert.True(t, apperrors.IsInsufficientBalance(err))

	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("100.00")),
		"failed debit must leave no partial effect")

	transactions, total, err := s.History(ctx, "user-1", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, transactions, 1)
}

func TestDebitAndCredit(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	_, err := s.Apply(ctx, deposit("user-1", "200.00", "DEP-1"))
	require.NoError(t, err)

	debited, err := s.Debit(ctx, "user-1", decimal.RequireFromString("50.00"),
		models.TxGameEntry, "round 12 entry")
	require.NoError(t, err)
	assert.True(t, debited.Wallet.Balance.Equal(decimal.RequireFromString("150.00")))
	assert.True(t, debited.Transaction.Amount.IsNegative())

	credited, err := s.Credit(ctx, "user-1", decimal.RequireFromString("80.00"),
		models.TxWinning, "round 12 prize")
	require.NoError(t, err)
	assert.True(t, credited.Wallet.Balance.Equal(decimal.RequireFromString("230.00")))

	_, err = s.Debit(ctx, "user-1", decimal.RequireFromString("-5"), models.TxGameEntry, "bad")
	require.Error(t, err)
	_, err = s.Credit(ctx, "user-1", decimal.Zero, models.TxWinning, "bad")
	require.Error(t, err)
}

func TestGetBalanceWithoutWallet(t *testing.T) {
	s := newTestService(t)

	balance, err := s.GetBalance(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestGetOrCreateWallet(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	wallet, err := s.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.IsZero())
	assert.Equal(t, "ETB", wallet.Currency)

	again, err := s.GetOrCreateWallet(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, again.ID)
}

func TestHistoryPagination(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Apply(ctx, deposit("user-1", "10.00", fmt.Sprintf("DEP-%d", i)))
		require.NoError(t, err)
	}
	_, err := s.Apply(ctx, deposit("user-2", "99.00", "OTHER-1"))
	require.NoError(t, err)

	page1, total, err := s.History(ctx, "user-1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page1, 2)

	page3, _, err := s.History(ctx, "user-1", 3, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestPendingLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var pendingID string
	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.CreatePendingTx(tx, deposit("user-1", "300.00", "DEP-PEND"))
		if err != nil {
			return err
		}
		pendingID = pending.ID
		return nil
	}))

	// A pending deposit reserves the reference but moves no money.
	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	payeeID := "rec-payee-1"
	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		result, err := s.CompletePendingTx(tx, pendingID, "op-7", &payeeID)
		if err != nil {
			return err
		}
		assert.Equal(t, models.TxCompleted, result.Transaction.Status)
		assert.Equal(t, "op-7", result.Transaction.OperatorID)
		require.NotNil(t, result.Transaction.PayeeRecordID)
		assert.Equal(t, payeeID, *result.Transaction.PayeeRecordID)
		return nil
	}))

	balance, err = s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("300.00")))

	// Completing twice is a duplicate, not a double credit.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		_, err := s.CompletePendingTx(tx, pendingID, "op-7", nil)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsDuplicateReference(err))
}

func TestFailPending(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	var pendingID string
	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		pending, err := s.CreatePendingTx(tx, deposit("user-1", "300.00", "DEP-PEND"))
		if err != nil {
			return err
		}
		pendingID = pending.ID
		return nil
	}))

	require.NoError(t, s.db.Transaction(func(tx *gorm.DB) error {
		return s.FailPendingTx(tx, pendingID, "rejected")
	}))

	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())

	err = s.db.Transaction(func(tx *gorm.DB) error {
		return s.FailPendingTx(tx, pendingID, "rejected")
	})
	require.Error(t, err, "a transaction can only be failed while pending")
}

func TestConcurrentDeposits(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := s.Apply(ctx, deposit("user-1", "10.00", fmt.Sprintf("DEP-%d", n)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	balance, err := s.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("500.00")),
		"50 deposits of 10.00 must sum to 500.00, got %s", balance)

	_, total, err := s.History(ctx, "user-1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), total)
}
