// Package ledger is the transactional wallet store: one balance per
// user plus an append-only log of balance changes.
//
// Every mutation runs inside a database transaction that locks the
// wallet row, writes the WalletTransaction and updates the balance
// together, so a crash can never separate the log from the balance.
// Deposits are idempotent per external reference: a unique constraint
// on the reference column combined with the atomic unit guarantees the
// same deposit is never credited twice. Concurrent writers that lose a
// row conflict are retried by the bounded policy in pkg/retry.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"payment-reconciliation-service/internal/models"
	"payment-reconciliation-service/internal/storage"
	apperrors "payment-reconciliation-service/pkg/errors"
	"payment-reconciliation-service/pkg/logger"
	"payment-reconciliation-service/pkg/retry"
)

// Service exposes atomic wallet operations.
type Service struct {
	db     *gorm.DB
	policy retry.Policy
	log    logger.Logger
}

// NewService creates a ledger service with the default retry policy.
func NewService(db *gorm.DB) *Service {
	return &Service{
		db:     db,
		policy: retry.DefaultPolicy(),
		log:    logger.WithComponent("ledger"),
	}
}

// ApplyRequest describes one balance change.
type ApplyRequest struct {
	UserID string
	// Amount is signed: positive credits, negative debits.
	Amount      decimal.Decimal
	Type        models.TransactionType
	Description string
	// Reference is the external idempotency key. A new unique key is
	// generated when empty.
	Reference  string
	OperatorID string

	PayerRecordID *string
	PayeeRecordID *string
}

// ApplyResult is the outcome of an Apply call.
type ApplyResult struct {
	Wallet      *models.Wallet
	Transaction *models.WalletTransaction
	// AlreadyApplied is set when the reference had been applied
	// before; Transaction then holds the original transaction and the
	// balance is unchanged.
	AlreadyApplied bool
}

// Apply atomically applies a signed balance change, retrying on write
// conflicts. A duplicate external reference is reported as
// already-applied, not as an error.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*ApplyResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	var result *ApplyResult
	err := retry.Do(ctx, s.policy, "ledger apply", func() error {
		return s.transact(ctx, func(tx *gorm.DB) error {
			var txErr error
			result, txErr = s.ApplyTx(tx, req)
			return txErr
		})
	})
	if err != nil {
		if apperrors.IsDuplicateReference(err) {
			existing, lookupErr := s.findByReference(ctx, req.Reference)
			if lookupErr != nil {
				return nil, lookupErr
			}
			s.log.WithField("reference", req.Reference).
				Info("duplicate reference treated as already applied")
			return &ApplyResult{Transaction: existing, AlreadyApplied: true}, nil
		}
		return nil, err
	}

	s.log.WithFields(logger.Fields{
		"user_id":     req.UserID,
		"type":        req.Type.String(),
		"amount":      req.Amount.String(),
		"transaction": result.Transaction.ID,
	}).Info("balance change applied")
	return result, nil
}

// ApplyTx applies a balance change inside a caller-owned database
// transaction. The reconciliation service uses it to keep the credit
// and the record-status updates in one atomic unit.
func (s *Service) ApplyTx(tx *gorm.DB, req ApplyRequest) (*ApplyResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	wallet, err := s.lockOrCreateWallet(tx, req.UserID)
	if err != nil {
		return nil, err
	}

	// The unique index on reference is the real guard; this check just
	// turns the common case into a typed error before the insert.
	var count int64
	if err := tx.Model(&models.WalletTransaction{}).
		Where("reference = ?", req.Reference).Count(&count).Error; err != nil {
		return nil, classify("reference lookup", err)
	}
	if count > 0 {
		return nil, apperrors.DuplicateReference(req.Reference)
	}

	after := wallet.Balance.Add(req.Amount)
	if after.IsNegative() {
		return nil, apperrors.InsufficientBalance(
			req.UserID, wallet.Balance.String(), req.Amount.Neg().String())
	}

	transaction := &models.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: wallet.Balance,
		BalanceAfter:  after,
		Status:        models.TxCompleted,
		Description:   req.Description,
		Reference:     req.Reference,
		OperatorID:    req.OperatorID,
		PayerRecordID: req.PayerRecordID,
		PayeeRecordID: req.PayeeRecordID,
	}
	if err := transaction.Validate(); err != nil {
		return nil, apperrors.InternalError("ledger apply", err)
	}

	if err := tx.Create(transaction).Error; err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, apperrors.DuplicateReference(req.Reference)
		}
		return nil, classify("transaction insert", err)
	}

	wallet.Balance = after
	if err := tx.Model(wallet).Update("balance", after).Error; err != nil {
		return nil, classify("balance update", err)
	}

	return &ApplyResult{Wallet: wallet, Transaction: transaction}, nil
}

// CreatePendingTx records a deposit awaiting approval. No balance
// change happens; the unique reference is reserved so the same deposit
// cannot be queued twice.
func (s *Service) CreatePendingTx(tx *gorm.DB, req ApplyRequest) (*models.WalletTransaction, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	transaction := &models.WalletTransaction{
		ID:            uuid.NewString(),
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		BalanceBefore: decimal.Zero,
		BalanceAfter:  req.Amount,
		Status:        models.TxPending,
		Description:   req.Description,
		Reference:     req.Reference,
		OperatorID:    req.OperatorID,
		PayerRecordID: req.PayerRecordID,
		PayeeRecordID: req.PayeeRecordID,
	}
	if err := tx.Create(transaction).Error; err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, apperrors.DuplicateReference(req.Reference)
		}
		return nil, classify("pending insert", err)
	}
	return transaction, nil
}

// CompletePendingTx transitions a PENDING transaction to COMPLETED and
// applies its amount to the wallet, inside the caller's transaction.
// The balance-before/after fields are fixed up at completion time,
// since the wallet balance may have moved while the deposit waited.
// payeeRecordID links the counterpart record when the deposit settled
// against one; it is nil for standalone approvals.
func (s *Service) CompletePendingTx(tx *gorm.DB, transactionID, operatorID string, payeeRecordID *string) (*ApplyResult, error) {
	var transaction models.WalletTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", transactionID).First(&transaction).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("transaction", transactionID)
		}
		return nil, classify("pending lookup", err)
	}

	if transaction.Status == models.TxCompleted {
		return nil, apperrors.DuplicateReference(transaction.Reference)
	}
	if transaction.Status != models.TxPending {
		return nil, apperrors.InternalError("complete pending",
			fmt.Errorf("transaction %s is %s, not PENDING", transactionID, transaction.Status))
	}

	wallet, err := s.lockOrCreateWallet(tx, transaction.UserID)
	if err != nil {
		return nil, err
	}

	after := wallet.Balance.Add(transaction.Amount)
	if after.IsNegative() {
		return nil, apperrors.InsufficientBalance(
			transaction.UserID, wallet.Balance.String(), transaction.Amount.Neg().String())
	}

	updates := map[string]interface{}{
		"status":         models.TxCompleted,
		"balance_before": wallet.Balance,
		"balance_after":  after,
	}
	if operatorID != "" {
		updates["operator_id"] = operatorID
	}
	if payeeRecordID != nil {
		updates["payee_record_id"] = *payeeRecordID
	}
	if err := tx.Model(&transaction).Updates(updates).Error; err != nil {
		return nil, classify("pending completion", err)
	}
	transaction.Status = models.TxCompleted
	transaction.BalanceBefore = wallet.Balance
	transaction.BalanceAfter = after
	if operatorID != "" {
		transaction.OperatorID = operatorID
	}
	if payeeRecordID != nil {
		transaction.PayeeRecordID = payeeRecordID
	}

	wallet.Balance = after
	if err := tx.Model(wallet).Update("balance", after).Error; err != nil {
		return nil, classify("balance update", err)
	}

	return &ApplyResult{Wallet: wallet, Transaction: &transaction}, nil
}

// FailPendingTx marks a PENDING transaction FAILED with no balance
// effect, releasing nothing but recording the outcome for audit.
func (s *Service) FailPendingTx(tx *gorm.DB, transactionID, reason string) error {
	result := tx.Model(&models.WalletTransaction{}).
		Where("id = ? AND status = ?", transactionID, models.TxPending).
		Updates(map[string]interface{}{
			"status":      models.TxFailed,
			"description": gorm.Expr("description || ?", " ("+reason+")"),
		})
	if result.Error != nil {
		return classify("pending failure", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.NotFound("pending transaction", transactionID)
	}
	return nil
}

// Credit applies a positive balance change for non-deposit flows
// (winnings, refunds) used by the game engine.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType, description string) (*ApplyResult, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CategoryLedger, apperrors.CodeInvalidAmount,
			"credit amount must be positive")
	}
	return s.Apply(ctx, ApplyRequest{
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
	})
}

// Debit applies a negative balance change (game entry fees,
// withdrawals). It fails with InsufficientBalance when the wallet
// cannot cover the amount, with no partial effect.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType, description string) (*ApplyResult, error) {
	if !amount.IsPositive() {
		return nil, apperrors.New(apperrors.CategoryLedger, apperrors.CodeInvalidAmount,
			"debit amount must be positive")
	}
	return s.Apply(ctx, ApplyRequest{
		UserID:      userID,
		Amount:      amount.Neg(),
		Type:        txType,
		Description: description,
	})
}

// GetBalance returns the user's balance; a user without a wallet has
// a zero balance rather than an error.
func (s *Service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return decimal.Zero, nil
		}
		return decimal.Zero, classify("balance lookup", err)
	}
	return wallet.Balance, nil
}

// GetOrCreateWallet fetches the user's wallet, initializing a zero
// balance on first touch.
func (s *Service) GetOrCreateWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.transact(ctx, func(tx *gorm.DB) error {
		var txErr error
		wallet, txErr = s.lockOrCreateWallet(tx, userID)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// History returns a page of the user's transactions, newest first,
// along with the total count.
func (s *Service) History(ctx context.Context, userID string, page, limit int) ([]models.WalletTransaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}

	query := s.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, classify("history count", err)
	}

	var transactions []models.WalletTransaction
	err := query.Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&transactions).Error
	if err != nil {
		return nil, 0, classify("history query", err)
	}
	return transactions, total, nil
}

// lockOrCreateWallet acquires the wallet row for update, creating a
// zero-balance wallet when the user has none yet. A create that loses
// a race to a concurrent first deposit is reported as a write conflict
// so the retry policy re-runs the whole unit.
func (s *Service) lockOrCreateWallet(tx *gorm.DB, userID string) (*models.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NotFound("user", userID)
	}

	var wallet models.Wallet
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).First(&wallet).Error
	if err == nil {
		return &wallet, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, classify("wallet lock", err)
	}

	wallet = models.Wallet{
		ID:       uuid.NewString(),
		UserID:   userID,
		Balance:  decimal.Zero,
		Currency: "ETB",
	}
	if err := tx.Create(&wallet).Error; err != nil {
		if storage.IsDuplicateKey(err) {
			return nil, apperrors.WriteConflict("wallet creation", err)
		}
		return nil, classify("wallet creation", err)
	}
	return &wallet, nil
}

func (s *Service) findByReference(ctx context.Context, reference string) (*models.WalletTransaction, error) {
	var transaction models.WalletTransaction
	err := s.db.WithContext(ctx).Where("reference = ?", reference).First(&transaction).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NotFound("transaction", reference)
		}
		return nil, classify("reference lookup", err)
	}
	return &transaction, nil
}

// transact runs fn inside a database transaction, classifying
// serialization failures so the retry policy can recognize them.
func (s *Service) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	if err != nil {
		return classify("ledger transaction", err)
	}
	return nil
}

// classify maps raw database errors into the typed taxonomy. Errors
// that are already typed pass through unchanged.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsReconcilerError(err); ok {
		return err
	}
	if storage.IsSerializationFailure(err) {
		return apperrors.WriteConflict(operation, err)
	}
	return apperrors.StorageError(operation, err)
}

// NewReference derives a fresh unique external reference for callers
// that have no natural one.
func NewReference(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func validateRequest(req *ApplyRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return apperrors.NotFound("user", req.UserID)
	}
	if !req.Type.IsValid() {
		return apperrors.New(apperrors.CategoryLedger, apperrors.CodeInvalidAmount,
			fmt.Sprintf("invalid transaction type: %s", req.Type))
	}
	if req.Amount.IsZero() {
		return apperrors.New(apperrors.CategoryLedger, apperrors.CodeInvalidAmount,
			"amount cannot be zero")
	}
	if strings.TrimSpace(req.Reference) == "" {
		req.Reference = NewReference("txn")
	}
	return nil
}
