// Package models defines the persisted entities of the reconciliation
// and ledger engine: submitted payment notifications, per-user wallets
// and the append-only transaction log that backs them.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NotificationRole classifies which side of a transfer a message
// describes: money leaving the submitter (payer) or money arriving at
// the collection account (payee).
type NotificationRole string

const (
	RolePayer   NotificationRole = "PAYER"
	RolePayee   NotificationRole = "PAYEE"
	RoleUnknown NotificationRole = "UNKNOWN"
)

// String returns the string representation of NotificationRole.
func (r NotificationRole) String() string {
	return string(r)
}

// IsValid checks if the role is one of the known values.
func (r NotificationRole) IsValid() bool {
	return r == RolePayer || r == RolePayee || r == RoleUnknown
}

// Opposite returns the counterpart role a record of this role can be
// matched against. UNKNOWN has no opposite.
func (r NotificationRole) Opposite() (NotificationRole, bool) {
	switch r {
	case RolePayer:
		return RolePayee, true
	case RolePayee:
		return RolePayer, true
	default:
		return RoleUnknown, false
	}
}

// RecordStatus is the lifecycle state of a NotificationRecord.
//
// RECEIVED -> WAITING_MATCH -> AUTO_MATCHED | APPROVED | REJECTED.
// CONFIRMED is the terminal state of the payee-side record of a
// resolved pair. Terminal rows are retained forever for audit.
type RecordStatus string

const (
	StatusReceived     RecordStatus = "RECEIVED"
	StatusWaitingMatch RecordStatus = "WAITING_MATCH"
	StatusAutoMatched  RecordStatus = "AUTO_MATCHED"
	StatusApproved     RecordStatus = "APPROVED"
	StatusConfirmed    RecordStatus = "CONFIRMED"
	StatusRejected     RecordStatus = "REJECTED"
)

// String returns the string representation of RecordStatus.
func (s RecordStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s RecordStatus) IsTerminal() bool {
	switch s {
	case StatusAutoMatched, StatusApproved, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// IsMatchable reports whether a record in this state may still be
// paired with a counterpart.
func (s RecordStatus) IsMatchable() bool {
	return s == StatusReceived || s == StatusWaitingMatch
}

// NotificationRecord is one submitted free-text payment message with
// whatever structured fields could be extracted from it. The raw text
// is stored verbatim and never modified; rows are never deleted.
type NotificationRecord struct {
	ID          string `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID      string `gorm:"type:varchar(36);index;not null" json:"user_id"`
	RawText     string `gorm:"type:text;not null" json:"raw_text"`
	ContentHash string `gorm:"size:64;uniqueIndex;not null" json:"content_hash"`
	Channel     string `gorm:"size:32;index" json:"channel"`

	// Extracted fields; each is best-effort and may be empty.
	Amount       decimal.NullDecimal `gorm:"type:decimal(20,2)" json:"amount"`
	Reference    string              `gorm:"size:64;index" json:"reference"`
	Counterparty string              `gorm:"size:128" json:"counterparty"`
	MessageTime  *time.Time          `json:"message_time,omitempty"`

	Role   NotificationRole `gorm:"size:8;index;not null" json:"role"`
	Status RecordStatus     `gorm:"size:16;index;not null" json:"status"`

	// Set when the record is resolved into a pair.
	MatchedRecordID     *string `gorm:"type:varchar(36)" json:"matched_record_id,omitempty"`
	LedgerTransactionID *string `gorm:"type:varchar(36)" json:"ledger_transaction_id,omitempty"`

	// Review fields consumed by the operator queue.
	RoleConfidence float64 `json:"role_confidence"`
	MatchScore     float64 `json:"match_score"`
	ReviewReason   string  `gorm:"size:255" json:"review_reason,omitempty"`
	OperatorID     string  `gorm:"size:36" json:"operator_id,omitempty"`

	// Debug holds free-form diagnostics that are never consumed
	// programmatically.
	Debug string `gorm:"type:text" json:"debug,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural invariants of the record.
func (n *NotificationRecord) Validate() error {
	if strings.TrimSpace(n.ID) == "" {
		return fmt.Errorf("record ID cannot be empty")
	}
	if strings.TrimSpace(n.UserID) == "" {
		return fmt.Errorf("record user ID cannot be empty")
	}
	if strings.TrimSpace(n.RawText) == "" {
		return fmt.Errorf("record raw text cannot be empty")
	}
	if !n.Role.IsValid() {
		return fmt.Errorf("invalid role: %s", n.Role)
	}
	if n.Status == StatusApproved || n.Status == StatusAutoMatched {
		if n.MatchedRecordID == nil {
			return fmt.Errorf("approved record %s has no matched counterpart", n.ID)
		}
		if n.LedgerTransactionID == nil {
			return fmt.Errorf("approved record %s has no ledger transaction", n.ID)
		}
	}
	return nil
}

// HasAmount reports whether an amount was extracted from the message.
func (n *NotificationRecord) HasAmount() bool {
	return n.Amount.Valid
}

// String returns a compact representation for logs.
func (n *NotificationRecord) String() string {
	amount := "?"
	if n.Amount.Valid {
		amount = n.Amount.Decimal.String()
	}
	return fmt.Sprintf("NotificationRecord{ID: %s, Role: %s, Status: %s, Amount: %s, Ref: %s}",
		n.ID, n.Role, n.Status, amount, n.Reference)
}

// ContentHash returns the idempotency key for a submitted message:
// the hex SHA-256 of the text with case and whitespace runs
// normalized, so re-sends of the same notification map to one record.
func ContentHash(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Wallet is one balance per user. The balance is only ever mutated by
// the ledger inside a database transaction; by construction it equals
// the sum of all COMPLETED transaction deltas for the user.
type Wallet struct {
	ID        string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID    string          `gorm:"type:varchar(36);uniqueIndex;not null" json:"user_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance"`
	Currency  string          `gorm:"size:3;not null;default:ETB" json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Validate checks wallet invariants.
func (w *Wallet) Validate() error {
	if strings.TrimSpace(w.UserID) == "" {
		return fmt.Errorf("wallet user ID cannot be empty")
	}
	if w.Balance.IsNegative() {
		return fmt.Errorf("wallet balance cannot be negative: %s", w.Balance)
	}
	if len(w.Currency) != 3 {
		return fmt.Errorf("currency code must be 3 characters: %q", w.Currency)
	}
	return nil
}

// TransactionType is the kind of balance change a ledger transaction
// represents.
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
	TxGameEntry  TransactionType = "GAME_ENTRY"
	TxWinning    TransactionType = "WINNING"
)

// String returns the string representation of TransactionType.
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is one of the known values.
func (t TransactionType) IsValid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxGameEntry, TxWinning:
		return true
	}
	return false
}

// TransactionStatus is the lifecycle state of a ledger transaction.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "PENDING"
	TxCompleted TransactionStatus = "COMPLETED"
	TxFailed    TransactionStatus = "FAILED"
)

// String returns the string representation of TransactionStatus.
func (s TransactionStatus) String() string {
	return string(s)
}

// WalletTransaction is one atomic balance change. Once COMPLETED it is
// immutable; balance_after is always balance_before + amount exactly.
type WalletTransaction struct {
	ID     string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID string          `gorm:"type:varchar(36);index;not null" json:"user_id"`
	Type   TransactionType `gorm:"size:16;index;not null" json:"type"`

	// Amount is signed: positive credits the wallet, negative debits it.
	Amount        decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_before"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"balance_after"`

	Status      TransactionStatus `gorm:"size:16;index;not null" json:"status"`
	Description string            `gorm:"size:255" json:"description"`

	// Reference is the external idempotency key: applying the same
	// reference twice never credits twice.
	Reference string `gorm:"size:128;uniqueIndex;not null" json:"reference"`

	// OperatorID is set when the transaction was produced by a manual
	// operator action.
	OperatorID string `gorm:"size:36" json:"operator_id,omitempty"`

	// Links back to the notification pair that produced a deposit.
	PayerRecordID *string `gorm:"type:varchar(36)" json:"payer_record_id,omitempty"`
	PayeeRecordID *string `gorm:"type:varchar(36)" json:"payee_record_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the balance arithmetic invariant and field presence.
func (t *WalletTransaction) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return fmt.Errorf("transaction user ID cannot be empty")
	}
	if !t.Type.IsValid() {
		return fmt.Errorf("invalid transaction type: %s", t.Type)
	}
	if t.Amount.IsZero() {
		return fmt.Errorf("transaction amount cannot be zero")
	}
	if strings.TrimSpace(t.Reference) == "" {
		return fmt.Errorf("transaction reference cannot be empty")
	}
	if !t.BalanceBefore.Add(t.Amount).Equal(t.BalanceAfter) {
		return fmt.Errorf("balance invariant violated: %s + %s != %s",
			t.BalanceBefore, t.Amount, t.BalanceAfter)
	}
	return nil
}

// String returns a compact representation for logs.
func (t *WalletTransaction) String() string {
	return fmt.Sprintf("WalletTransaction{ID: %s, User: %s, Type: %s, Amount: %s, Status: %s}",
		t.ID, t.UserID, t.Type, t.Amount, t.Status)
}
