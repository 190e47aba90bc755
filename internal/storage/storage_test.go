package storage

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"payment-reconciliation-service/internal/models"
)

func TestOpenTestIsolation(t *testing.T) {
	first, err := OpenTest()
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(first); err != nil {
		t.Fatal(err)
	}

	wallet := &models.Wallet{ID: "w-1", UserID: "user-1", Balance: decimal.Zero, Currency: "ETB"}
	if err := first.Create(wallet).Error; err != nil {
		t.Fatal(err)
	}

	second, err := OpenTest()
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(second); err != nil {
		t.Fatal(err)
	}

	var count int64
	if err := second.Model(&models.Wallet{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("databases leak between OpenTest calls: found %d rows", count)
	}
}

func TestUniqueConstraintTranslation(t *testing.T) {
	db, err := OpenTest()
	if err != nil {
		t.Fatal(err)
	}
	if err := Migrate(db); err != nil {
		t.Fatal(err)
	}

	makeTx := func(id string) *models.WalletTransaction {
		return &models.WalletTransaction{
			ID:            id,
			UserID:        "user-1",
			Type:          models.TxDeposit,
			Amount:        decimal.NewFromInt(10),
			BalanceBefore: decimal.Zero,
			BalanceAfter:  decimal.NewFromInt(10),
			Status:        models.TxCompleted,
			Reference:     "DEP-1",
		}
	}

	if err := db.Create(makeTx("t-1")).Error; err != nil {
		t.Fatal(err)
	}
	err = db.Create(makeTx("t-2")).Error
	if err == nil {
		t.Fatal("expected a unique constraint violation on the reference")
	}
	if !IsDuplicateKey(err) {
		t.Errorf("IsDuplicateKey(%v) = false, want true", err)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	if !IsDuplicateKey(gorm.ErrDuplicatedKey) {
		t.Error("gorm.ErrDuplicatedKey should be a duplicate key")
	}
	if !IsDuplicateKey(fmt.Errorf("UNIQUE constraint failed: wallet_transactions.reference")) {
		t.Error("sqlite unique violation text should be a duplicate key")
	}
	if IsDuplicateKey(fmt.Errorf("connection refused")) {
		t.Error("unrelated errors are not duplicate keys")
	}
	if IsDuplicateKey(nil) {
		t.Error("nil is not a duplicate key")
	}
}

func TestIsSerializationFailure(t *testing.T) {
	cases := []string{
		"ERROR: could not serialize access due to concurrent update (SQLSTATE 40001)",
		"ERROR: deadlock detected (SQLSTATE 40P01)",
		"database is locked",
	}
	for _, text := range cases {
		if !IsSerializationFailure(fmt.Errorf("%s", text)) {
			t.Errorf("IsSerializationFailure(%q) = false, want true", text)
		}
	}
	if IsSerializationFailure(fmt.Errorf("syntax error")) {
		t.Error("unrelated errors are not serialization failures")
	}
	if IsSerializationFailure(nil) {
		t.Error("nil is not a serialization failure")
	}
}
