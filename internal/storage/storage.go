// Package storage opens the database connection and owns schema
// migration for the persisted entities.
package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"payment-reconciliation-service/internal/models"
	apperrors "payment-reconciliation-service/pkg/errors"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured database. TranslateError is enabled
// so unique-constraint violations surface as gorm.ErrDuplicatedKey
// regardless of driver.
func Open(driver, dsn string) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch driver {
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(dsn), gormConfig)
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	default:
		return nil, apperrors.ConfigurationError("database.driver", nil).
			WithContext("driver", driver)
	}
	if err != nil {
		return nil, apperrors.StorageError("open database", err)
	}
	return db, nil
}

// Migrate creates or updates the schema for all persisted entities.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.Wallet{},
		&models.WalletTransaction{},
		&models.NotificationRecord{},
	)
	if err != nil {
		return apperrors.StorageError("migrate schema", err)
	}
	return nil
}

// OpenTest opens an in-memory SQLite database with migrations applied.
// Each call returns an isolated database; the shared cache keeps all
// pooled connections of one handle on the same memory store.
func OpenTest() (*gorm.DB, error) {
	name := fmt.Sprintf("file:testdb-%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := Open(DriverSQLite, name)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// IsDuplicateKey reports whether err is a unique-constraint violation.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value") {
		return true
	}
	return err == gorm.ErrDuplicatedKey || strings.Contains(err.Error(), gorm.ErrDuplicatedKey.Error())
}

// IsSerializationFailure reports whether err is a transient
// concurrency failure worth retrying: a serialization or deadlock
// abort on Postgres, a busy/locked database on SQLite.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
