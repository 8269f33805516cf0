// Package testsupport opens throwaway databases for repository and service specs.
package testsupport

import (
	"io"
	"log/slog"

	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/billing"
	paymentmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/payment"
	"github.com/frahmantamala/payout-engine/internal/core/datamodel/recipient"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenSQLite returns an in-memory database with every payout table migrated. The pool is
// pinned to one connection so all callers see the same memory database.
func OpenSQLite() (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&recipient.Employee{},
		&recipient.Referrer{},
		&billing.Customer{},
		&billing.Subscription{},
		&billing.Service{},
		&paymentmodel.Batch{},
		&paymentmodel.Payment{},
		&paymentmodel.Retry{},
		&auditmodel.Event{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// Close releases the pool behind db.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Ptr[T any](v T) *T {
	return &v
}
