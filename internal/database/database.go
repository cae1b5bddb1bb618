package database

import (
	"fmt"

	"portfolio-trader-go/internal/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// NewDatabase creates a new database connection and performs auto-migration.
func NewDatabase(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// AutoMigrate creates or updates the schema for all durable collections.
// Unlike a scratch bot database, holdings and balances are long-lived state,
// so existing tables are migrated in place and never dropped.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Instrument{},
		&models.AutoTradeSettings{},
		&models.Transaction{},
		&models.ProcessingStatus{},
		&models.SchedulingLogEntry{},
		&models.PriceBar{},
		&models.IndicatorSnapshot{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}
	return nil
}
