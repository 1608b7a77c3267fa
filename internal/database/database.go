package database

import (
	"fmt"
	"time"

	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/config"
	"github.com/ksred/klear-brokerage/internal/database/migrations"
	"github.com/ksred/klear-brokerage/internal/ledger"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the configured database and brings its schema up to date
func NewDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows a single writer
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the index migrations and auto-migrates every model
func Migrate(db *gorm.DB) error {
	if err := migrations.AddOrderIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := migrations.AddJournalIndexes(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return db.AutoMigrate(
		&auth.Customer{},
		&auth.RevokedToken{},
		&ledger.Asset{},
	)
}
