package migrations

import (
	"github.com/ksred/klear-brokerage/internal/trading"
	"gorm.io/gorm"
)

// AddOrderIndexes creates the orders table and the indexes behind order listing
func AddOrderIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&trading.Order{}, &trading.IdempotencyRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Listing a customer's orders, newest first
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_created
		 ON orders(customer_id, created_at)`,

		// Status filter within a customer
		`CREATE INDEX IF NOT EXISTS idx_orders_customer_status
		 ON orders(customer_id, status)`,

		`CREATE INDEX IF NOT EXISTS idx_idempotency_records_expires_at
		 ON idempotency_records(expires_at)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}
