package migrations

import (
	"github.com/ksred/klear-brokerage/internal/balance"
	"gorm.io/gorm"
)

// AddJournalIndexes creates the cash journal table and its listing index
func AddJournalIndexes(db *gorm.DB) error {
	if err := db.AutoMigrate(&balance.AccountTransaction{}); err != nil {
		return err
	}

	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_account_transactions_customer_created
		 ON account_transactions(customer_id, created_at)`).Error
}
