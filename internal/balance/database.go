package balance

import (
	"context"
	"fmt"

	"github.com/ksred/klear-brokerage/internal/ledger"
	"gorm.io/gorm"
)

type Database struct {
	db     *gorm.DB
	assets *ledger.Database
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, assets: ledger.NewDatabase(db)}
}

func (d *Database) Assets() *ledger.Database {
	return d.assets
}

// Transaction runs fn against a Database bound to a single transaction
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Database{db: tx, assets: d.assets.WithTx(tx)})
	})
}

func (d *Database) AppendTransaction(ctx context.Context, t *AccountTransaction) error {
	if err := d.db.WithContext(ctx).Create(t).Error; err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

func (d *Database) ListTransactions(ctx context.Context, filter TransactionFilter) ([]AccountTransaction, int64, error) {
	query := d.db.WithContext(ctx).Model(&AccountTransaction{}).Where("customer_id = ?", filter.CustomerID)
	if filter.Direction != "" {
		query = query.Where("direction = ?", filter.Direction)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count journal entries: %w", err)
	}

	var entries []AccountTransaction
	if err := query.Order("created_at DESC").Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list journal entries: %w", err)
	}
	return entries, total, nil
}
