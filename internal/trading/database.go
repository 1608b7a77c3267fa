package trading

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/types"
	"gorm.io/gorm"
)

const idempotencyTTL = 24 * time.Hour

type Database struct {
	db     *gorm.DB
	assets *ledger.Database
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, assets: ledger.NewDatabase(db)}
}

// Assets exposes the asset store bound to the same connection or transaction
func (d *Database) Assets() *ledger.Database {
	return d.assets
}

// Transaction runs fn as one unit of work. Everything fn writes through the
// Database it receives commits together or not at all.
func (d *Database) Transaction(ctx context.Context, fn func(tx *Database) error) (err error) {
	tx := d.db.WithContext(ctx).Begin()
	if err := tx.Error; err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(&Database{db: tx, assets: d.assets.WithTx(tx)}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (d *Database) CreateOrder(ctx context.Context, order *Order) error {
	return d.db.WithContext(ctx).Create(order).Error
}

func (d *Database) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order Order
	if err := d.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrderStatus moves the order to status if its stored version is still
// the one that was read. A stale version yields a Conflict error.
func (d *Database) UpdateOrderStatus(ctx context.Context, order *Order, status types.OrderStatus) error {
	now := time.Now().UTC()
	result := d.db.WithContext(ctx).Model(&Order{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    order.Version + 1,
			"updated_at": now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update order %s: %w", order.OrderID, result.Error)
	}
	if result.RowsAffected == 0 {
		return types.Conflict(fmt.Sprintf("order %s", order.OrderID), nil)
	}

	order.Status = status
	order.Version++
	order.UpdatedAt = now
	return nil
}

func (d *Database) ListOrders(ctx context.Context, filter OrderFilter) ([]Order, int64, error) {
	query := d.db.WithContext(ctx).Model(&Order{}).Where("customer_id = ?", filter.CustomerID)
	if filter.Instrument != "" {
		query = query.Where("instrument = ?", filter.Instrument)
	}
	if filter.Side != "" {
		query = query.Where("side = ?", filter.Side)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Start != nil {
		query = query.Where("created_at >= ?", filter.Start.UTC())
	}
	if filter.End != nil {
		query = query.Where("created_at <= ?", filter.End.UTC())
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	var orders []Order
	if err := query.Order("created_at DESC").Order("id DESC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&orders).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

func (d *Database) CreateIdempotencyRecord(ctx context.Context, key, customerID, orderID string) error {
	record := IdempotencyRecord{
		IdempotencyKey: key,
		CustomerID:     customerID,
		ResourceID:     orderID,
		ResourceType:   "order",
		ExpiresAt:      time.Now().UTC().Add(idempotencyTTL),
	}
	if err := d.db.WithContext(ctx).Create(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return types.Conflict("idempotency key "+key, err)
		}
		return err
	}
	return nil
}

// GetIdempotencyRecord returns the live record for key, or nil if there is
// none. An expired record is removed so its key can be reused.
func (d *Database) GetIdempotencyRecord(ctx context.Context, key string) (*IdempotencyRecord, error) {
	var record IdempotencyRecord
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if record.ExpiresAt.Before(time.Now().UTC()) {
		if err := d.db.WithContext(ctx).Unscoped().Delete(&record).Error; err != nil {
			return nil, fmt.Errorf("failed to expire idempotency key %s: %w", key, err)
		}
		return nil, nil
	}
	return &record, nil
}

// PurgeExpiredIdempotencyRecords hard-deletes records past their expiry so
// their keys can be reused
func (d *Database) PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	result := d.db.WithContext(ctx).Unscoped().Where("expires_at < ?", now.UTC()).Delete(&IdempotencyRecord{})
	return result.RowsAffected, result.Error
}
