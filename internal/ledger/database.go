package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ksred/klear-brokerage/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// WithTx returns a Database bound to an open transaction
func (d *Database) WithTx(tx *gorm.DB) *Database {
	return &Database{db: tx}
}

// LoadPortfolio reads every asset the customer holds
func (d *Database) LoadPortfolio(ctx context.Context, customerID string) (*Portfolio, error) {
	var assets []Asset
	if err := d.db.WithContext(ctx).Where("customer_id = ?", customerID).Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to load assets for customer %s: %w", customerID, err)
	}
	return NewPortfolio(customerID, assets), nil
}

// SaveAssets writes the given assets. New records are inserted; existing ones
// are updated only if their stored version still matches the one that was
// read, otherwise a Conflict error is returned and nothing is written for
// that asset.
func (d *Database) SaveAssets(ctx context.Context, assets ...*Asset) error {
	for _, a := range assets {
		if err := CheckInvariant(*a); err != nil {
			return err
		}
		if !a.Persisted() {
			a.Version = 1
			if err := d.db.WithContext(ctx).Create(a).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return types.Conflict(fmt.Sprintf("asset %s", a.Instrument), err)
				}
				return fmt.Errorf("failed to create asset %s: %w", a.Instrument, err)
			}
			continue
		}

		now := time.Now().UTC()
		result := d.db.WithContext(ctx).Model(&Asset{}).
			Where("id = ? AND version = ?", a.ID, a.Version).
			Updates(map[string]interface{}{
				"size":        a.Size,
				"usable_size": a.UsableSize,
				"version":     a.Version + 1,
				"updated_at":  now,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to update asset %s: %w", a.Instrument, result.Error)
		}
		if result.RowsAffected == 0 {
			return types.Conflict(fmt.Sprintf("asset %s", a.Instrument), nil)
		}
		a.Version++
		a.UpdatedAt = now
	}
	return nil
}

// ListAssets returns a page of a customer's assets, optionally filtered by instrument
func (d *Database) ListAssets(ctx context.Context, filter AssetFilter) (*AssetPage, error) {
	page, size := types.NormalizePage(filter.Page, filter.PageSize)

	query := d.db.WithContext(ctx).Model(&Asset{}).Where("customer_id = ?", filter.CustomerID)
	if filter.Instrument != "" {
		query = query.Where("instrument = ?", filter.Instrument)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count assets: %w", err)
	}

	assets := make([]Asset, 0)
	if err := query.Order("instrument ASC").
		Offset((page - 1) * size).
		Limit(size).
		Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}

	return &AssetPage{Assets: assets, Page: page, PageSize: size, Total: total}, nil
}

// ScanAssets walks every stored asset in batches
func (d *Database) ScanAssets(ctx context.Context, batchSize int, fn func([]Asset) error) error {
	var batch []Asset
	result := d.db.WithContext(ctx).Order("id").FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	})
	return result.Error
}
