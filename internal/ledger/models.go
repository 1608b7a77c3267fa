package ledger

import (
	"time"

	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/shopspring/decimal"
)

// Asset is one customer's balance in one instrument. Size is everything the
// customer owns or will own once pending orders settle; UsableSize is the part
// of it that can still be pledged to a new order or withdrawn.
type Asset struct {
	ID         uint             `gorm:"primaryKey" json:"id"`
	CustomerID string           `gorm:"not null;uniqueIndex:idx_assets_customer_instrument" json:"customer_id"`
	Instrument types.Instrument `gorm:"not null;uniqueIndex:idx_assets_customer_instrument" json:"instrument"`
	Size       decimal.Decimal  `gorm:"type:text;not null" json:"size"`
	UsableSize decimal.Decimal  `gorm:"type:text;not null" json:"usable_size"`
	Version    int64            `gorm:"not null;default:0" json:"version"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Persisted reports whether the asset has been written at least once
func (a *Asset) Persisted() bool {
	return a.ID != 0
}

// AssetFilter narrows ListAssets
type AssetFilter struct {
	CustomerID string
	Instrument types.Instrument
	Page       int
	PageSize   int
}

type AssetPage struct {
	Assets   []Asset `json:"assets"`
	Page     int     `json:"page"`
	PageSize int     `json:"page_size"`
	Total    int64   `json:"total"`
}
