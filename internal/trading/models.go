package trading

import (
	"time"

	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is a single order intent. Price is the total settlement currency
// amount for the whole order, not a per-unit price.
type Order struct {
	gorm.Model `json:"-"`
	OrderID    string            `gorm:"uniqueIndex;not null" json:"order_id"`
	CustomerID string            `gorm:"index;not null" json:"customer_id"`
	Instrument types.Instrument  `gorm:"not null" json:"instrument"`
	Side       types.Side        `gorm:"not null" json:"side"` // BUY or SELL
	Size       decimal.Decimal   `gorm:"type:text;not null" json:"size"`
	Price      decimal.Decimal   `gorm:"type:text;not null" json:"price"`
	Status     types.OrderStatus `gorm:"not null" json:"status"` // PENDING, CANCELED, MATCHED
	Version    int64             `gorm:"not null;default:1" json:"version"`
}

type IdempotencyRecord struct {
	gorm.Model
	IdempotencyKey string    `gorm:"uniqueIndex" json:"idempotency_key"`
	CustomerID     string    `json:"customer_id"`
	ResourceID     string    `json:"resource_id"`
	ResourceType   string    `json:"resource_type"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// CreateOrderRequest carries the fields of a new order
type CreateOrderRequest struct {
	CustomerID string           `json:"customer_id"`
	Instrument types.Instrument `json:"instrument"`
	Side       types.Side       `json:"side"`
	Size       decimal.Decimal  `json:"size"`
	Price      decimal.Decimal  `json:"price"`
}

// OrderView is the public representation of an order. Version is the token a
// client passes back as expected_version to guard cancel and match.
type OrderView struct {
	OrderID    string            `json:"order_id"`
	CustomerID string            `json:"customer_id"`
	Instrument types.Instrument  `json:"instrument"`
	Side       types.Side        `json:"side"`
	Size       decimal.Decimal   `json:"size"`
	Price      decimal.Decimal   `json:"price"`
	Status     types.OrderStatus `json:"status"`
	Version    int64             `json:"version"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

func NewOrderView(o *Order) *OrderView {
	return &OrderView{
		OrderID:    o.OrderID,
		CustomerID: o.CustomerID,
		Instrument: o.Instrument,
		Side:       o.Side,
		Size:       o.Size,
		Price:      o.Price,
		Status:     o.Status,
		Version:    o.Version,
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
}

// OrderFilter narrows ListOrders. Zero values mean "any".
type OrderFilter struct {
	CustomerID string
	Instrument types.Instrument
	Side       types.Side
	Status     types.OrderStatus
	Start      *time.Time
	End        *time.Time
	Page       int
	PageSize   int
}

type OrderPage struct {
	Orders   []*OrderView `json:"orders"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
	Total    int64        `json:"total"`
}
