package balance

import (
	"time"

	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountTransaction is one journal entry for a deposit or withdrawal
// attempt. Rejected attempts are kept with status CANCELED.
type AccountTransaction struct {
	gorm.Model    `json:"-"`
	TransactionID string                  `gorm:"uniqueIndex;not null" json:"transaction_id"`
	CustomerID    string                  `gorm:"index;not null" json:"customer_id"`
	Amount        decimal.Decimal         `gorm:"type:text;not null" json:"amount"`
	Direction     types.Direction         `gorm:"not null" json:"direction"`
	Status        types.TransactionStatus `gorm:"not null" json:"status"`
}

type CashMovementRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// CashMovementResult reports the settlement currency usable amount before and
// after a movement
type CashMovementResult struct {
	TransactionID  string                  `json:"transaction_id"`
	CustomerID     string                  `json:"customer_id"`
	PreviousAmount decimal.Decimal         `json:"previous_amount"`
	CurrentAmount  decimal.Decimal         `json:"current_amount"`
	Status         types.TransactionStatus `json:"status"`
}

type TransactionView struct {
	TransactionID string                  `json:"transaction_id"`
	CustomerID    string                  `json:"customer_id"`
	Amount        decimal.Decimal         `json:"amount"`
	Direction     types.Direction         `json:"direction"`
	Status        types.TransactionStatus `json:"status"`
	CreatedAt     time.Time               `json:"created_at"`
}

func NewTransactionView(t *AccountTransaction) *TransactionView {
	return &TransactionView{
		TransactionID: t.TransactionID,
		CustomerID:    t.CustomerID,
		Amount:        t.Amount,
		Direction:     t.Direction,
		Status:        t.Status,
		CreatedAt:     t.CreatedAt,
	}
}

type TransactionFilter struct {
	CustomerID string
	Direction  types.Direction
	Status     types.TransactionStatus
	Page       int
	PageSize   int
}

type TransactionPage struct {
	Transactions []*TransactionView `json:"transactions"`
	Page         int                `json:"page"`
	PageSize     int                `json:"page_size"`
	Total        int64              `json:"total"`
}
