package balance

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/ksred/klear-brokerage/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (*auth.Customer, error)
}

// Service moves cash in and out of a customer's settlement currency asset and
// keeps the journal of every attempt
type Service struct {
	db        *Database
	customers CustomerLookup
	metrics   *metrics.Metrics
}

func NewService(gormDB *gorm.DB, customers CustomerLookup, m *metrics.Metrics) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		customers: customers,
		metrics:   m,
	}
}

// ProcessCashMovement deposits or withdraws amount. A withdrawal larger than
// the usable amount is not an error: it is journaled as CANCELED and leaves
// the asset unchanged.
func (s *Service) ProcessCashMovement(ctx context.Context, customerID string, amount decimal.Decimal, direction types.Direction) (*CashMovementResult, error) {
	if !direction.Valid() {
		return nil, types.InvalidRequest("direction must be DEPOSIT or WITHDRAW")
	}
	if !amount.IsPositive() {
		return nil, types.InvalidRequest("amount must be positive")
	}
	if _, err := s.customers.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "balance").
		Str("customer_id", customerID).
		Str("direction", string(direction)).
		Str("amount", amount.String()).
		Logger()

	entry := &AccountTransaction{
		TransactionID: uuid.New().String(),
		CustomerID:    customerID,
		Amount:        amount,
		Direction:     direction,
	}
	result := &CashMovementResult{TransactionID: entry.TransactionID, CustomerID: customerID}

	err := s.db.Transaction(ctx, func(tx *Database) error {
		portfolio, err := tx.Assets().LoadPortfolio(ctx, customerID)
		if err != nil {
			return err
		}
		cash := portfolio.GetOrCreate(types.SettlementInstrument)
		result.PreviousAmount = cash.UsableSize

		next, err := move(*cash, amount, direction)
		switch {
		case errors.Is(err, ledger.ErrInsufficientUsable):
			entry.Status = types.TransactionCanceled
		case err != nil:
			return err
		default:
			entry.Status = types.TransactionApproved
			*cash = next
			if err := tx.Assets().SaveAssets(ctx, cash); err != nil {
				return err
			}
		}

		result.CurrentAmount = cash.UsableSize
		result.Status = entry.Status
		return tx.AppendTransaction(ctx, entry)
	})
	if err != nil {
		if errors.Is(err, types.ErrConflict) {
			s.metrics.IncConflict("cash_" + string(direction))
		}
		logger.Error().Err(err).Msg("Failed to process cash movement")
		return nil, err
	}

	s.metrics.ObserveCashMovement(string(direction), string(result.Status))
	event := logger.Info()
	if result.Status == types.TransactionCanceled {
		event = logger.Warn()
	}
	event.
		Str("status", string(result.Status)).
		Str("previous_amount", result.PreviousAmount.String()).
		Str("current_amount", result.CurrentAmount.String()).
		Msg("Cash movement processed")
	return result, nil
}

func move(a ledger.Asset, amount decimal.Decimal, direction types.Direction) (ledger.Asset, error) {
	if direction == types.DirectionDeposit {
		return ledger.Deposit(a, amount)
	}
	return ledger.Withdraw(a, amount)
}

// ListTransactions returns a page of a customer's journal, newest first
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) (*TransactionPage, error) {
	if filter.CustomerID == "" {
		return nil, types.InvalidRequest("customer_id is required")
	}
	if filter.Direction != "" && !filter.Direction.Valid() {
		return nil, types.InvalidRequest("direction must be DEPOSIT or WITHDRAW")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.InvalidRequest("unknown transaction status %q", filter.Status)
	}
	filter.Page, filter.PageSize = types.NormalizePage(filter.Page, filter.PageSize)

	entries, total, err := s.db.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]*TransactionView, 0, len(entries))
	for i := range entries {
		views = append(views, NewTransactionView(&entries[i]))
	}
	return &TransactionPage{Transactions: views, Page: filter.Page, PageSize: filter.PageSize, Total: total}, nil
}

// ListAssets returns a page of the customer's assets
func (s *Service) ListAssets(ctx context.Context, filter ledger.AssetFilter) (*ledger.AssetPage, error) {
	if filter.Instrument != "" && !filter.Instrument.Valid() {
		return nil, types.InvalidRequest("unknown instrument %q", filter.Instrument)
	}
	if _, err := s.customers.GetCustomer(ctx, filter.CustomerID); err != nil {
		return nil, err
	}
	return s.db.Assets().ListAssets(ctx, filter)
}

// GinHandlers contains HTTP handlers for balance and asset endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// DepositHandler handles POST /balance/deposit/:customer_id
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return h.cashMovement(types.DirectionDeposit)
}

// WithdrawHandler handles POST /balance/withdraw/:customer_id
func (h *GinHandlers) WithdrawHandler() gin.HandlerFunc {
	return h.cashMovement(types.DirectionWithdraw)
}

func (h *GinHandlers) cashMovement(direction types.Direction) gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Param("customer_id")
		if !auth.AuthorizeCustomer(c, customerID) {
			return
		}

		var req CashMovementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		result, err := h.service.ProcessCashMovement(c.Request.Context(), customerID, req.Amount, direction)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, result)
	}
}

// TransactionsHandler lists the journal of the customer in the path
func (h *GinHandlers) TransactionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Param("customer_id")
		if !auth.AuthorizeCustomer(c, customerID) {
			return
		}

		var q struct {
			Direction string `form:"direction"`
			Status    string `form:"status"`
			Page      int    `form:"page"`
			PageSize  int    `form:"page_size"`
		}
		if err := c.ShouldBindQuery(&q); err != nil {
			response.BadRequest(c, "Invalid query parameters")
			return
		}

		page, err := h.service.ListTransactions(c.Request.Context(), TransactionFilter{
			CustomerID: customerID,
			Direction:  types.Direction(q.Direction),
			Status:     types.TransactionStatus(q.Status),
			Page:       q.Page,
			PageSize:   q.PageSize,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, page)
	}
}

// AssetsHandler lists the assets of the customer in the path
func (h *GinHandlers) AssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customerID := c.Param("customer_id")
		if !auth.AuthorizeCustomer(c, customerID) {
			return
		}

		var q struct {
			Instrument string `form:"instrument"`
			Page       int    `form:"page"`
			PageSize   int    `form:"page_size"`
		}
		if err := c.ShouldBindQuery(&q); err != nil {
			response.BadRequest(c, "Invalid query parameters")
			return
		}

		page, err := h.service.ListAssets(c.Request.Context(), ledger.AssetFilter{
			CustomerID: customerID,
			Instrument: types.Instrument(q.Instrument),
			Page:       q.Page,
			PageSize:   q.PageSize,
		})
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, page)
	}
}
