package trading

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/ksred/klear-brokerage/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// CustomerLookup resolves a customer id to a stored customer
type CustomerLookup interface {
	GetCustomer(ctx context.Context, customerID string) (*auth.Customer, error)
}

// Service places, cancels and matches orders against customer assets
type Service struct {
	db        *Database
	customers CustomerLookup
	metrics   *metrics.Metrics
}

// NewService creates a new trading service with the given database connection
func NewService(gormDB *gorm.DB, customers CustomerLookup, m *metrics.Metrics) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		customers: customers,
		metrics:   m,
	}
}

// CreateOrder places a PENDING order and moves the customer's cash and
// instrument assets accordingly. A non-empty idempotency key replays the
// order previously created under it.
//
// When the asset to reserve is short, the order is stored as CANCELED, the
// assets are left untouched and an AssetNotEnough error is returned.
func (s *Service) CreateOrder(ctx context.Context, req CreateOrderRequest, idempotencyKey string) (*OrderView, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if _, err := s.customers.GetCustomer(ctx, req.CustomerID); err != nil {
		return nil, err
	}

	logger := log.With().
		Str("service", "trading").
		Str("customer_id", req.CustomerID).
		Str("instrument", string(req.Instrument)).
		Str("side", string(req.Side)).
		Logger()

	if idempotencyKey != "" {
		existing, err := s.replay(ctx, idempotencyKey, req.CustomerID)
		if err != nil || existing != nil {
			return existing, err
		}
	}

	order := &Order{
		OrderID:    uuid.New().String(),
		CustomerID: req.CustomerID,
		Instrument: req.Instrument,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
		Status:     types.OrderStatusPending,
		Version:    1,
	}

	var rejection error
	err := s.db.Transaction(ctx, func(tx *Database) error {
		portfolio, err := tx.Assets().LoadPortfolio(ctx, req.CustomerID)
		if err != nil {
			return err
		}
		cash := portfolio.GetOrCreate(types.SettlementInstrument)
		instrument := portfolio.GetOrCreate(req.Instrument)

		if err := apply(actionCreate, order, cash, instrument); err != nil {
			if !errors.Is(err, types.ErrAssetNotEnough) {
				return err
			}
			rejection = err
			order.Status = types.OrderStatusCanceled
			return tx.CreateOrder(ctx, order)
		}

		if err := tx.Assets().SaveAssets(ctx, cash, instrument); err != nil {
			return err
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if idempotencyKey != "" {
			return tx.CreateIdempotencyRecord(ctx, idempotencyKey, req.CustomerID, order.OrderID)
		}
		return nil
	})
	if err != nil {
		s.observeFailure(actionCreate, err)
		logger.Error().Err(err).Msg("Failed to create order")
		return nil, err
	}

	s.metrics.ObserveOrder(string(actionCreate), string(order.Side), string(order.Status))
	if rejection != nil {
		logger.Warn().Str("order_id", order.OrderID).Err(rejection).Msg("Order rejected")
		return nil, rejection
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("size", order.Size.String()).
		Str("price", order.Price.String()).
		Msg("Order created")
	return NewOrderView(order), nil
}

func (s *Service) replay(ctx context.Context, key, customerID string) (*OrderView, error) {
	record, err := s.db.GetIdempotencyRecord(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read idempotency key: %w", err)
	}
	if record == nil {
		return nil, nil
	}
	if record.CustomerID != customerID {
		return nil, types.Conflict("idempotency key "+key, nil)
	}

	existing, err := s.db.GetOrder(ctx, record.ResourceID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, types.OrderNotFound(record.ResourceID)
	}
	return NewOrderView(existing), nil
}

func validateCreate(req CreateOrderRequest) error {
	switch {
	case req.CustomerID == "":
		return types.InvalidRequest("customer_id is required")
	case !req.Instrument.Tradable():
		return types.InvalidRequest("instrument %q cannot be traded", req.Instrument)
	case !req.Side.Valid():
		return types.InvalidRequest("side must be BUY or SELL")
	case !req.Size.IsPositive():
		return types.InvalidRequest("size must be positive")
	case !req.Price.IsPositive():
		return types.InvalidRequest("price must be positive")
	}
	return nil
}

// CancelOrder cancels a PENDING order and reverses its asset movements.
// expectedVersion, when non-zero, must equal the order's current version.
func (s *Service) CancelOrder(ctx context.Context, orderID string, expectedVersion int64) (*OrderView, error) {
	return s.settle(ctx, actionCancel, orderID, expectedVersion)
}

// MatchOrder settles a PENDING order as a whole.
// expectedVersion, when non-zero, must equal the order's current version.
func (s *Service) MatchOrder(ctx context.Context, orderID string, expectedVersion int64) (*OrderView, error) {
	return s.settle(ctx, actionMatch, orderID, expectedVersion)
}

var finalStatus = map[action]types.OrderStatus{
	actionCancel: types.OrderStatusCanceled,
	actionMatch:  types.OrderStatusMatched,
}

func (s *Service) settle(ctx context.Context, a action, orderID string, expectedVersion int64) (*OrderView, error) {
	logger := log.With().
		Str("service", "trading").
		Str("action", string(a)).
		Str("order_id", orderID).
		Logger()

	var order *Order
	err := s.db.Transaction(ctx, func(tx *Database) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("failed to load order: %w", err)
		}
		if order == nil {
			return types.OrderNotFound(orderID)
		}
		if expectedVersion != 0 && expectedVersion != order.Version {
			return types.Conflict(fmt.Sprintf("order %s", orderID), nil)
		}
		if order.Status != types.OrderStatusPending {
			return types.OrderNotEligible(orderID, order.Status)
		}

		portfolio, err := tx.Assets().LoadPortfolio(ctx, order.CustomerID)
		if err != nil {
			return err
		}
		cash, err := portfolio.Require(types.SettlementInstrument)
		if err != nil {
			return err
		}
		instrument, err := portfolio.Require(order.Instrument)
		if err != nil {
			return err
		}

		if err := apply(a, order, cash, instrument); err != nil {
			return err
		}
		if err := tx.Assets().SaveAssets(ctx, cash, instrument); err != nil {
			return err
		}
		return tx.UpdateOrderStatus(ctx, order, finalStatus[a])
	})
	if err != nil {
		s.observeFailure(a, err)
		switch types.KindOf(err) {
		case types.KindOrderNotFound, types.KindOrderNotEligible, types.KindConflict:
			logger.Warn().Err(err).Msg("Order not settled")
		default:
			logger.Error().Err(err).Msg("Failed to settle order")
		}
		return nil, err
	}

	s.metrics.ObserveOrder(string(a), string(order.Side), string(order.Status))
	logger.Info().
		Str("customer_id", order.CustomerID).
		Str("status", string(order.Status)).
		Int64("version", order.Version).
		Msg("Order settled")
	return NewOrderView(order), nil
}

func (s *Service) observeFailure(a action, err error) {
	if errors.Is(err, types.ErrConflict) {
		s.metrics.IncConflict(string(a))
	}
}

// GetOrder retrieves an order by its ID
func (s *Service) GetOrder(ctx context.Context, orderID string) (*OrderView, error) {
	order, err := s.db.GetOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return nil, types.OrderNotFound(orderID)
	}
	return NewOrderView(order), nil
}

// ListOrders returns a page of a customer's orders, newest first
func (s *Service) ListOrders(ctx context.Context, filter OrderFilter) (*OrderPage, error) {
	if filter.CustomerID == "" {
		return nil, types.InvalidRequest("customer_id is required")
	}
	if filter.Instrument != "" && !filter.Instrument.Valid() {
		return nil, types.InvalidRequest("unknown instrument %q", filter.Instrument)
	}
	if filter.Side != "" && !filter.Side.Valid() {
		return nil, types.InvalidRequest("side must be BUY or SELL")
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, types.InvalidRequest("unknown order status %q", filter.Status)
	}
	if filter.Start != nil && filter.End != nil && filter.End.Before(*filter.Start) {
		return nil, types.InvalidRequest("end must not be before start")
	}
	filter.Page, filter.PageSize = types.NormalizePage(filter.Page, filter.PageSize)

	orders, total, err := s.db.ListOrders(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]*OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, NewOrderView(&orders[i]))
	}
	return &OrderPage{Orders: views, Page: filter.Page, PageSize: filter.PageSize, Total: total}, nil
}

// PurgeIdempotencyKeys removes idempotency records that have expired
func (s *Service) PurgeIdempotencyKeys(ctx context.Context) (int64, error) {
	return s.db.PurgeExpiredIdempotencyRecords(ctx, time.Now().UTC())
}

// MatchPolicy decides who may match an order
type MatchPolicy string

const (
	// MatchPolicyOpen lets any authenticated caller match any order
	MatchPolicyOpen MatchPolicy = "open"
	// MatchPolicyOwner restricts matching to the order's owner and admins
	MatchPolicyOwner MatchPolicy = "owner"
	// MatchPolicyAdmin restricts matching to admins
	MatchPolicyAdmin MatchPolicy = "admin"
)

func ParseMatchPolicy(s string) (MatchPolicy, error) {
	switch p := MatchPolicy(s); p {
	case MatchPolicyOpen, MatchPolicyOwner, MatchPolicyAdmin:
		return p, nil
	case "":
		return MatchPolicyOpen, nil
	default:
		return "", fmt.Errorf("unknown match policy %q", s)
	}
}

// GinHandlers contains HTTP handlers for trading endpoints
type GinHandlers struct {
	service     *Service
	matchPolicy MatchPolicy
}

// NewGinHandlers creates a new set of HTTP handlers for trading endpoints
func NewGinHandlers(service *Service, matchPolicy MatchPolicy) *GinHandlers {
	return &GinHandlers{
		service:     service,
		matchPolicy: matchPolicy,
	}
}

// CreateOrderHandler handles POST requests to create new orders.
// customer_id defaults to the authenticated customer. An optional
// Idempotency-Key header makes retries return the first order created with it.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}
		if req.CustomerID == "" {
			req.CustomerID = auth.CurrentCustomerID(c)
		}
		if !auth.AuthorizeCustomer(c, req.CustomerID) {
			return
		}

		order, err := h.service.CreateOrder(c.Request.Context(), req, c.GetHeader("Idempotency-Key"))
		response.Handle(c, order, err)
	}
}

// GetOrderHandler returns one order to its owner or an admin
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Request.Context(), c.Param("order_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if !auth.AuthorizeCustomer(c, order.CustomerID) {
			return
		}
		response.OK(c, order)
	}
}

type listOrdersQuery struct {
	CustomerID string     `form:"customer_id"`
	Instrument string     `form:"instrument"`
	Side       string     `form:"side"`
	Status     string     `form:"status"`
	Start      *time.Time `form:"start" time_format:"2006-01-02T15:04:05Z07:00"`
	End        *time.Time `form:"end" time_format:"2006-01-02T15:04:05Z07:00"`
	Page       int        `form:"page"`
	PageSize   int        `form:"page_size"`
}

// ListOrdersHandler handles GET requests listing a customer's orders
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var q listOrdersQuery
		if err := c.ShouldBindQuery(&q); err != nil {
			response.BadRequest(c, "Invalid query parameters")
			return
		}
		if q.CustomerID == "" {
			q.CustomerID = auth.CurrentCustomerID(c)
		}
		if !auth.AuthorizeCustomer(c, q.CustomerID) {
			return
		}

		page, err := h.service.ListOrders(c.Request.Context(), OrderFilter{
			CustomerID: q.CustomerID,
			Instrument: types.Instrument(q.Instrument),
			Side:       types.Side(q.Side),
			Status:     types.OrderStatus(q.Status),
			Start:      q.Start,
			End:        q.End,
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

// CancelOrderHandler handles DELETE requests canceling a PENDING order.
// The optional expected_version query parameter guards against stale reads.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		version, ok := expectedVersion(c)
		if !ok {
			return
		}

		order, err := h.service.GetOrder(c.Request.Context(), orderID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if !auth.AuthorizeCustomer(c, order.CustomerID) {
			return
		}

		canceled, err := h.service.CancelOrder(c.Request.Context(), orderID, version)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, canceled)
	}
}

// MatchOrderHandler handles PUT requests settling a PENDING order. Who may
// call it depends on the configured MatchPolicy.
func (h *GinHandlers) MatchOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		version, ok := expectedVersion(c)
		if !ok {
			return
		}

		switch h.matchPolicy {
		case MatchPolicyAdmin:
			if !auth.RequireAdmin(c) {
				return
			}
		case MatchPolicyOwner:
			order, err := h.service.GetOrder(c.Request.Context(), orderID)
			if err != nil {
				response.Handle(c, nil, err)
				return
			}
			if !auth.AuthorizeCustomer(c, order.CustomerID) {
				return
			}
		}

		matched, err := h.service.MatchOrder(c.Request.Context(), orderID, version)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, matched)
	}
}

func expectedVersion(c *gin.Context) (int64, bool) {
	raw := c.Query("expected_version")
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		response.BadRequest(c, "expected_version must be a positive integer")
		return 0, false
	}
	return v, true
}
