package balance

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/ledger"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/internal/testutil"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCustomers map[string]bool

func (f fakeCustomers) GetCustomer(_ context.Context, customerID string) (*auth.Customer, error) {
	if !f[customerID] {
		return nil, types.CustomerNotFound(customerID)
	}
	return &auth.Customer{CustomerID: customerID, Role: types.RoleUser}, nil
}

func newTestService(t *testing.T) (*Service, *metrics.Metrics) {
	t.Helper()
	db := testutil.OpenDB(t, &ledger.Asset{}, &AccountTransaction{})
	m := metrics.New(prometheus.NewRegistry())
	return NewService(db, fakeCustomers{"alice": true, "bob": true}, m), m
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cash(t *testing.T, s *Service, customerID string) ledger.Asset {
	t.Helper()
	p, err := s.db.Assets().LoadPortfolio(context.Background(), customerID)
	require.NoError(t, err)
	a, ok := p.Find(types.SettlementInstrument)
	require.True(t, ok, "no %s asset for %s", types.SettlementInstrument, customerID)
	return *a
}

func TestDepositThenWithdraw(t *testing.T) {
	ctx := context.Background()
	s, m := newTestService(t)

	res, err := s.ProcessCashMovement(ctx, "alice", d("250.50"), types.DirectionDeposit)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionApproved, res.Status)
	assert.True(t, res.PreviousAmount.IsZero())
	assert.True(t, res.CurrentAmount.Equal(d("250.5")))

	res, err = s.ProcessCashMovement(ctx, "alice", d("50.5"), types.DirectionWithdraw)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionApproved, res.Status)
	assert.True(t, res.PreviousAmount.Equal(d("250.5")))
	assert.True(t, res.CurrentAmount.Equal(d("200")))

	a := cash(t, s, "alice")
	assert.True(t, a.Size.Equal(d("200")))
	assert.True(t, a.UsableSize.Equal(d("200")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CashMovements.WithLabelValues("WITHDRAW", "APPROVED")))
}

func TestWithdrawMoreThanUsableIsJournaledAsCanceled(t *testing.T) {
	ctx := context.Background()
	s, m := newTestService(t)

	_, err := s.ProcessCashMovement(ctx, "bob", d("100"), types.DirectionDeposit)
	require.NoError(t, err)

	res, err := s.ProcessCashMovement(ctx, "bob", d("100.01"), types.DirectionWithdraw)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionCanceled, res.Status)
	assert.True(t, res.PreviousAmount.Equal(d("100")))
	assert.True(t, res.CurrentAmount.Equal(d("100")))

	a := cash(t, s, "bob")
	assert.True(t, a.Size.Equal(d("100")))
	assert.True(t, a.UsableSize.Equal(d("100")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.CashMovements.WithLabelValues("WITHDRAW", "CANCELED")))

	page, err := s.ListTransactions(ctx, TransactionFilter{CustomerID: "bob"})
	require.NoError(t, err)
	require.Equal(t, int64(2), page.Total)
	assert.Equal(t, types.TransactionCanceled, page.Transactions[0].Status)
	assert.Equal(t, types.DirectionWithdraw, page.Transactions[0].Direction)
}

func TestWithdrawWithoutCashAsset(t *testing.T) {
	s, _ := newTestService(t)

	res, err := s.ProcessCashMovement(context.Background(), "alice", d("1"), types.DirectionWithdraw)
	require.NoError(t, err)
	assert.Equal(t, types.TransactionCanceled, res.Status)
	assert.True(t, res.CurrentAmount.IsZero())

	p, err := s.db.Assets().LoadPortfolio(context.Background(), "alice")
	require.NoError(t, err)
	_, ok := p.Find(types.SettlementInstrument)
	assert.False(t, ok)
}

func TestProcessCashMovementValidation(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.ProcessCashMovement(ctx, "alice", d("0"), types.DirectionDeposit)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = s.ProcessCashMovement(ctx, "alice", d("-5"), types.DirectionWithdraw)
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = s.ProcessCashMovement(ctx, "alice", d("5"), "TRANSFER")
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = s.ProcessCashMovement(ctx, "carol", d("5"), types.DirectionDeposit)
	assert.ErrorIs(t, err, types.ErrCustomerNotFound)

	page, err := s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice"})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListTransactionsFilters(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	for _, amount := range []string{"10", "20", "30"} {
		_, err := s.ProcessCashMovement(ctx, "alice", d(amount), types.DirectionDeposit)
		require.NoError(t, err)
	}
	_, err := s.ProcessCashMovement(ctx, "alice", d("5"), types.DirectionWithdraw)
	require.NoError(t, err)

	page, err := s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice", Direction: types.DirectionDeposit})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)

	page, err = s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice", PageSize: 2, Page: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Len(t, page.Transactions, 2)

	_, err = s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice", Direction: "SIDEWAYS"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	page, err = s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice", Status: types.TransactionApproved})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)

	_, err = s.ListTransactions(ctx, TransactionFilter{CustomerID: "alice", Status: "PENDING"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)
}

func TestListAssets(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	_, err := s.ProcessCashMovement(ctx, "alice", d("10"), types.DirectionDeposit)
	require.NoError(t, err)

	page, err := s.ListAssets(ctx, ledger.AssetFilter{CustomerID: "alice"})
	require.NoError(t, err)
	require.Len(t, page.Assets, 1)
	assert.Equal(t, types.InstrumentTRY, page.Assets[0].Instrument)

	page, err = s.ListAssets(ctx, ledger.AssetFilter{CustomerID: "alice", Instrument: types.InstrumentUSD})
	require.NoError(t, err)
	assert.Empty(t, page.Assets)

	_, err = s.ListAssets(ctx, ledger.AssetFilter{CustomerID: "alice", Instrument: "DOGE"})
	assert.ErrorIs(t, err, types.ErrInvalidRequest)

	_, err = s.ListAssets(ctx, ledger.AssetFilter{CustomerID: "carol"})
	assert.ErrorIs(t, err, types.ErrCustomerNotFound)
}

func TestCashMovementHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, _ := newTestService(t)
	h := NewGinHandlers(s)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		auth.SetPrincipal(c, &auth.Claims{CustomerID: "alice", Role: types.RoleUser})
		c.Next()
	})
	r.POST("/balance/deposit/:customer_id", h.DepositHandler())
	r.POST("/balance/withdraw/:customer_id", h.WithdrawHandler())
	r.GET("/balance/transactions/:customer_id", h.TransactionsHandler())
	r.GET("/assets/:customer_id", h.AssetsHandler())

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	w := do(http.MethodPost, "/balance/deposit/alice", `{"amount":"75"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(http.MethodPost, "/balance/withdraw/alice", `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data CashMovementResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, types.TransactionCanceled, body.Data.Status)
	assert.True(t, body.Data.CurrentAmount.Equal(d("75")))

	w = do(http.MethodPost, "/balance/deposit/alice", `{"amount":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodPost, "/balance/deposit/bob", `{"amount":"1"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(http.MethodGet, "/balance/transactions/alice?status=CANCELED", "")
	require.Equal(t, http.StatusOK, w.Code)
	var txs struct {
		Data TransactionPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &txs))
	assert.Equal(t, int64(1), txs.Data.Total)

	w = do(http.MethodGet, "/assets/alice", "")
	require.Equal(t, http.StatusOK, w.Code)
	var assets struct {
		Data ledger.AssetPage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &assets))
	require.Len(t, assets.Data.Assets, 1)
	assert.True(t, assets.Data.Assets[0].UsableSize.Equal(d("75")))
}
