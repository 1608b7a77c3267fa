package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/config"
	"github.com/ksred/klear-brokerage/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, policy string) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		HTTP:     config.HTTPConfig{Port: 8080},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "klear.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour},
		Trading:  config.TradingConfig{MatchPolicy: policy},
		Metrics:  config.MetricsConfig{Path: "/metrics"},
	}
	db, err := database.NewDatabase(cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	s, err := New(db, cfg)
	require.NoError(t, err)
	return s
}

type client struct {
	t      *testing.T
	router http.Handler
	token  string
}

func (c *client) do(method, path string, body interface{}, out interface{}) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)

	if out != nil {
		var env struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(c.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
		if len(env.Data) > 0 {
			require.NoError(c.t, json.Unmarshal(env.Data, out))
		}
	}
	return w.Code
}

type token struct {
	Token      string `json:"jwt_token"`
	CustomerID string `json:"customer_id"`
}

func register(t *testing.T, s *Server, name string) (*client, string) {
	t.Helper()
	c := &client{t: t, router: s.Router}
	var tok token
	code := c.do(http.MethodPost, "/api/v1/auth/register", map[string]string{
		"name": name, "email": name + "@example.com", "password": "correct horse",
	}, &tok)
	require.Equal(t, http.StatusCreated, code)
	c.token = tok.Token
	return c, tok.CustomerID
}

type orderView struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Version int64  `json:"version"`
}

type assetPage struct {
	Assets []struct {
		Instrument string `json:"instrument"`
		Size       string `json:"size"`
		UsableSize string `json:"usable_size"`
	} `json:"assets"`
}

func holdings(t *testing.T, c *client, customerID string) map[string][2]string {
	t.Helper()
	var page assetPage
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v1/assets/"+customerID, nil, &page))
	out := make(map[string][2]string, len(page.Assets))
	for _, a := range page.Assets {
		out[a.Instrument] = [2]string{a.Size, a.UsableSize}
	}
	return out
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t, "open")
	alice, aliceID := register(t, s, "alice")

	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/api/v1/balance/deposit/"+aliceID, map[string]string{"amount": "1000"}, nil))

	var order orderView
	code := alice.do(http.MethodPost, "/api/v1/orders", map[string]string{
		"instrument": "XAU", "side": "BUY", "size": "0.5", "price": "400",
	}, &order)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "PENDING", order.Status)

	h := holdings(t, alice, aliceID)
	assert.Equal(t, [2]string{"1000", "600"}, h["TRY"])
	assert.Equal(t, [2]string{"0.5", "0"}, h["XAU"])

	var matched orderView
	code = alice.do(http.MethodPut, "/api/v1/orders/"+order.OrderID+"/match?expected_version=1", nil, &matched)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "MATCHED", matched.Status)
	assert.Equal(t, int64(2), matched.Version)

	h = holdings(t, alice, aliceID)
	assert.Equal(t, [2]string{"600", "600"}, h["TRY"])
	assert.Equal(t, [2]string{"0.5", "0.5"}, h["XAU"])

	assert.Equal(t, http.StatusBadRequest, alice.do(http.MethodDelete, "/api/v1/orders/"+order.OrderID, nil, nil))

	code = alice.do(http.MethodPost, "/api/v1/orders", map[string]string{
		"instrument": "USD", "side": "BUY", "size": "100", "price": "3000",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, [2]string{"600", "600"}, holdings(t, alice, aliceID)["TRY"])
}

func TestCustomersCannotTouchEachOther(t *testing.T) {
	s := newTestServer(t, "owner")
	alice, aliceID := register(t, s, "alice")
	bob, bobID := register(t, s, "bob")

	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/api/v1/balance/deposit/"+aliceID, map[string]string{"amount": "100"}, nil))
	var order orderView
	require.Equal(t, http.StatusCreated, alice.do(http.MethodPost, "/api/v1/orders", map[string]string{
		"instrument": "EUR", "side": "BUY", "size": "2", "price": "70",
	}, &order))

	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodPost, "/api/v1/balance/withdraw/"+aliceID, map[string]string{"amount": "1"}, nil))
	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodGet, "/api/v1/assets/"+aliceID, nil, nil))
	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodDelete, "/api/v1/orders/"+order.OrderID, nil, nil))
	assert.Equal(t, http.StatusForbidden, bob.do(http.MethodPut, "/api/v1/orders/"+order.OrderID+"/match", nil, nil))
	assert.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/v1/assets/"+bobID, nil, nil))

	assert.Equal(t, http.StatusOK, alice.do(http.MethodDelete, "/api/v1/orders/"+order.OrderID, nil, nil))
	assert.Equal(t, [2]string{"100", "100"}, holdings(t, alice, aliceID)["TRY"])
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t, "open")
	anonymous := &client{t: t, router: s.Router}

	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodGet, "/api/v1/orders", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, anonymous.do(http.MethodGet, "/api/v1/assets/someone", nil, nil))

	alice, _ := register(t, s, "alice")
	require.Equal(t, http.StatusOK, alice.do(http.MethodPost, "/api/v1/auth/logout", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, alice.do(http.MethodGet, "/api/v1/orders", nil, nil))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "open")
	register(t, s, "alice")

	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), `http_requests_total{method="POST",path="/api/v1/auth/register",status="201"} 1`))
}
