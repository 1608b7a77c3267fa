package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

type stubValidator map[string]*auth.Claims

func (s stubValidator) ValidateToken(_ context.Context, token string) (*auth.Claims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuth(t *testing.T) {
	validator := stubValidator{"good": {CustomerID: "alice", Role: types.RoleUser}}

	r := gin.New()
	r.GET("/me", JWTAuth(validator), func(c *gin.Context) {
		c.String(http.StatusOK, auth.CurrentCustomerID(c))
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"unknown token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Authorization", tt.header)
			}
			w := serve(r, http.MethodGet, "/me", h)
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "alice", w.Body.String())
			}
		})
	}
}

func TestRateLimiterPerCaller(t *testing.T) {
	limiter := NewRateLimiter([]RateRule{{Prefix: "/api/v1/orders", Limit: rate.Every(time.Hour), Burst: 2}})

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/api/v1/orders", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := http.Header{"X-Forwarded-For": []string{"10.0.0.1"}}
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/orders", first).Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/orders", first).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/v1/orders", first).Code)

	second := http.Header{"X-Forwarded-For": []string{"10.0.0.2"}}
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/v1/orders", second).Code)

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health", first).Code)
	}
}

func TestRateLimiterEvictsIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(DefaultRateRules)
	limiter.getLimiter("/api/v1/auth/login", "10.0.0.1")
	limiter.visitors["10.0.0.1:/api/v1/auth/login"].lastSeen = time.Now().Add(-time.Hour)
	limiter.getLimiter("/api/v1/orders", "10.0.0.2")

	limiter.evict(3 * time.Minute)

	assert.Len(t, limiter.visitors, 1)
	assert.Contains(t, limiter.visitors, "10.0.0.2:/api/v1/orders")
}

func TestMetricsRecordsRouteTemplate(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(Metrics(m))
	r.GET("/api/v1/orders/:order_id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(r, http.MethodGet, "/api/v1/orders/abc", nil)
	serve(r, http.MethodGet, "/nowhere", nil)

	assert.Equal(t, 1.0, promtest.ToFloat64(m.RequestCount.WithLabelValues("GET", "/api/v1/orders/:order_id", "204")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.RequestCount.WithLabelValues("GET", "unmatched", "404")))
}
