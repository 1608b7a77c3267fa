package middleware

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/auth"
	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/ksred/klear-brokerage/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateRule limits requests whose route starts with Prefix
type RateRule struct {
	Prefix string
	Limit  rate.Limit
	Burst  int
}

// DefaultRateRules are the per-endpoint limits the server runs with
var DefaultRateRules = []RateRule{
	{Prefix: "/api/v1/auth", Limit: rate.Limit(10.0 / 60.0), Burst: 5},      // 10 requests per minute
	{Prefix: "/api/v1/orders", Limit: rate.Limit(600.0 / 60.0), Burst: 20},  // 600 requests per minute
	{Prefix: "/api/v1/balance", Limit: rate.Limit(300.0 / 60.0), Burst: 10}, // 300 requests per minute
	{Prefix: "/api/v1/assets", Limit: rate.Limit(1000.0 / 60.0), Burst: 20}, // 1000 requests per minute
}

// RateLimiter keeps one token bucket per caller and route
type RateLimiter struct {
	rules    []RateRule
	visitors map[string]*visitor
	mu       sync.Mutex
}

func NewRateLimiter(rules []RateRule) *RateLimiter {
	return &RateLimiter{
		rules:    rules,
		visitors: make(map[string]*visitor),
	}
}

func (l *RateLimiter) getLimiter(path, caller string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := caller + ":" + path
	v, exists := l.visitors[key]

	if !exists {
		limit, burst := rate.Inf, 1 // No limit for other paths
		for _, rule := range l.rules {
			if strings.HasPrefix(path, rule.Prefix) {
				limit, burst = rule.Limit, rule.Burst
				break
			}
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, burst),
			lastSeen: time.Now(),
		}
		l.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops idle visitors every minute until ctx is canceled
func (l *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.evict(3 * time.Minute)
		}
	}
}

func (l *RateLimiter) evict(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if time.Since(v.lastSeen) > idle {
			delete(l.visitors, key)
		}
	}
}

// Middleware limits by authenticated customer when known, else by client IP
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := auth.CurrentCustomerID(c)
		if caller == "" {
			caller = c.ClientIP()
		}

		if !l.getLimiter(c.FullPath(), caller).Allow() {
			response.TooManyRequests(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// TokenValidator checks a bearer token and returns its claims
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

func JWTAuth(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c)
		if token == "" {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := validator.ValidateToken(c.Request.Context(), token)
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		auth.SetPrincipal(c, claims)
		c.Next()
	}
}

// Metrics records request count and latency per route template
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// RequestLogger writes one structured line per request
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= 500 {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Str("customer_id", auth.CurrentCustomerID(c)).
			Msg("HTTP request")
	}
}
