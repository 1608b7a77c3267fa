package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/ksred/klear-brokerage/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	ErrTokenGeneration = errors.New("failed to generate token")
	ErrTokenRevoked    = errors.New("token has been revoked")
	ErrInvalidToken    = errors.New("invalid token")
)

// Service handles customer registration and token-based authentication
type Service struct {
	db        *Database
	jwtSecret []byte
	tokenTTL  time.Duration
	params    Argon2Params
}

// NewService creates a new authentication service with the given JWT secret
func NewService(gormDB *gorm.DB, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		db:        NewDatabase(gormDB),
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		params:    DefaultArgon2Params,
	}
}

// Register creates a USER customer and returns a token for it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" {
		return nil, types.InvalidRequest("email is required")
	}
	if len(req.Password) < minPasswordLength {
		return nil, types.InvalidRequest("password must be at least %d characters", minPasswordLength)
	}

	customer, err := s.createCustomer(ctx, strings.TrimSpace(req.Name), email, req.Password, types.RoleUser)
	if err != nil {
		return nil, err
	}

	log.Info().Str("customer_id", customer.CustomerID).Str("service", "auth").Msg("customer registered")
	return s.issueToken(customer)
}

// normalizeEmail is the form emails are stored and looked up in
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) createCustomer(ctx context.Context, name, email, password string, role types.Role) (*Customer, error) {
	hash, err := HashPassword(password, s.params)
	if err != nil {
		return nil, err
	}

	customer := &Customer{
		CustomerID:   uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.db.CreateCustomer(ctx, customer); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, types.DuplicateEmail(email)
		}
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	return customer, nil
}

// Login verifies credentials and returns a fresh token
func (s *Service) Login(ctx context.Context, creds Credentials) (*TokenResponse, error) {
	customer, err := s.db.GetCustomerByEmail(ctx, normalizeEmail(creds.Email))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customer: %w", err)
	}
	if customer == nil {
		return nil, types.InvalidCredentials()
	}

	ok, err := VerifyPassword(creds.Password, customer.PasswordHash)
	if err != nil || !ok {
		return nil, types.InvalidCredentials()
	}

	return s.issueToken(customer)
}

// issueToken signs a token for the customer with the configured lifetime
func (s *Service) issueToken(customer *Customer) (*TokenResponse, error) {
	now := time.Now()
	expiration := now.Add(s.tokenTTL)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   customer.CustomerID,
			ExpiresAt: jwt.NewNumericDate(expiration),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		CustomerID: customer.CustomerID,
		Role:       customer.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, ErrTokenGeneration
	}

	return &TokenResponse{
		Token:      tokenString,
		CustomerID: customer.CustomerID,
		Expiration: expiration,
	}, nil
}

// ValidateToken validates a JWT token and returns the claims
// Verifies signature, expiration and that the token has not been logged out
func (s *Service) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := s.parse(tokenString)
	if err != nil {
		return nil, err
	}

	revoked, err := s.db.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check token revocation: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

func (s *Service) parse(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.CustomerID == "" || claims.ID == "" || !claims.Role.Valid() {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Logout revokes the token until its natural expiry
func (s *Service) Logout(ctx context.Context, tokenString string) error {
	claims, err := s.parse(tokenString)
	if err != nil {
		return err
	}

	expiresAt := time.Now().UTC().Add(s.tokenTTL)
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return s.db.RevokeToken(ctx, &RevokedToken{
		TokenID:    claims.ID,
		CustomerID: claims.CustomerID,
		ExpiresAt:  expiresAt,
	})
}

// GetCustomer returns the customer or a CustomerNotFound error
func (s *Service) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	customer, err := s.db.GetCustomerByID(ctx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch customer: %w", err)
	}
	if customer == nil {
		return nil, types.CustomerNotFound(customerID)
	}
	return customer, nil
}

// EnsureAdmin creates the administrator account if it does not exist yet
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	existing, err := s.db.GetCustomerByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	admin, err := s.createCustomer(ctx, "admin", email, password, types.RoleAdmin)
	if err != nil {
		return err
	}
	log.Info().Str("customer_id", admin.CustomerID).Str("service", "auth").Msg("admin account created")
	return nil
}

// PurgeRevocations removes revocation rows whose tokens have expired
func (s *Service) PurgeRevocations(ctx context.Context) (int64, error) {
	return s.db.PurgeExpiredRevocations(ctx, time.Now().UTC())
}

// GinHandlers contains HTTP handlers for authentication endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for authentication endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST requests to create a customer
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.Register(c.Request.Context(), req)
		response.Handle(c, token, err)
	}
}

// LoginHandler handles POST requests to exchange credentials for a JWT token
func (h *GinHandlers) LoginHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var creds Credentials
		if err := c.ShouldBindJSON(&creds); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		token, err := h.service.Login(c.Request.Context(), creds)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, token)
	}
}

// ValidateHandler reports the customer a token belongs to
func (h *GinHandlers) ValidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Token string `json:"token" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "Invalid request body")
			return
		}

		claims, err := h.service.ValidateToken(c.Request.Context(), req.Token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			return
		}
		response.OK(c, gin.H{"customer_id": claims.CustomerID, "role": claims.Role})
	}
}

// LogoutHandler revokes the bearer token of the current request
func (h *GinHandlers) LogoutHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c)
		if token == "" {
			response.Unauthorized(c, "Invalid authorization header")
			return
		}
		if err := h.service.Logout(c.Request.Context(), token); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, gin.H{"message": "logged out"})
	}
}

// MeHandler returns the authenticated customer
func (h *GinHandlers) MeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		customer, err := h.service.GetCustomer(c.Request.Context(), CurrentCustomerID(c))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.OK(c, NewCustomerResponse(customer))
	}
}
