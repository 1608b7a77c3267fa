package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/ksred/klear-brokerage/internal/types"
	"gorm.io/gorm"
)

// Customer owns assets, orders and journal entries. Those records reference
// the customer by CustomerID; there is no in-memory association back to them.
type Customer struct {
	gorm.Model   `json:"-"`
	CustomerID   string     `gorm:"uniqueIndex;not null" json:"customer_id"`
	Name         string     `json:"name"`
	Email        string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         types.Role `gorm:"not null" json:"role"`
}

// RevokedToken marks a JWT as logged out until it would have expired anyway
type RevokedToken struct {
	gorm.Model `json:"-"`
	TokenID    string    `gorm:"uniqueIndex;not null" json:"token_id"`
	CustomerID string    `gorm:"index" json:"customer_id"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Credentials represents login credentials
type Credentials struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest represents a new customer sign-up
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse represents the JWT token response
type TokenResponse struct {
	Token      string    `json:"jwt_token"`
	CustomerID string    `json:"customer_id"`
	Expiration time.Time `json:"expiration"`
}

// Claims represents the JWT claims structure
type Claims struct {
	jwt.RegisteredClaims
	CustomerID string     `json:"customer_id"`
	Role       types.Role `json:"role"`
}

// CustomerResponse is the public view of a customer
type CustomerResponse struct {
	CustomerID string     `json:"customer_id"`
	Name       string     `json:"name"`
	Email      string     `json:"email"`
	Role       types.Role `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func NewCustomerResponse(c *Customer) CustomerResponse {
	return CustomerResponse{
		CustomerID: c.CustomerID,
		Name:       c.Name,
		Email:      c.Email,
		Role:       c.Role,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}
