package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/ksred/klear-brokerage/pkg/response"
)

// Keys under which the JWT middleware stores the authenticated principal
const (
	ContextClaims     = "claims"
	ContextCustomerID = "customerID"
	ContextRole       = "role"
)

// BearerToken extracts the token from an "Authorization: Bearer <token>" header
func BearerToken(c *gin.Context) string {
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// SetPrincipal stores validated claims on the request context
func SetPrincipal(c *gin.Context, claims *Claims) {
	c.Set(ContextClaims, claims)
	c.Set(ContextCustomerID, claims.CustomerID)
	c.Set(ContextRole, string(claims.Role))
}

// CurrentCustomerID returns the authenticated customer id, or "" if none
func CurrentCustomerID(c *gin.Context) string {
	return c.GetString(ContextCustomerID)
}

// IsAdmin reports whether the authenticated principal has the ADMIN role
func IsAdmin(c *gin.Context) bool {
	return types.Role(c.GetString(ContextRole)) == types.RoleAdmin
}

// AuthorizeCustomer lets the request through when the principal is the
// customer itself or an admin. Otherwise it writes a 403 and returns false.
func AuthorizeCustomer(c *gin.Context, customerID string) bool {
	if customerID != "" && (CurrentCustomerID(c) == customerID || IsAdmin(c)) {
		return true
	}
	response.Forbidden(c, "You do not have permission to act for customer "+customerID)
	c.Abort()
	return false
}

// RequireAdmin writes a 403 and returns false unless the principal is an admin
func RequireAdmin(c *gin.Context) bool {
	if IsAdmin(c) {
		return true
	}
	response.Forbidden(c, "Administrator role required")
	c.Abort()
	return false
}
