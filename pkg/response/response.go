package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-brokerage/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeForbidden         = "FORBIDDEN"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeDuplicateResource = "DUPLICATE_RESOURCE"
	ErrCodeTooManyRequests   = "TOO_MANY_REQUESTS"
)

// Handle processes the error and returns appropriate response
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		Conflict(c, "Resource already exists")
	default:
		handleError(c, err)
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// OK sends a 200 response regardless of the request method
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	Fail(c, http.StatusNotFound, ErrCodeNotFound, message)
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	Fail(c, http.StatusForbidden, ErrCodeForbidden, message)
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, ErrCodeInternalError, message)
}

// Conflict sends a 409 response
func Conflict(c *gin.Context, message string) {
	Fail(c, http.StatusConflict, ErrCodeDuplicateResource, message)
}

// TooManyRequests sends a 429 response
func TooManyRequests(c *gin.Context, message string) {
	Fail(c, http.StatusTooManyRequests, ErrCodeTooManyRequests, message)
}

// Fail sends an error response with an explicit status and code
func Fail(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error: &Error{
			Code:    code,
			Message: message,
		},
	})
}

// StatusFor maps a classified error kind to its HTTP status
func StatusFor(kind types.ErrorKind) int {
	switch kind {
	case types.KindAssetNotEnough, types.KindOrderNotEligible, types.KindInvalidRequest:
		return http.StatusBadRequest
	case types.KindCustomerNotFound, types.KindOrderNotFound:
		return http.StatusNotFound
	case types.KindConflict, types.KindDuplicateEmail:
		return http.StatusConflict
	case types.KindInvalidCredentials:
		return http.StatusUnauthorized
	case types.KindForbidden:
		return http.StatusForbidden
	default:
		// AssetNotFound lands here: an order without its backing asset is a
		// data consistency fault, not a client mistake.
		return http.StatusInternalServerError
	}
}

// handleError determines the appropriate error response
func handleError(c *gin.Context, err error) {
	var appErr *types.Error
	if errors.As(err, &appErr) {
		status := StatusFor(appErr.Kind)
		if status == http.StatusInternalServerError {
			log.Error().Err(err).Str("kind", string(appErr.Kind)).Str("path", c.FullPath()).Msg("consistency fault")
		}
		message := appErr.Message
		if message == "" {
			message = string(appErr.Kind)
		}
		Fail(c, status, string(appErr.Kind), message)
		return
	}

	log.Error().Err(err).Str("path", c.FullPath()).Msg("unhandled error")
	InternalError(c, "An unexpected error occurred")
}
