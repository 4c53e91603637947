// internal/pkg/response/response.go
package response

import (
	"net/http"

	xerrors "qrlogin-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries a machine-readable code alongside the human message so
// the polling client can tell protocol faults from transient ones.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, err error) {
	// Abort FIRST before writing response
	c.Abort()

	c.JSON(status, Response{
		Success: false,
		Message: message,
		Error: &ErrorBody{
			Code:    code,
			Message: xerrors.MessageOrDefault(err, message),
		},
	})
}

// FromError maps a service sentinel error to the right HTTP status and code.
func FromError(c *gin.Context, err error) {
	switch {
	case xerrors.Is(err, xerrors.ErrNotFound):
		Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found", err)
	case xerrors.Is(err, xerrors.ErrNonceMismatch):
		Error(c, http.StatusConflict, "INVALID_NONCE", "invalid security token", err)
	case xerrors.Is(err, xerrors.ErrAlreadyFinalized):
		Error(c, http.StatusConflict, "ALREADY_FINALIZED", "session already finalized", err)
	case xerrors.Is(err, xerrors.ErrSessionExpired):
		Error(c, http.StatusGone, "SESSION_EXPIRED", "session expired", err)
	case xerrors.Is(err, xerrors.ErrInvalidPayload):
		Error(c, http.StatusBadRequest, "INVALID_QR_CODE", "invalid qr payload", err)
	case xerrors.Is(err, xerrors.ErrInvalidInput):
		Error(c, http.StatusBadRequest, "MISSING_PARAMETER", "invalid request", err)
	case xerrors.Is(err, xerrors.ErrTicketExchangeFailed):
		Error(c, http.StatusUnauthorized, "TICKET_EXCHANGE_FAILED", "login ticket rejected", err)
	case xerrors.Is(err, xerrors.ErrRoleNotAllowed):
		Error(c, http.StatusForbidden, "ROLE_NOT_ALLOWED", "role not allowed for this account", err)
	case xerrors.Is(err, xerrors.ErrRateLimited):
		Error(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", err)
	case xerrors.Is(err, xerrors.ErrStorageUnavailable):
		Error(c, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "session storage unavailable", err)
	default:
		Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error", err)
	}
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, "MISSING_PARAMETER", message, err)
}

// NotFound sends a 404 Not Found response.
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "SESSION_NOT_FOUND", message, nil)
}
