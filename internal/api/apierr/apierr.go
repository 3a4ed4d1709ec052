// Package apierr maps internal errors onto the stable error kinds returned
// by the HTTP API. Raw error text never reaches the client.
package apierr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/liliang-cn/mindrag/internal/domain"
)

// Error kinds
const (
	InvalidRequest     = "invalid_request"
	NotFound           = "not_found"
	SessionUnavailable = "session_unavailable"
	RequestCanceled    = "request_canceled"
	RateLimited        = "rate_limited"
	Unauthorized       = "unauthorized"
	Internal           = "internal"
)

// Classify returns the HTTP status and error kind for err
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout, RequestCanceled
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, InvalidRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, NotFound
	case errors.Is(err, domain.ErrSessionUnavailable):
		return http.StatusServiceUnavailable, SessionUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, RateLimited
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, Unauthorized
	default:
		return http.StatusInternalServerError, Internal
	}
}

// Abort writes the error body for err and stops the handler chain
func Abort(c *gin.Context, err error) {
	status, kind := Classify(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": kind})
}

// AbortKind writes a fixed error kind
func AbortKind(c *gin.Context, status int, kind string) {
	c.AbortWithStatusJSON(status, gin.H{"error": kind})
}
