package utils

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"services/backtest-service/internal/model"

	"github.com/gin-gonic/gin"
)

// ParseLimit reads the "limit" query parameter, falling back to
// defaultLimit when absent or invalid and capping it at maxLimit
func ParseLimit(c *gin.Context, defaultLimit, maxLimit int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultLimit)))
	if err != nil || limit < 1 {
		return defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit
}

// StatusFor maps a service error to an HTTP status code
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUpstreamFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// SendErrorResponse sends a standardized error response
func SendErrorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{"error": message})
}

// SendServiceError sends err with the status StatusFor maps it to.
// Internal errors are reported with a generic message.
func SendServiceError(c *gin.Context, err error, internalMessage string) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		SendErrorResponse(c, status, internalMessage)
		return
	}
	SendErrorResponse(c, status, err.Error())
}
