// Package http serves stored benchmark results over a read-only HTTP API.
package http

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Context keys for request metadata.
const (
	requestIDKey     = "request_id"
	correlationIDKey = "correlation_id"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// RequestIDMiddleware adds a unique request_id to each request.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-ID", requestID)
		c.Set(requestIDKey, requestID)
		c.Next()
	}
}

// CorrelationIDMiddleware propagates a correlation ID, falling back to the
// request ID.
func CorrelationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = GetRequestID(c)
		}
		c.Header("X-Correlation-ID", correlationID)
		c.Set(correlationIDKey, correlationID)
		c.Next()
	}
}

// RecoveryMiddleware recovers from panics and returns a 500 error.
func RecoveryMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("[ERROR] api: panic serving %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
				writeError(c, http.StatusInternalServerError, "", "internal server error")
			}
		}()
		c.Next()
	}
}

// DefaultMiddleware returns the default middleware chain for API handlers.
func DefaultMiddleware() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		RequestIDMiddleware(),
		RecoveryMiddleware(),
		CorrelationIDMiddleware(),
	}
}

// writeError aborts the request with an error body.
func writeError(c *gin.Context, statusCode int, code, message string) {
	c.AbortWithStatusJSON(statusCode, ErrorResponse{
		Error:     message,
		Code:      code,
		RequestID: GetRequestID(c),
	})
}

// GetRequestID retrieves the request ID set by RequestIDMiddleware.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// GetCorrelationID retrieves the correlation ID set by CorrelationIDMiddleware.
func GetCorrelationID(c *gin.Context) string {
	return c.GetString(correlationIDKey)
}
