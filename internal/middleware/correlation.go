// Package middleware contains Gin middleware for the application.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/instant-chat/instant/internal/logging"
)

// HeaderXCorrelationID is the header key for the correlation ID.
const HeaderXCorrelationID = "X-Correlation-ID"

// CorrelationID adds a correlation ID to the request context. It's stamped
// both into gin's own key/value store (for handlers reading via c.Get) and
// onto the request's stdlib context (for internal/logging, which reads
// ConnectionIDKey/RoomKey/CorrelationIDKey off a context.Context rather than
// a gin.Context; the WS upgrade path in particular logs through
// c.Request.Context(), which only carries the latter).
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader(HeaderXCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		// Set in header for response
		c.Header(HeaderXCorrelationID, correlationID)

		// Set in gin's context for handlers that read via c.Get
		c.Set(string(logging.CorrelationIDKey), correlationID)

		// Set on the request's stdlib context for internal/logging
		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDKey, correlationID)
		c.Request = c.Request.WithContext(ctx)

		// Pass to next handlers
		c.Next()
	}
}
