package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/listingsync/internal/logger"
)

const requestIDHeader = "X-Request-ID"

// RequestLogger injects a request-scoped logger carrying a request id and
// logs the completion of every request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Header(requestIDHeader, requestID)

		c.Next()

		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		entry := logger.With(logger.Fields{
			logger.FieldStatus:     c.Writer.Status(),
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			"client_ip":            c.ClientIP(),
		})
		if len(c.Errors) > 0 {
			entry.With(logger.Fields{"errors": c.Errors.String()}).Warn(ctx, "Request failed: method=%s, path=%s", c.Request.Method, path)
			return
		}
		entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, path)
	}
}
