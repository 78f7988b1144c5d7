package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/quilldav/quill/pkg/logging"
)

// CorrelationID assigns each request a correlation ID and injects a
// request scoped logger into the request context.
func CorrelationID(l logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.Must(uuid.NewV4())
		requestLogger := l.CopyWithPrefix(fmt.Sprintf("[Cid: %s]", id))

		ctx := context.WithValue(c.Request.Context(), logging.CorrelationIDCtx{}, id)
		ctx = context.WithValue(ctx, logging.LoggerCtx{}, requestLogger)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequestLog writes one access log line per finished request.
func RequestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Request(
			logging.FromContext(c.Request.Context()),
			c.Writer.Status(),
			c.Request.Method,
			c.ClientIP(),
			c.Request.URL.Path,
			c.Errors.String(),
			start,
		)
	}
}
