package middleware

import (
	"context"
	"strings"
	"time"

	"runcell/pkg/utils/contextkey"
	"runcell/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
)

// TraceContextMiddleware ensures trace/request id are in context and response headers.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := headerOrNew(c, traceIDHeader)
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := headerOrNew(c, requestIDHeader)
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AccessLogMiddleware logs one line per request after the handler returns.
func AccessLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		logger.Info(c.Request.Context(), "request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

func headerOrNew(c *gin.Context, header string) string {
	v := strings.TrimSpace(c.GetHeader(header))
	if v == "" {
		v = uuid.NewString()
	}
	return v
}
