package middleware

import (
	"context"

	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/trace"
	"github.com/gin-gonic/gin"
)

// Trace 放在 otelgin 后面，把 span 的 trace id 写进 ctx 给 logger 用
func Trace() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := trace.TraceID(c.Request.Context()); id != "" {
			c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), logger.TraceIdKey, id))
		}
		c.Next()
	}
}
