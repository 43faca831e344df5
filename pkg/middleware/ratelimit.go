package middleware

import (
	"net/http"

	"btcwatch.com/pkg/common"
	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/metrics"
	"btcwatch.com/pkg/ratelimit"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimit 按 ip+路由 限流
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 可控拒绝，不打堆栈
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues(route).Inc()
			common.Fail(c, http.StatusTooManyRequests, http.StatusTooManyRequests, "too many requests")
			c.Abort()
			return
		}
		c.Next()
	}
}
