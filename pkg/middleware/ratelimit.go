package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"marketgate.dev/pkg/logger"
	"marketgate.dev/pkg/ratelimit"
)

// RateLimit throttles the REST surface (C9) per client IP + route, independent
// of the gateway-session flow guard which only covers the websocket path.
func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			logger.Warn(c.Request.Context(), "http rate limited",
				zap.String("request_id", RequestIDFromCtx(c)),
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate_limited",
			})
			return
		}
		c.Next()
	}
}
