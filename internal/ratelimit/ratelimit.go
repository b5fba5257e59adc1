// Package ratelimit wraps ulule/limiter with the two surfaces the server
// throttles: the global HTTP request rate and the per-IP WebSocket connect
// rate.
package ratelimit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/instant-hq/instant/internal/logging"
	"github.com/instant-hq/instant/internal/metrics"
)

// New builds an in-memory limiter from a "count-period" rate string such as
// "120-M".
func New(formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(formatted)
	if err != nil {
		return nil, err
	}
	return limiter.New(memory.NewStore(), rate), nil
}

// HTTPMiddleware throttles all HTTP traffic per client IP. Rejected requests
// get 429 with the standard X-RateLimit headers.
func HTTPMiddleware(l *limiter.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		lctx, err := l.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.GetLogger().Error("rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.FormatInt(lctx.Limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(lctx.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(lctx.Reset, 10))

		if lctx.Reached {
			metrics.RateLimitRejections.WithLabelValues("http").Inc()
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// WSGate returns the pre-upgrade admission check for WebSocket connects,
// keyed by client IP. Running before the upgrade keeps rejected connects
// cheap.
func WSGate(l *limiter.Limiter) func(c *gin.Context) bool {
	return func(c *gin.Context) bool {
		lctx, err := l.Get(c.Request.Context(), c.ClientIP())
		if err != nil {
			logging.GetLogger().Error("rate limiter store failed", zap.Error(err))
			return true
		}
		if lctx.Reached {
			metrics.RateLimitRejections.WithLabelValues("websocket").Inc()
			logging.GetLogger().Warn("WebSocket connect rate exceeded", zap.String("ip", c.ClientIP()))
			return false
		}
		return true
	}
}
