package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/charlesng35/todomaster/pkg/errors"
	"github.com/charlesng35/todomaster/pkg/logger"
)

// RateLimitConfig describes one limiter. Name scopes the counters so several
// limiters can share a store.
type RateLimitConfig struct {
	Name    string
	Limit   int
	Window  time.Duration
	Message string
}

// RateLimit caps requests per client IP within a fixed window. Store failures
// let the request through.
func RateLimit(store RateStore, cfg RateLimitConfig) gin.HandlerFunc {
	if store == nil {
		store = NewMemoryRateStore()
	}
	message := cfg.Message
	if message == "" {
		message = "Too many requests from this IP, please try again later."
	}
	limited := apperrors.New(apperrors.ErrRateLimit.Code, message, http.StatusTooManyRequests)
	log := logger.WithModule("ratelimit")

	return func(c *gin.Context) {
		if cfg.Limit <= 0 || cfg.Window <= 0 {
			c.Next()
			return
		}

		key := cfg.Name + ":" + c.ClientIP()
		count, ttl, err := store.Increment(c.Request.Context(), key, cfg.Window)
		if err != nil {
			log.Warn("rate limit store unavailable", zap.String("limiter", cfg.Name), zap.Error(err))
			c.Next()
			return
		}

		resetIn := int(math.Ceil(ttl.Seconds()))
		remaining := cfg.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(resetIn))

		if count > cfg.Limit {
			abort(c, limited.WithRetryAfter(resetIn))
			return
		}

		c.Next()
	}
}
