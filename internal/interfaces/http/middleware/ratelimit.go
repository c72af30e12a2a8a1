package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/erp/payalloc/internal/infrastructure/cache"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrCodeRateLimited is returned with 429 responses
const ErrCodeRateLimited = "RATE_LIMIT_EXCEEDED"

// RateLimit limits requests per tenant, falling back to the client IP for
// anonymous callers. Place it after Tenant. Limiter failures let the request
// through.
func RateLimit(limiter cache.RateLimiter, scope string, log *zap.Logger) gin.HandlerFunc {
	return RateLimitByKey(limiter, func(c *gin.Context) string {
		if id := GetTenantID(c); id != uuid.Nil {
			return scope + ":" + id.String()
		}
		return scope + ":ip:" + c.ClientIP()
	}, log)
}

// RateLimitByKey limits requests by a custom key
func RateLimitByKey(limiter cache.RateLimiter, keyFunc func(*gin.Context) string, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		d, err := limiter.Allow(c.Request.Context(), keyFunc(c))
		if err != nil {
			log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(d.ResetAfter.Seconds()))))
			abortWithError(c, http.StatusTooManyRequests, ErrCodeRateLimited, "Too many requests. Please try again later.")
			return
		}
		c.Next()
	}
}
