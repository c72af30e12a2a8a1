package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/payalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// IdempotencyKeyContextKey is the gin context key holding the Idempotency-Key header
const IdempotencyKeyContextKey = "idempotency_key"

// MaxIdempotencyKeyLength bounds the header so it can be stored as a cache key
const MaxIdempotencyKeyLength = 255

// IdempotencyKey reads the Idempotency-Key header of write requests. The
// services decide what a repeated key means; this only validates its shape.
func IdempotencyKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > MaxIdempotencyKeyLength || strings.ContainsAny(key, " \t\r\n") {
			abortWithError(c, http.StatusBadRequest, dto.ErrCodeBadRequest,
				"Idempotency-Key must be at most 255 characters without whitespace")
			return
		}
		c.Set(IdempotencyKeyContextKey, key)
		c.Next()
	}
}

// GetIdempotencyKey returns the validated Idempotency-Key, empty when absent
func GetIdempotencyKey(c *gin.Context) string {
	return c.GetString(IdempotencyKeyContextKey)
}
