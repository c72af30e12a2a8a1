package middleware

import (
	"net/http"
	"strings"

	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/erp/payalloc/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gin context keys set by Tenant
const (
	TenantIDKey = "tenant_id"
	ActorIDKey  = "actor_id"
)

// TenantMiddlewareConfig holds configuration for tenant middleware
type TenantMiddlewareConfig struct {
	// SkipPaths are paths that don't require tenant context (e.g., health check)
	SkipPaths []string
	// Required rejects requests without X-Tenant-ID
	Required bool
	Logger   *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		SkipPaths: []string{"/health", "/healthz", "/ready", "/api/v1/health"},
		Required:  true,
	}
}

// Tenant identifies the company (X-Tenant-ID) and the acting user
// (X-User-ID) of a request. Authentication happens upstream; both values are
// trusted but must be UUIDs.
func Tenant() gin.HandlerFunc {
	return TenantWithConfig(DefaultTenantConfig())
}

// TenantWithConfig returns tenant middleware with custom configuration
func TenantWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		rawTenant := strings.TrimSpace(c.GetHeader(HeaderTenantID))
		if rawTenant == "" {
			if cfg.Required {
				abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Tenant identification required")
				return
			}
			c.Next()
			return
		}
		tenantID, err := uuid.Parse(rawTenant)
		if err != nil || tenantID == uuid.Nil {
			abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid tenant ID format")
			return
		}

		var actorID uuid.UUID
		if rawActor := strings.TrimSpace(c.GetHeader(HeaderActorID)); rawActor != "" {
			actorID, err = uuid.Parse(rawActor)
			if err != nil {
				abortWithError(c, http.StatusUnauthorized, dto.ErrCodeUnauthorized, "Invalid user ID format")
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		ctx := logger.WithTenantID(c.Request.Context(), tenantID.String())
		if actorID != uuid.Nil {
			c.Set(ActorIDKey, actorID)
			ctx = logger.WithActorID(ctx, actorID.String())
		}
		c.Request = c.Request.WithContext(ctx)

		if cfg.Logger != nil {
			cfg.Logger.Debug("Tenant identified",
				zap.String("tenant_id", tenantID.String()),
				zap.Bool("has_actor", actorID != uuid.Nil),
			)
		}
		c.Next()
	}
}

// GetTenantID returns the tenant set by Tenant, or uuid.Nil
func GetTenantID(c *gin.Context) uuid.UUID {
	return uuidFromContext(c, TenantIDKey)
}

// GetActorID returns the acting user set by Tenant, or uuid.Nil
func GetActorID(c *gin.Context) uuid.UUID {
	return uuidFromContext(c, ActorIDKey)
}

func uuidFromContext(c *gin.Context, key string) uuid.UUID {
	if v, ok := c.Get(key); ok {
		if id, ok := v.(uuid.UUID); ok {
			return id
		}
	}
	return uuid.Nil
}
