package middleware

import (
	"context"
	"strings"

	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ProfilingConfig configures request profiling labels
type ProfilingConfig struct {
	Enabled bool
	// SkipPaths are left unlabelled, e.g. health checks
	SkipPaths []string
}

// ProfilingWithConfig labels the request goroutine with route, method,
// resource and tenant so Pyroscope profiles can be filtered by endpoint.
// Place it after Tenant.
func ProfilingWithConfig(cfg ProfilingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		telemetry.WithProfilingLabels(c.Request.Context(), profilingLabels(c), func(ctx context.Context) {
			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func profilingLabels(c *gin.Context) map[string]string {
	labels := make(map[string]string, 4)
	if m := c.Request.Method; m != "" {
		labels[telemetry.ProfilingLabelMethod] = m
	}
	route := c.FullPath()
	if route != "" {
		labels[telemetry.ProfilingLabelRoute] = route
	}
	if res := resourceFromRoute(route); res != "" {
		labels[telemetry.ProfilingLabelResource] = res
	}
	if id := GetTenantID(c); id != uuid.Nil {
		labels[telemetry.ProfilingLabelTenantID] = id.String()
	}
	return labels
}

// resourceFromRoute returns the first static segment after /api/vN.
// "/api/v1/payments/:id/allocations" -> "payments"
func resourceFromRoute(route string) string {
	for _, part := range strings.Split(route, "/") {
		if part == "" || part == "api" || isVersionSegment(part) || strings.HasPrefix(part, ":") {
			continue
		}
		return part
	}
	return ""
}

func isVersionSegment(segment string) bool {
	if len(segment) < 2 || (segment[0] != 'v' && segment[0] != 'V') {
		return false
	}
	for i := 1; i < len(segment); i++ {
		if segment[i] < '0' || segment[i] > '9' {
			return false
		}
	}
	return true
}
