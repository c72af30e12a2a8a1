package router

import (
	"github.com/erp/payalloc/internal/infrastructure/cache"
	"github.com/erp/payalloc/internal/infrastructure/config"
	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/erp/payalloc/internal/interfaces/http/handler"
	"github.com/erp/payalloc/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// multipartOverhead is allowed on top of the upload size for form framing
const multipartOverhead int64 = 64 << 10

// Handlers are the HTTP handlers served by the engine
type Handlers struct {
	System     *handler.SystemHandler
	Payment    *handler.PaymentHandler
	Allocation *handler.AllocationHandler
	Batch      *handler.BatchHandler
}

// Deps configures the engine. Meter may be nil; ImportLimiter nil disables
// import rate limiting.
type Deps struct {
	Logger           *zap.Logger
	HTTP             config.HTTPConfig
	ServiceName      string
	TracingEnabled   bool
	ProfilingEnabled bool
	Meter            *telemetry.MeterProvider
	ImportLimiter    cache.RateLimiter
}

// New builds the gin engine with the middleware stack and all routes.
//
// Order matters: the request ID and logger come first so every later
// failure is logged with it; tracing starts before Tenant so 401s are
// traced; metrics and profiling run after Tenant so they carry it.
func New(deps Deps, h Handlers) *gin.Engine {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(deps.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(deps.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = deps.HTTP.CORSOrigins

	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	engine.Use(middleware.CORSWithConfig(cors))

	engine.GET("/health", h.System.Health)

	tenant := middleware.DefaultTenantConfig()
	tenant.SkipPaths = append(tenant.SkipPaths, "/api/v1/system/info")
	tenant.Logger = log

	api := NewAPI(engine).Use(
		middleware.TracingWithConfig(middleware.TracingConfig{
			ServiceName: deps.ServiceName,
			Enabled:     deps.TracingEnabled,
		}),
		middleware.TenantWithConfig(tenant),
		middleware.TracingAttributeInjector(),
		middleware.ProfilingWithConfig(middleware.ProfilingConfig{Enabled: deps.ProfilingEnabled}),
		middleware.HTTPMetrics(deps.Meter, log),
		middleware.IdempotencyKey(),
	)

	body := middleware.BodyLimit(deps.HTTP.MaxBodySize)

	payments := NewResource("payments", "/payments", body).
		POST("", h.Payment.Record).
		GET("", h.Payment.List).
		GET("/:id", h.Payment.Get).
		POST("/:id/complete", h.Payment.Complete).
		GET("/:id/summary", h.Payment.Summary).
		GET("/:id/audit-trail", h.Payment.AuditTrail).
		POST("/:id/allocations/propose", h.Allocation.Propose).
		POST("/:id/allocations", h.Allocation.Execute).
		POST("/:id/allocations/auto", h.Allocation.AutoAllocate)

	allocations := NewResource("allocations", "/allocations", body).
		GET("", h.Allocation.List).
		POST("/reverse", h.Allocation.BulkReverse).
		POST("/:id/reverse", h.Allocation.Reverse)

	customers := NewResource("customers", "/customers").
		GET("/:id/balance", h.Payment.CustomerBalance)

	strategies := NewResource("strategies", "/strategies").
		GET("", h.Allocation.Strategies).
		GET("/usage", h.Allocation.StrategyUsage)

	// Imports carry their own body limit: uploads get a larger one
	importGuards := func(limit int64) []gin.HandlerFunc {
		guards := []gin.HandlerFunc{middleware.BodyLimit(limit)}
		if deps.ImportLimiter != nil {
			guards = append(guards, middleware.RateLimit(deps.ImportLimiter, "import", log))
		}
		return guards
	}
	uploadLimit := deps.HTTP.MaxUploadSize
	if uploadLimit <= 0 {
		uploadLimit = handler.DefaultMaxUploadSize
	}
	batches := NewResource("batches", "/batches").
		POST("", append(importGuards(deps.HTTP.MaxBodySize), h.Batch.Import)...).
		POST("/upload", append(importGuards(uploadLimit+multipartOverhead), h.Batch.Upload)...).
		GET("", h.Batch.List).
		GET("/:id", h.Batch.Get)

	system := NewResource("system", "/system").
		GET("/info", h.System.GetSystemInfo)

	routes := api.Add(payments, allocations, customers, strategies, batches, system).Mount()
	for _, rt := range routes {
		log.Debug("Route mounted",
			zap.String("resource", rt.Resource),
			zap.String("method", rt.Method),
			zap.String("path", rt.Path),
		)
	}
	log.Info("HTTP routes mounted", zap.String("base_path", api.BasePath()), zap.Int("count", len(routes)))

	return engine
}
