package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	batchapp "github.com/erp/payalloc/internal/application/batch"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/erp/payalloc/internal/infrastructure/cache"
	"github.com/erp/payalloc/internal/infrastructure/config"
	"github.com/erp/payalloc/internal/infrastructure/event"
	"github.com/erp/payalloc/internal/infrastructure/logger"
	"github.com/erp/payalloc/internal/infrastructure/migration"
	"github.com/erp/payalloc/internal/infrastructure/persistence"
	"github.com/erp/payalloc/internal/infrastructure/persistence/tenant"
	"github.com/erp/payalloc/internal/infrastructure/storage"
	infrastrategy "github.com/erp/payalloc/internal/infrastructure/strategy"
	"github.com/erp/payalloc/internal/infrastructure/telemetry"
	"github.com/erp/payalloc/internal/interfaces/http/handler"
	"github.com/erp/payalloc/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// Version is set at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}
	log, err := logger.New(logCfg)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx := context.Background()

	// OTEL log export is bridged into zap, so the logger is rebuilt once the
	// provider exists.
	logsProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize log exporter", zap.Error(err))
	}
	if logsProvider.IsEnabled() {
		bridged, err := logger.New(logCfg, logsProvider.ZapCore(cfg.Telemetry.ServiceName, logger.ParseLevel(cfg.Log.Level)))
		if err != nil {
			log.Fatal("Failed to attach OTEL log bridge", zap.Error(err))
		}
		log = bridged
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	log.Info("Starting payalloc",
		zap.String("version", Version),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Telemetry
	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:       cfg.Telemetry.ProfilingEnabled,
		ServerAddress: cfg.Telemetry.PyroscopeAddress,
		ServiceName:   cfg.Telemetry.ServiceName,
		Tags:          map[string]string{"env": cfg.App.Env, "version": Version},
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}

	tracer, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracer.EnableSpanProfiles()
	}

	meter, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled && cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    30 * time.Second,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter", zap.Error(err))
	}
	allocMetrics, err := telemetry.NewAllocationMetrics(meter.Meter("payalloc/allocation"))
	if err != nil {
		log.Fatal("Failed to register allocation metrics", zap.Error(err))
	}

	// Database
	if cfg.Database.AutoMigrate {
		if err := migrateUp(cfg.Database, log); err != nil {
			log.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	db, err := persistence.NewDatabase(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))

	if cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled {
		plugin := telemetry.NewDBTracingPlugin(telemetry.DBTracingConfig{
			Enabled:         true,
			LogFullSQL:      cfg.Telemetry.DBLogFullSQL,
			SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
			DBSystem:        "postgresql",
		}, log)
		if err := plugin.Register(db.DB); err != nil {
			log.Fatal("Failed to register database tracing", zap.Error(err))
		}
	}

	if err := tenant.NewGuard(tenant.Config{}).Register(db.DB); err != nil {
		log.Fatal("Failed to register tenant guard", zap.Error(err))
	}

	// Idempotency store and import rate limiter, Redis when configured
	stores := cache.NewStoreFactory(cfg.Redis, cache.WithLogger(log), cache.WithInMemoryFallback(!cfg.App.IsProduction()))
	idemStore, err := stores.CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create idempotency store", zap.Error(err))
	}
	var importLimiter cache.RateLimiter
	if cfg.HTTP.ImportRateLimit > 0 {
		importLimiter, err = stores.CreateRateLimiter(ctx, cfg.HTTP.ImportRateLimit, cfg.HTTP.ImportRateWindow)
		if err != nil {
			log.Fatal("Failed to create import rate limiter", zap.Error(err))
		}
	}
	guard := allocationapp.NewIdempotencyGuard(idemStore, cfg.Allocation.IdempotencyTTL, log)

	// Repositories
	paymentRepo := persistence.NewGormPaymentRepository(db.DB)
	invoiceGateway := persistence.NewGormInvoiceGateway(db.DB)
	allocationRepo := persistence.NewGormAllocationRepository(db.DB)
	batchRepo := persistence.NewGormBatchRepository(db.DB)
	auditRepo := persistence.NewGormAuditLogRepository(db.DB)
	txScope := persistence.NewGormTransactionScope(db.DB)

	// Event bus. The audit handler is wrapped so redelivered events are written once.
	eventBus := event.NewInMemoryEventBus(log)
	auditHandler := allocationapp.NewAuditTrailHandler(auditRepo, log)
	eventBus.Subscribe(event.NewIdempotentHandler(auditHandler, idemStore, cfg.Allocation.IdempotencyTTL, log), auditHandler.EventTypes()...)
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	registry, err := infrastrategy.NewRegistryWithDefaults(cfg.Allocation.DefaultStrategy)
	if err != nil {
		log.Fatal("Failed to build strategy registry", zap.Error(err))
	}
	log.Info("Allocation strategies registered",
		zap.Strings("strategies", registry.ListAllocationStrategies()),
		zap.String("default", registry.GetDefault()),
	)

	currency, err := valueobject.ParseCurrency(cfg.Allocation.DefaultCurrency)
	if err != nil {
		log.Fatal("Invalid default currency", zap.Error(err))
	}

	// Source archive for batch imports
	var archiver batchapp.SourceArchiver
	if cfg.Storage.Enabled {
		s3Archiver, err := storage.NewS3SourceArchiver(&cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create S3 archiver", zap.Error(err))
		}
		if err := s3Archiver.EnsureBucket(ctx); err != nil {
			log.Fatal("Failed to prepare archive bucket", zap.Error(err))
		}
		archiver = s3Archiver
	} else {
		archiver = storage.NewMemoryArchiver()
		log.Warn("Object storage disabled, batch sources are archived in memory")
	}

	// Application services
	allocationService := allocationapp.NewAllocationService(
		paymentRepo,
		invoiceGateway,
		allocationRepo,
		txScope,
		registry,
		allocationapp.WithEventPublisher(eventBus),
		allocationapp.WithAuditLog(auditRepo),
		allocationapp.WithMetrics(allocMetrics),
		allocationapp.WithIdempotencyGuard(guard),
		allocationapp.WithLogger(log),
		allocationapp.WithDefaultCurrency(currency),
	)
	batchService := batchapp.NewBatchService(
		batchRepo,
		allocationService,
		txScope,
		registry,
		batchapp.WithArchiver(archiver),
		batchapp.WithEventPublisher(eventBus),
		batchapp.WithMetrics(allocMetrics),
		batchapp.WithIdempotencyGuard(guard),
		batchapp.WithLogger(log),
		batchapp.WithDefaultCurrency(currency),
		batchapp.WithLimits(cfg.Allocation.BatchWorkerLimit, cfg.Allocation.MaxBatchRows),
	)

	// HTTP
	if cfg.App.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatal("Failed to get sql.DB", zap.Error(err))
	}
	engine := router.New(router.Deps{
		Logger:           log,
		HTTP:             cfg.HTTP,
		ServiceName:      cfg.Telemetry.ServiceName,
		TracingEnabled:   tracer.IsEnabled(),
		ProfilingEnabled: profiler.IsEnabled(),
		Meter:            meter,
		ImportLimiter:    importLimiter,
	}, router.Handlers{
		System:     handler.NewSystemHandler(Version, sqlDB),
		Payment:    handler.NewPaymentHandler(allocationService),
		Allocation: handler.NewAllocationHandler(allocationService),
		Batch:      handler.NewBatchHandler(batchService, cfg.HTTP.MaxUploadSize),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := eventBus.Stop(shutdownCtx); err != nil {
		log.Error("Error stopping event bus", zap.Error(err))
	}
	if err := stores.Close(); err != nil {
		log.Error("Error closing idempotency store", zap.Error(err))
	}
	if err := db.Close(); err != nil {
		log.Error("Error closing database", zap.Error(err))
	}
	if err := meter.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down meter", zap.Error(err))
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down tracer", zap.Error(err))
	}
	if err := profiler.Stop(); err != nil {
		log.Error("Error stopping profiler", zap.Error(err))
	}
	log.Info("Server exited")
	if err := logsProvider.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down log exporter", zap.Error(err))
	}
}

// migrateUp runs the embedded migrations over a dedicated connection; the
// migrator closes it when done.
func migrateUp(cfg config.DatabaseConfig, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return err
	}
	m, err := migration.NewEmbedded(sqlDB, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}
