package router_test

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	allocationapp "github.com/erp/payalloc/internal/application/allocation"
	batchapp "github.com/erp/payalloc/internal/application/batch"
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/erp/payalloc/internal/infrastructure/cache"
	"github.com/erp/payalloc/internal/infrastructure/config"
	"github.com/erp/payalloc/internal/infrastructure/event"
	"github.com/erp/payalloc/internal/infrastructure/persistence"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/erp/payalloc/internal/infrastructure/storage"
	infrastrategy "github.com/erp/payalloc/internal/infrastructure/strategy"
	"github.com/erp/payalloc/internal/interfaces/http/handler"
	"github.com/erp/payalloc/internal/interfaces/http/middleware"
	"github.com/erp/payalloc/internal/interfaces/http/router"
	"github.com/erp/payalloc/tests/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type app struct {
	t          *testing.T
	engine     *gin.Engine
	gateway    *persistence.GormInvoiceGateway
	archiver   *storage.MemoryArchiver
	tenantID   uuid.UUID
	actorID    uuid.UUID
	customerID uuid.UUID
	invoiceSeq int
}

type appOption func(*router.Deps)

func newApp(t *testing.T, opts ...appOption) *app {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(append(models.AllModels(), &persistence.NumberSequenceModel{})...))

	registry, err := infrastrategy.NewRegistryWithDefaults(strategy.AllocationFIFO)
	require.NoError(t, err)

	store := cache.NewInMemoryIdempotencyStore(0)
	t.Cleanup(func() { _ = store.Close() })
	guard := allocationapp.NewIdempotencyGuard(store, time.Hour, zap.NewNop())

	auditRepo := persistence.NewGormAuditLogRepository(db)
	bus := event.NewInMemoryEventBus(zap.NewNop())
	bus.Subscribe(allocationapp.NewAuditTrailHandler(auditRepo, zap.NewNop()))

	a := &app{
		t:          t,
		gateway:    persistence.NewGormInvoiceGateway(db),
		archiver:   storage.NewMemoryArchiver(),
		tenantID:   uuid.New(),
		actorID:    uuid.New(),
		customerID: uuid.New(),
	}

	txScope := persistence.NewGormTransactionScope(db)
	allocSvc := allocationapp.NewAllocationService(
		persistence.NewGormPaymentRepository(db),
		a.gateway,
		persistence.NewGormAllocationRepository(db),
		txScope,
		registry,
		allocationapp.WithEventPublisher(bus),
		allocationapp.WithAuditLog(auditRepo),
		allocationapp.WithIdempotencyGuard(guard),
	)
	batchSvc := batchapp.NewBatchService(
		persistence.NewGormBatchRepository(db),
		allocSvc,
		txScope,
		registry,
		batchapp.WithArchiver(a.archiver),
		batchapp.WithEventPublisher(bus),
		batchapp.WithIdempotencyGuard(guard),
		batchapp.WithLimits(2, 50),
	)

	deps := router.Deps{
		Logger: zap.NewNop(),
		HTTP: config.HTTPConfig{
			MaxBodySize:   1 << 20,
			MaxUploadSize: 1 << 20,
		},
		ServiceName: "payalloc-test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	a.engine = router.New(deps, router.Handlers{
		System:     handler.NewSystemHandler("test", sqlDB),
		Payment:    handler.NewPaymentHandler(allocSvc),
		Allocation: handler.NewAllocationHandler(allocSvc),
		Batch:      handler.NewBatchHandler(batchSvc, 0),
	})
	return a
}

// invoice seeds an open invoice; each call is issued one day after the previous one
func (a *app) invoice(balance string) *allocation.Invoice {
	a.t.Helper()
	a.invoiceSeq++
	inv := &allocation.Invoice{
		ID:            uuid.New(),
		TenantID:      a.tenantID,
		CustomerID:    a.customerID,
		InvoiceNumber: "INV-" + string(rune('A'+a.invoiceSeq-1)),
		IssueDate:     time.Date(2024, 1, a.invoiceSeq, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2024, 2, a.invoiceSeq, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.RequireFromString(balance),
		BalanceDue:    decimal.RequireFromString(balance),
		Currency:      valueobject.USD,
		Status:        allocation.InvoiceStatusSent,
	}
	require.NoError(a.t, a.gateway.Upsert(context.Background(), inv))
	return inv
}

func (a *app) headers() map[string]string {
	return map[string]string{
		middleware.HeaderTenantID: a.tenantID.String(),
		middleware.HeaderActorID:  a.actorID.String(),
	}
}

func (a *app) do(method, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	return testutil.Do(a.t, a.engine, testutil.Request{Method: method, Path: path, Body: body, Headers: a.headers()})
}

func (a *app) recordPayment(amount string) paymentJSON {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/v1/payments", map[string]any{
		"customer_id":    a.customerID.String(),
		"amount":         amount,
		"currency":       "usd",
		"payment_method": "bank_transfer",
		"payment_date":   "2024-06-01",
	})
	return testutil.RequireSuccess[recordJSON](a.t, w, http.StatusCreated).Payment
}

type paymentJSON struct {
	ID              uuid.UUID       `json:"id"`
	PaymentNumber   string          `json:"payment_number"`
	Amount          decimal.Decimal `json:"amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          string          `json:"status"`
}

type recordJSON struct {
	Payment paymentJSON `json:"payment"`
}

type allocationJSON struct {
	ID              uuid.UUID       `json:"id"`
	InvoiceID       uuid.UUID       `json:"invoice_id"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	ReversedAt      *time.Time      `json:"reversed_at"`
}

type resultJSON struct {
	Allocations      []allocationJSON `json:"allocations"`
	TotalAllocated   decimal.Decimal  `json:"total_allocated"`
	RemainingAmount  decimal.Decimal  `json:"remaining_amount"`
	IsFullyAllocated bool             `json:"is_fully_allocated"`
	PaymentStatus    string           `json:"payment_status"`
}

func TestHealthAndTenant(t *testing.T) {
	a := newApp(t)

	w := testutil.Do(t, a.engine, testutil.Request{Path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))

	w = testutil.Do(t, a.engine, testutil.Request{Path: "/api/v1/payments"})
	testutil.AssertError(t, w, http.StatusUnauthorized, "UNAUTHORIZED")

	w = testutil.Do(t, a.engine, testutil.Request{Path: "/api/v1/system/info"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAllocationFlow(t *testing.T) {
	a := newApp(t)
	first := a.invoice("120.00")
	second := a.invoice("150.00")
	a.invoice("30.00")

	payment := a.recordPayment("200.00")
	assert.Equal(t, "pending", payment.Status)
	assert.True(t, payment.RemainingAmount.Equal(decimal.RequireFromString("200")))

	// Proposing writes nothing
	w := a.do(http.MethodPost, "/api/v1/payments/"+payment.ID.String()+"/allocations/propose", map[string]any{"strategy": "fifo"})
	proposal := testutil.RequireSuccess[struct {
		Proposals []struct {
			InvoiceID uuid.UUID       `json:"invoice_id"`
			Amount    decimal.Decimal `json:"amount"`
		} `json:"proposals"`
		TotalAllocated decimal.Decimal `json:"total_allocated"`
	}](t, w, http.StatusOK)
	require.Len(t, proposal.Proposals, 2)
	assert.Equal(t, first.ID, proposal.Proposals[0].InvoiceID)
	assert.True(t, proposal.Proposals[0].Amount.Equal(decimal.RequireFromString("120")))
	assert.True(t, proposal.Proposals[1].Amount.Equal(decimal.RequireFromString("80")))

	w = a.do(http.MethodGet, "/api/v1/allocations?payment_id="+payment.ID.String(), nil)
	assert.Equal(t, int64(0), testutil.Decode[[]allocationJSON](t, w).Meta.Total)

	// Auto-allocate with an empty body uses the default strategy
	w = a.do(http.MethodPost, "/api/v1/payments/"+payment.ID.String()+"/allocations/auto", nil)
	result := testutil.RequireSuccess[resultJSON](t, w, http.StatusCreated)
	require.Len(t, result.Allocations, 2)
	assert.True(t, result.TotalAllocated.Equal(decimal.RequireFromString("200")))
	assert.True(t, result.IsFullyAllocated)
	assert.Equal(t, "fully_allocated", result.PaymentStatus)

	w = a.do(http.MethodGet, "/api/v1/allocations?payment_id="+payment.ID.String()+"&status=active", nil)
	listed := testutil.Decode[[]allocationJSON](t, w)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), listed.Meta.Total)

	var onSecond allocationJSON
	for _, al := range result.Allocations {
		if al.InvoiceID == second.ID {
			onSecond = al
		}
	}
	require.NotEqual(t, uuid.Nil, onSecond.ID)

	reversePath := "/api/v1/allocations/" + onSecond.ID.String() + "/reverse"
	w = a.do(http.MethodPost, reversePath, map[string]string{"reason": "wrong invoice"})
	reversed := testutil.RequireSuccess[allocationJSON](t, w, http.StatusOK)
	assert.NotNil(t, reversed.ReversedAt)

	w = a.do(http.MethodPost, reversePath, map[string]string{"reason": "again"})
	testutil.AssertError(t, w, http.StatusConflict, "ALREADY_REVERSED")

	w = a.do(http.MethodGet, "/api/v1/payments/"+payment.ID.String()+"/summary", nil)
	summary := testutil.RequireSuccess[struct {
		AllocatedAmount decimal.Decimal `json:"allocated_amount"`
		RemainingAmount decimal.Decimal `json:"remaining_amount"`
		Status          string          `json:"status"`
	}](t, w, http.StatusOK)
	assert.True(t, summary.AllocatedAmount.Equal(decimal.RequireFromString("120")))
	assert.True(t, summary.RemainingAmount.Equal(decimal.RequireFromString("80")))
	assert.Equal(t, "partially_allocated", summary.Status)

	w = a.do(http.MethodGet, "/api/v1/payments/"+payment.ID.String()+"/audit-trail", nil)
	trail := testutil.RequireSuccess[[]map[string]any](t, w, http.StatusOK)
	assert.NotEmpty(t, trail)

	w = a.do(http.MethodGet, "/api/v1/customers/"+a.customerID.String()+"/balance", nil)
	balance := testutil.RequireSuccess[struct {
		TotalBalanceDue decimal.Decimal `json:"total_balance_due"`
	}](t, w, http.StatusOK)
	assert.True(t, balance.TotalBalanceDue.Equal(decimal.RequireFromString("180")))
}

func TestExecuteAllocation_Errors(t *testing.T) {
	a := newApp(t)
	inv := a.invoice("50.00")
	payment := a.recordPayment("100.00")
	path := "/api/v1/payments/" + payment.ID.String() + "/allocations"

	t.Run("over balance due", func(t *testing.T) {
		w := a.do(http.MethodPost, path, map[string]any{
			"allocations": []map[string]any{{"invoice_id": inv.ID.String(), "amount": "60.00"}},
		})
		testutil.AssertError(t, w, http.StatusUnprocessableEntity, "EXCEEDS_BALANCE_DUE")
	})

	t.Run("binding failure", func(t *testing.T) {
		w := a.do(http.MethodPost, path, map[string]any{"allocations": []map[string]any{}})
		testutil.AssertError(t, w, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
		env := testutil.Decode[any](t, w)
		require.NotEmpty(t, env.Error.Details)
		assert.Equal(t, "allocations", env.Error.Details[0].Field)
	})

	t.Run("malformed payment id", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/v1/payments/nope/allocations", map[string]any{
			"allocations": []map[string]any{{"invoice_id": inv.ID.String(), "amount": "10"}},
		})
		testutil.AssertError(t, w, http.StatusBadRequest, "BAD_REQUEST")
	})

	t.Run("unknown payment", func(t *testing.T) {
		w := a.do(http.MethodGet, "/api/v1/payments/"+uuid.New().String(), nil)
		testutil.AssertError(t, w, http.StatusNotFound, "NOT_FOUND")
	})

	t.Run("manual allocation", func(t *testing.T) {
		w := a.do(http.MethodPost, path, map[string]any{
			"allocations": []map[string]any{{"invoice_id": inv.ID.String(), "amount": "50.00"}},
		})
		result := testutil.RequireSuccess[resultJSON](t, w, http.StatusCreated)
		assert.True(t, result.RemainingAmount.Equal(decimal.RequireFromString("50")))
	})
}

func TestStrategies(t *testing.T) {
	a := newApp(t)

	w := a.do(http.MethodGet, "/api/v1/strategies", nil)
	infos := testutil.RequireSuccess[[]allocationapp.StrategyInfo](t, w, http.StatusOK)
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	assert.Contains(t, names, strategy.AllocationFIFO)

	w = a.do(http.MethodGet, "/api/v1/strategies/usage?from=2024-01-01&to=2024-12-31", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/v1/strategies/usage?from=2024-12-31&to=2024-01-01", nil)
	testutil.AssertError(t, w, http.StatusUnprocessableEntity, "INVALID_INPUT")
}

func TestBatchImport(t *testing.T) {
	a := newApp(t)
	a.invoice("100.00")
	entry := func(amount string) map[string]string {
		return map[string]string{
			"customer_id":    a.customerID.String(),
			"payment_method": "bank_transfer",
			"amount":         amount,
			"payment_date":   "2024-05-31",
		}
	}

	t.Run("dry run", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/v1/batches", map[string]any{
			"dry_run": true,
			"entries": []map[string]string{entry("10.00")},
		})
		res := testutil.RequireSuccess[batchapp.ImportResult](t, w, http.StatusOK)
		assert.Equal(t, batchapp.ResultDryRun, res.Status)
		assert.Nil(t, res.Batch)
	})

	t.Run("all or nothing rejects", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/v1/batches", map[string]any{
			"all_or_nothing": true,
			"entries":        []map[string]string{entry("10.00"), entry("-5")},
		})
		testutil.AssertError(t, w, http.StatusUnprocessableEntity, "BATCH_REJECTED")
		env := testutil.Decode[batchapp.ImportResult](t, w)
		assert.Equal(t, 1, env.Data.Validation.ErrorCount)
	})

	t.Run("imports valid entries", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/v1/batches", map[string]any{
			"entries": []map[string]string{entry("10.00"), entry("20.00")},
		})
		res := testutil.RequireSuccess[batchapp.ImportResult](t, w, http.StatusCreated)
		require.NotNil(t, res.Batch)
		assert.Len(t, res.Payments, 2)

		w = a.do(http.MethodGet, "/api/v1/batches/"+res.Batch.ID.String(), nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = a.do(http.MethodGet, "/api/v1/payments?batch_id="+res.Batch.ID.String(), nil)
		assert.Equal(t, int64(2), testutil.Decode[[]paymentJSON](t, w).Meta.Total)
	})

	t.Run("empty entries", func(t *testing.T) {
		w := a.do(http.MethodPost, "/api/v1/batches", map[string]any{"source_type": "bogus", "entries": []any{}})
		testutil.AssertError(t, w, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	})
}

func multipartBody(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestBatchUpload(t *testing.T) {
	a := newApp(t)
	a.invoice("100.00")
	csv := "Customer ID,Payment Method,Amount,Payment Date,Auto Allocate\n" +
		a.customerID.String() + ",bank_transfer,40.00,2024-05-31,true\n"

	upload := func(filename, content string, fields map[string]string) *httptest.ResponseRecorder {
		body, contentType := multipartBody(t, filename, content, fields)
		return testutil.Do(t, a.engine, testutil.Request{
			Method:      http.MethodPost,
			Path:        "/api/v1/batches/upload",
			RawBody:     body,
			ContentType: contentType,
			Headers:     a.headers(),
		})
	}

	w := upload("payments.csv", csv, map[string]string{"currency": "USD"})
	res := testutil.RequireSuccess[batchapp.ImportResult](t, w, http.StatusCreated)
	require.NotNil(t, res.Batch)
	assert.Equal(t, allocation.SourceTypeCSVImport, res.Batch.SourceType)
	assert.Equal(t, 1, a.archiver.Len())

	w = upload("payments.pdf", csv, nil)
	testutil.AssertError(t, w, http.StatusUnprocessableEntity, "INVALID_FILE")

	w = upload("payments.csv", "Customer ID,Amount\n", nil)
	testutil.AssertError(t, w, http.StatusUnprocessableEntity, "INVALID_FILE")
}

func TestBatchImport_RateLimited(t *testing.T) {
	a := newApp(t, func(d *router.Deps) {
		d.ImportLimiter = cache.NewInMemoryRateLimiter(1, time.Minute)
	})
	body := map[string]any{
		"dry_run": true,
		"entries": []map[string]string{{
			"customer_id":    a.customerID.String(),
			"payment_method": "cash",
			"amount":         "5",
			"payment_date":   "2024-05-31",
		}},
	}

	assert.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/v1/batches", body).Code)

	w := a.do(http.MethodPost, "/api/v1/batches", body)
	testutil.AssertError(t, w, http.StatusTooManyRequests, middleware.ErrCodeRateLimited)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// Reads are not limited
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/v1/batches", nil).Code)
}
