package batch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appalloc "github.com/erp/payalloc/internal/application/allocation"
	batchapp "github.com/erp/payalloc/internal/application/batch"
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/erp/payalloc/internal/infrastructure/cache"
	"github.com/erp/payalloc/internal/infrastructure/event"
	batchimport "github.com/erp/payalloc/internal/infrastructure/import"
	"github.com/erp/payalloc/internal/infrastructure/persistence"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	infrastrategy "github.com/erp/payalloc/internal/infrastructure/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	t          *testing.T
	db         *gorm.DB
	allocSvc   *appalloc.AllocationService
	batchRepo  *persistence.GormBatchRepository
	gateway    *persistence.GormInvoiceGateway
	txScope    *persistence.GormTransactionScope
	registry   *infrastrategy.StrategyRegistry
	actx       appalloc.AllocationContext
	customerID uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(append(models.AllModels(), &persistence.NumberSequenceModel{})...))

	registry, err := infrastrategy.NewRegistryWithDefaults(strategy.AllocationFIFO)
	require.NoError(t, err)

	h := &harness{
		t:          t,
		db:         db,
		batchRepo:  persistence.NewGormBatchRepository(db),
		gateway:    persistence.NewGormInvoiceGateway(db),
		txScope:    persistence.NewGormTransactionScope(db),
		registry:   registry,
		actx:       appalloc.NewAllocationContext(uuid.New(), uuid.New()),
		customerID: uuid.New(),
	}
	h.allocSvc = appalloc.NewAllocationService(
		persistence.NewGormPaymentRepository(db),
		h.gateway,
		persistence.NewGormAllocationRepository(db),
		h.txScope,
		registry,
		appalloc.WithClock(func() time.Time { return testNow }),
	)
	return h
}

func (h *harness) service(recorder batchapp.PaymentRecorder, opts ...batchapp.Option) *batchapp.BatchService {
	if recorder == nil {
		recorder = h.allocSvc
	}
	base := []batchapp.Option{batchapp.WithClock(func() time.Time { return testNow }), batchapp.WithLimits(4, 10)}
	return batchapp.NewBatchService(h.batchRepo, recorder, h.txScope, h.registry, append(base, opts...)...)
}

func (h *harness) invoice(balance string) *allocation.Invoice {
	h.t.Helper()
	inv := &allocation.Invoice{
		ID:            uuid.New(),
		TenantID:      h.actx.TenantID,
		CustomerID:    h.customerID,
		InvoiceNumber: "INV-1",
		IssueDate:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DueDate:       time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		TotalAmount:   decimal.RequireFromString(balance),
		BalanceDue:    decimal.RequireFromString(balance),
		Currency:      valueobject.USD,
		Status:        allocation.InvoiceStatusSent,
	}
	require.NoError(h.t, h.gateway.Upsert(context.Background(), inv))
	return inv
}

func (h *harness) entry(row int, amount string) batchimport.PaymentEntry {
	return batchimport.PaymentEntry{
		Row:           row,
		EntityID:      h.customerID.String(),
		PaymentMethod: "bank_transfer",
		Amount:        amount,
		PaymentDate:   "2024-05-31",
	}
}

func (h *harness) count(model any) int64 {
	var n int64
	require.NoError(h.t, h.db.Model(model).Count(&n).Error)
	return n
}

type recorderMock struct {
	mock.Mock
}

func (m *recorderMock) RecordPayment(ctx context.Context, actx appalloc.AllocationContext, req appalloc.RecordPaymentRequest) (*appalloc.RecordPaymentResult, error) {
	args := m.Called(ctx, actx, req)
	res, _ := args.Get(0).(*appalloc.RecordPaymentResult)
	return res, args.Error(1)
}

type memArchiver struct {
	keys []string
	data [][]byte
}

func (a *memArchiver) Archive(_ context.Context, tenantID uuid.UUID, batchNumber, filename, _ string, data []byte) (string, error) {
	key := tenantID.String() + "/" + batchNumber + "/" + filename
	a.keys = append(a.keys, key)
	a.data = append(a.data, data)
	return key, nil
}

func TestImportBatch_ContinueOnError(t *testing.T) {
	h := newHarness(t)
	inv := h.invoice("100.00")
	archiver := &memArchiver{}
	bus := event.NewInMemoryEventBus(zap.NewNop())
	auditRepo := persistence.NewGormAuditLogRepository(h.db)
	bus.Subscribe(appalloc.NewAuditTrailHandler(auditRepo, zap.NewNop()))
	svc := h.service(nil, batchapp.WithArchiver(archiver), batchapp.WithEventPublisher(bus))

	auto := h.entry(2, "60.00")
	auto.AutoAllocate = "true"
	bad := h.entry(3, "abc")
	plain := h.entry(4, "40")
	plain.ReferenceNumber = "CHK-1001"

	res, err := svc.ImportBatch(context.Background(), h.actx, []batchimport.PaymentEntry{auto, bad, plain},
		allocation.SourceTypeCSVImport, batchapp.ImportOptions{
			SourceFile:        "may.csv",
			SourceContent:     []byte("raw"),
			SourceContentType: "text/csv",
		})
	require.NoError(t, err)

	assert.Equal(t, string(allocation.BatchStatusCompletedWithErrors), res.Status)
	assert.Equal(t, 3, res.Validation.TotalRows)
	assert.Equal(t, 2, res.Validation.ValidCount)
	assert.Equal(t, 1, res.Validation.ErrorCount)
	assert.Contains(t, res.Validation.Errors, 3)

	require.NotNil(t, res.Batch)
	assert.Equal(t, "BATCH-20240601-001", res.Batch.BatchNumber)
	assert.Equal(t, 2, res.Batch.ReceiptCount)
	assert.True(t, res.Batch.TotalAmount.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, 1, res.Batch.Metadata.AllocatedCount)
	assert.Equal(t, "may.csv", res.Batch.Metadata.SourceFile)
	require.Len(t, archiver.keys, 1)
	assert.Equal(t, archiver.keys[0], res.Batch.Metadata.SourceObjectKey)

	require.Len(t, res.Payments, 2)
	assert.Equal(t, 2, res.Payments[0].Row)
	assert.Equal(t, 1, res.Payments[0].AllocatedCount)
	assert.Equal(t, strategy.AllocationFIFO, res.Payments[0].Strategy)
	assert.Equal(t, 4, res.Payments[1].Row)

	p, err := h.allocSvc.GetPayment(context.Background(), h.actx, res.Payments[1].PaymentID)
	require.NoError(t, err)
	require.NotNil(t, p.BatchID)
	assert.Equal(t, res.Batch.ID, *p.BatchID)
	assert.Equal(t, "CHK-1001", p.ReferenceNumber)

	reloaded, err := h.gateway.GetInvoice(context.Background(), h.actx.TenantID, inv.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.BalanceDue.Equal(decimal.RequireFromString("40")))

	stored, err := svc.GetBatch(context.Background(), h.actx, res.Batch.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.BatchStatusCompletedWithErrors, stored.Status)
	assert.Equal(t, 1, stored.Metadata.Validation.ErrorCount)
	assert.NotNil(t, stored.ProcessingFinishedAt)

	var audits int64
	require.NoError(t, h.db.Model(&models.AllocationAuditLogModel{}).
		Where("action = ?", allocation.AuditActionBatchImported).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestImportBatch_AllOrNothingRejects(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)

	res, err := svc.ImportBatch(context.Background(), h.actx,
		[]batchimport.PaymentEntry{h.entry(1, "10"), h.entry(2, "-1")},
		allocation.SourceTypeManual, batchapp.ImportOptions{AllOrNothing: true})
	require.NoError(t, err)

	assert.True(t, res.Rejected())
	assert.Nil(t, res.Batch)
	assert.Empty(t, res.Payments)
	assert.Equal(t, 1, res.Validation.ErrorCount)
	assert.Equal(t, int64(0), h.count(&models.PaymentModel{}))
	assert.Equal(t, int64(0), h.count(&models.PaymentBatchModel{}))
}

func TestImportBatch_AllOrNothingAllValid(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)

	res, err := svc.ImportBatch(context.Background(), h.actx,
		[]batchimport.PaymentEntry{h.entry(1, "10"), h.entry(2, "15.5")},
		allocation.SourceTypeManual, batchapp.ImportOptions{AllOrNothing: true})
	require.NoError(t, err)

	assert.Equal(t, string(allocation.BatchStatusCompleted), res.Status)
	assert.Equal(t, 2, res.Batch.ReceiptCount)
	assert.True(t, res.Batch.Metadata.AllOrNothing)
	assert.Equal(t, int64(2), h.count(&models.PaymentModel{}))
}

// failingRecorder records through the real service but fails the given rows
type failingRecorder struct {
	next   batchapp.PaymentRecorder
	failOn decimal.Decimal
}

func (r failingRecorder) RecordPayment(ctx context.Context, actx appalloc.AllocationContext, req appalloc.RecordPaymentRequest) (*appalloc.RecordPaymentResult, error) {
	if req.Amount.Equal(r.failOn) {
		return nil, errors.New("deadlock detected")
	}
	return r.next.RecordPayment(ctx, actx, req)
}

func TestImportBatch_AllOrNothingRollsBackRecordedRows(t *testing.T) {
	h := newHarness(t)
	inv := h.invoice("100")
	archiver := &memArchiver{}
	svc := h.service(failingRecorder{next: h.allocSvc, failOn: decimal.NewFromInt(20)},
		batchapp.WithArchiver(archiver))

	first := h.entry(1, "10")
	first.AutoAllocate = "true"
	res, err := svc.ImportBatch(context.Background(), h.actx,
		[]batchimport.PaymentEntry{first, h.entry(2, "20"), h.entry(3, "30")},
		allocation.SourceTypeCSVImport, batchapp.ImportOptions{
			AllOrNothing:  true,
			SourceFile:    "june.csv",
			SourceContent: []byte("raw"),
		})
	require.NoError(t, err)

	assert.True(t, res.Rejected())
	assert.Nil(t, res.Batch)
	assert.Empty(t, res.Payments)
	assert.Equal(t, 0, res.Validation.ErrorCount)
	assert.Equal(t, map[int]string{2: "deadlock detected"}, res.ProcessingErrors)

	assert.Equal(t, int64(0), h.count(&models.PaymentModel{}))
	assert.Equal(t, int64(0), h.count(&models.PaymentBatchModel{}))
	assert.Equal(t, int64(0), h.count(&models.PaymentAllocationModel{}))
	assert.Empty(t, archiver.keys)

	reloaded, err := h.gateway.GetInvoice(context.Background(), h.actx.TenantID, inv.ID)
	require.NoError(t, err)
	assert.True(t, reloaded.BalanceDue.Equal(decimal.NewFromInt(100)))
}

func TestImportBatch_RowsRefusedAtValidation(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)

	unknown := h.entry(2, "20")
	unknown.AutoAllocate = "true"
	unknown.AllocationStrategy = "no_such_strategy"
	needsOptions := h.entry(3, "20")
	needsOptions.AutoAllocate = "true"
	needsOptions.AllocationStrategy = strategy.AllocationPercentageBased
	priority := h.entry(4, "20")
	priority.AutoAllocate = "true"
	priority.AllocationStrategy = strategy.AllocationCustomPriority
	precise := h.entry(5, "5.005")
	entries := []batchimport.PaymentEntry{h.entry(1, "10"), unknown, needsOptions, priority, precise}

	t.Run("dry run reports them", func(t *testing.T) {
		res, err := svc.ImportBatch(context.Background(), h.actx, entries,
			allocation.SourceTypeManual, batchapp.ImportOptions{DryRun: true})
		require.NoError(t, err)

		assert.Equal(t, 1, res.Validation.ValidCount)
		assert.Equal(t, 4, res.Validation.ErrorCount)
		for _, row := range []int{2, 3, 4, 5} {
			assert.Contains(t, res.Validation.Errors, row)
		}
		assert.Contains(t, res.Validation.Errors[2][0], "not registered")
		assert.Contains(t, res.Validation.Errors[3][0], "needs per-request options")
		assert.Contains(t, res.Validation.Errors[5][0], "decimal places")
	})

	t.Run("all or nothing persists nothing", func(t *testing.T) {
		res, err := svc.ImportBatch(context.Background(), h.actx, []batchimport.PaymentEntry{h.entry(1, "10"), unknown, precise},
			allocation.SourceTypeManual, batchapp.ImportOptions{AllOrNothing: true})
		require.NoError(t, err)

		assert.True(t, res.Rejected())
		assert.Equal(t, 2, res.Validation.ErrorCount)
		assert.Empty(t, res.ProcessingErrors)
		assert.Equal(t, int64(0), h.count(&models.PaymentModel{}))
		assert.Equal(t, int64(0), h.count(&models.PaymentBatchModel{}))
	})
}

func TestImportBatch_SameCustomerAutoAllocations(t *testing.T) {
	for _, allOrNothing := range []bool{false, true} {
		name := "row per transaction"
		if allOrNothing {
			name = "one transaction"
		}
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			inv := h.invoice("80")
			svc := h.service(nil)

			rows := []batchimport.PaymentEntry{h.entry(1, "50"), h.entry(2, "40")}
			for i := range rows {
				rows[i].AutoAllocate = "true"
			}
			res, err := svc.ImportBatch(context.Background(), h.actx, rows,
				allocation.SourceTypeManual, batchapp.ImportOptions{AllOrNothing: allOrNothing})
			require.NoError(t, err)

			assert.Equal(t, string(allocation.BatchStatusCompleted), res.Status)
			assert.Empty(t, res.ProcessingErrors)
			require.NotNil(t, res.Batch)
			assert.Equal(t, 2, res.Batch.ReceiptCount)
			assert.Equal(t, 2, res.Batch.Metadata.AllocatedCount)
			assert.Equal(t, int64(2), h.count(&models.PaymentModel{}))

			reloaded, err := h.gateway.GetInvoice(context.Background(), h.actx.TenantID, inv.ID)
			require.NoError(t, err)
			assert.True(t, reloaded.BalanceDue.IsZero())
			assert.Equal(t, allocation.InvoiceStatusPaid, reloaded.Status)
		})
	}
}

func TestImportBatch_DryRun(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)

	res, err := svc.ImportBatch(context.Background(), h.actx,
		[]batchimport.PaymentEntry{h.entry(1, "10"), {Row: 2}},
		allocation.SourceTypeCSVImport, batchapp.ImportOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, batchapp.ResultDryRun, res.Status)
	assert.Equal(t, 1, res.Validation.ValidCount)
	assert.Len(t, res.Validation.Errors[2], 4)
	assert.Equal(t, int64(0), h.count(&models.PaymentModel{}))
	assert.Equal(t, int64(0), h.count(&models.PaymentBatchModel{}))
}

func TestImportBatch_CurrencyMustMatchBatch(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)

	eur := h.entry(1, "10")
	eur.Currency = "EUR"
	usd := h.entry(2, "10")
	usd.Currency = "USD"

	res, err := svc.ImportBatch(context.Background(), h.actx, []batchimport.PaymentEntry{eur, usd},
		allocation.SourceTypeBankFeed, batchapp.ImportOptions{Currency: "eur"})
	require.NoError(t, err)

	assert.Equal(t, valueobject.EUR, res.Batch.Currency)
	assert.Equal(t, 1, res.Batch.ReceiptCount)
	require.Contains(t, res.Validation.Errors, 2)
	assert.Contains(t, res.Validation.Errors[2][0], "does not match batch currency EUR")
}

func TestImportBatch_ProcessingFailures(t *testing.T) {
	h := newHarness(t)
	recorder := &recorderMock{}
	recorder.On("RecordPayment", mock.Anything, h.actx, mock.Anything).
		Return(nil, errors.New("database is locked"))
	svc := h.service(recorder)

	res, err := svc.ImportBatch(context.Background(), h.actx,
		[]batchimport.PaymentEntry{h.entry(1, "10"), h.entry(2, "20")},
		allocation.SourceTypeManual, batchapp.ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, string(allocation.BatchStatusFailed), res.Status)
	assert.Equal(t, map[int]string{1: "database is locked", 2: "database is locked"}, res.ProcessingErrors)
	assert.Equal(t, 0, res.Batch.ReceiptCount)
	assert.Equal(t, "no entries could be imported", res.Batch.Metadata.FailureReason)
	recorder.AssertNumberOfCalls(t, "RecordPayment", 2)

	recorder.AssertCalled(t, "RecordPayment", mock.Anything, h.actx, mock.MatchedBy(func(req appalloc.RecordPaymentRequest) bool {
		return req.BatchID != nil && *req.BatchID == res.Batch.ID && req.Amount.Equal(decimal.NewFromInt(20))
	}))
}

func TestImportBatch_RequestErrors(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)
	ctx := context.Background()

	_, err := svc.ImportBatch(ctx, h.actx, nil, allocation.SourceTypeManual, batchapp.ImportOptions{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.ImportBatch(ctx, h.actx, []batchimport.PaymentEntry{h.entry(1, "1")}, "fax", batchapp.ImportOptions{})
	var de *shared.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_SOURCE_TYPE", de.Code)

	many := make([]batchimport.PaymentEntry, 11)
	_, err = svc.ImportBatch(ctx, h.actx, many, allocation.SourceTypeManual, batchapp.ImportOptions{})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "BATCH_TOO_LARGE", de.Code)

	_, err = svc.ImportBatch(ctx, h.actx, []batchimport.PaymentEntry{h.entry(1, "1")},
		allocation.SourceTypeManual, batchapp.ImportOptions{Currency: "EURO"})
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "INVALID_CURRENCY", de.Code)

	_, err = svc.ImportBatch(ctx, appalloc.AllocationContext{}, []batchimport.PaymentEntry{h.entry(1, "1")},
		allocation.SourceTypeManual, batchapp.ImportOptions{})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestImportBatch_IdempotencyKey(t *testing.T) {
	h := newHarness(t)
	guard := appalloc.NewIdempotencyGuard(cache.NewInMemoryIdempotencyStore(0), time.Hour, nil)
	svc := h.service(nil, batchapp.WithIdempotencyGuard(guard))
	ctx := context.Background()
	entries := []batchimport.PaymentEntry{h.entry(1, "10")}

	_, err := svc.ImportBatch(ctx, h.actx, entries, allocation.SourceTypeManual, batchapp.ImportOptions{IdempotencyKey: "imp-1"})
	require.NoError(t, err)

	_, err = svc.ImportBatch(ctx, h.actx, entries, allocation.SourceTypeManual, batchapp.ImportOptions{IdempotencyKey: "imp-1"})
	assert.ErrorIs(t, err, shared.ErrDuplicateRequest)
	assert.Equal(t, int64(1), h.count(&models.PaymentBatchModel{}))
}

func TestListBatches(t *testing.T) {
	h := newHarness(t)
	svc := h.service(nil)
	ctx := context.Background()

	for range 2 {
		_, err := svc.ImportBatch(ctx, h.actx, []batchimport.PaymentEntry{h.entry(1, "5")},
			allocation.SourceTypeManual, batchapp.ImportOptions{})
		require.NoError(t, err)
	}

	page, err := svc.ListBatches(ctx, h.actx, allocation.BatchFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)

	completed := allocation.BatchStatusCompleted
	page, err = svc.ListBatches(ctx, h.actx, allocation.BatchFilter{Status: &completed})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)

	bogus := allocation.BatchStatus("archived")
	_, err = svc.ListBatches(ctx, h.actx, allocation.BatchFilter{Status: &bogus})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.GetBatch(ctx, h.actx, uuid.New())
	assert.True(t, allocation.IsNotFound(err))
}
