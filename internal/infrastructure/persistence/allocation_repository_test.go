package persistence

import (
	"context"
	"testing"
	"time"

	appalloc "github.com/erp/payalloc/internal/application/allocation"
	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupAllocationTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	// Every pooled connection would get its own empty in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(append(models.AllModels(), &NumberSequenceModel{})...))
	return db
}

type allocationFixture struct {
	tenantID   uuid.UUID
	customerID uuid.UUID
	payment    *allocation.Payment
	invoices   []*allocation.Invoice
}

func seedAllocationFixture(t *testing.T, db *gorm.DB, amount string, balances ...string) allocationFixture {
	ctx := context.Background()
	f := allocationFixture{tenantID: uuid.New(), customerID: uuid.New()}

	money, err := valueobject.NewMoneyFromString(amount, valueobject.USD)
	require.NoError(t, err)
	f.payment, err = allocation.NewPayment(f.tenantID, f.customerID, "PAY-20240601-000001", money,
		allocation.PaymentMethodBankTransfer, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, NewGormPaymentRepository(db).Save(ctx, f.payment))

	gateway := NewGormInvoiceGateway(db)
	for i, b := range balances {
		inv := &allocation.Invoice{
			ID:            uuid.New(),
			TenantID:      f.tenantID,
			CustomerID:    f.customerID,
			InvoiceNumber: "INV-" + string(rune('A'+i)),
			IssueDate:     time.Date(2024, 1, 1+i, 0, 0, 0, 0, time.UTC),
			DueDate:       time.Date(2024, 2, 1+i, 0, 0, 0, 0, time.UTC),
			TotalAmount:   decimal.RequireFromString(b),
			BalanceDue:    decimal.RequireFromString(b),
			Currency:      valueobject.USD,
			Status:        allocation.InvoiceStatusSent,
		}
		require.NoError(t, gateway.Upsert(ctx, inv))
		f.invoices = append(f.invoices, inv)
	}
	return f
}

func TestGormPaymentRepository_SaveAndFind(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormPaymentRepository(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "150.50")

	t.Run("finds saved payment", func(t *testing.T) {
		p, err := repo.FindByID(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		assert.Equal(t, f.payment.PaymentNumber, p.PaymentNumber)
		assert.True(t, p.Amount.Equal(decimal.RequireFromString("150.50")))
		assert.True(t, p.RemainingAmount.Equal(p.Amount))
		assert.Equal(t, allocation.PaymentStatusPending, p.Status)
		assert.Equal(t, valueobject.USD, p.Currency)
	})

	t.Run("scoped to tenant", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New(), f.payment.ID)
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.True(t, allocation.IsNotFound(err))
	})

	t.Run("lock variant reads the same row", func(t *testing.T) {
		p, err := repo.FindByIDForUpdate(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		assert.Equal(t, f.payment.ID, p.ID)
	})

	t.Run("save updates balances", func(t *testing.T) {
		p, err := repo.FindByID(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		require.NoError(t, p.ApplyAllocation(decimal.NewFromInt(50)))
		require.NoError(t, repo.Save(ctx, p))

		reloaded, err := repo.FindByID(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		assert.True(t, reloaded.RemainingAmount.Equal(decimal.RequireFromString("100.50")))
		assert.Equal(t, allocation.PaymentStatusPartiallyAllocated, reloaded.Status)
		assert.Equal(t, 2, reloaded.Version)
	})

	t.Run("sums unallocated funds of open payments", func(t *testing.T) {
		sum, err := repo.SumUnallocatedByCustomer(ctx, f.tenantID, f.customerID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.RequireFromString("100.50")), sum.String())

		none, err := repo.SumUnallocatedByCustomer(ctx, f.tenantID, uuid.New())
		require.NoError(t, err)
		assert.True(t, none.IsZero())
	})
}

func TestGormPaymentRepository_FindAll(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormPaymentRepository(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "100")

	for i := 0; i < 4; i++ {
		money, _ := valueobject.NewMoneyFromString("10", valueobject.USD)
		p, err := allocation.NewPayment(f.tenantID, uuid.New(), allocation.FormatPaymentNumber(time.Now(), i+2), money,
			allocation.PaymentMethodCash, time.Date(2024, 7, 1+i, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.NoError(t, repo.Save(ctx, p))
	}

	filter := allocation.PaymentFilter{Filter: shared.Filter{Page: 1, PageSize: 2}}
	page, total, err := repo.FindAll(ctx, f.tenantID, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, page, 2)

	filter.CustomerID = &f.customerID
	byCustomer, total, err := repo.FindAll(ctx, f.tenantID, filter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, byCustomer, 1)
	assert.Equal(t, f.payment.ID, byCustomer[0].ID)
}

func TestGormPaymentRepository_GeneratePaymentNumber(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormPaymentRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	first, err := repo.GeneratePaymentNumber(ctx, tenantID, day)
	require.NoError(t, err)
	second, err := repo.GeneratePaymentNumber(ctx, tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, "PAY-20240601-000001", first)
	assert.Equal(t, "PAY-20240601-000002", second)

	otherDay, err := repo.GeneratePaymentNumber(ctx, tenantID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, "PAY-20240602-000001", otherDay)

	otherTenant, err := repo.GeneratePaymentNumber(ctx, uuid.New(), day)
	require.NoError(t, err)
	assert.Equal(t, "PAY-20240601-000001", otherTenant)

	batchNumber, err := NewGormBatchRepository(db).GenerateBatchNumber(ctx, tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, "BATCH-20240601-001", batchNumber)
}

func TestGormInvoiceGateway(t *testing.T) {
	db := setupAllocationTestDB(t)
	gateway := NewGormInvoiceGateway(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "100", "120", "30")

	t.Run("finds open invoices in issue order", func(t *testing.T) {
		open, err := gateway.FindOpenForCustomer(ctx, f.tenantID, f.customerID)
		require.NoError(t, err)
		require.Len(t, open, 2)
		assert.Equal(t, f.invoices[0].ID, open[0].ID)
		assert.Equal(t, f.invoices[1].ID, open[1].ID)
	})

	t.Run("decrement and status", func(t *testing.T) {
		id := f.invoices[1].ID
		require.NoError(t, gateway.DecrementBalance(ctx, id, decimal.NewFromInt(30)))
		require.NoError(t, gateway.SetStatus(ctx, id, allocation.InvoiceStatusPaid))

		inv, err := gateway.GetInvoice(ctx, f.tenantID, id)
		require.NoError(t, err)
		assert.True(t, inv.BalanceDue.IsZero())
		assert.Equal(t, allocation.InvoiceStatusPaid, inv.Status)

		open, err := gateway.FindOpenForCustomer(ctx, f.tenantID, f.customerID)
		require.NoError(t, err)
		assert.Len(t, open, 1)
	})

	t.Run("increment restores balance", func(t *testing.T) {
		id := f.invoices[1].ID
		require.NoError(t, gateway.IncrementBalance(ctx, id, decimal.NewFromInt(30)))
		inv, err := gateway.GetInvoice(ctx, f.tenantID, id)
		require.NoError(t, err)
		assert.True(t, inv.BalanceDue.Equal(decimal.NewFromInt(30)))
	})

	t.Run("lock returns invoices in id order", func(t *testing.T) {
		ids := []uuid.UUID{f.invoices[1].ID, f.invoices[0].ID}
		locked, err := gateway.LockForUpdate(ctx, f.tenantID, ids)
		require.NoError(t, err)
		require.Len(t, locked, 2)
		assert.Equal(t, -1, compareUUID(locked[0].ID, locked[1].ID))
	})

	t.Run("missing invoice", func(t *testing.T) {
		_, err := gateway.GetInvoice(ctx, f.tenantID, uuid.New())
		assert.True(t, allocation.IsNotFound(err))
		assert.True(t, allocation.IsNotFound(gateway.DecrementBalance(ctx, uuid.New(), decimal.NewFromInt(1))))
	})
}

func TestGormAllocationRepository_ManualFilterMatchesMethod(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormAllocationRepository(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "100", "50", "50")
	actor := uuid.New()

	manual, err := allocation.NewPaymentAllocation(f.payment, f.invoices[0], decimal.NewFromInt(50),
		allocation.AllocationMethodManual, "", actor)
	require.NoError(t, err)
	unnamed, err := allocation.NewPaymentAllocation(f.payment, f.invoices[1], decimal.NewFromInt(50),
		allocation.AllocationMethodAutomatic, "", actor)
	require.NoError(t, err)
	require.NoError(t, repo.CreateBatch(ctx, []*allocation.PaymentAllocation{manual, unnamed}))

	manualLabel := ManualStrategyLabel
	rows, total, err := repo.FindAll(ctx, f.tenantID, allocation.AllocationFilter{Strategy: &manualLabel})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, rows, 1)
	assert.Equal(t, manual.ID, rows[0].ID)
}

func TestGormAllocationRepository(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormAllocationRepository(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "300", "100", "100", "100")
	actor := uuid.New()

	manual, err := allocation.NewPaymentAllocation(f.payment, f.invoices[0], decimal.NewFromInt(100),
		allocation.AllocationMethodManual, "", actor)
	require.NoError(t, err)
	fifo1, err := allocation.NewPaymentAllocation(f.payment, f.invoices[1], decimal.NewFromInt(60),
		allocation.AllocationMethodAutomatic, "fifo", actor)
	require.NoError(t, err)
	fifo2, err := allocation.NewPaymentAllocation(f.payment, f.invoices[2], decimal.NewFromInt(40),
		allocation.AllocationMethodAutomatic, "fifo", actor)
	require.NoError(t, err)
	require.NoError(t, repo.CreateBatch(ctx, []*allocation.PaymentAllocation{manual, fifo1, fifo2}))

	t.Run("find by id", func(t *testing.T) {
		a, err := repo.FindByID(ctx, f.tenantID, fifo1.ID)
		require.NoError(t, err)
		assert.Equal(t, "fifo", a.StrategyName())
		assert.True(t, a.IsActive())
		assert.Equal(t, allocation.InvoiceStatusSent, a.InvoiceStatusBefore)
	})

	t.Run("sum of active allocations", func(t *testing.T) {
		sum, err := repo.SumActiveByCustomer(ctx, f.tenantID, f.customerID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(200)), sum.String())
	})

	t.Run("reversed allocations drop out of active aggregates", func(t *testing.T) {
		locked, err := repo.FindByIDsForUpdate(ctx, f.tenantID, []uuid.UUID{fifo2.ID})
		require.NoError(t, err)
		require.Len(t, locked, 1)
		require.NoError(t, locked[0].Reverse("wrong invoice", actor))
		require.NoError(t, repo.Save(ctx, &locked[0]))

		sum, err := repo.SumActiveByCustomer(ctx, f.tenantID, f.customerID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(160)), sum.String())

		all, err := repo.FindByPayment(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		assert.Len(t, all, 3)
		assert.True(t, allocation.SumActive(all).Equal(decimal.NewFromInt(160)))
	})

	t.Run("filters", func(t *testing.T) {
		active := allocation.AllocationStatusActive
		_, total, err := repo.FindAll(ctx, f.tenantID, allocation.AllocationFilter{Status: &active})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)

		reversed := allocation.AllocationStatusReversed
		rows, total, err := repo.FindAll(ctx, f.tenantID, allocation.AllocationFilter{Status: &reversed})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		require.Len(t, rows, 1)
		assert.Equal(t, fifo2.ID, rows[0].ID)
		require.NotNil(t, rows[0].ReversalReason)
		assert.Equal(t, "wrong invoice", *rows[0].ReversalReason)

		manualLabel := ManualStrategyLabel
		rows, total, err = repo.FindAll(ctx, f.tenantID, allocation.AllocationFilter{Strategy: &manualLabel})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
		assert.Equal(t, manual.ID, rows[0].ID)

		invoiceID := f.invoices[1].ID
		_, total, err = repo.FindAll(ctx, f.tenantID, allocation.AllocationFilter{InvoiceID: &invoiceID})
		require.NoError(t, err)
		assert.Equal(t, int64(1), total)
	})

	t.Run("strategy usage", func(t *testing.T) {
		from := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)
		usage, err := repo.StrategyUsage(ctx, f.tenantID, from, to)
		require.NoError(t, err)
		require.Len(t, usage, 2)

		assert.Equal(t, "fifo", usage[0].Strategy)
		assert.Equal(t, int64(1), usage[0].Count)
		assert.True(t, usage[0].Total.Equal(decimal.NewFromInt(60)))

		assert.Equal(t, ManualStrategyLabel, usage[1].Strategy)
		assert.True(t, usage[1].Max.Equal(decimal.NewFromInt(100)))
	})
}

func TestGormBatchRepository(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormBatchRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()

	batch, err := allocation.NewPaymentBatch(tenantID, "BATCH-20240601-001", allocation.SourceTypeCSVImport, valueobject.USD)
	require.NoError(t, err)
	batch.Metadata.Validation = allocation.NewValidationSummary(3, []allocation.RowError{
		{Row: 2, Field: "amount", Message: "must be positive"},
	})
	require.NoError(t, repo.Save(ctx, batch))

	require.NoError(t, batch.StartProcessing())
	require.NoError(t, repo.Save(ctx, batch))

	found, err := repo.FindByID(ctx, tenantID, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, allocation.BatchStatusProcessing, found.Status)
	assert.Equal(t, 1, found.Metadata.Validation.ErrorCount)
	assert.Equal(t, []string{"amount: must be positive"}, found.Metadata.Validation.Errors[2])

	status := allocation.BatchStatusProcessing
	list, total, err := repo.FindAll(ctx, tenantID, allocation.BatchFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	_, err = repo.FindByID(ctx, uuid.New(), batch.ID)
	assert.True(t, allocation.IsNotFound(err))
}

func TestGormAuditLogRepository_IgnoresRedelivery(t *testing.T) {
	db := setupAllocationTestDB(t)
	repo := NewGormAuditLogRepository(db)
	ctx := context.Background()
	tenantID := uuid.New()
	paymentID := uuid.New()
	eventID := uuid.New()

	entry := allocation.NewAuditLog(tenantID, allocation.AuditActionPaymentAllocated, eventID, time.Now()).
		WithPayment(paymentID)
	entry.Details["strategy"] = "fifo"
	require.NoError(t, repo.Create(ctx, entry))

	again := allocation.NewAuditLog(tenantID, allocation.AuditActionPaymentAllocated, eventID, time.Now()).
		WithPayment(paymentID)
	require.NoError(t, repo.Create(ctx, again))

	entries, err := repo.FindByPayment(ctx, tenantID, paymentID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fifo", entries[0].Details["strategy"])
}

func TestGormTransactionScope(t *testing.T) {
	db := setupAllocationTestDB(t)
	scope := NewGormTransactionScope(db)
	ctx := context.Background()
	f := seedAllocationFixture(t, db, "100", "100")

	t.Run("rolls back on error", func(t *testing.T) {
		err := scope.Execute(ctx, func(repos appalloc.TransactionalRepositories) error {
			p, err := repos.PaymentRepo().FindByIDForUpdate(ctx, f.tenantID, f.payment.ID)
			if err != nil {
				return err
			}
			if err := p.ApplyAllocation(decimal.NewFromInt(40)); err != nil {
				return err
			}
			if err := repos.PaymentRepo().Save(ctx, p); err != nil {
				return err
			}
			return allocation.ErrExceedsBalanceDue
		})
		assert.ErrorIs(t, err, allocation.ErrExceedsBalanceDue)

		p, err := NewGormPaymentRepository(db).FindByID(ctx, f.tenantID, f.payment.ID)
		require.NoError(t, err)
		assert.True(t, p.RemainingAmount.Equal(decimal.NewFromInt(100)))
	})

	t.Run("commits on success", func(t *testing.T) {
		err := scope.Execute(ctx, func(repos appalloc.TransactionalRepositories) error {
			return repos.InvoiceGateway().DecrementBalance(ctx, f.invoices[0].ID, decimal.NewFromInt(25))
		})
		require.NoError(t, err)

		inv, err := NewGormInvoiceGateway(db).GetInvoice(ctx, f.tenantID, f.invoices[0].ID)
		require.NoError(t, err)
		assert.True(t, inv.BalanceDue.Equal(decimal.NewFromInt(75)))
	})
	t.Run("nested units of work roll back with the outer run", func(t *testing.T) {
		err := scope.Run(ctx, func(txCtx context.Context, _ appalloc.TransactionalRepositories) error {
			inner := scope.Execute(txCtx, func(repos appalloc.TransactionalRepositories) error {
				return repos.InvoiceGateway().DecrementBalance(txCtx, f.invoices[1].ID, decimal.NewFromInt(30))
			})
			if inner != nil {
				return inner
			}
			// plain repositories pick the transaction up from the context
			if err := NewGormInvoiceGateway(db).DecrementBalance(txCtx, f.invoices[1].ID, decimal.NewFromInt(10)); err != nil {
				return err
			}
			inv, err := NewGormInvoiceGateway(db).GetInvoice(txCtx, f.tenantID, f.invoices[1].ID)
			require.NoError(t, err)
			assert.True(t, inv.BalanceDue.Equal(decimal.NewFromInt(60)))
			return allocation.ErrInvoiceNotOpen
		})
		assert.ErrorIs(t, err, allocation.ErrInvoiceNotOpen)

		inv, err := NewGormInvoiceGateway(db).GetInvoice(ctx, f.tenantID, f.invoices[1].ID)
		require.NoError(t, err)
		assert.True(t, inv.BalanceDue.Equal(decimal.NewFromInt(100)))
	})
}
