package persistence

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManualStrategyLabel names manual allocations in strategy filters and reports
const ManualStrategyLabel = "manual"

// GormAllocationRepository implements allocation.AllocationRepository using GORM
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// FindByID finds an allocation by ID for a tenant
func (r *GormAllocationRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*allocation.PaymentAllocation, error) {
	var model models.PaymentAllocationModel
	if err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NotFound("allocation", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDsForUpdate locks the allocations in ascending ID order
func (r *GormAllocationRepository) FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]allocation.PaymentAllocation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(ids)
	slices.SortFunc(sorted, compareUUID)

	var rows []models.PaymentAllocationModel
	if err := conn(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, sorted).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toAllocations(rows), nil
}

// FindByPayment returns all allocations of a payment in creation order
func (r *GormAllocationRepository) FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]allocation.PaymentAllocation, error) {
	var rows []models.PaymentAllocationModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("allocation_date ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toAllocations(rows), nil
}

// FindAll finds allocations matching the filter and returns the total count
func (r *GormAllocationRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter allocation.AllocationFilter) ([]allocation.PaymentAllocation, int64, error) {
	query := conn(ctx, r.db).Model(&models.PaymentAllocationModel{}).Where("tenant_id = ?", tenantID)
	if filter.PaymentID != nil {
		query = query.Where("payment_id = ?", *filter.PaymentID)
	}
	if filter.InvoiceID != nil {
		query = query.Where("invoice_id = ?", *filter.InvoiceID)
	}
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.Status != nil {
		switch *filter.Status {
		case allocation.AllocationStatusActive:
			query = query.Where("reversed_at IS NULL")
		case allocation.AllocationStatusReversed:
			query = query.Where("reversed_at IS NOT NULL")
		}
	}
	if filter.Strategy != nil {
		if *filter.Strategy == ManualStrategyLabel {
			query = query.Where("allocation_method = ?", allocation.AllocationMethodManual)
		} else {
			query = query.Where("allocation_strategy = ?", *filter.Strategy)
		}
	}
	if filter.Method != nil {
		query = query.Where("allocation_method = ?", *filter.Method)
	}
	if filter.FromDate != nil {
		query = query.Where("allocation_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("allocation_date <= ?", *filter.ToDate)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	f := filter.Normalize()
	var rows []models.PaymentAllocationModel
	if err := query.
		Order(orderClause(f.OrderBy, f.OrderDir, AllocationSortFields, "allocation_date")).
		Limit(f.PageSize).
		Offset(f.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return toAllocations(rows), total, nil
}

// SumActiveByCustomer sums active allocated amounts of a customer
func (r *GormAllocationRepository) SumActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := conn(ctx, r.db).
		Model(&models.PaymentAllocationModel{}).
		Select("SUM(allocated_amount)").
		Where("tenant_id = ? AND customer_id = ? AND reversed_at IS NULL", tenantID, customerID).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

type strategyUsageRow struct {
	Strategy    string
	AllocCount  int64
	TotalAmount decimal.Decimal
	AvgAmount   decimal.Decimal
	MinAmount   decimal.Decimal
	MaxAmount   decimal.Decimal
}

// StrategyUsage aggregates active allocations in [from, to] by strategy
func (r *GormAllocationRepository) StrategyUsage(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]allocation.StrategyUsage, error) {
	var rows []strategyUsageRow
	if err := conn(ctx, r.db).
		Model(&models.PaymentAllocationModel{}).
		Select(`COALESCE(allocation_strategy, ?) AS strategy,
			COUNT(*) AS alloc_count,
			SUM(allocated_amount) AS total_amount,
			AVG(allocated_amount) AS avg_amount,
			MIN(allocated_amount) AS min_amount,
			MAX(allocated_amount) AS max_amount`, ManualStrategyLabel).
		Where("tenant_id = ? AND reversed_at IS NULL AND allocation_date BETWEEN ? AND ?", tenantID, from, to).
		Group("strategy").
		Order("strategy ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]allocation.StrategyUsage, len(rows))
	for i, row := range rows {
		out[i] = allocation.StrategyUsage{
			Strategy: row.Strategy,
			Count:    row.AllocCount,
			Total:    row.TotalAmount,
			Average:  row.AvgAmount.Round(4),
			Min:      row.MinAmount,
			Max:      row.MaxAmount,
		}
	}
	return out, nil
}

// CreateBatch inserts new allocations
func (r *GormAllocationRepository) CreateBatch(ctx context.Context, allocations []*allocation.PaymentAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]*models.PaymentAllocationModel, len(allocations))
	for i, a := range allocations {
		rows[i] = models.PaymentAllocationModelFromDomain(a)
	}
	return conn(ctx, r.db).Create(rows).Error
}

// Save updates an allocation
func (r *GormAllocationRepository) Save(ctx context.Context, a *allocation.PaymentAllocation) error {
	return conn(ctx, r.db).Save(models.PaymentAllocationModelFromDomain(a)).Error
}

func toAllocations(rows []models.PaymentAllocationModel) []allocation.PaymentAllocation {
	out := make([]allocation.PaymentAllocation, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ allocation.AllocationRepository = (*GormAllocationRepository)(nil)
