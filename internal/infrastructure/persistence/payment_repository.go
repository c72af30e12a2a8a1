package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPaymentRepository implements allocation.PaymentRepository using GORM
type GormPaymentRepository struct {
	db *gorm.DB
}

// NewGormPaymentRepository creates a new GormPaymentRepository
func NewGormPaymentRepository(db *gorm.DB) *GormPaymentRepository {
	return &GormPaymentRepository{db: db}
}

// FindByID finds a payment by ID for a tenant
func (r *GormPaymentRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*allocation.Payment, error) {
	return r.find(conn(ctx, r.db), tenantID, id)
}

// FindByIDForUpdate loads a payment with SELECT ... FOR UPDATE
func (r *GormPaymentRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*allocation.Payment, error) {
	return r.find(conn(ctx, r.db).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

func (r *GormPaymentRepository) find(q *gorm.DB, tenantID, id uuid.UUID) (*allocation.Payment, error) {
	var model models.PaymentModel
	if err := q.Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NotFound("payment", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds payments matching the filter and returns the total count
func (r *GormPaymentRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter allocation.PaymentFilter) ([]allocation.Payment, int64, error) {
	query := conn(ctx, r.db).Model(&models.PaymentModel{}).Where("tenant_id = ?", tenantID)
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}
	if filter.BatchID != nil {
		query = query.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.FromDate != nil {
		query = query.Where("payment_date >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("payment_date <= ?", *filter.ToDate)
	}

	query = query.Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	f := filter.Normalize()
	var rows []models.PaymentModel
	if err := query.
		Order(orderClause(f.OrderBy, f.OrderDir, PaymentSortFields, "created_at")).
		Limit(f.PageSize).
		Offset(f.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	payments := make([]allocation.Payment, len(rows))
	for i := range rows {
		payments[i] = *rows[i].ToDomain()
	}
	return payments, total, nil
}

// SumUnallocatedByCustomer sums remaining amounts of payments that can still
// be allocated
func (r *GormPaymentRepository) SumUnallocatedByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.NullDecimal
	err := conn(ctx, r.db).
		Model(&models.PaymentModel{}).
		Select("SUM(remaining_amount)").
		Where("tenant_id = ? AND customer_id = ? AND status IN ?", tenantID, customerID,
			[]allocation.PaymentStatus{allocation.PaymentStatusPending, allocation.PaymentStatusPartiallyAllocated}).
		Row().Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return sum.Decimal, nil
}

// Save creates or updates a payment
func (r *GormPaymentRepository) Save(ctx context.Context, payment *allocation.Payment) error {
	return conn(ctx, r.db).Save(models.PaymentModelFromDomain(payment)).Error
}

// GeneratePaymentNumber issues the next PAY-YYYYMMDD-NNNNNN number for day
func (r *GormPaymentRepository) GeneratePaymentNumber(ctx context.Context, tenantID uuid.UUID, day time.Time) (string, error) {
	n, err := nextSequence(ctx, r.db, tenantID, "payment", day)
	if err != nil {
		return "", err
	}
	return allocation.FormatPaymentNumber(day, n), nil
}

var _ allocation.PaymentRepository = (*GormPaymentRepository)(nil)
