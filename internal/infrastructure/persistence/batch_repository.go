package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBatchRepository implements allocation.BatchRepository using GORM
type GormBatchRepository struct {
	db *gorm.DB
}

// NewGormBatchRepository creates a new GormBatchRepository
func NewGormBatchRepository(db *gorm.DB) *GormBatchRepository {
	return &GormBatchRepository{db: db}
}

// FindByID finds a batch by ID for a tenant
func (r *GormBatchRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*allocation.PaymentBatch, error) {
	var model models.PaymentBatchModel
	if err := conn(ctx, r.db).Where("tenant_id = ? AND id = ?", tenantID, id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, allocation.NotFound("batch", id)
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindAll finds batches matching the filter and returns the total count
func (r *GormBatchRepository) FindAll(ctx context.Context, tenantID uuid.UUID, filter allocation.BatchFilter) ([]allocation.PaymentBatch, int64, error) {
	query := conn(ctx, r.db).Model(&models.PaymentBatchModel{}).Where("tenant_id = ?", tenantID)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.SourceType != nil {
		query = query.Where("source_type = ?", *filter.SourceType)
	}
	if filter.FromDate != nil {
		query = query.Where("created_at >= ?", *filter.FromDate)
	}
	if filter.ToDate != nil {
		query = query.Where("created_at <= ?", *filter.ToDate)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	f := filter.Normalize()
	var rows []models.PaymentBatchModel
	if err := query.
		Order(orderClause(f.OrderBy, f.OrderDir, BatchSortFields, "created_at")).
		Limit(f.PageSize).
		Offset(f.Offset()).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	batches := make([]allocation.PaymentBatch, len(rows))
	for i := range rows {
		batches[i] = *rows[i].ToDomain()
	}
	return batches, total, nil
}

// Save creates or updates a batch
func (r *GormBatchRepository) Save(ctx context.Context, batch *allocation.PaymentBatch) error {
	return conn(ctx, r.db).Save(models.PaymentBatchModelFromDomain(batch)).Error
}

// GenerateBatchNumber issues the next BATCH-YYYYMMDD-NNN number for day
func (r *GormBatchRepository) GenerateBatchNumber(ctx context.Context, tenantID uuid.UUID, day time.Time) (string, error) {
	n, err := nextSequence(ctx, r.db, tenantID, "batch", day)
	if err != nil {
		return "", err
	}
	return allocation.FormatBatchNumber(day, n), nil
}

var _ allocation.BatchRepository = (*GormBatchRepository)(nil)
