package persistence

import (
	"context"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAuditLogRepository implements allocation.AuditLogRepository using GORM
type GormAuditLogRepository struct {
	db *gorm.DB
}

// NewGormAuditLogRepository creates a new GormAuditLogRepository
func NewGormAuditLogRepository(db *gorm.DB) *GormAuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

// Create appends an entry. Redelivery of the same event is ignored.
func (r *GormAuditLogRepository) Create(ctx context.Context, entry *allocation.AllocationAuditLog) error {
	return conn(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "event_id"}}, DoNothing: true}).
		Create(models.AllocationAuditLogModelFromDomain(entry)).Error
}

// FindByPayment returns entries of a payment, oldest first
func (r *GormAuditLogRepository) FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]allocation.AllocationAuditLog, error) {
	var rows []models.AllocationAuditLogModel
	if err := conn(ctx, r.db).
		Where("tenant_id = ? AND payment_id = ?", tenantID, paymentID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]allocation.AllocationAuditLog, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out, nil
}

var _ allocation.AuditLogRepository = (*GormAuditLogRepository)(nil)
