package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NumberSequenceModel holds the last issued number per tenant and scope
type NumberSequenceModel struct {
	TenantID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Scope    string    `gorm:"type:varchar(50);primaryKey"`
	Value    int64     `gorm:"not null"`
}

// TableName returns the table name for GORM
func (NumberSequenceModel) TableName() string {
	return "number_sequences"
}

const nextSequenceSQL = `INSERT INTO number_sequences (tenant_id, scope, value) VALUES (?, ?, 1)
ON CONFLICT (tenant_id, scope) DO UPDATE SET value = number_sequences.value + 1
RETURNING value`

// nextSequence atomically increments and returns the counter for
// (tenantID, kind, day). Counters restart every day.
func nextSequence(ctx context.Context, db *gorm.DB, tenantID uuid.UUID, kind string, day time.Time) (int, error) {
	scope := fmt.Sprintf("%s:%s", kind, day.Format("20060102"))
	var value int64
	if err := conn(ctx, db).Raw(nextSequenceSQL, tenantID, scope).Scan(&value).Error; err != nil {
		return 0, fmt.Errorf("failed to advance %s sequence: %w", kind, err)
	}
	return int(value), nil
}
