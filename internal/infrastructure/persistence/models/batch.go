package models

import (
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentBatchModel is the persistence model for the PaymentBatch aggregate root
type PaymentBatchModel struct {
	TenantAggregateModel
	BatchNumber          string                   `gorm:"type:varchar(50);not null;index"`
	SourceType           allocation.SourceType    `gorm:"type:varchar(20);not null"`
	Status               allocation.BatchStatus   `gorm:"type:varchar(30);not null;index"`
	ReceiptCount         int                      `gorm:"not null;default:0"`
	TotalAmount          decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency             string                   `gorm:"type:char(3);not null"`
	Notes                string                   `gorm:"type:text"`
	Metadata             allocation.BatchMetadata `gorm:"type:jsonb;serializer:json"`
	ProcessingStartedAt  *time.Time
	ProcessingFinishedAt *time.Time
}

// TableName returns the table name for GORM
func (PaymentBatchModel) TableName() string {
	return "payment_batches"
}

// ToDomain converts the model to a domain PaymentBatch
func (m *PaymentBatchModel) ToDomain() *allocation.PaymentBatch {
	return &allocation.PaymentBatch{
		TenantAggregateRoot:  m.ToDomainTenantAggregateRoot(),
		BatchNumber:          m.BatchNumber,
		SourceType:           m.SourceType,
		Status:               m.Status,
		ReceiptCount:         m.ReceiptCount,
		TotalAmount:          m.TotalAmount,
		Currency:             valueobject.Currency(m.Currency),
		Notes:                m.Notes,
		Metadata:             m.Metadata,
		ProcessingStartedAt:  m.ProcessingStartedAt,
		ProcessingFinishedAt: m.ProcessingFinishedAt,
	}
}

// PaymentBatchModelFromDomain creates a model from a domain PaymentBatch
func PaymentBatchModelFromDomain(b *allocation.PaymentBatch) *PaymentBatchModel {
	m := &PaymentBatchModel{
		BatchNumber:          b.BatchNumber,
		SourceType:           b.SourceType,
		Status:               b.Status,
		ReceiptCount:         b.ReceiptCount,
		TotalAmount:          b.TotalAmount,
		Currency:             b.Currency.String(),
		Notes:                b.Notes,
		Metadata:             b.Metadata,
		ProcessingStartedAt:  b.ProcessingStartedAt,
		ProcessingFinishedAt: b.ProcessingFinishedAt,
	}
	m.FromDomainTenantAggregateRoot(b.TenantAggregateRoot)
	return m
}

// AllocationAuditLogModel is an append-only audit row
type AllocationAuditLogModel struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey"`
	TenantID  uuid.UUID                   `gorm:"type:uuid;not null;index"`
	PaymentID *uuid.UUID                  `gorm:"type:uuid;index"`
	BatchID   *uuid.UUID                  `gorm:"type:uuid;index"`
	Action    allocation.AuditAction      `gorm:"type:varchar(50);not null"`
	ActorID   *uuid.UUID                  `gorm:"type:uuid"`
	Before    *allocation.PaymentSnapshot `gorm:"type:jsonb;serializer:json"`
	After     *allocation.PaymentSnapshot `gorm:"type:jsonb;serializer:json"`
	Details   map[string]any              `gorm:"type:jsonb;serializer:json"`
	EventID   uuid.UUID                   `gorm:"type:uuid;not null;uniqueIndex"`
	CreatedAt time.Time                   `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AllocationAuditLogModel) TableName() string {
	return "allocation_audit_logs"
}

// ToDomain converts the model to a domain audit entry
func (m *AllocationAuditLogModel) ToDomain() *allocation.AllocationAuditLog {
	return &allocation.AllocationAuditLog{
		ID:        m.ID,
		TenantID:  m.TenantID,
		PaymentID: m.PaymentID,
		BatchID:   m.BatchID,
		Action:    m.Action,
		ActorID:   m.ActorID,
		Before:    m.Before,
		After:     m.After,
		Details:   m.Details,
		EventID:   m.EventID,
		CreatedAt: m.CreatedAt,
	}
}

// AllocationAuditLogModelFromDomain creates a model from a domain audit entry
func AllocationAuditLogModelFromDomain(l *allocation.AllocationAuditLog) *AllocationAuditLogModel {
	return &AllocationAuditLogModel{
		ID:        l.ID,
		TenantID:  l.TenantID,
		PaymentID: l.PaymentID,
		BatchID:   l.BatchID,
		Action:    l.Action,
		ActorID:   l.ActorID,
		Before:    l.Before,
		After:     l.After,
		Details:   l.Details,
		EventID:   l.EventID,
		CreatedAt: l.CreatedAt,
	}
}

// AllModels lists every model, in dependency order, for AutoMigrate in tests
func AllModels() []any {
	return []any{
		&PaymentBatchModel{},
		&PaymentModel{},
		&InvoiceModel{},
		&PaymentAllocationModel{},
		&AllocationAuditLogModel{},
	}
}
