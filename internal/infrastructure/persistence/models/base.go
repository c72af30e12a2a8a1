package models

import (
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
)

// BaseModel holds the identity and timestamp columns shared by every table
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// FromDomainBaseEntity copies identity and timestamps from e
func (m *BaseModel) FromDomainBaseEntity(e shared.BaseEntity) {
	m.ID = e.ID
	m.CreatedAt = e.CreatedAt
	m.UpdatedAt = e.UpdatedAt
}

// ToDomainBaseEntity returns the identity and timestamps as a domain entity
func (m *BaseModel) ToDomainBaseEntity() shared.BaseEntity {
	return shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt}
}

// TenantAggregateModel adds company scope, creator and version columns for
// aggregate roots
type TenantAggregateModel struct {
	BaseModel
	TenantID  uuid.UUID  `gorm:"type:uuid;not null;index"`
	CreatedBy *uuid.UUID `gorm:"type:uuid"`
	Version   int        `gorm:"not null;default:1"`
}

// FromDomainTenantAggregateRoot copies the aggregate envelope from a
func (m *TenantAggregateModel) FromDomainTenantAggregateRoot(a shared.TenantAggregateRoot) {
	m.FromDomainBaseEntity(a.BaseEntity)
	m.TenantID = a.TenantID
	m.CreatedBy = a.CreatedBy
	m.Version = a.Version
}

// ToDomainTenantAggregateRoot returns the aggregate envelope
func (m *TenantAggregateModel) ToDomainTenantAggregateRoot() shared.TenantAggregateRoot {
	return shared.TenantAggregateRoot{
		BaseEntity: m.ToDomainBaseEntity(),
		TenantID:   m.TenantID,
		CreatedBy:  m.CreatedBy,
		Version:    m.Version,
	}
}
