package shared

import (
	"time"

	"github.com/google/uuid"
)

// Entity is implemented by everything with an identity and timestamps
type Entity interface {
	GetID() uuid.UUID
	GetCreatedAt() time.Time
	GetUpdatedAt() time.Time
}

// BaseEntity holds identity and timestamps
type BaseEntity struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e *BaseEntity) GetID() uuid.UUID        { return e.ID }
func (e *BaseEntity) GetCreatedAt() time.Time { return e.CreatedAt }
func (e *BaseEntity) GetUpdatedAt() time.Time { return e.UpdatedAt }

// Touch bumps UpdatedAt
func (e *BaseEntity) Touch() {
	e.UpdatedAt = time.Now()
}

// NewBaseEntity creates a base entity with a fresh ID
func NewBaseEntity() BaseEntity {
	now := time.Now()
	return BaseEntity{
		ID:        uuid.New(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AggregateRoot is an entity that records domain events and carries a version
type AggregateRoot interface {
	Entity
	GetVersion() int
	IncrementVersion()
	AddDomainEvent(event DomainEvent)
	GetDomainEvents() []DomainEvent
	ClearDomainEvents()
}

// TenantAggregateRoot is the base for company-scoped aggregates.
// TenantID identifies the company the record belongs to.
type TenantAggregateRoot struct {
	BaseEntity
	TenantID     uuid.UUID  `json:"tenant_id"`
	CreatedBy    *uuid.UUID `json:"created_by,omitempty"`
	Version      int        `json:"version"`
	domainEvents []DomainEvent
}

// NewTenantAggregateRoot creates a new aggregate root owned by tenantID
func NewTenantAggregateRoot(tenantID uuid.UUID) TenantAggregateRoot {
	return TenantAggregateRoot{
		BaseEntity: NewBaseEntity(),
		TenantID:   tenantID,
		Version:    1,
	}
}

func (a *TenantAggregateRoot) GetVersion() int   { return a.Version }
func (a *TenantAggregateRoot) IncrementVersion() { a.Version++ }

// SetCreatedBy records the actor that created the aggregate
func (a *TenantAggregateRoot) SetCreatedBy(actorID uuid.UUID) {
	if actorID == uuid.Nil {
		return
	}
	a.CreatedBy = &actorID
}

// AddDomainEvent queues an event for publication after commit
func (a *TenantAggregateRoot) AddDomainEvent(event DomainEvent) {
	a.domainEvents = append(a.domainEvents, event)
}

// GetDomainEvents returns queued events
func (a *TenantAggregateRoot) GetDomainEvents() []DomainEvent {
	return a.domainEvents
}

// ClearDomainEvents drops queued events
func (a *TenantAggregateRoot) ClearDomainEvents() {
	a.domainEvents = nil
}
