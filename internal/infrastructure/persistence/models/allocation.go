package models

import (
	"time"

	"github.com/erp/payalloc/internal/domain/allocation"
	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentModel is the persistence model for the Payment aggregate root
type PaymentModel struct {
	TenantAggregateModel
	PaymentNumber   string                   `gorm:"type:varchar(50);not null;index"`
	CustomerID      uuid.UUID                `gorm:"type:uuid;not null;index"`
	Amount          decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	RemainingAmount decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency        string                   `gorm:"type:char(3);not null"`
	PaymentMethod   allocation.PaymentMethod `gorm:"type:varchar(30);not null"`
	PaymentDate     time.Time                `gorm:"type:date;not null;index"`
	ReferenceNumber string                   `gorm:"type:varchar(100)"`
	Notes           string                   `gorm:"type:text"`
	BatchID         *uuid.UUID               `gorm:"type:uuid;index"`
	Status          allocation.PaymentStatus `gorm:"type:varchar(30);not null;index"`
	CompletedAt     *time.Time
}

// TableName returns the table name for GORM
func (PaymentModel) TableName() string {
	return "payments"
}

// ToDomain converts the model to a domain Payment
func (m *PaymentModel) ToDomain() *allocation.Payment {
	return &allocation.Payment{
		TenantAggregateRoot: m.ToDomainTenantAggregateRoot(),
		PaymentNumber:       m.PaymentNumber,
		CustomerID:          m.CustomerID,
		Amount:              m.Amount,
		RemainingAmount:     m.RemainingAmount,
		Currency:            valueobject.Currency(m.Currency),
		PaymentMethod:       m.PaymentMethod,
		PaymentDate:         m.PaymentDate,
		ReferenceNumber:     m.ReferenceNumber,
		Notes:               m.Notes,
		BatchID:             m.BatchID,
		Status:              m.Status,
		CompletedAt:         m.CompletedAt,
	}
}

// FromDomain populates the model from a domain Payment
func (m *PaymentModel) FromDomain(p *allocation.Payment) {
	m.FromDomainTenantAggregateRoot(p.TenantAggregateRoot)
	m.PaymentNumber = p.PaymentNumber
	m.CustomerID = p.CustomerID
	m.Amount = p.Amount
	m.RemainingAmount = p.RemainingAmount
	m.Currency = p.Currency.String()
	m.PaymentMethod = p.PaymentMethod
	m.PaymentDate = p.PaymentDate
	m.ReferenceNumber = p.ReferenceNumber
	m.Notes = p.Notes
	m.BatchID = p.BatchID
	m.Status = p.Status
	m.CompletedAt = p.CompletedAt
}

// PaymentModelFromDomain creates a model from a domain Payment
func PaymentModelFromDomain(p *allocation.Payment) *PaymentModel {
	m := &PaymentModel{}
	m.FromDomain(p)
	return m
}

// InvoiceModel is the engine's projection of a billing invoice
type InvoiceModel struct {
	BaseModel
	TenantID      uuid.UUID                `gorm:"type:uuid;not null;index:idx_invoice_tenant_customer,priority:1"`
	CustomerID    uuid.UUID                `gorm:"type:uuid;not null;index:idx_invoice_tenant_customer,priority:2"`
	InvoiceNumber string                   `gorm:"type:varchar(50);not null"`
	IssueDate     time.Time                `gorm:"type:date;not null"`
	DueDate       time.Time                `gorm:"type:date;not null"`
	TotalAmount   decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	BalanceDue    decimal.Decimal          `gorm:"type:decimal(18,4);not null"`
	Currency      string                   `gorm:"type:char(3);not null"`
	Status        allocation.InvoiceStatus `gorm:"type:varchar(30);not null;index"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "invoices"
}

// ToDomain converts the model to a domain Invoice
func (m *InvoiceModel) ToDomain() *allocation.Invoice {
	return &allocation.Invoice{
		ID:            m.ID,
		TenantID:      m.TenantID,
		CustomerID:    m.CustomerID,
		InvoiceNumber: m.InvoiceNumber,
		IssueDate:     m.IssueDate,
		DueDate:       m.DueDate,
		TotalAmount:   m.TotalAmount,
		BalanceDue:    m.BalanceDue,
		Currency:      valueobject.Currency(m.Currency),
		Status:        m.Status,
		UpdatedAt:     m.UpdatedAt,
	}
}

// InvoiceModelFromDomain creates a model from a domain Invoice
func InvoiceModelFromDomain(inv *allocation.Invoice) *InvoiceModel {
	now := time.Now()
	updated := inv.UpdatedAt
	if updated.IsZero() {
		updated = now
	}
	return &InvoiceModel{
		BaseModel:     BaseModel{ID: inv.ID, CreatedAt: now, UpdatedAt: updated},
		TenantID:      inv.TenantID,
		CustomerID:    inv.CustomerID,
		InvoiceNumber: inv.InvoiceNumber,
		IssueDate:     inv.IssueDate,
		DueDate:       inv.DueDate,
		TotalAmount:   inv.TotalAmount,
		BalanceDue:    inv.BalanceDue,
		Currency:      inv.Currency.String(),
		Status:        inv.Status,
	}
}

// PaymentAllocationModel is the persistence model for PaymentAllocation
type PaymentAllocationModel struct {
	BaseModel
	TenantID            uuid.UUID                   `gorm:"type:uuid;not null;index"`
	PaymentID           uuid.UUID                   `gorm:"type:uuid;not null;index"`
	InvoiceID           uuid.UUID                   `gorm:"type:uuid;not null;index"`
	InvoiceNumber       string                      `gorm:"type:varchar(50);not null"`
	CustomerID          uuid.UUID                   `gorm:"type:uuid;not null;index"`
	AllocatedAmount     decimal.Decimal             `gorm:"type:decimal(18,4);not null"`
	Currency            string                      `gorm:"type:char(3);not null"`
	AllocationMethod    allocation.AllocationMethod `gorm:"type:varchar(20);not null"`
	AllocationStrategy  *string                     `gorm:"type:varchar(50);index"`
	AllocationDate      time.Time                   `gorm:"not null;index"`
	InvoiceStatusBefore allocation.InvoiceStatus    `gorm:"type:varchar(30);not null"`
	Notes               string                      `gorm:"type:text"`
	ReversedAt          *time.Time                  `gorm:"index"`
	ReversalReason      *string                     `gorm:"type:varchar(500)"`
	ReversedBy          *uuid.UUID                  `gorm:"type:uuid"`
	CreatedBy           *uuid.UUID                  `gorm:"type:uuid"`
}

// TableName returns the table name for GORM
func (PaymentAllocationModel) TableName() string {
	return "payment_allocations"
}

// ToDomain converts the model to a domain PaymentAllocation
func (m *PaymentAllocationModel) ToDomain() *allocation.PaymentAllocation {
	return &allocation.PaymentAllocation{
		BaseEntity:          shared.BaseEntity{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		TenantID:            m.TenantID,
		PaymentID:           m.PaymentID,
		InvoiceID:           m.InvoiceID,
		InvoiceNumber:       m.InvoiceNumber,
		CustomerID:          m.CustomerID,
		AllocatedAmount:     m.AllocatedAmount,
		Currency:            valueobject.Currency(m.Currency),
		AllocationMethod:    m.AllocationMethod,
		AllocationStrategy:  m.AllocationStrategy,
		AllocationDate:      m.AllocationDate,
		InvoiceStatusBefore: m.InvoiceStatusBefore,
		Notes:               m.Notes,
		ReversedAt:          m.ReversedAt,
		ReversalReason:      m.ReversalReason,
		ReversedBy:          m.ReversedBy,
		CreatedBy:           m.CreatedBy,
	}
}

// FromDomain populates the model from a domain PaymentAllocation
func (m *PaymentAllocationModel) FromDomain(a *allocation.PaymentAllocation) {
	m.FromDomainBaseEntity(a.BaseEntity)
	m.TenantID = a.TenantID
	m.PaymentID = a.PaymentID
	m.InvoiceID = a.InvoiceID
	m.InvoiceNumber = a.InvoiceNumber
	m.CustomerID = a.CustomerID
	m.AllocatedAmount = a.AllocatedAmount
	m.Currency = a.Currency.String()
	m.AllocationMethod = a.AllocationMethod
	m.AllocationStrategy = a.AllocationStrategy
	m.AllocationDate = a.AllocationDate
	m.InvoiceStatusBefore = a.InvoiceStatusBefore
	m.Notes = a.Notes
	m.ReversedAt = a.ReversedAt
	m.ReversalReason = a.ReversalReason
	m.ReversedBy = a.ReversedBy
	m.CreatedBy = a.CreatedBy
}

// PaymentAllocationModelFromDomain creates a model from a domain PaymentAllocation
func PaymentAllocationModelFromDomain(a *allocation.PaymentAllocation) *PaymentAllocationModel {
	m := &PaymentAllocationModel{}
	m.FromDomain(a)
	return m
}
