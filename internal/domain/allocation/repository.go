package allocation

import (
	"context"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentFilter defines filtering options for payment queries
type PaymentFilter struct {
	shared.Filter
	CustomerID *uuid.UUID     // Filter by customer
	BatchID    *uuid.UUID     // Filter by import batch
	Status     *PaymentStatus // Filter by status
	FromDate   *time.Time     // Filter by payment date range start
	ToDate     *time.Time     // Filter by payment date range end
}

// PaymentRepository defines the interface for payment persistence
type PaymentRepository interface {
	// FindByID finds a payment by ID for a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)

	// FindByIDForUpdate finds a payment and holds an exclusive row lock on it
	// until the surrounding transaction ends
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Payment, error)

	// FindAll finds payments matching the filter and returns the total count
	FindAll(ctx context.Context, tenantID uuid.UUID, filter PaymentFilter) ([]Payment, int64, error)

	// SumUnallocatedByCustomer sums the remaining amount of a customer's open payments
	SumUnallocatedByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error)

	// Save creates or updates a payment
	Save(ctx context.Context, payment *Payment) error

	// GeneratePaymentNumber generates the next PAY-YYYYMMDD-NNNNNN number for day
	GeneratePaymentNumber(ctx context.Context, tenantID uuid.UUID, day time.Time) (string, error)
}

// InvoiceGateway is the narrow view of the billing side used by the engine
type InvoiceGateway interface {
	// GetInvoice returns an invoice by ID
	GetInvoice(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)

	// FindOpenForCustomer returns invoices of a customer that are not paid or
	// cancelled and still have a balance due
	FindOpenForCustomer(ctx context.Context, tenantID, customerID uuid.UUID) ([]Invoice, error)

	// LockForUpdate loads the invoices and holds exclusive row locks on them.
	// Locks are taken in ascending ID order. Missing IDs are omitted.
	LockForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]Invoice, error)

	// DecrementBalance lowers balance_due by amount
	DecrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error

	// IncrementBalance raises balance_due by amount
	IncrementBalance(ctx context.Context, id uuid.UUID, amount decimal.Decimal) error

	// SetStatus sets the invoice status
	SetStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) error
}

// AllocationFilter defines filtering options for allocation queries
type AllocationFilter struct {
	shared.Filter
	PaymentID  *uuid.UUID        // Filter by payment
	InvoiceID  *uuid.UUID        // Filter by invoice
	CustomerID *uuid.UUID        // Filter by customer
	Status     *AllocationStatus // Filter active or reversed
	Strategy   *string           // Filter by strategy name
	Method     *AllocationMethod // Filter by allocation method
	FromDate   *time.Time        // Filter by allocation date range start
	ToDate     *time.Time        // Filter by allocation date range end
}

// StrategyUsage aggregates active allocations made with one strategy.
// Manual allocations are reported under Strategy "manual".
type StrategyUsage struct {
	Strategy string          `json:"strategy"`
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Average  decimal.Decimal `json:"average"`
	Min      decimal.Decimal `json:"min"`
	Max      decimal.Decimal `json:"max"`
}

// AllocationRepository defines the interface for allocation persistence
type AllocationRepository interface {
	// FindByID finds an allocation by ID for a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*PaymentAllocation, error)

	// FindByIDsForUpdate loads allocations holding row locks, in ascending ID order
	FindByIDsForUpdate(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]PaymentAllocation, error)

	// FindByPayment returns all allocations of a payment, active and reversed
	FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]PaymentAllocation, error)

	// FindAll finds allocations matching the filter and returns the total count
	FindAll(ctx context.Context, tenantID uuid.UUID, filter AllocationFilter) ([]PaymentAllocation, int64, error)

	// SumActiveByCustomer sums active allocated amounts of a customer
	SumActiveByCustomer(ctx context.Context, tenantID, customerID uuid.UUID) (decimal.Decimal, error)

	// StrategyUsage aggregates active allocations in [from, to] by strategy
	StrategyUsage(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]StrategyUsage, error)

	// CreateBatch inserts new allocations
	CreateBatch(ctx context.Context, allocations []*PaymentAllocation) error

	// Save updates an allocation
	Save(ctx context.Context, allocation *PaymentAllocation) error
}

// BatchFilter defines filtering options for batch queries
type BatchFilter struct {
	shared.Filter
	Status     *BatchStatus
	SourceType *SourceType
	FromDate   *time.Time
	ToDate     *time.Time
}

// BatchRepository defines the interface for payment batch persistence
type BatchRepository interface {
	// FindByID finds a batch by ID for a tenant
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*PaymentBatch, error)

	// FindAll finds batches matching the filter and returns the total count
	FindAll(ctx context.Context, tenantID uuid.UUID, filter BatchFilter) ([]PaymentBatch, int64, error)

	// Save creates or updates a batch
	Save(ctx context.Context, batch *PaymentBatch) error

	// GenerateBatchNumber generates the next BATCH-YYYYMMDD-NNN number for day
	GenerateBatchNumber(ctx context.Context, tenantID uuid.UUID, day time.Time) (string, error)
}

// AuditLogRepository stores the allocation audit trail
type AuditLogRepository interface {
	// Create appends an entry
	Create(ctx context.Context, entry *AllocationAuditLog) error

	// FindByPayment returns entries of a payment, oldest first
	FindByPayment(ctx context.Context, tenantID, paymentID uuid.UUID) ([]AllocationAuditLog, error)
}
