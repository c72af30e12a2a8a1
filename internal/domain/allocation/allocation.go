// Package allocation holds the payment allocation domain: payments, the
// invoice read model, allocation records, import batches and the rules that
// keep their balances consistent.
package allocation

import (
	"strings"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationMethod tells whether the pairs were chosen by a user or a strategy
type AllocationMethod string

const (
	AllocationMethodManual    AllocationMethod = "manual"
	AllocationMethodAutomatic AllocationMethod = "automatic"
)

// IsValid checks if the method is valid
func (m AllocationMethod) IsValid() bool {
	return m == AllocationMethodManual || m == AllocationMethodAutomatic
}

// String returns the string representation of AllocationMethod
func (m AllocationMethod) String() string {
	return string(m)
}

// AllocationStatus is derived from the reversal fields and used for filtering
type AllocationStatus string

const (
	AllocationStatusActive   AllocationStatus = "active"
	AllocationStatusReversed AllocationStatus = "reversed"
)

// IsValid checks if the status is valid
func (s AllocationStatus) IsValid() bool {
	return s == AllocationStatusActive || s == AllocationStatusReversed
}

// PaymentAllocation records that part of a payment settled part of an invoice.
// Records are never deleted; a reversal only fills the reversal fields.
type PaymentAllocation struct {
	shared.BaseEntity
	TenantID            uuid.UUID            `json:"tenant_id"`
	PaymentID           uuid.UUID            `json:"payment_id"`
	InvoiceID           uuid.UUID            `json:"invoice_id"`
	InvoiceNumber       string               `json:"invoice_number"`
	CustomerID          uuid.UUID            `json:"customer_id"`
	AllocatedAmount     decimal.Decimal      `json:"allocated_amount"`
	Currency            valueobject.Currency `json:"currency"`
	AllocationMethod    AllocationMethod     `json:"allocation_method"`
	AllocationStrategy  *string              `json:"allocation_strategy"`
	AllocationDate      time.Time            `json:"allocation_date"`
	InvoiceStatusBefore InvoiceStatus        `json:"invoice_status_before"`
	Notes               string               `json:"notes"`
	ReversedAt          *time.Time           `json:"reversed_at"`
	ReversalReason      *string              `json:"reversal_reason"`
	ReversedBy          *uuid.UUID           `json:"reversed_by"`
	CreatedBy           *uuid.UUID           `json:"created_by"`
}

// NewPaymentAllocation creates an active allocation of amount from payment to
// invoice. strategyName is ignored for manual allocations.
func NewPaymentAllocation(
	payment *Payment,
	invoice *Invoice,
	amount decimal.Decimal,
	method AllocationMethod,
	strategyName string,
	actorID uuid.UUID,
) (*PaymentAllocation, error) {
	if payment == nil || invoice == nil {
		return nil, shared.NewDomainError("INVALID_INPUT", "Payment and invoice are required")
	}
	if !amount.IsPositive() {
		return nil, detailed(ErrInvalidAmount, "Allocation amount must be positive, got %s", amount)
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "Allocation method is not valid")
	}

	a := &PaymentAllocation{
		BaseEntity:          shared.NewBaseEntity(),
		TenantID:            payment.TenantID,
		PaymentID:           payment.ID,
		InvoiceID:           invoice.ID,
		InvoiceNumber:       invoice.InvoiceNumber,
		CustomerID:          payment.CustomerID,
		AllocatedAmount:     amount,
		Currency:            payment.Currency,
		AllocationMethod:    method,
		AllocationDate:      time.Now(),
		InvoiceStatusBefore: invoice.Status,
	}
	if method == AllocationMethodAutomatic && strategyName != "" {
		name := strategyName
		a.AllocationStrategy = &name
	}
	if actorID != uuid.Nil {
		a.CreatedBy = &actorID
	}
	return a, nil
}

// IsReversed returns true once the allocation has been reversed
func (a *PaymentAllocation) IsReversed() bool {
	return a.ReversedAt != nil
}

// IsActive returns true while the allocation counts toward balances
func (a *PaymentAllocation) IsActive() bool {
	return a.ReversedAt == nil
}

// Status returns active or reversed
func (a *PaymentAllocation) Status() AllocationStatus {
	if a.IsReversed() {
		return AllocationStatusReversed
	}
	return AllocationStatusActive
}

// StrategyName returns the strategy name or empty for manual allocations
func (a *PaymentAllocation) StrategyName() string {
	if a.AllocationStrategy == nil {
		return ""
	}
	return *a.AllocationStrategy
}

// Reverse marks the allocation as reversed
func (a *PaymentAllocation) Reverse(reason string, actorID uuid.UUID) error {
	if a.IsReversed() {
		return detailed(ErrAlreadyReversed, "Allocation %s was already reversed at %s",
			a.ID, a.ReversedAt.UTC().Format(time.RFC3339))
	}
	reason = strings.TrimSpace(reason)
	if len(reason) > 500 {
		return shared.NewDomainError("INVALID_REASON", "Reversal reason cannot exceed 500 characters")
	}

	now := time.Now()
	a.ReversedAt = &now
	if reason != "" {
		a.ReversalReason = &reason
	}
	if actorID != uuid.Nil {
		a.ReversedBy = &actorID
	}
	a.UpdatedAt = now
	return nil
}

// SumActive totals the allocated amount of active allocations
func SumActive(allocations []PaymentAllocation) decimal.Decimal {
	total := decimal.Zero
	for i := range allocations {
		if allocations[i].IsActive() {
			total = total.Add(allocations[i].AllocatedAmount)
		}
	}
	return total
}
