package allocation

import (
	"time"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceStatus is the lifecycle status of an invoice. Invoices are owned by
// the billing side; this engine only moves them to paid and back.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "draft"
	InvoiceStatusSent          InvoiceStatus = "sent"
	InvoiceStatusPartiallyPaid InvoiceStatus = "partially_paid"
	InvoiceStatusOverdue       InvoiceStatus = "overdue"
	InvoiceStatusPaid          InvoiceStatus = "paid"
	InvoiceStatusCancelled     InvoiceStatus = "cancelled"
)

// IsValid checks if the status is a valid InvoiceStatus
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceStatusDraft, InvoiceStatusSent, InvoiceStatusPartiallyPaid,
		InvoiceStatusOverdue, InvoiceStatusPaid, InvoiceStatusCancelled:
		return true
	}
	return false
}

// String returns the string representation of InvoiceStatus
func (s InvoiceStatus) String() string {
	return string(s)
}

// IsOpen returns true if the invoice can still receive payments
func (s InvoiceStatus) IsOpen() bool {
	return s != InvoiceStatusPaid && s != InvoiceStatusCancelled
}

// Invoice is the read model of a billing invoice as seen by the allocation engine
type Invoice struct {
	ID            uuid.UUID            `json:"id"`
	TenantID      uuid.UUID            `json:"tenant_id"`
	CustomerID    uuid.UUID            `json:"customer_id"`
	InvoiceNumber string               `json:"invoice_number"`
	IssueDate     time.Time            `json:"issue_date"`
	DueDate       time.Time            `json:"due_date"`
	TotalAmount   decimal.Decimal      `json:"total_amount"`
	BalanceDue    decimal.Decimal      `json:"balance_due"`
	Currency      valueobject.Currency `json:"currency"`
	Status        InvoiceStatus        `json:"status"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// IsOpen reports whether the invoice is eligible for allocation
func (i *Invoice) IsOpen() bool {
	return i.Status.IsOpen() && i.BalanceDue.IsPositive()
}

// IsOverdue reports whether the due date lies before the day of asOf
func (i *Invoice) IsOverdue(asOf time.Time) bool {
	return i.ToCandidate().IsOverdue(asOf)
}

// DaysOverdue returns whole days past due as of asOf
func (i *Invoice) DaysOverdue(asOf time.Time) int {
	return i.ToCandidate().DaysOverdue(asOf)
}

// ToCandidate projects the invoice into the strategy input shape
func (i *Invoice) ToCandidate() strategy.AllocationCandidate {
	return strategy.AllocationCandidate{
		InvoiceID:     i.ID,
		InvoiceNumber: i.InvoiceNumber,
		CustomerID:    i.CustomerID,
		IssueDate:     i.IssueDate,
		DueDate:       i.DueDate,
		BalanceDue:    i.BalanceDue,
	}
}

// ApplyPayment reduces the balance due by amount. It returns the status the
// invoice should carry afterwards: paid once the balance reaches zero,
// otherwise unchanged.
func (i *Invoice) ApplyPayment(amount decimal.Decimal) (InvoiceStatus, error) {
	if !amount.IsPositive() {
		return i.Status, detailed(ErrInvalidAmount, "Allocation amount must be positive, got %s", amount)
	}
	if !i.Status.IsOpen() {
		return i.Status, detailed(ErrInvoiceNotOpen, "Invoice %s is %s", i.InvoiceNumber, i.Status)
	}
	if amount.GreaterThan(i.BalanceDue) {
		return i.Status, detailed(ErrExceedsBalanceDue,
			"Allocation amount %s exceeds balance due %s on invoice %s",
			amount.StringFixed(i.Currency.Scale()), i.BalanceDue.StringFixed(i.Currency.Scale()), i.InvoiceNumber)
	}
	i.BalanceDue = i.BalanceDue.Sub(amount)
	if i.BalanceDue.IsZero() {
		i.Status = InvoiceStatusPaid
	}
	return i.Status, nil
}

// RestorePayment adds amount back to the balance due. A paid invoice goes
// back to statusBefore, the status it had when the allocation was made.
func (i *Invoice) RestorePayment(amount decimal.Decimal, statusBefore InvoiceStatus) InvoiceStatus {
	i.BalanceDue = i.BalanceDue.Add(amount)
	if i.Status == InvoiceStatusPaid && i.BalanceDue.IsPositive() {
		switch {
		case statusBefore.IsValid() && statusBefore.IsOpen():
			i.Status = statusBefore
		default:
			i.Status = InvoiceStatusPartiallyPaid
		}
	}
	return i.Status
}
