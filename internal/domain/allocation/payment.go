package allocation

import (
	"fmt"
	"strings"
	"time"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus represents the allocation state of a payment
type PaymentStatus string

const (
	PaymentStatusPending            PaymentStatus = "pending"
	PaymentStatusPartiallyAllocated PaymentStatus = "partially_allocated"
	PaymentStatusFullyAllocated     PaymentStatus = "fully_allocated"
	PaymentStatusCompleted          PaymentStatus = "completed"
)

// IsValid checks if the status is a valid PaymentStatus
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPartiallyAllocated,
		PaymentStatusFullyAllocated, PaymentStatusCompleted:
		return true
	}
	return false
}

// String returns the string representation of PaymentStatus
func (s PaymentStatus) String() string {
	return string(s)
}

// CanAllocate returns true if funds may still be allocated
func (s PaymentStatus) CanAllocate() bool {
	return s == PaymentStatusPending || s == PaymentStatusPartiallyAllocated
}

// PaymentMethod represents how a payment was received
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodCheck        PaymentMethod = "check"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodCreditCard   PaymentMethod = "credit_card"
	PaymentMethodDebitCard    PaymentMethod = "debit_card"
	PaymentMethodPayPal       PaymentMethod = "paypal"
	PaymentMethodStripe       PaymentMethod = "stripe"
	PaymentMethodOther        PaymentMethod = "other"
)

// AllPaymentMethods lists the accepted payment methods
func AllPaymentMethods() []PaymentMethod {
	return []PaymentMethod{
		PaymentMethodCash,
		PaymentMethodCheck,
		PaymentMethodBankTransfer,
		PaymentMethodCreditCard,
		PaymentMethodDebitCard,
		PaymentMethodPayPal,
		PaymentMethodStripe,
		PaymentMethodOther,
	}
}

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	for _, v := range AllPaymentMethods() {
		if m == v {
			return true
		}
	}
	return false
}

// String returns the string representation of PaymentMethod
func (m PaymentMethod) String() string {
	return string(m)
}

// ParsePaymentMethod normalizes free-form input such as "Bank Transfer" or
// "credit-card" into a PaymentMethod.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	m := PaymentMethod(normalized)
	if !m.IsValid() {
		return "", shared.NewDomainError("INVALID_PAYMENT_METHOD", fmt.Sprintf("Payment method '%s' is not supported", raw))
	}
	return m, nil
}

// Payment is an amount received from a customer. RemainingAmount is the part
// not yet allocated to invoices; Amount - RemainingAmount always equals the
// sum of the payment's active allocations.
type Payment struct {
	shared.TenantAggregateRoot
	PaymentNumber   string               `json:"payment_number"`
	CustomerID      uuid.UUID            `json:"customer_id"`
	Amount          decimal.Decimal      `json:"amount"`
	RemainingAmount decimal.Decimal      `json:"remaining_amount"`
	Currency        valueobject.Currency `json:"currency"`
	PaymentMethod   PaymentMethod        `json:"payment_method"`
	PaymentDate     time.Time            `json:"payment_date"`
	ReferenceNumber string               `json:"reference_number"`
	Notes           string               `json:"notes"`
	BatchID         *uuid.UUID           `json:"batch_id"`
	Status          PaymentStatus        `json:"status"`
	CompletedAt     *time.Time           `json:"completed_at"`
}

// NewPayment creates a pending payment with the full amount unallocated
func NewPayment(
	tenantID uuid.UUID,
	customerID uuid.UUID,
	paymentNumber string,
	amount valueobject.Money,
	method PaymentMethod,
	paymentDate time.Time,
) (*Payment, error) {
	if paymentNumber == "" {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot be empty")
	}
	if len(paymentNumber) > 50 {
		return nil, shared.NewDomainError("INVALID_PAYMENT_NUMBER", "Payment number cannot exceed 50 characters")
	}
	if customerID == uuid.Nil {
		return nil, shared.NewDomainError("INVALID_CUSTOMER", "Customer ID cannot be empty")
	}
	if !amount.IsPositive() {
		return nil, detailed(ErrInvalidAmount, "Payment amount must be positive, got %s", amount.Amount())
	}
	if !amount.Currency().HasValidScale(amount.Amount()) {
		return nil, detailed(ErrInvalidAmount, "Payment amount %s has more decimals than %s allows", amount.Amount(), amount.Currency())
	}
	if !method.IsValid() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_METHOD", "Payment method is not valid")
	}
	if paymentDate.IsZero() {
		return nil, shared.NewDomainError("INVALID_PAYMENT_DATE", "Payment date is required")
	}

	p := &Payment{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		PaymentNumber:       paymentNumber,
		CustomerID:          customerID,
		Amount:              amount.Amount(),
		RemainingAmount:     amount.Amount(),
		Currency:            amount.Currency(),
		PaymentMethod:       method,
		PaymentDate:         paymentDate,
		Status:              PaymentStatusPending,
	}

	p.AddDomainEvent(NewPaymentRecordedEvent(p))

	return p, nil
}

// SetReference sets the external reference (bank transaction, check number)
func (p *Payment) SetReference(reference string) error {
	if len(reference) > 100 {
		return shared.NewDomainError("INVALID_REFERENCE", "Reference number cannot exceed 100 characters")
	}
	p.ReferenceNumber = reference
	p.UpdatedAt = time.Now()
	return nil
}

// SetNotes sets free-form notes
func (p *Payment) SetNotes(notes string) {
	p.Notes = notes
	p.UpdatedAt = time.Now()
}

// AssignBatch links the payment to the import batch that created it
func (p *Payment) AssignBatch(batchID uuid.UUID) {
	p.BatchID = &batchID
	p.UpdatedAt = time.Now()
}

// AllocatedAmount returns the part of the payment already allocated
func (p *Payment) AllocatedAmount() decimal.Decimal {
	return p.Amount.Sub(p.RemainingAmount)
}

// IsFullyAllocated returns true once nothing remains to allocate
func (p *Payment) IsFullyAllocated() bool {
	return p.RemainingAmount.IsZero()
}

// EnsureAllocatable returns a state error when no more funds can be allocated
func (p *Payment) EnsureAllocatable() error {
	if p.Status == PaymentStatusCompleted {
		return detailed(ErrPaymentClosed, "Payment %s is completed", p.PaymentNumber)
	}
	if !p.Status.CanAllocate() || !p.RemainingAmount.IsPositive() {
		return detailed(ErrPaymentFullyAllocated, "Payment %s is fully allocated", p.PaymentNumber)
	}
	return nil
}

// ApplyAllocation reduces the remaining amount by total and refreshes the status
func (p *Payment) ApplyAllocation(total decimal.Decimal) error {
	if err := p.EnsureAllocatable(); err != nil {
		return err
	}
	if !total.IsPositive() {
		return detailed(ErrInvalidAmount, "Allocation total must be positive, got %s", total)
	}
	if total.GreaterThan(p.RemainingAmount) {
		return detailed(ErrExceedsRemainingAmount,
			"Allocation total %s exceeds remaining amount %s of payment %s",
			total.StringFixed(p.Currency.Scale()), p.RemainingAmount.StringFixed(p.Currency.Scale()), p.PaymentNumber)
	}

	p.RemainingAmount = p.RemainingAmount.Sub(total)
	p.refreshStatus()
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
	return nil
}

// RestoreAllocation gives back funds released by a reversal
func (p *Payment) RestoreAllocation(amount decimal.Decimal) error {
	if p.Status == PaymentStatusCompleted {
		return detailed(ErrPaymentClosed, "Payment %s is completed", p.PaymentNumber)
	}
	if !amount.IsPositive() {
		return detailed(ErrInvalidAmount, "Restored amount must be positive, got %s", amount)
	}
	restored := p.RemainingAmount.Add(amount)
	if restored.GreaterThan(p.Amount) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("Restoring %s would push remaining amount of payment %s above its total", amount, p.PaymentNumber))
	}

	p.RemainingAmount = restored
	p.refreshStatus()
	p.UpdatedAt = time.Now()
	p.IncrementVersion()
	return nil
}

// MarkCompleted closes a fully allocated payment
func (p *Payment) MarkCompleted() error {
	if p.Status != PaymentStatusFullyAllocated {
		return shared.NewDomainError("INVALID_STATE", fmt.Sprintf("Cannot complete payment in %s status", p.Status))
	}
	now := time.Now()
	p.Status = PaymentStatusCompleted
	p.CompletedAt = &now
	p.UpdatedAt = now
	p.IncrementVersion()

	p.AddDomainEvent(NewPaymentCompletedEvent(p))
	return nil
}

func (p *Payment) refreshStatus() {
	switch {
	case p.RemainingAmount.IsZero():
		p.Status = PaymentStatusFullyAllocated
	case p.RemainingAmount.Equal(p.Amount):
		p.Status = PaymentStatusPending
	default:
		p.Status = PaymentStatusPartiallyAllocated
	}
}

// GetAmountMoney returns the payment amount as Money
func (p *Payment) GetAmountMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(p.Amount, p.Currency)
	return m
}

// GetRemainingMoney returns the remaining amount as Money
func (p *Payment) GetRemainingMoney() valueobject.Money {
	m, _ := valueobject.NewMoney(p.RemainingAmount, p.Currency)
	return m
}

// PaymentSnapshot captures the balance fields of a payment for the audit trail
type PaymentSnapshot struct {
	Amount          decimal.Decimal `json:"amount"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	Status          PaymentStatus   `json:"status"`
	Version         int             `json:"version"`
}

// Snapshot returns the current balance fields
func (p *Payment) Snapshot() PaymentSnapshot {
	return PaymentSnapshot{
		Amount:          p.Amount,
		RemainingAmount: p.RemainingAmount,
		Status:          p.Status,
		Version:         p.Version,
	}
}
