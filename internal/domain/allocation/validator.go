package allocation

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationPair is a requested (invoice, amount) allocation
type AllocationPair struct {
	InvoiceID uuid.UUID       `json:"invoice_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// TotalOf sums the amounts of pairs
func TotalOf(pairs []AllocationPair) decimal.Decimal {
	total := decimal.Zero
	for _, p := range pairs {
		total = total.Add(p.Amount)
	}
	return total
}

// InvoiceIDs returns the invoice IDs of pairs in request order
func InvoiceIDs(pairs []AllocationPair) []uuid.UUID {
	ids := make([]uuid.UUID, len(pairs))
	for i, p := range pairs {
		ids[i] = p.InvoiceID
	}
	return ids
}

// Validator checks allocation requests against the current balances. It has
// no side effects and can be used for previews as well as under lock.
type Validator struct{}

// NewValidator creates a Validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks pairs against the payment and the invoices, keyed by ID.
// The first violation is returned.
func (v *Validator) Validate(p *Payment, pairs []AllocationPair, invoices map[uuid.UUID]*Invoice) error {
	if err := p.EnsureAllocatable(); err != nil {
		return err
	}
	if len(pairs) == 0 {
		return ErrEmptyAllocation
	}

	seen := make(map[uuid.UUID]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := seen[pair.InvoiceID]; dup {
			return detailed(ErrDuplicateAllocationTarget, "Invoice %s appears more than once", pair.InvoiceID)
		}
		seen[pair.InvoiceID] = struct{}{}
	}

	scale := p.Currency.Scale()
	for _, pair := range pairs {
		inv, ok := invoices[pair.InvoiceID]
		if !ok || inv == nil {
			return NotFound("invoice", pair.InvoiceID)
		}
		if inv.TenantID != p.TenantID || inv.CustomerID != p.CustomerID {
			return detailed(ErrCrossCustomerAllocation,
				"Invoice %s belongs to customer %s, payment %s to customer %s",
				inv.InvoiceNumber, inv.CustomerID, p.PaymentNumber, p.CustomerID)
		}
		if inv.Currency != "" && inv.Currency != p.Currency {
			return detailed(ErrCurrencyMismatch, "Invoice %s is billed in %s, payment %s is in %s",
				inv.InvoiceNumber, inv.Currency, p.PaymentNumber, p.Currency)
		}
		if !pair.Amount.IsPositive() {
			return detailed(ErrInvalidAmount, "Amount for invoice %s must be positive, got %s", inv.InvoiceNumber, pair.Amount)
		}
		if !p.Currency.HasValidScale(pair.Amount) {
			return detailed(ErrInvalidAmount, "Amount %s for invoice %s has more than %d decimal places",
				pair.Amount, inv.InvoiceNumber, scale)
		}
		if !inv.Status.IsOpen() {
			return detailed(ErrInvoiceNotOpen, "Invoice %s is %s", inv.InvoiceNumber, inv.Status)
		}
		if pair.Amount.GreaterThan(inv.BalanceDue) {
			return detailed(ErrExceedsBalanceDue, "Amount %s exceeds balance due %s on invoice %s",
				pair.Amount.StringFixed(scale), inv.BalanceDue.StringFixed(scale), inv.InvoiceNumber)
		}
	}

	if total := TotalOf(pairs); total.GreaterThan(p.RemainingAmount) {
		return detailed(ErrExceedsRemainingAmount, "Total %s exceeds remaining amount %s of payment %s",
			total.StringFixed(scale), p.RemainingAmount.StringFixed(scale), p.PaymentNumber)
	}
	return nil
}

// IndexInvoices keys invoices by ID
func IndexInvoices(invoices []Invoice) map[uuid.UUID]*Invoice {
	m := make(map[uuid.UUID]*Invoice, len(invoices))
	for i := range invoices {
		m[invoices[i].ID] = &invoices[i]
	}
	return m
}
