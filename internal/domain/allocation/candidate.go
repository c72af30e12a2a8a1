package allocation

import (
	"context"
	"fmt"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/google/uuid"
)

// CandidateSelector finds the invoices a payment may be allocated to
type CandidateSelector struct {
	invoices InvoiceGateway
}

// NewCandidateSelector creates a selector reading from invoices
func NewCandidateSelector(invoices InvoiceGateway) *CandidateSelector {
	return &CandidateSelector{invoices: invoices}
}

// Select returns the eligible invoices of the payment's customer in the
// payment's company. The result carries no ordering; strategies sort.
// ErrNoCandidates is returned when nothing is eligible.
func (s *CandidateSelector) Select(ctx context.Context, p *Payment) ([]Invoice, error) {
	invoices, err := s.invoices.FindOpenForCustomer(ctx, p.TenantID, p.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load open invoices: %w", err)
	}
	eligible := FilterEligible(p, invoices)
	if len(eligible) == 0 {
		return nil, detailed(ErrNoCandidates, "No open invoices for customer %s", p.CustomerID)
	}
	return eligible, nil
}

// SelectLocked is Select followed by a row lock on every candidate. The
// locked rows are filtered again, so the result reflects balances that no
// other transaction can change until the caller's transaction ends.
func (s *CandidateSelector) SelectLocked(ctx context.Context, p *Payment) ([]Invoice, error) {
	candidates, err := s.Select(ctx, p)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	locked, err := s.invoices.LockForUpdate(ctx, p.TenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("lock candidate invoices: %w", err)
	}
	eligible := FilterEligible(p, locked)
	if len(eligible) == 0 {
		return nil, detailed(ErrNoCandidates, "No open invoices for customer %s", p.CustomerID)
	}
	return eligible, nil
}

// FilterEligible keeps invoices of the same customer and company that are
// open, owe a positive balance and are billed in the payment's currency.
func FilterEligible(p *Payment, invoices []Invoice) []Invoice {
	out := make([]Invoice, 0, len(invoices))
	for i := range invoices {
		inv := invoices[i]
		if inv.TenantID != p.TenantID || inv.CustomerID != p.CustomerID {
			continue
		}
		if !inv.IsOpen() {
			continue
		}
		if inv.Currency != "" && inv.Currency != p.Currency {
			continue
		}
		out = append(out, inv)
	}
	return out
}

// ToCandidates projects invoices into strategy candidates
func ToCandidates(invoices []Invoice) []strategy.AllocationCandidate {
	out := make([]strategy.AllocationCandidate, len(invoices))
	for i := range invoices {
		out[i] = invoices[i].ToCandidate()
	}
	return out
}
