// Package allocation contains the payment allocation strategies.
package allocation

import (
	"bytes"
	"sort"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/domain/shared/valueobject"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// prepare validates the available amount and returns the currency plus the
// candidates that still owe something, copied so callers' slices stay untouched.
func prepare(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (valueobject.Currency, []strategy.AllocationCandidate, error) {
	if available.IsNegative() {
		return "", nil, strategy.InvalidOptions("amount available cannot be negative")
	}
	currency := opts.Currency
	if currency == "" {
		currency = valueobject.DefaultCurrency
	}
	open := make([]strategy.AllocationCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.BalanceDue.IsPositive() {
			open = append(open, c)
		}
	}
	return currency, open, nil
}

func idLess(a, b uuid.UUID) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

// sortByIssueDate orders oldest first, ties broken by invoice ID
func sortByIssueDate(cands []strategy.AllocationCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].IssueDate.Equal(cands[j].IssueDate) {
			return cands[i].IssueDate.Before(cands[j].IssueDate)
		}
		return idLess(cands[i].InvoiceID, cands[j].InvoiceID)
	})
}

// sortByBalanceDesc orders largest balance first, ties broken by invoice ID
func sortByBalanceDesc(cands []strategy.AllocationCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		if !cands[i].BalanceDue.Equal(cands[j].BalanceDue) {
			return cands[i].BalanceDue.GreaterThan(cands[j].BalanceDue)
		}
		return idLess(cands[i].InvoiceID, cands[j].InvoiceID)
	})
}

// greedyFill walks ordered candidates and gives each min(remaining, balance)
func greedyFill(available decimal.Decimal, ordered []strategy.AllocationCandidate) []decimal.Decimal {
	amounts := make([]decimal.Decimal, len(ordered))
	remaining := available
	for i, c := range ordered {
		if !remaining.IsPositive() {
			break
		}
		amounts[i] = decimal.Min(remaining, c.BalanceDue)
		remaining = remaining.Sub(amounts[i])
	}
	return amounts
}

// distributeMinorUnits hands out remainder one minor unit at a time, cycling
// over order and skipping candidates whose amount already equals the balance.
// It returns whatever could not be placed.
func distributeMinorUnits(
	remainder decimal.Decimal,
	unit decimal.Decimal,
	order []int,
	cands []strategy.AllocationCandidate,
	amounts []decimal.Decimal,
) decimal.Decimal {
	for remainder.GreaterThanOrEqual(unit) {
		placed := false
		for _, i := range order {
			if remainder.LessThan(unit) {
				break
			}
			if amounts[i].Add(unit).GreaterThan(cands[i].BalanceDue) {
				continue
			}
			amounts[i] = amounts[i].Add(unit)
			remainder = remainder.Sub(unit)
			placed = true
		}
		if !placed {
			break
		}
	}
	return remainder
}

// buildResult turns per-candidate amounts into proposals, dropping zero rows
func buildResult(
	name string,
	available decimal.Decimal,
	ordered []strategy.AllocationCandidate,
	amounts []decimal.Decimal,
	note func(i int) string,
) strategy.AllocationResult {
	proposals := make([]strategy.AllocationProposal, 0, len(ordered))
	total := decimal.Zero
	for i, c := range ordered {
		amount := amounts[i]
		if !amount.IsPositive() {
			continue
		}
		p := strategy.AllocationProposal{
			InvoiceID:     c.InvoiceID,
			InvoiceNumber: c.InvoiceNumber,
			Amount:        amount,
			BalanceBefore: c.BalanceDue,
			BalanceAfter:  c.BalanceDue.Sub(amount),
		}
		if note != nil {
			p.Note = note(i)
		}
		proposals = append(proposals, p)
		total = total.Add(amount)
	}
	return strategy.AllocationResult{
		Strategy:             name,
		Proposals:            proposals,
		TotalAllocated:       total,
		UnallocatedRemainder: available.Sub(total),
	}
}

func constNote(text string) func(int) string {
	return func(int) string { return text }
}
