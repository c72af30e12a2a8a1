package allocation

import (
	"sort"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// ProportionalAllocationStrategy splits a payment by each invoice's share of
// the total balance due.
type ProportionalAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewProportionalAllocationStrategy creates a new proportional strategy
func NewProportionalAllocationStrategy() *ProportionalAllocationStrategy {
	return &ProportionalAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationProportional,
			"Distributes payment proportionally based on invoice balances",
			"Fair distribution across multiple invoices",
		),
	}
}

// Allocate floors each weighted share to the currency scale, caps it at the
// balance, then hands the leftover minor units to the largest balances first.
// The total placed is always min(available, sum of balances).
func (s *ProportionalAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	currency, ordered, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	sortByIssueDate(ordered)
	note := constNote("Proportional allocation - distributed by balance ratio")

	total := decimal.Zero
	for _, c := range ordered {
		total = total.Add(c.BalanceDue)
	}
	amounts := make([]decimal.Decimal, len(ordered))
	if total.IsZero() {
		return buildResult(s.Name(), available, ordered, amounts, note), nil
	}

	if available.GreaterThanOrEqual(total) {
		for i, c := range ordered {
			amounts[i] = c.BalanceDue
		}
		return buildResult(s.Name(), available, ordered, amounts, note), nil
	}

	placed := decimal.Zero
	for i, c := range ordered {
		share := currency.Floor(available.Mul(c.BalanceDue).Div(total))
		amounts[i] = decimal.Min(share, c.BalanceDue)
		placed = placed.Add(amounts[i])
	}

	order := make([]int, len(ordered))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ca, cb := ordered[order[a]], ordered[order[b]]
		if !ca.BalanceDue.Equal(cb.BalanceDue) {
			return ca.BalanceDue.GreaterThan(cb.BalanceDue)
		}
		return idLess(ca.InvoiceID, cb.InvoiceID)
	})
	distributeMinorUnits(available.Sub(placed), currency.MinorUnit(), order, ordered, amounts)

	return buildResult(s.Name(), available, ordered, amounts, note), nil
}
