package allocation

import (
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// EqualDistributionAllocationStrategy splits a payment equally across invoices
type EqualDistributionAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewEqualDistributionAllocationStrategy creates a new equal distribution strategy
func NewEqualDistributionAllocationStrategy() *EqualDistributionAllocationStrategy {
	return &EqualDistributionAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationEqualDistribution,
			"Splits payment equally across all invoices",
			"Simple, fair allocation method",
		),
	}
}

// Allocate gives every uncapped invoice the same floored share, repeating
// with the unused portion whenever a balance caps a share. Leftover minor
// units go out one at a time in issue-date order.
func (s *EqualDistributionAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	currency, ordered, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	sortByIssueDate(ordered)

	amounts := make([]decimal.Decimal, len(ordered))
	active := make([]int, len(ordered))
	for i := range active {
		active[i] = i
	}
	remaining := available

	for remaining.IsPositive() && len(active) > 0 {
		share := currency.Floor(remaining.Div(decimal.NewFromInt(int64(len(active)))))
		if !share.IsPositive() {
			break
		}
		next := active[:0:0]
		capped := false
		for _, i := range active {
			room := ordered[i].BalanceDue.Sub(amounts[i])
			give := decimal.Min(share, room)
			amounts[i] = amounts[i].Add(give)
			remaining = remaining.Sub(give)
			if amounts[i].LessThan(ordered[i].BalanceDue) {
				next = append(next, i)
			} else {
				capped = true
			}
		}
		active = next
		if !capped {
			break
		}
	}

	distributeMinorUnits(remaining, currency.MinorUnit(), active, ordered, amounts)

	return buildResult(s.Name(), available, ordered, amounts,
		constNote("Equal distribution allocation - payment split equally")), nil
}
