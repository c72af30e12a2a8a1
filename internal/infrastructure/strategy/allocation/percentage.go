package allocation

import (
	"fmt"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// PercentageAllocationStrategy gives each invoice a caller-chosen percentage
// of the payment. Percentages line up with invoices ordered by issue date.
type PercentageAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewPercentageAllocationStrategy creates a new percentage-based strategy
func NewPercentageAllocationStrategy() *PercentageAllocationStrategy {
	return &PercentageAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationPercentageBased,
			"Allocates based on specified percentages per invoice",
			"Strategic payment distribution",
		),
	}
}

// Allocate computes each share from the cumulative percentage so flooring
// never loses a minor unit when the percentages add up to 100. A share that
// exceeds the invoice balance rolls the excess to the next invoice in order.
func (s *PercentageAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	currency, ordered, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	if err := validatePercentages(opts.Percentages, len(ordered)); err != nil {
		return strategy.AllocationResult{}, err
	}
	sortByIssueDate(ordered)

	amounts := make([]decimal.Decimal, len(ordered))
	percents := make([]decimal.Decimal, len(ordered))
	cumulative := decimal.Zero
	previous := decimal.Zero
	carry := decimal.Zero
	for i, c := range ordered {
		if i < len(opts.Percentages) {
			percents[i] = opts.Percentages[i]
		}
		cumulative = cumulative.Add(percents[i])
		upTo := currency.Floor(available.Mul(cumulative).Div(hundred))
		share := upTo.Sub(previous).Add(carry)
		previous = upTo

		amounts[i] = decimal.Min(share, c.BalanceDue)
		carry = share.Sub(amounts[i])
	}

	return buildResult(s.Name(), available, ordered, amounts, func(i int) string {
		return fmt.Sprintf("Percentage-based allocation - %s%% of payment", percents[i].String())
	}), nil
}

func validatePercentages(percentages []decimal.Decimal, candidates int) error {
	if len(percentages) == 0 {
		return strategy.InvalidOptions("percentage_based allocation requires a percentage list")
	}
	if len(percentages) > candidates {
		return strategy.InvalidOptions(fmt.Sprintf(
			"percentage list has %d entries but only %d invoices are open", len(percentages), candidates))
	}
	sum := decimal.Zero
	for i, p := range percentages {
		if p.IsNegative() {
			return strategy.InvalidOptions(fmt.Sprintf("percentage #%d is negative", i+1))
		}
		sum = sum.Add(p)
	}
	if sum.GreaterThan(hundred) {
		return strategy.InvalidOptions(fmt.Sprintf("percentages sum to %s, which exceeds 100", sum.String()))
	}
	return nil
}
