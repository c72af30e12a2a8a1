package allocation

import (
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// LargestFirstAllocationStrategy pays the largest balances first
type LargestFirstAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewLargestFirstAllocationStrategy creates a new largest-balance-first strategy
func NewLargestFirstAllocationStrategy() *LargestFirstAllocationStrategy {
	return &LargestFirstAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationLargestFirst,
			"Pays invoices with largest balances first",
			"Reducing the number of outstanding invoices",
		),
	}
}

func (s *LargestFirstAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	_, ordered, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	sortByBalanceDesc(ordered)

	amounts := greedyFill(available, ordered)
	return buildResult(s.Name(), available, ordered, amounts,
		constNote("Amount-based allocation - largest balance paid first")), nil
}
