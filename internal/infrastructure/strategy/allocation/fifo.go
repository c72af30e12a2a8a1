package allocation

import (
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// FIFOAllocationStrategy pays the oldest invoices first
type FIFOAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewFIFOAllocationStrategy creates a new FIFO allocation strategy
func NewFIFOAllocationStrategy() *FIFOAllocationStrategy {
	return &FIFOAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationFIFO,
			"Pays oldest invoices first based on issue date",
			"Standard accounts receivable management",
		),
	}
}

// Allocate sorts by issue date and fills each invoice in turn
func (s *FIFOAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	_, ordered, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	sortByIssueDate(ordered)

	amounts := greedyFill(available, ordered)
	return buildResult(s.Name(), available, ordered, amounts,
		constNote("FIFO allocation - oldest invoice paid first")), nil
}
