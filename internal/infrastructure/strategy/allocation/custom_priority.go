package allocation

import (
	"fmt"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CustomPriorityAllocationStrategy fills invoices in a caller-supplied order.
// Open invoices missing from the list receive nothing.
type CustomPriorityAllocationStrategy struct {
	strategy.BaseStrategy
}

// NewCustomPriorityAllocationStrategy creates a new custom priority strategy
func NewCustomPriorityAllocationStrategy() *CustomPriorityAllocationStrategy {
	return &CustomPriorityAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationCustomPriority,
			"Uses custom priority order for invoice selection",
			"Specific business requirements",
		),
	}
}

func (s *CustomPriorityAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	_, open, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	if len(opts.PriorityInvoiceIDs) == 0 {
		return strategy.AllocationResult{}, strategy.InvalidOptions("custom_priority allocation requires an invoice priority list")
	}

	byID := make(map[uuid.UUID]strategy.AllocationCandidate, len(open))
	for _, c := range open {
		byID[c.InvoiceID] = c
	}

	seen := make(map[uuid.UUID]struct{}, len(opts.PriorityInvoiceIDs))
	ordered := make([]strategy.AllocationCandidate, 0, len(opts.PriorityInvoiceIDs))
	ranks := make([]int, 0, len(opts.PriorityInvoiceIDs))
	for rank, id := range opts.PriorityInvoiceIDs {
		if _, dup := seen[id]; dup {
			return strategy.AllocationResult{}, strategy.InvalidOptions(
				fmt.Sprintf("invoice %s appears more than once in the priority list", id))
		}
		seen[id] = struct{}{}
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
			ranks = append(ranks, rank+1)
		}
	}

	amounts := greedyFill(available, ordered)
	return buildResult(s.Name(), available, ordered, amounts, func(i int) string {
		return fmt.Sprintf("Custom priority allocation - priority #%d", ranks[i])
	}), nil
}
