package allocation

import (
	"sort"
	"time"

	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/shopspring/decimal"
)

// OverdueFirstAllocationStrategy pays overdue invoices first, most overdue
// at the front, then the rest by nearest due date.
type OverdueFirstAllocationStrategy struct {
	strategy.BaseStrategy
	now func() time.Time
}

// NewOverdueFirstAllocationStrategy creates a new overdue-first strategy
func NewOverdueFirstAllocationStrategy() *OverdueFirstAllocationStrategy {
	return &OverdueFirstAllocationStrategy{
		BaseStrategy: strategy.NewBaseStrategy(
			strategy.AllocationOverdueFirst,
			"Prioritizes overdue invoices, sorted by days overdue",
			"Collections and cash flow optimization",
		),
		now: time.Now,
	}
}

func (s *OverdueFirstAllocationStrategy) Allocate(
	available decimal.Decimal,
	candidates []strategy.AllocationCandidate,
	opts strategy.AllocationOptions,
) (strategy.AllocationResult, error) {
	_, open, err := prepare(available, candidates, opts)
	if err != nil {
		return strategy.AllocationResult{}, err
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = s.now()
	}

	var overdue, current []strategy.AllocationCandidate
	for _, c := range open {
		if c.IsOverdue(asOf) {
			overdue = append(overdue, c)
		} else {
			current = append(current, c)
		}
	}

	sort.SliceStable(overdue, func(i, j int) bool {
		di, dj := overdue[i].DaysOverdue(asOf), overdue[j].DaysOverdue(asOf)
		if di != dj {
			return di > dj
		}
		return idLess(overdue[i].InvoiceID, overdue[j].InvoiceID)
	})
	sort.SliceStable(current, func(i, j int) bool {
		if !current[i].DueDate.Equal(current[j].DueDate) {
			return current[i].DueDate.Before(current[j].DueDate)
		}
		return idLess(current[i].InvoiceID, current[j].InvoiceID)
	})

	ordered := append(overdue, current...)
	overdueCount := len(overdue)
	amounts := greedyFill(available, ordered)
	return buildResult(s.Name(), available, ordered, amounts, func(i int) string {
		if i < overdueCount {
			return "Priority allocation - overdue invoice paid first"
		}
		return "Priority allocation - non-overdue invoice"
	}), nil
}
