package strategy

import (
	"github.com/erp/payalloc/internal/domain/shared/strategy"
	"github.com/erp/payalloc/internal/infrastructure/strategy/allocation"
)

// NewRegistryWithDefaults creates a registry holding the seven built-in
// allocation strategies. defaultName selects the fallback used when a request
// names no strategy; empty means FIFO.
func NewRegistryWithDefaults(defaultName string) (*StrategyRegistry, error) {
	r := NewStrategyRegistry()

	builtins := []strategy.PaymentAllocationStrategy{
		allocation.NewFIFOAllocationStrategy(),
		allocation.NewLargestFirstAllocationStrategy(),
		allocation.NewOverdueFirstAllocationStrategy(),
		allocation.NewProportionalAllocationStrategy(),
		allocation.NewPercentageAllocationStrategy(),
		allocation.NewEqualDistributionAllocationStrategy(),
		allocation.NewCustomPriorityAllocationStrategy(),
	}
	for _, s := range builtins {
		if err := r.RegisterAllocationStrategy(s); err != nil {
			return nil, err
		}
	}

	if defaultName == "" {
		defaultName = strategy.AllocationFIFO
	}
	if err := r.SetDefault(defaultName); err != nil {
		return nil, err
	}
	return r, nil
}
