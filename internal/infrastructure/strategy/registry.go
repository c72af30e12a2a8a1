package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/erp/payalloc/internal/domain/shared"
	"github.com/erp/payalloc/internal/domain/shared/strategy"
)

// StrategyRegistry is a name-keyed registry of payment allocation strategies
type StrategyRegistry struct {
	mu                   sync.RWMutex
	allocationStrategies map[string]strategy.PaymentAllocationStrategy
	defaultAllocation    string
}

// NewStrategyRegistry creates an empty registry
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		allocationStrategies: make(map[string]strategy.PaymentAllocationStrategy),
	}
}

// RegisterAllocationStrategy registers a payment allocation strategy
func (r *StrategyRegistry) RegisterAllocationStrategy(s strategy.PaymentAllocationStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.allocationStrategies[name]; exists {
		return fmt.Errorf("%w: allocation strategy '%s' already registered", shared.ErrAlreadyExists, name)
	}
	r.allocationStrategies[name] = s
	return nil
}

// GetAllocationStrategy returns an allocation strategy by name, or the default if name is empty
func (r *StrategyRegistry) GetAllocationStrategy(name string) (strategy.PaymentAllocationStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultAllocation
		if name == "" {
			return nil, fmt.Errorf("%w: no default allocation strategy set", shared.ErrNotFound)
		}
	}

	s, exists := r.allocationStrategies[name]
	if !exists {
		return nil, fmt.Errorf("%w: allocation strategy '%s' not found", shared.ErrNotFound, name)
	}
	return s, nil
}

// ListAllocationStrategies returns all registered allocation strategy names, sorted
func (r *StrategyRegistry) ListAllocationStrategies() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.allocationStrategies))
	for name := range r.allocationStrategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllocationStrategies returns the registered strategies ordered by name
func (r *StrategyRegistry) AllocationStrategies() []strategy.PaymentAllocationStrategy {
	names := r.ListAllocationStrategies()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]strategy.PaymentAllocationStrategy, 0, len(names))
	for _, name := range names {
		if s, ok := r.allocationStrategies[name]; ok {
			out = append(out, s)
		}
	}
	return out
}

// UnregisterAllocationStrategy removes an allocation strategy
func (r *StrategyRegistry) UnregisterAllocationStrategy(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.allocationStrategies[name]; !exists {
		return fmt.Errorf("%w: allocation strategy '%s' not found", shared.ErrNotFound, name)
	}
	delete(r.allocationStrategies, name)

	if r.defaultAllocation == name {
		r.defaultAllocation = ""
	}
	return nil
}

// SetDefault makes a registered strategy the fallback for empty names
func (r *StrategyRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.allocationStrategies[name]; !exists {
		return fmt.Errorf("%w: allocation strategy '%s' not found", shared.ErrNotFound, name)
	}
	r.defaultAllocation = name
	return nil
}

// GetDefault returns the default strategy name, empty if none
func (r *StrategyRegistry) GetDefault() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultAllocation
}

// IsRegistered reports whether a strategy with the given name exists
func (r *StrategyRegistry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.allocationStrategies[name]
	return ok
}
