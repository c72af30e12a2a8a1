// Package strategy defines the pluggable payment allocation strategies and
// the value types they exchange with the allocation service.
package strategy

// Strategy describes a named, self-documenting strategy
type Strategy interface {
	Name() string
	Description() string
	// BestFor describes the situations the strategy suits
	BestFor() string
}

// BaseStrategy carries the catalog fields of a strategy. Embed it and
// implement the behavior.
type BaseStrategy struct {
	name        string
	description string
	bestFor     string
}

// NewBaseStrategy creates a BaseStrategy
func NewBaseStrategy(name, description, bestFor string) BaseStrategy {
	return BaseStrategy{name: name, description: description, bestFor: bestFor}
}

func (s BaseStrategy) Name() string        { return s.name }
func (s BaseStrategy) Description() string { return s.description }
func (s BaseStrategy) BestFor() string     { return s.bestFor }
