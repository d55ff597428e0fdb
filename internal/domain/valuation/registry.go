package valuation

import (
	"fmt"
	"sync"

	"stockledger/internal/core/entity"
)

// Registry maps valuation method names to strategies.
// Lookup happens once per item at the start of a batch of movements.
type Registry struct {
	mu         sync.RWMutex
	strategies map[entity.ValuationMethod]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[entity.ValuationMethod]Strategy, len(strategies))}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry holds FIFO and Moving Average.
func DefaultRegistry() *Registry {
	return NewRegistry(FIFO{}, MovingAverage{})
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Method()] = s
}

// Lookup returns the strategy for method.
func (r *Registry) Lookup(method entity.ValuationMethod) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[method]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	return s, nil
}
