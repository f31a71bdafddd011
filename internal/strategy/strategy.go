// Package strategy defines the Strategy interface for signal sources and
// provides a Registry for managing multiple strategy implementations.
package strategy

import (
	"context"
	"fmt"
	"sort"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// Strategy turns bars into per-bar signals. Implementations must be causal:
// the row for bar i, and the signal classified from it, depend only on bars
// 0..i.
type Strategy interface {
	// Name returns the unique identifier for this strategy.
	Name() string

	// ComputeIndicators builds the indicator frame the strategy classifies.
	ComputeIndicators(bars []domain.Bar) (*indicator.Frame, error)

	// Classify maps one row to a signal. Rows with undefined indicators
	// classify as domain.Hold.
	Classify(row indicator.Row) (domain.Signal, error)
}

// GenerateSignals classifies every row of frame independently. The result
// has exactly one signal per row.
func GenerateSignals(ctx context.Context, s Strategy, frame *indicator.Frame) ([]domain.Signal, error) {
	signals := make([]domain.Signal, frame.Len())
	for i, row := range frame.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sig, err := s.Classify(row)
		if err != nil {
			return nil, fmt.Errorf("%s: classifying bar %d: %w", s.Name(), i, err)
		}
		signals[i] = sig
	}
	return signals, nil
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[string]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name. The second return value indicates whether
// the strategy was found.
func (r *Registry) Get(name string) (Strategy, bool) {
	s, ok := r.strategies[name]
	return s, ok
}

// Lookup is Get with an error naming the registered strategies.
func (r *Registry) Lookup(name string) (Strategy, error) {
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q (registered: %v)",
			domain.ErrInvalidConfiguration, name, r.List())
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
