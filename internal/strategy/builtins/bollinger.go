// Package builtins provides the built-in strategy implementations that ship
// with walkfwd.
package builtins

import (
	"fmt"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Bollinger)(nil)

// Bollinger is the mean-reversion band rule: BUY when the close sits below
// the oversold fraction of the band, SELL above the overbought fraction.
type Bollinger struct {
	bands      indicator.Bollinger
	oversold   float64
	overbought float64
}

// NewBollinger validates the thresholds and band parameters.
func NewBollinger(bands indicator.Bollinger, oversold, overbought float64) (*Bollinger, error) {
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	if err := validateBandThresholds(oversold, overbought); err != nil {
		return nil, err
	}
	return &Bollinger{bands: bands, oversold: oversold, overbought: overbought}, nil
}

func validateBandThresholds(oversold, overbought float64) error {
	if !(oversold >= 0 && oversold < overbought && overbought <= 1) {
		return fmt.Errorf("%w: need 0 <= oversold < overbought <= 1, got oversold=%v overbought=%v",
			domain.ErrInvalidConfiguration, oversold, overbought)
	}
	return nil
}

// Name returns "bollinger".
func (s *Bollinger) Name() string {
	return "bollinger"
}

// ComputeIndicators builds the band frame.
func (s *Bollinger) ComputeIndicators(bars []domain.Bar) (*indicator.Frame, error) {
	return s.bands.Build(bars)
}

// Classify applies the band thresholds to percent_b.
func (s *Bollinger) Classify(row indicator.Row) (domain.Signal, error) {
	return bandSignal(row, s.oversold, s.overbought), nil
}

func bandSignal(row indicator.Row, oversold, overbought float64) domain.Signal {
	if !row.Defined() {
		return domain.Hold
	}
	switch {
	case row.PercentB < oversold:
		return domain.Buy
	case row.PercentB > overbought:
		return domain.Sell
	}
	return domain.Hold
}
