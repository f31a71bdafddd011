package builtins

import (
	"fmt"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/model"
	"walkfwd/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*Probability)(nil)

// Probability trades on the classifier's probability that the next bar
// closes higher.
type Probability struct {
	bands indicator.Bollinger
	clf   model.Classifier
	buy   float64
	sell  float64
}

// NewProbability validates the thresholds. clf must already be trained.
func NewProbability(bands indicator.Bollinger, clf model.Classifier, buy, sell float64) (*Probability, error) {
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	if err := validateProbThresholds(buy, sell); err != nil {
		return nil, err
	}
	if clf == nil {
		return nil, domain.ErrModelNotTrained
	}
	return &Probability{bands: bands, clf: clf, buy: buy, sell: sell}, nil
}

func validateProbThresholds(buy, sell float64) error {
	if !(sell >= 0 && sell < buy && buy <= 1) {
		return fmt.Errorf("%w: need 0 <= sell_threshold < buy_threshold <= 1, got buy=%v sell=%v",
			domain.ErrInvalidConfiguration, buy, sell)
	}
	return nil
}

// Name returns "probability".
func (s *Probability) Name() string {
	return "probability"
}

// ComputeIndicators builds the band frame that carries the classifier
// features.
func (s *Probability) ComputeIndicators(bars []domain.Bar) (*indicator.Frame, error) {
	return s.bands.Build(bars)
}

// Classify thresholds the probability of an up move.
func (s *Probability) Classify(row indicator.Row) (domain.Signal, error) {
	p, ok, err := probabilityUp(s.clf, row)
	if err != nil || !ok {
		return domain.Hold, err
	}
	switch {
	case p > s.buy:
		return domain.Buy, nil
	case p < s.sell:
		return domain.Sell, nil
	}
	return domain.Hold, nil
}

// probabilityUp asks clf about row. ok is false for rows the classifier may
// not score: rows with undefined features and rows inside the training
// window.
func probabilityUp(clf model.Classifier, row indicator.Row) (p float64, ok bool, err error) {
	if _, defined := row.Features(); !defined {
		return 0, false, nil
	}
	if model.InSample(clf, row) {
		return 0, false, nil
	}
	p, err = clf.PredictProbabilityUp(row)
	if err != nil {
		return 0, false, err
	}
	return p, true, nil
}
