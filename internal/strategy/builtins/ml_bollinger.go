package builtins

import (
	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/model"
	"walkfwd/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*MLBollinger)(nil)

// MLBollinger combines the band rule with the classifier. Entries need both
// an oversold band reading and a confident up probability; exits take either
// an overbought reading or a confident down probability.
type MLBollinger struct {
	bands      indicator.Bollinger
	clf        model.Classifier
	oversold   float64
	overbought float64
	buy        float64
	sell       float64
}

// NewMLBollinger validates both threshold pairs.
func NewMLBollinger(p Params, clf model.Classifier) (*MLBollinger, error) {
	bands := indicator.Bollinger{Window: p.Window, NumStd: p.NumStd}
	if err := bands.Validate(); err != nil {
		return nil, err
	}
	if err := validateBandThresholds(p.Oversold, p.Overbought); err != nil {
		return nil, err
	}
	if err := validateProbThresholds(p.BuyThreshold, p.SellThreshold); err != nil {
		return nil, err
	}
	if clf == nil {
		return nil, domain.ErrModelNotTrained
	}
	return &MLBollinger{
		bands:      bands,
		clf:        clf,
		oversold:   p.Oversold,
		overbought: p.Overbought,
		buy:        p.BuyThreshold,
		sell:       p.SellThreshold,
	}, nil
}

// Name returns "ml-bollinger".
func (s *MLBollinger) Name() string {
	return "ml-bollinger"
}

// ComputeIndicators builds the band frame.
func (s *MLBollinger) ComputeIndicators(bars []domain.Bar) (*indicator.Frame, error) {
	return s.bands.Build(bars)
}

// Classify combines the band signal with the probability.
func (s *MLBollinger) Classify(row indicator.Row) (domain.Signal, error) {
	if !row.Defined() {
		return domain.Hold, nil
	}
	p, ok, err := probabilityUp(s.clf, row)
	if err != nil {
		return domain.Hold, err
	}
	if !ok {
		return domain.Hold, nil
	}

	band := bandSignal(row, s.oversold, s.overbought)
	switch {
	case band == domain.Buy && p > s.buy:
		return domain.Buy, nil
	case band == domain.Sell || p < s.sell:
		return domain.Sell, nil
	}
	return domain.Hold, nil
}
