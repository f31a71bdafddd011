package builtins

import (
	"walkfwd/internal/indicator"
	"walkfwd/internal/model"
	"walkfwd/internal/strategy"
)

// Params holds the indicator and threshold parameters shared by the
// built-in strategies.
type Params struct {
	Window        int
	NumStd        float64
	Oversold      float64
	Overbought    float64
	BuyThreshold  float64
	SellThreshold float64
}

// Bands returns the band builder for p.
func (p Params) Bands() indicator.Bollinger {
	return indicator.Bollinger{Window: p.Window, NumStd: p.NumStd}
}

// New builds the named strategy. Classifier-backed strategies need clf.
func New(name string, p Params, clf model.Classifier) (strategy.Strategy, error) {
	reg, err := NewRegistry(p, clf)
	if err != nil {
		return nil, err
	}
	return reg.Lookup(name)
}

// NewRegistry registers every built-in strategy that p and clf allow. The
// classifier-backed strategies are only registered when clf is non-nil.
func NewRegistry(p Params, clf model.Classifier) (*strategy.Registry, error) {
	reg := strategy.NewRegistry()

	bb, err := NewBollinger(p.Bands(), p.Oversold, p.Overbought)
	if err != nil {
		return nil, err
	}
	reg.Register(bb)

	if clf == nil {
		return reg, nil
	}

	prob, err := NewProbability(p.Bands(), clf, p.BuyThreshold, p.SellThreshold)
	if err != nil {
		return nil, err
	}
	reg.Register(prob)

	ml, err := NewMLBollinger(p, clf)
	if err != nil {
		return nil, err
	}
	reg.Register(ml)

	return reg, nil
}

// NeedsClassifier reports whether the named strategy is classifier-backed.
func NeedsClassifier(name string) bool {
	return name == "probability" || name == "ml-bollinger"
}
