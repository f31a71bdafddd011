// Package model provides the probability-of-up classifiers consumed by the
// probability strategies: a logistic regression trained in-process, a frozen
// XGBoost model, and precomputed walk-forward probabilities.
package model

import (
	"fmt"
	"time"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/util"
)

// Classifier estimates the probability that the next bar closes higher than
// the bar described by row. Implementations are frozen: nothing they return
// may depend on rows stamped after TrainedThrough.
type Classifier interface {
	PredictProbabilityUp(row indicator.Row) (float64, error)

	// TrainedThrough is the timestamp of the latest bar whose data was used
	// for fitting. The zero time means no row is in-sample.
	TrainedThrough() time.Time
}

// Compile-time interface checks.
var (
	_ Classifier = (*Logistic)(nil)
	_ Classifier = (*XGBoost)(nil)
	_ Classifier = (*Static)(nil)
)

// InSample reports whether row was visible to c during fitting.
func InSample(c Classifier, row indicator.Row) bool {
	cutoff := c.TrainedThrough()
	if cutoff.IsZero() {
		return false
	}
	return !row.Bar.Timestamp.After(cutoff)
}

// ---------------------------------------------------------------------------
// Static
// ---------------------------------------------------------------------------

// Static serves probabilities computed elsewhere, keyed by bar timestamp.
type Static struct {
	probs   map[int64]float64
	Default float64
}

// NewStatic builds a Static classifier. Rows without an entry get def.
func NewStatic(def float64) *Static {
	return &Static{probs: make(map[int64]float64), Default: def}
}

// Set records the probability for the bar stamped t.
func (s *Static) Set(t time.Time, p float64) {
	s.probs[t.UnixNano()] = p
}

// Len returns the number of stored probabilities.
func (s *Static) Len() int {
	return len(s.probs)
}

// PredictProbabilityUp returns the stored probability for row.
func (s *Static) PredictProbabilityUp(row indicator.Row) (float64, error) {
	if p, ok := s.probs[row.Bar.Timestamp.UnixNano()]; ok {
		return p, nil
	}
	return s.Default, nil
}

// TrainedThrough returns the zero time; every stored probability is already
// out of sample for its own bar.
func (s *Static) TrainedThrough() time.Time {
	return time.Time{}
}

// ---------------------------------------------------------------------------
// Direction forecast
// ---------------------------------------------------------------------------

// Direction is the forecast direction of the next bar.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// Prediction is a direction forecast for one future trading day.
type Prediction struct {
	Date       time.Time
	Direction  Direction
	Confidence float64
}

// PredictNext forecasts the direction for the next days business days after
// the last bar of frame, using the latest row with complete features. No
// price path is fabricated: every day carries the same probability.
func PredictNext(c Classifier, frame *indicator.Frame, days int) ([]Prediction, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be > 0, got %d", domain.ErrInvalidConfiguration, days)
	}

	var latest *indicator.Row
	for i := frame.Len() - 1; i >= 0; i-- {
		if _, ok := frame.Rows[i].Features(); ok {
			latest = &frame.Rows[i]
			break
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("%w: no row with complete features", domain.ErrInsufficientData)
	}

	p, err := c.PredictProbabilityUp(*latest)
	if err != nil {
		return nil, fmt.Errorf("predicting %s: %w", latest.Bar.Timestamp.Format(time.DateOnly), err)
	}
	dir := DirectionDown
	if p > 0.5 {
		dir = DirectionUp
	}

	last, _ := frame.Last()
	out := make([]Prediction, 0, days)
	for _, day := range util.BusinessDaysAfter(last.Bar.Timestamp, days) {
		out = append(out, Prediction{Date: day, Direction: dir, Confidence: p})
	}
	return out, nil
}
