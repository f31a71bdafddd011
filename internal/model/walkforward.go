package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// WalkForwardParams controls expanding-window retraining.
type WalkForwardParams struct {
	Logistic LogisticParams
	// MinHistory is the number of leading rows that get Default instead of
	// a model probability.
	MinHistory int
	// RetrainEvery refits the model every N bars; 1 refits on every bar.
	RetrainEvery int
	Default      float64
}

// DefaultWalkForwardParams mirrors the research pipeline: refit on every bar
// after 20 rows of history, 0.5 before that.
func DefaultWalkForwardParams() WalkForwardParams {
	return WalkForwardParams{
		Logistic:     DefaultLogisticParams(),
		MinHistory:   20,
		RetrainEvery: 1,
		Default:      0.5,
	}
}

// WalkForward produces an out-of-sample probability for every row. The
// probability for row i comes from a fresh model fitted only on rows strictly
// before i, so every value is usable without look-ahead.
func WalkForward(ctx context.Context, frame *indicator.Frame, params WalkForwardParams) (*Static, error) {
	if params.MinHistory < 0 || params.RetrainEvery <= 0 {
		return nil, fmt.Errorf("%w: walk-forward min_history=%d retrain_every=%d",
			domain.ErrInvalidConfiguration, params.MinHistory, params.RetrainEvery)
	}
	if err := params.Logistic.validate(); err != nil {
		return nil, err
	}

	log := slog.Default().With("component", "walkforward")
	out := NewStatic(params.Default)

	var current *Logistic
	fits := 0
	for i, row := range frame.Rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i < params.MinHistory || i == 0 {
			out.Set(row.Bar.Timestamp, params.Default)
			continue
		}

		if current == nil || (i-params.MinHistory)%params.RetrainEvery == 0 {
			m, _ := NewLogistic(params.Logistic)
			cutoff := frame.Rows[i-1].Bar.Timestamp
			err := m.Train(frame.Rows[:i], cutoff)
			switch {
			case errors.Is(err, domain.ErrInsufficientData):
				m = nil
			case err != nil:
				return nil, fmt.Errorf("walk-forward fit at %d: %w", i, err)
			}
			current = m
			fits++
		}

		if current == nil {
			out.Set(row.Bar.Timestamp, params.Default)
			continue
		}
		if _, ok := row.Features(); !ok {
			out.Set(row.Bar.Timestamp, params.Default)
			continue
		}
		p, err := current.PredictProbabilityUp(row)
		if err != nil {
			return nil, fmt.Errorf("walk-forward predict at %d: %w", i, err)
		}
		out.Set(row.Bar.Timestamp, p)
	}

	log.Debug("walk-forward complete", "rows", frame.Len(), "fits", fits)
	return out, nil
}
