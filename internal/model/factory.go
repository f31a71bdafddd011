package model

import (
	"context"
	"fmt"
	"time"

	"walkfwd/internal/config"
	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// FromConfig builds the classifier selected by cfg.Kind for frame:
//
//   - "walkforward" refits a logistic model on every bar (see WalkForward).
//   - "logistic" loads cfg.Path, or trains on the rows up to
//     cfg.TrainedUntil when no path is set.
//   - "xgboost" loads the JSON dump at cfg.Path, frozen at cfg.TrainedUntil.
func FromConfig(ctx context.Context, cfg config.ModelConfig, frame *indicator.Frame) (Classifier, error) {
	lp := LogisticParams{
		LearningRate: cfg.LearningRate,
		Epochs:       cfg.Epochs,
		L2:           cfg.L2,
		Horizon:      cfg.Horizon,
	}

	switch cfg.Kind {
	case "walkforward", "":
		return WalkForward(ctx, frame, WalkForwardParams{
			Logistic:     lp,
			MinHistory:   cfg.MinHistory,
			RetrainEvery: cfg.RetrainEvery,
			Default:      0.5,
		})

	case "logistic":
		if cfg.Path != "" {
			return LoadLogistic(cfg.Path)
		}
		cutoff, err := trainedUntil(cfg)
		if err != nil {
			return nil, err
		}
		m, err := NewLogistic(lp)
		if err != nil {
			return nil, err
		}
		if err := m.Train(frame.Rows, cutoff); err != nil {
			return nil, err
		}
		return m, nil

	case "xgboost":
		cutoff, err := trainedUntil(cfg)
		if err != nil {
			return nil, err
		}
		return LoadXGBoost(cfg.Path, cfg.MaxDepth, cutoff)
	}
	return nil, fmt.Errorf("%w: unknown model kind %q (want walkforward, logistic or xgboost)",
		domain.ErrInvalidConfiguration, cfg.Kind)
}

func trainedUntil(cfg config.ModelConfig) (time.Time, error) {
	if cfg.TrainedUntil == "" {
		return time.Time{}, fmt.Errorf("%w: model.trained_until is required for %s models",
			domain.ErrInvalidConfiguration, cfg.Kind)
	}
	t, err := time.Parse(time.DateOnly, cfg.TrainedUntil)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: model.trained_until: %v", domain.ErrInvalidConfiguration, err)
	}
	return t, nil
}
