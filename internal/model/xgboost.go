package model

import (
	"fmt"
	"time"

	xgb "github.com/Elvenson/xgboost-go"
	"github.com/Elvenson/xgboost-go/activation"
	"github.com/Elvenson/xgboost-go/inference"
	"github.com/Elvenson/xgboost-go/mat"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// XGBoost serves a frozen binary:logistic XGBoost model exported as a JSON
// tree dump. Feature indices follow indicator.FeatureNames.
type XGBoost struct {
	ensemble *inference.Ensemble
	through  time.Time
}

// LoadXGBoost reads a JSON tree dump. trainedThrough is the last bar the
// model was fitted on; rows up to it are treated as in-sample.
func LoadXGBoost(path string, maxDepth int, trainedThrough time.Time) (*XGBoost, error) {
	if maxDepth <= 0 {
		return nil, fmt.Errorf("%w: max_depth must be > 0", domain.ErrInvalidConfiguration)
	}
	ensemble, err := xgb.LoadXGBoostFromJSON(path, "", 1, maxDepth, &activation.Logistic{})
	if err != nil {
		return nil, fmt.Errorf("loading xgboost model %s: %w", path, err)
	}
	return &XGBoost{ensemble: ensemble, through: trainedThrough}, nil
}

// PredictProbabilityUp scores one row.
func (m *XGBoost) PredictProbabilityUp(row indicator.Row) (float64, error) {
	if m == nil || m.ensemble == nil {
		return 0, domain.ErrModelNotTrained
	}
	f, ok := row.Features()
	if !ok {
		return 0, fmt.Errorf("%w: undefined features at %s", domain.ErrInsufficientData,
			row.Bar.Timestamp.Format(time.DateOnly))
	}
	vec := make(mat.SparseVector, len(f))
	for i, v := range f {
		vec[i] = float32(v)
	}
	pred, err := m.ensemble.PredictProba(mat.SparseMatrix{Vectors: []mat.SparseVector{vec}})
	if err != nil {
		return 0, fmt.Errorf("xgboost predict: %w", err)
	}
	if len(pred.Vectors) == 0 || len(*pred.Vectors[0]) == 0 {
		return 0, fmt.Errorf("xgboost predict: empty output")
	}
	return float64((*pred.Vectors[0])[0]), nil
}

// TrainedThrough returns the configured training cutoff.
func (m *XGBoost) TrainedThrough() time.Time {
	return m.through
}
