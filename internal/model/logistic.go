package model

import (
	"fmt"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// LogisticParams controls training of a Logistic model.
type LogisticParams struct {
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	L2           float64 `yaml:"l2"`
	// Horizon is the number of bars ahead the target compares against.
	Horizon int `yaml:"horizon"`
}

// DefaultLogisticParams returns the parameters used when none are configured.
func DefaultLogisticParams() LogisticParams {
	return LogisticParams{LearningRate: 0.1, Epochs: 500, L2: 0.01, Horizon: 1}
}

func (p LogisticParams) validate() error {
	if !(p.LearningRate > 0) {
		return fmt.Errorf("%w: learning_rate must be > 0", domain.ErrInvalidConfiguration)
	}
	if p.Epochs <= 0 {
		return fmt.Errorf("%w: epochs must be > 0", domain.ErrInvalidConfiguration)
	}
	if p.L2 < 0 {
		return fmt.Errorf("%w: l2 must be >= 0", domain.ErrInvalidConfiguration)
	}
	if p.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be > 0", domain.ErrInvalidConfiguration)
	}
	return nil
}

// Logistic is a standard-scaled logistic regression over the indicator
// feature vector. Training is full-batch gradient descent from zero weights,
// so identical inputs always produce identical models.
type Logistic struct {
	params LogisticParams

	weights []float64
	bias    float64
	mean    []float64
	scale   []float64
	through time.Time
	trained bool
}

// NewLogistic returns an untrained model.
func NewLogistic(params LogisticParams) (*Logistic, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &Logistic{params: params}, nil
}

// Samples extracts (features, label) pairs from rows stamped at or before
// cutoff whose target bar is also at or before cutoff. The label is 1 when the
// close horizon bars ahead is higher.
func Samples(rows []indicator.Row, cutoff time.Time, horizon int) (x [][]float64, y []float64, last time.Time) {
	for i := 0; i+horizon < len(rows); i++ {
		target := rows[i+horizon]
		if target.Bar.Timestamp.After(cutoff) {
			break
		}
		f, ok := rows[i].Features()
		if !ok {
			continue
		}
		label := 0.0
		if target.Bar.Close > rows[i].Bar.Close {
			label = 1
		}
		x = append(x, f)
		y = append(y, label)
		last = target.Bar.Timestamp
	}
	return x, y, last
}

// Train fits the model on rows up to and including cutoff.
func (m *Logistic) Train(rows []indicator.Row, cutoff time.Time) error {
	x, y, last := Samples(rows, cutoff, m.params.Horizon)
	if len(x) < 2 {
		return fmt.Errorf("%w: %d training samples before %s", domain.ErrInsufficientData,
			len(x), cutoff.Format(time.DateOnly))
	}
	m.Fit(x, y)
	m.through = last
	return nil
}

// Fit trains on an explicit design matrix. TrainedThrough is left unchanged.
func (m *Logistic) Fit(x [][]float64, y []float64) {
	n, d := len(x), len(x[0])

	m.mean = make([]float64, d)
	m.scale = make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range x {
			col[i] = x[i][j]
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.mean[j], m.scale[j] = mean, std
	}

	xs := make([][]float64, n)
	for i := range x {
		xs[i] = m.standardize(x[i])
	}

	w := make([]float64, d)
	b := 0.0
	grad := make([]float64, d)
	lr, l2 := m.params.LearningRate, m.params.L2
	for epoch := 0; epoch < m.params.Epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		gb := 0.0
		for i := range xs {
			diff := sigmoid(floats.Dot(w, xs[i])+b) - y[i]
			floats.AddScaled(grad, diff, xs[i])
			gb += diff
		}
		floats.Scale(1/float64(n), grad)
		floats.AddScaled(grad, l2, w)
		floats.AddScaled(w, -lr, grad)
		b -= lr * gb / float64(n)
	}

	m.weights, m.bias, m.trained = w, b, true
}

func (m *Logistic) standardize(f []float64) []float64 {
	out := make([]float64, len(f))
	for j, v := range f {
		out[j] = (v - m.mean[j]) / m.scale[j]
	}
	return out
}

// PredictProbabilityUp returns P(close[t+horizon] > close[t]).
func (m *Logistic) PredictProbabilityUp(row indicator.Row) (float64, error) {
	if !m.trained {
		return 0, domain.ErrModelNotTrained
	}
	f, ok := row.Features()
	if !ok {
		return 0, fmt.Errorf("%w: undefined features at %s", domain.ErrInsufficientData,
			row.Bar.Timestamp.Format(time.DateOnly))
	}
	return sigmoid(floats.Dot(m.weights, m.standardize(f)) + m.bias), nil
}

// TrainedThrough returns the latest bar used as a training target.
func (m *Logistic) TrainedThrough() time.Time {
	return m.through
}

// Trained reports whether the model can predict.
func (m *Logistic) Trained() bool {
	return m.trained
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// ---------------------------------------------------------------------------
// Persistence
// ---------------------------------------------------------------------------

type logisticFile struct {
	Features       []string       `yaml:"features"`
	Params         LogisticParams `yaml:"params"`
	Weights        []float64      `yaml:"weights"`
	Bias           float64        `yaml:"bias"`
	Mean           []float64      `yaml:"mean"`
	Scale          []float64      `yaml:"scale"`
	TrainedThrough time.Time      `yaml:"trained_through"`
}

// Save writes the fitted model to path as YAML.
func (m *Logistic) Save(path string) error {
	if !m.trained {
		return domain.ErrModelNotTrained
	}
	data, err := yaml.Marshal(logisticFile{
		Features:       indicator.FeatureNames,
		Params:         m.params,
		Weights:        m.weights,
		Bias:           m.bias,
		Mean:           m.mean,
		Scale:          m.scale,
		TrainedThrough: m.through,
	})
	if err != nil {
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing model %s: %w", path, err)
	}
	return nil
}

// LoadLogistic reads a model written by Save.
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model %s: %w", path, err)
	}
	var f logisticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing model %s: %w", path, err)
	}
	d := len(indicator.FeatureNames)
	if len(f.Weights) != d || len(f.Mean) != d || len(f.Scale) != d {
		return nil, fmt.Errorf("%w: model %s has %d weights, want %d",
			domain.ErrInvalidConfiguration, path, len(f.Weights), d)
	}
	return &Logistic{
		params:  f.Params,
		weights: f.Weights,
		bias:    f.Bias,
		mean:    f.Mean,
		scale:   f.Scale,
		through: f.TrainedThrough,
		trained: true,
	}, nil
}
