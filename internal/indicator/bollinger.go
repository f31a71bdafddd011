// Package indicator builds causal indicator frames from bar sequences. Every
// row is computed from its own bar and earlier bars only.
package indicator

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"walkfwd/internal/domain"
)

// Row is one bar plus its Bollinger-band derived fields. Fields are NaN
// while the trailing window is not yet full.
type Row struct {
	Bar       domain.Bar
	SMA       float64
	Std       float64
	Upper     float64
	Lower     float64
	PercentB  float64
	Bandwidth float64

	// Classifier features.
	DistanceFromSMA float64
	Return1D        float64
}

// Defined reports whether the band fields of the row are usable. A row with
// insufficient history, or a flat window where percent_b is 0/0, is not.
func (r Row) Defined() bool {
	return !math.IsNaN(r.SMA) && !math.IsNaN(r.Std) && !math.IsNaN(r.PercentB) && !math.IsInf(r.PercentB, 0)
}

// Features returns the classifier feature vector
// [percent_b, bandwidth, distance_from_sma, return_1d] and whether all of
// them are defined.
func (r Row) Features() ([]float64, bool) {
	f := []float64{r.PercentB, r.Bandwidth, r.DistanceFromSMA, r.Return1D}
	for _, v := range f {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return f, false
		}
	}
	return f, true
}

// FeatureNames lists the names matching Row.Features, in order.
var FeatureNames = []string{"percent_b", "bandwidth", "distance_from_sma", "return_1d"}

// Bollinger configures the band builder.
type Bollinger struct {
	Window int
	NumStd float64
}

// Validate checks the builder parameters.
func (b Bollinger) Validate() error {
	if b.Window <= 1 {
		return fmt.Errorf("%w: window must be > 1, got %d", domain.ErrInvalidConfiguration, b.Window)
	}
	if !(b.NumStd > 0) {
		return fmt.Errorf("%w: num_std must be > 0, got %v", domain.ErrInvalidConfiguration, b.NumStd)
	}
	return nil
}

// Build computes one row per bar over a trailing, inclusive window of
// closes. The standard deviation is the sample (n-1) deviation.
func (b Bollinger) Build(bars []domain.Bar) (*Frame, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}

	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}

	rows := make([]Row, len(bars))
	for i, bar := range bars {
		row := Row{
			Bar:             bar,
			SMA:             math.NaN(),
			Std:             math.NaN(),
			Upper:           math.NaN(),
			Lower:           math.NaN(),
			PercentB:        math.NaN(),
			Bandwidth:       math.NaN(),
			DistanceFromSMA: math.NaN(),
			Return1D:        math.NaN(),
		}
		if i > 0 && closes[i-1] != 0 {
			row.Return1D = closes[i]/closes[i-1] - 1
		}

		if i >= b.Window-1 {
			window := closes[i-b.Window+1 : i+1]
			mean, std := stat.MeanStdDev(window, nil)
			row.SMA = mean
			row.Std = std
			row.Upper = mean + b.NumStd*std
			row.Lower = mean - b.NumStd*std
			if width := row.Upper - row.Lower; width != 0 {
				row.PercentB = (bar.Close - row.Lower) / width
			}
			if mean != 0 {
				row.Bandwidth = (row.Upper - row.Lower) / mean
				row.DistanceFromSMA = (bar.Close - mean) / mean
			}
		}
		rows[i] = row
	}

	return &Frame{Rows: rows, index: domain.NewBarIndex(bars)}, nil
}

// Frame is an ordered slice of rows with a timestamp lookup.
type Frame struct {
	Rows  []Row
	index *domain.BarIndex
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.Rows)
}

// Bars returns the underlying bars in order.
func (f *Frame) Bars() []domain.Bar {
	bars := make([]domain.Bar, len(f.Rows))
	for i, r := range f.Rows {
		bars[i] = r.Bar
	}
	return bars
}

// At returns the row stamped t.
func (f *Frame) At(t time.Time) (Row, bool) {
	i, ok := f.index.IndexOf(t)
	if !ok {
		return Row{}, false
	}
	return f.Rows[i], true
}

// IndexOf returns the position of the row stamped t.
func (f *Frame) IndexOf(t time.Time) (int, bool) {
	return f.index.IndexOf(t)
}

// Last returns the most recent row.
func (f *Frame) Last() (Row, bool) {
	if len(f.Rows) == 0 {
		return Row{}, false
	}
	return f.Rows[len(f.Rows)-1], true
}
