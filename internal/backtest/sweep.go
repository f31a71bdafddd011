package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"walkfwd/internal/domain"
	"walkfwd/internal/strategy"
	"walkfwd/internal/strategy/builtins"
)

// Grid enumerates strategy parameters for a sweep. Empty axes fall back to
// the corresponding value of Base.
type Grid struct {
	Base           builtins.Params
	Windows        []int
	NumStds        []float64
	Oversold       []float64
	Overbought     []float64
	BuyThresholds  []float64
	SellThresholds []float64
}

// Points returns the cartesian product of the grid axes in a fixed order,
// skipping combinations whose thresholds are out of order.
func (g Grid) Points() []builtins.Params {
	or := func(vals []float64, def float64) []float64 {
		if len(vals) == 0 {
			return []float64{def}
		}
		return vals
	}
	windows := g.Windows
	if len(windows) == 0 {
		windows = []int{g.Base.Window}
	}

	all := lo.CrossJoinBy6(
		windows,
		or(g.NumStds, g.Base.NumStd),
		or(g.Oversold, g.Base.Oversold),
		or(g.Overbought, g.Base.Overbought),
		or(g.BuyThresholds, g.Base.BuyThreshold),
		or(g.SellThresholds, g.Base.SellThreshold),
		func(w int, k, os, ob, buy, sell float64) builtins.Params {
			return builtins.Params{
				Window:        w,
				NumStd:        k,
				Oversold:      os,
				Overbought:    ob,
				BuyThreshold:  buy,
				SellThreshold: sell,
			}
		},
	)
	return lo.Filter(all, func(p builtins.Params, _ int) bool {
		return p.Oversold < p.Overbought && p.SellThreshold < p.BuyThreshold
	})
}

// Factory builds the strategy evaluated at one grid point.
type Factory func(p builtins.Params) (strategy.Strategy, error)

// SweepResult is one evaluated grid point.
type SweepResult struct {
	Params builtins.Params
	*Result
}

// Sweep evaluates every point of the grid over the same bars. Runs are
// independent and execute concurrently; results come back in grid order.
// Any failure cancels the remaining runs and no results are returned.
func Sweep(ctx context.Context, bars []domain.Bar, points []builtins.Params, factory Factory, params Params, concurrency int) ([]SweepResult, error) {
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: empty parameter grid", domain.ErrInvalidConfiguration)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	log := slog.Default().With("component", "sweep")
	quiet := slog.New(slog.DiscardHandler)

	results := make([]SweepResult, len(points))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, p := range points {
		g.Go(func() error {
			s, err := factory(p)
			if err != nil {
				return fmt.Errorf("grid point %d: %w", i, err)
			}
			res, err := Execute(gctx, s, bars, params, quiet)
			if err != nil {
				return fmt.Errorf("grid point %d (%+v): %w", i, p, err)
			}
			results[i] = SweepResult{Params: p, Result: res}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info("sweep complete", "points", len(points), "bars", len(bars))
	return results, nil
}

// Best returns the result with the highest total return. Ties keep the
// earliest grid point.
func Best(results []SweepResult) (SweepResult, bool) {
	if len(results) == 0 {
		return SweepResult{}, false
	}
	return lo.MaxBy(results, func(a, b SweepResult) bool {
		return a.Metrics.TotalReturnPct > b.Metrics.TotalReturnPct
	}), true
}
