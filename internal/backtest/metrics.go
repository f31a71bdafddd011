package backtest

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"walkfwd/internal/domain"
)

// TradingDaysPerYear annualizes the per-bar Sharpe ratio.
const TradingDaysPerYear = 252

// ComputeMetrics summarizes a finished run. It fails only when fewer than two
// snapshots exist; every other degenerate case resolves to zero.
func ComputeMetrics(snapshots []domain.Snapshot, trades []domain.Trade, initialCapital float64) (domain.Metrics, error) {
	if len(snapshots) < 2 {
		return domain.Metrics{}, fmt.Errorf("%w: %d snapshots, need at least 2",
			domain.ErrInsufficientData, len(snapshots))
	}
	if !(initialCapital > 0) {
		return domain.Metrics{}, fmt.Errorf("%w: initial capital must be > 0",
			domain.ErrInvalidConfiguration)
	}

	totals := make([]float64, len(snapshots))
	exposed := 0
	for i, s := range snapshots {
		totals[i] = s.TotalValue
		if s.PositionShares > 0 {
			exposed++
		}
	}

	final := totals[len(totals)-1]
	m := domain.Metrics{
		InitialCapital: initialCapital,
		FinalValue:     final,
		NetProfit:      final - initialCapital,
		TotalReturnPct: (final - initialCapital) / initialCapital * 100,
		MaxDrawdownPct: MaxDrawdownPct(totals),
		SharpeRatio:    SharpeRatio(totals),
		TotalTrades:    len(trades),
		ExposurePct:    float64(exposed) / float64(len(snapshots)) * 100,
	}

	stats := TradeStats(domain.Sells(trades))
	m.ClosedTrades = stats.Closed
	m.WinRatePct = stats.WinRatePct
	m.AvgWin = stats.AvgWin
	m.AvgLoss = stats.AvgLoss
	m.ProfitFactor = stats.ProfitFactor
	return m, nil
}

// MaxDrawdownPct returns the deepest decline, in percent and as a value
// <= 0, of totals below their expanding maximum.
func MaxDrawdownPct(totals []float64) float64 {
	if len(totals) == 0 {
		return 0
	}
	peak := totals[0]
	worst := 0.0
	for _, v := range totals {
		if v > peak {
			peak = v
		}
		if peak <= 0 {
			continue
		}
		if dd := (v - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst * 100
}

// Returns computes simple per-bar returns of totals. Pairs whose base is
// zero are skipped.
func Returns(totals []float64) []float64 {
	if len(totals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(totals)-1)
	for i := 1; i < len(totals); i++ {
		if totals[i-1] == 0 {
			continue
		}
		out = append(out, totals[i]/totals[i-1]-1)
	}
	return out
}

// SharpeRatio is the annualized mean over sample standard deviation of the
// simple returns of totals, or 0 with fewer than two returns or zero spread.
func SharpeRatio(totals []float64) float64 {
	r := Returns(totals)
	if len(r) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(r, nil)
	if std == 0 || math.IsNaN(std) || math.IsNaN(mean) {
		return 0
	}
	return mean / std * math.Sqrt(TradingDaysPerYear)
}

// TradeSummary aggregates closed trades.
type TradeSummary struct {
	Closed       int
	Wins         int
	WinRatePct   float64
	AvgWin       float64
	AvgLoss      float64 // mean absolute loss, >= 0
	ProfitFactor float64
}

// TradeStats aggregates SELL trades. A SELL with profit <= 0 counts as a
// loss.
func TradeStats(sells []domain.SellTrade) TradeSummary {
	ts := TradeSummary{Closed: len(sells)}
	if len(sells) == 0 {
		return ts
	}
	var winSum, lossSum float64
	losses := 0
	for _, s := range sells {
		if s.Profit > 0 {
			ts.Wins++
			winSum += s.Profit
		} else {
			losses++
			lossSum += math.Abs(s.Profit)
		}
	}
	ts.WinRatePct = float64(ts.Wins) / float64(len(sells)) * 100
	if ts.Wins > 0 {
		ts.AvgWin = winSum / float64(ts.Wins)
	}
	if losses > 0 {
		ts.AvgLoss = lossSum / float64(losses)
	}
	if lossSum > 0 {
		ts.ProfitFactor = winSum / lossSum
	}
	return ts
}
