package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
	"walkfwd/internal/strategy/builtins"
)

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func date(i int) time.Time { return start.AddDate(0, 0, i) }

// flatBars returns n bars where open == close == price.
func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "TEST", Timestamp: date(i), Open: price, High: price, Low: price, Close: price}
	}
	return bars
}

// wavyBars is a deterministic oscillating series that crosses its bands.
func wavyBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	seed := uint32(7)
	prev := 100.0
	for i := range bars {
		seed = seed*1664525 + 1013904223
		noise := float64(seed%1000)/1000 - 0.5
		c := 100 + 12*math.Sin(float64(i)/5) + 3*noise
		bars[i] = domain.Bar{
			Symbol:    "TEST",
			Timestamp: date(i),
			Open:      prev + 0.3*noise,
			High:      math.Max(prev, c) + 1,
			Low:       math.Min(prev, c) - 1,
			Close:     c,
		}
		prev = c
	}
	return bars
}

func frameOf(t *testing.T, bars []domain.Bar) *indicator.Frame {
	t.Helper()
	f, err := indicator.Bollinger{Window: 3, NumStd: 2}.Build(bars)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return f
}

func newSim(t *testing.T, p Params) *Simulator {
	t.Helper()
	sim, err := NewSimulator(p, nil)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	return sim
}

var defaultParams = Params{InitialCapital: 100000, PositionSizePct: 0.95}

func bollingerParams() builtins.Params {
	return builtins.Params{Window: 20, NumStd: 2, Oversold: 0.1, Overbought: 0.9, BuyThreshold: 0.55, SellThreshold: 0.45}
}

func TestWorkedExample(t *testing.T) {
	bars := flatBars(13, 100)
	for i := 6; i < 13; i++ {
		bars[i].Open, bars[i].Close = 105, 105
	}
	bars[6].Open = 100
	bars[11].Open = 110

	signals := make([]domain.Signal, len(bars))
	signals[5] = domain.Buy
	signals[10] = domain.Sell

	res, err := newSim(t, defaultParams).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("len(Trades) = %d, want 2", len(res.Trades))
	}

	buy, ok := res.Trades[0].(domain.BuyTrade)
	if !ok {
		t.Fatalf("trade 0 is %T, want BuyTrade", res.Trades[0])
	}
	if buy.Shares != 950 || buy.Price != 100 || buy.Value != 95000 {
		t.Errorf("buy = %+v, want 950 @ 100", buy.Fill)
	}
	if !buy.SignalDate.Equal(date(5)) || !buy.ExecutionDate.Equal(date(6)) {
		t.Errorf("buy dates = (%v, %v), want (%v, %v)", buy.SignalDate, buy.ExecutionDate, date(5), date(6))
	}
	if got := res.Snapshots[6].Cash; got != 5000 {
		t.Errorf("cash after buy = %v, want 5000", got)
	}

	sell, ok := res.Trades[1].(domain.SellTrade)
	if !ok {
		t.Fatalf("trade 1 is %T, want SellTrade", res.Trades[1])
	}
	if sell.Value != 104500 {
		t.Errorf("sell revenue = %v, want 104500", sell.Value)
	}
	if sell.Profit != 9500 {
		t.Errorf("sell profit = %v, want 9500", sell.Profit)
	}
	if math.Abs(sell.ProfitPct-10) > 1e-12 {
		t.Errorf("sell profit_pct = %v, want 10", sell.ProfitPct)
	}
	if got := res.Snapshots[11].Cash; got != 109500 {
		t.Errorf("cash after sell = %v, want 109500", got)
	}
	if res.Final.Position.State != domain.Flat {
		t.Errorf("final state = %v, want FLAT", res.Final.Position.State)
	}
	if res.Metrics.ClosedTrades != 1 || res.Metrics.WinRatePct != 100 {
		t.Errorf("metrics = %+v, want one winning closed trade", res.Metrics)
	}
}

func TestSnapshotSeries(t *testing.T) {
	bars := flatBars(5, 50)
	res, err := newSim(t, defaultParams).Run(context.Background(), frameOf(t, bars), make([]domain.Signal, 5))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Snapshots) != len(bars) {
		t.Fatalf("len(Snapshots) = %d, want %d", len(res.Snapshots), len(bars))
	}
	first := res.Snapshots[0]
	if first.TotalValue != 100000 || first.Cash != 100000 || first.PositionShares != 0 {
		t.Errorf("first snapshot = %+v, want initial capital", first)
	}
	for i, s := range res.Snapshots {
		if !s.Date.Equal(bars[i].Timestamp) {
			t.Errorf("snapshot %d date = %v, want %v", i, s.Date, bars[i].Timestamp)
		}
	}
}

func TestLastSignalNeverExecutes(t *testing.T) {
	bars := flatBars(4, 10)
	signals := []domain.Signal{domain.Hold, domain.Hold, domain.Hold, domain.Buy}
	res, err := newSim(t, defaultParams).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Errorf("len(Trades) = %d, want 0", len(res.Trades))
	}
}

func runBollinger(t *testing.T, bars []domain.Bar, p Params) *Result {
	t.Helper()
	s, err := builtins.NewBollinger(indicator.Bollinger{Window: 10, NumStd: 1.5}, 0.1, 0.9)
	if err != nil {
		t.Fatalf("NewBollinger: %v", err)
	}
	res, err := Execute(context.Background(), s, bars, p, nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func TestExecutionTiming(t *testing.T) {
	bars := wavyBars(200)
	res := runBollinger(t, bars, defaultParams)
	if len(res.Trades) < 2 {
		t.Fatalf("only %d trades; series does not exercise the simulator", len(res.Trades))
	}
	idx := domain.NewBarIndex(bars)
	for n, tr := range res.Trades {
		f := tr.Details()
		i, ok := idx.IndexOf(f.SignalDate)
		if !ok {
			t.Fatalf("trade %d signal date %v not a bar", n, f.SignalDate)
		}
		if !f.ExecutionDate.Equal(bars[i+1].Timestamp) {
			t.Errorf("trade %d executed %v, want next bar %v", n, f.ExecutionDate, bars[i+1].Timestamp)
		}
		if f.Price != bars[i+1].Open {
			t.Errorf("trade %d price = %v, want open %v", n, f.Price, bars[i+1].Open)
		}
	}
}

func TestAccountingInvariant(t *testing.T) {
	bars := wavyBars(200)
	res := runBollinger(t, bars, defaultParams)
	for i, s := range res.Snapshots {
		want := s.Cash + float64(s.PositionShares)*bars[i].Close
		if math.Abs(s.TotalValue-want) > 1e-6*math.Abs(want) {
			t.Errorf("snapshot %d total = %v, want %v", i, s.TotalValue, want)
		}
		if s.Cash < 0 {
			t.Errorf("snapshot %d cash = %v, want >= 0", i, s.Cash)
		}
	}
}

func TestSinglePosition(t *testing.T) {
	res := runBollinger(t, wavyBars(200), defaultParams)
	var last domain.OrderSide
	for i, tr := range res.Trades {
		if tr.Side() == last {
			t.Errorf("trade %d repeats side %q", i, last)
		}
		last = tr.Side()
	}
	if len(res.Trades) > 0 && res.Trades[0].Side() != domain.OrderSideBuy {
		t.Errorf("first trade side = %q, want buy", res.Trades[0].Side())
	}
	for i, s := range res.Snapshots {
		if s.PositionShares < 0 {
			t.Errorf("snapshot %d shares = %d", i, s.PositionShares)
		}
	}
}

func TestDeterminism(t *testing.T) {
	bars := wavyBars(150)
	a := runBollinger(t, bars, defaultParams)
	b := runBollinger(t, bars, defaultParams)
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Error("trade logs differ between identical runs")
	}
	if !reflect.DeepEqual(a.Snapshots, b.Snapshots) {
		t.Error("snapshot series differ between identical runs")
	}
	if a.Metrics != b.Metrics {
		t.Errorf("metrics differ: %+v vs %+v", a.Metrics, b.Metrics)
	}
}

func TestNoLookAhead(t *testing.T) {
	bars := wavyBars(200)
	full := runBollinger(t, bars, defaultParams)

	k := 120
	short := runBollinger(t, bars[:k], defaultParams)

	cutoff := bars[k-1].Timestamp
	var prefix []domain.Trade
	for _, tr := range full.Trades {
		if tr.Details().SignalDate.Before(cutoff) {
			prefix = append(prefix, tr)
		}
	}
	if !reflect.DeepEqual(short.Trades, prefix) {
		t.Errorf("truncated run trades = %d, want %d matching full-run trades", len(short.Trades), len(prefix))
	}
	if !reflect.DeepEqual(short.Snapshots, full.Snapshots[:k]) {
		t.Error("truncated run snapshots differ from full-run prefix")
	}
}

func TestZeroShareBuyIgnored(t *testing.T) {
	bars := flatBars(4, 500)
	signals := []domain.Signal{domain.Buy, domain.Hold, domain.Hold, domain.Hold}
	res, err := newSim(t, Params{InitialCapital: 100, PositionSizePct: 0.95}).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Errorf("len(Trades) = %d, want 0", len(res.Trades))
	}
	if len(res.Ignored) != 1 || res.Ignored[0].Reason != ReasonZeroShares {
		t.Errorf("Ignored = %+v, want one zero_shares entry", res.Ignored)
	}
	if res.Snapshots[3].Cash != 100 {
		t.Errorf("cash = %v, want 100", res.Snapshots[3].Cash)
	}
}

func TestIgnoredSignals(t *testing.T) {
	bars := flatBars(6, 10)
	signals := []domain.Signal{domain.Sell, domain.Buy, domain.Buy, domain.Hold, domain.Sell, domain.Hold}
	res, err := newSim(t, defaultParams).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 2 {
		t.Fatalf("len(Trades) = %d, want 2", len(res.Trades))
	}
	want := []IgnoredSignal{
		{Index: 0, Date: date(0), Signal: domain.Sell, Reason: ReasonNotLong},
		{Index: 2, Date: date(2), Signal: domain.Buy, Reason: ReasonAlreadyLong},
	}
	if !reflect.DeepEqual(res.Ignored, want) {
		t.Errorf("Ignored = %+v, want %+v", res.Ignored, want)
	}
	if res.Metrics.IgnoredSignals != 2 {
		t.Errorf("Metrics.IgnoredSignals = %d, want 2", res.Metrics.IgnoredSignals)
	}
}

func TestOpenPositionAtEnd(t *testing.T) {
	bars := flatBars(5, 10)
	bars[4].Close = 12
	signals := []domain.Signal{domain.Buy, domain.Hold, domain.Hold, domain.Hold, domain.Hold}

	res, err := newSim(t, defaultParams).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Trades) != 1 || res.Final.Position.State != domain.Long {
		t.Fatalf("trades = %d, final = %v; want open position", len(res.Trades), res.Final.Position.State)
	}
	last := res.Snapshots[4]
	if last.PositionShares != 9500 || last.HoldingsValue != 9500*12 {
		t.Errorf("last snapshot = %+v, want 9500 shares marked at 12", last)
	}

	p := defaultParams
	p.LiquidateAtEnd = true
	liq, err := newSim(t, p).Run(context.Background(), frameOf(t, bars), signals)
	if err != nil {
		t.Fatalf("Run liquidating: %v", err)
	}
	if len(liq.Trades) != 2 {
		t.Fatalf("len(Trades) = %d, want 2", len(liq.Trades))
	}
	sell, ok := liq.Trades[1].(domain.SellTrade)
	if !ok || !sell.Forced {
		t.Fatalf("trade 1 = %+v, want forced SellTrade", liq.Trades[1])
	}
	if sell.Price != 12 || !sell.SignalDate.Equal(date(4)) || !sell.ExecutionDate.Equal(date(4)) {
		t.Errorf("forced sell = %+v, want price 12 on last date", sell.Fill)
	}
	final := liq.Snapshots[4]
	if final.PositionShares != 0 || final.TotalValue != last.TotalValue || final.Cash != last.TotalValue {
		t.Errorf("final snapshot = %+v, want flat with total %v", final, last.TotalValue)
	}
	if len(liq.Snapshots) != len(bars) {
		t.Errorf("len(Snapshots) = %d, want %d", len(liq.Snapshots), len(bars))
	}
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bars := flatBars(10, 10)
	res, err := newSim(t, defaultParams).Run(ctx, frameOf(t, bars), make([]domain.Signal, 10))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if res != nil {
		t.Error("cancelled run returned a result")
	}
}

func TestRunInputErrors(t *testing.T) {
	sim := newSim(t, defaultParams)
	bars := flatBars(5, 10)
	if _, err := sim.Run(context.Background(), frameOf(t, bars), make([]domain.Signal, 4)); !errors.Is(err, domain.ErrLookAhead) {
		t.Errorf("mismatched signals error = %v, want ErrLookAhead", err)
	}
	if _, err := sim.Run(context.Background(), frameOf(t, bars[:1]), make([]domain.Signal, 1)); !errors.Is(err, domain.ErrInsufficientData) {
		t.Errorf("single bar error = %v, want ErrInsufficientData", err)
	}
	for _, p := range []Params{{InitialCapital: 0, PositionSizePct: 0.5}, {InitialCapital: 1000, PositionSizePct: 0}, {InitialCapital: 1000, PositionSizePct: 1.5}} {
		if _, err := NewSimulator(p, nil); !errors.Is(err, domain.ErrInvalidConfiguration) {
			t.Errorf("NewSimulator(%+v) error = %v, want ErrInvalidConfiguration", p, err)
		}
	}
}

func TestStepIsPure(t *testing.T) {
	s := InitialState(1000)
	row := indicator.Row{Bar: domain.Bar{Timestamp: date(0)}, PercentB: 0.05}
	next := domain.Bar{Timestamp: date(1), Open: 10, Close: 11}

	s1, tr1 := Step(s, row, next, domain.Buy, 1)
	s2, tr2 := Step(s, row, next, domain.Buy, 1)
	if s.Cash != 1000 || s.Position.State != domain.Flat {
		t.Errorf("input state mutated: %+v", s)
	}
	if s1 != s2 || !reflect.DeepEqual(tr1, tr2) {
		t.Error("Step not deterministic")
	}
	if s1.Position.Shares != 100 || s1.Cash != 0 {
		t.Errorf("after buy = %+v, want 100 shares and no cash", s1)
	}
	if tr1.Trade.Details().PercentB != 0.05 {
		t.Errorf("trade PercentB = %v, want 0.05", tr1.Trade.Details().PercentB)
	}

	snap := Mark(s1, next)
	if snap.HoldingsValue != 1100 || snap.TotalValue != 1100 {
		t.Errorf("Mark = %+v, want holdings 1100", snap)
	}

	s3, tr3 := Step(s1, row, next, domain.Hold, 1)
	if s3 != s1 || tr3.Trade != nil || tr3.Ignored != "" {
		t.Errorf("HOLD changed state: %+v %+v", s3, tr3)
	}
}
