package backtest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"walkfwd/internal/domain"
	"walkfwd/internal/store"
	"walkfwd/internal/strategy"
	"walkfwd/internal/strategy/builtins"
)

func bollingerFactory(p builtins.Params) (strategy.Strategy, error) {
	return builtins.NewBollinger(p.Bands(), p.Oversold, p.Overbought)
}

func TestGridPoints(t *testing.T) {
	g := Grid{
		Base:       bollingerParams(),
		Windows:    []int{10, 20},
		Oversold:   []float64{0.1, 0.5},
		Overbought: []float64{0.5, 0.9},
	}
	points := g.Points()
	// (0.5, 0.5) is dropped for each window.
	if len(points) != 6 {
		t.Fatalf("len(Points) = %d, want 6", len(points))
	}
	for _, p := range points {
		if p.Oversold >= p.Overbought {
			t.Errorf("point %+v has unordered thresholds", p)
		}
		if p.NumStd != 2 || p.BuyThreshold != 0.55 {
			t.Errorf("point %+v did not inherit base values", p)
		}
	}
	if points[0].Window != 10 {
		t.Errorf("points[0].Window = %d, want 10", points[0].Window)
	}
}

func TestSweepOrderAndBest(t *testing.T) {
	bars := wavyBars(150)
	points := Grid{Base: bollingerParams(), Windows: []int{5, 10, 15, 20}}.Points()

	results, err := Sweep(context.Background(), bars, points, bollingerFactory, defaultParams, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(results) != len(points) {
		t.Fatalf("len(results) = %d, want %d", len(results), len(points))
	}
	for i, r := range results {
		if r.Params != points[i] {
			t.Errorf("results[%d].Params = %+v, want %+v", i, r.Params, points[i])
		}
		single, err := Execute(context.Background(), mustStrategy(t, points[i]), bars, defaultParams, nil)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if single.Metrics != r.Metrics {
			t.Errorf("sweep metrics for %d differ from a standalone run", i)
		}
	}

	best, ok := Best(results)
	if !ok {
		t.Fatal("Best returned false")
	}
	for _, r := range results {
		if r.Metrics.TotalReturnPct > best.Metrics.TotalReturnPct {
			t.Errorf("Best = %v, but %v is higher", best.Metrics.TotalReturnPct, r.Metrics.TotalReturnPct)
		}
	}
}

func TestSweepRespectsConcurrency(t *testing.T) {
	bars := wavyBars(80)
	points := Grid{Base: bollingerParams(), Windows: []int{5, 10, 15, 20, 25, 30}}.Points()

	var inFlight, peak atomic.Int32
	factory := func(p builtins.Params) (strategy.Strategy, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return bollingerFactory(p)
	}

	results, err := Sweep(context.Background(), bars, points, factory, defaultParams, 2)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(results) != len(points) {
		t.Errorf("len(results) = %d, want %d", len(results), len(points))
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", got)
	}
}

func mustStrategy(t *testing.T, p builtins.Params) strategy.Strategy {
	t.Helper()
	s, err := bollingerFactory(p)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return s
}

func TestSweepFailureDiscardsResults(t *testing.T) {
	points := []builtins.Params{bollingerParams(), {Window: 1, NumStd: 2, Oversold: 0.1, Overbought: 0.9}}
	results, err := Sweep(context.Background(), wavyBars(60), points, bollingerFactory, defaultParams, 2)
	if !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Sweep error = %v, want ErrInvalidConfiguration", err)
	}
	if results != nil {
		t.Error("failed sweep returned results")
	}
	if _, err := Sweep(context.Background(), wavyBars(60), nil, bollingerFactory, defaultParams, 2); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Sweep(empty grid) error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestBacktesterRunPersists(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	bars := wavyBars(120)

	ps := store.NewParquetStore(dir)
	if err := ps.WriteBars(ctx, bars, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer runs.Close()

	reg, err := builtins.NewRegistry(bollingerParams(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	bt := NewBacktester(ps, reg, WithRunStore(runs), WithArtifactStore(ps))

	rep, err := bt.Run(ctx, Request{
		Strategy:   "bollinger",
		Symbol:     "TEST",
		Resolution: domain.ResolutionDay,
		Start:      bars[0].Timestamp,
		End:        bars[len(bars)-1].Timestamp,
		Params:     defaultParams,
		Tags:       map[string]float64{"window": 20},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.RunID == "" || rep.Bars != len(bars) {
		t.Fatalf("report = %+v", rep)
	}

	saved, err := runs.GetRun(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if saved.Metrics.FinalValue != rep.Metrics.FinalValue {
		t.Errorf("saved final value = %v, want %v", saved.Metrics.FinalValue, rep.Metrics.FinalValue)
	}
	if len(saved.Snapshots) != len(rep.Snapshots) || len(saved.Trades) != len(rep.Trades) {
		t.Errorf("saved artifacts = %d/%d, want %d/%d",
			len(saved.Snapshots), len(saved.Trades), len(rep.Snapshots), len(rep.Trades))
	}
	snaps, err := ps.ReadSnapshots(ctx, rep.RunID)
	if err != nil {
		t.Fatalf("ReadSnapshots: %v", err)
	}
	if len(snaps) != len(rep.Snapshots) {
		t.Errorf("parquet snapshots = %d, want %d", len(snaps), len(rep.Snapshots))
	}
}

func TestBacktesterFailurePublishesNothing(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ps := store.NewParquetStore(dir)
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer runs.Close()
	bars := wavyBars(50)
	if err := ps.WriteBars(ctx, bars, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	reg, _ := builtins.NewRegistry(bollingerParams(), nil)
	bt := NewBacktester(ps, reg, WithRunStore(runs), WithArtifactStore(ps))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = bt.Run(cctx, Request{
		Strategy:   "bollinger",
		Symbol:     "TEST",
		Resolution: domain.ResolutionDay,
		Start:      bars[0].Timestamp,
		End:        bars[len(bars)-1].Timestamp,
		Params:     defaultParams,
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	list, err := runs.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("ListRuns returned %d runs after a cancelled run, want 0", len(list))
	}

	if _, err := bt.Run(ctx, Request{Strategy: "nope", Params: defaultParams}); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("Run(unknown strategy) error = %v, want ErrInvalidConfiguration", err)
	}
}

type failingRunStore struct{ store.RunStore }

func (failingRunStore) SaveRun(context.Context, *store.RunRecord) error {
	return errors.New("disk full")
}

func TestBacktesterSaveFailureRemovesArtifacts(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	ps := store.NewParquetStore(dir)
	bars := wavyBars(120)
	if err := ps.WriteBars(ctx, bars, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	reg, err := builtins.NewRegistry(bollingerParams(), nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	bt := NewBacktester(ps, reg, WithRunStore(failingRunStore{}), WithArtifactStore(ps))

	rep, err := bt.Run(ctx, Request{
		Strategy:   "bollinger",
		Symbol:     "TEST",
		Resolution: domain.ResolutionDay,
		Start:      bars[0].Timestamp,
		End:        bars[len(bars)-1].Timestamp,
		Params:     defaultParams,
	})
	if err == nil {
		t.Fatalf("Run succeeded with a failing run store, report = %+v", rep)
	}
	if rep != nil {
		t.Errorf("Run returned a report on failure: %+v", rep)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("runs dir holds %d entries after a failed save, want 0", len(entries))
	}
}
