package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"walkfwd/internal/domain"
	"walkfwd/internal/store"
	"walkfwd/internal/strategy"
)

// Execute runs one strategy over bars: indicators, signals, simulation and
// metrics. Nothing is persisted.
func Execute(ctx context.Context, s strategy.Strategy, bars []domain.Bar, params Params, logger *slog.Logger) (*Result, error) {
	sim, err := NewSimulator(params, logger)
	if err != nil {
		return nil, err
	}
	frame, err := s.ComputeIndicators(bars)
	if err != nil {
		return nil, fmt.Errorf("%s: computing indicators: %w", s.Name(), err)
	}
	signals, err := strategy.GenerateSignals(ctx, s, frame)
	if err != nil {
		return nil, err
	}
	return sim.Run(ctx, frame, signals)
}

// Request describes one backtest over stored bars.
type Request struct {
	Strategy   string
	Symbol     string
	Resolution domain.Resolution
	Start, End time.Time
	Params     Params
	// Tags are recorded with the run, typically the strategy parameters.
	Tags map[string]float64
}

// Report is a finished, possibly persisted, run.
type Report struct {
	RunID    string
	Symbol   string
	Strategy string
	Bars     int
	*Result
}

// Backtester replays stored bar data through a registered strategy and
// computes performance metrics.
type Backtester struct {
	store     store.BarStore
	registry  *strategy.Registry
	runs      store.RunStore
	artifacts store.ArtifactStore
	log       *slog.Logger
}

// Option configures a Backtester.
type Option func(*Backtester)

// WithRunStore records every successful run in rs.
func WithRunStore(rs store.RunStore) Option {
	return func(bt *Backtester) { bt.runs = rs }
}

// WithArtifactStore writes the snapshots and trades of every successful run
// to as.
func WithArtifactStore(as store.ArtifactStore) Option {
	return func(bt *Backtester) { bt.artifacts = as }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(bt *Backtester) { bt.log = l }
}

// NewBacktester creates a Backtester that reads bars from the given store and
// looks up strategies in the provided registry.
func NewBacktester(barStore store.BarStore, registry *strategy.Registry, opts ...Option) *Backtester {
	bt := &Backtester{
		store:    barStore,
		registry: registry,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(bt)
	}
	bt.log = bt.log.With("component", "backtester")
	return bt
}

// Run executes a backtest for the requested strategy and symbol over the
// stored bars. Artifacts are written only after the whole run has succeeded.
func (bt *Backtester) Run(ctx context.Context, req Request) (*Report, error) {
	if _, err := bt.registry.Lookup(req.Strategy); err != nil {
		return nil, err
	}
	if err := req.Params.Validate(); err != nil {
		return nil, err
	}

	bars, err := bt.store.ReadBars(ctx, req.Symbol, req.Resolution, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", req.Symbol, err)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: %d stored bars for %s between %s and %s",
			domain.ErrInsufficientData, len(bars), req.Symbol,
			req.Start.Format(time.DateOnly), req.End.Format(time.DateOnly))
	}
	return bt.RunBars(ctx, req, bars)
}

// RunBars is Run over bars the caller already holds; req.Start, req.End and
// req.Resolution are ignored.
func (bt *Backtester) RunBars(ctx context.Context, req Request, bars []domain.Bar) (*Report, error) {
	s, err := bt.registry.Lookup(req.Strategy)
	if err != nil {
		return nil, err
	}

	res, err := Execute(ctx, s, bars, req.Params, bt.log)
	if err != nil {
		return nil, err
	}

	rep := &Report{
		Symbol:   req.Symbol,
		Strategy: s.Name(),
		Bars:     len(bars),
		Result:   res,
	}
	if err := bt.persist(ctx, req, bars, rep); err != nil {
		return nil, err
	}

	bt.log.Info("backtest complete",
		"run_id", rep.RunID,
		"symbol", req.Symbol,
		"strategy", s.Name(),
		"bars", len(bars),
		"trades", len(res.Trades),
		"total_return_pct", res.Metrics.TotalReturnPct,
	)
	return rep, nil
}

func (bt *Backtester) persist(ctx context.Context, req Request, bars []domain.Bar, rep *Report) error {
	if bt.runs == nil && bt.artifacts == nil {
		return nil
	}
	rep.RunID = uuid.NewString()

	if bt.artifacts != nil {
		if err := bt.artifacts.WriteArtifacts(ctx, rep.RunID, rep.Snapshots, rep.Trades); err != nil {
			return fmt.Errorf("writing artifacts: %w", err)
		}
	}
	if bt.runs != nil {
		err := bt.runs.SaveRun(ctx, &store.RunRecord{
			ID:        rep.RunID,
			Symbol:    req.Symbol,
			Strategy:  rep.Strategy,
			Params:    req.Tags,
			Start:     bars[0].Timestamp,
			End:       bars[len(bars)-1].Timestamp,
			Metrics:   rep.Metrics,
			Trades:    rep.Trades,
			Snapshots: rep.Snapshots,
		})
		if err != nil {
			if bt.artifacts != nil {
				if derr := bt.artifacts.DeleteArtifacts(context.WithoutCancel(ctx), rep.RunID); derr != nil {
					bt.log.Error("removing artifacts of unsaved run", "run_id", rep.RunID, "error", derr)
				}
			}
			return fmt.Errorf("saving run: %w", err)
		}
	}
	return nil
}
