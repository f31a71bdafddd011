package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"walkfwd/internal/backtest"
	"walkfwd/internal/config"
	"walkfwd/internal/domain"
	"walkfwd/internal/model"
	"walkfwd/internal/report"
	"walkfwd/internal/store"
	"walkfwd/internal/strategy"
	"walkfwd/internal/strategy/builtins"
	"walkfwd/pkg/walkfwd"
)

// BacktestService runs backtests and parameter sweeps over the stored bars.
type BacktestService struct {
	defaults  config.BacktestConfig
	model     config.ModelConfig
	bars      store.BarStore
	runs      store.RunStore
	artifacts store.ArtifactStore
	log       *slog.Logger
}

// NewBacktestService creates a BacktestService. runs and artifacts may be
// nil, in which case Persist requests are rejected.
func NewBacktestService(cfg *config.Config, bars store.BarStore, runs store.RunStore, artifacts store.ArtifactStore) *BacktestService {
	return &BacktestService{
		defaults:  cfg.Backtest,
		model:     cfg.Model,
		bars:      bars,
		runs:      runs,
		artifacts: artifacts,
		log:       slog.Default().With("component", "backtest-service"),
	}
}

// DefaultRunRequest returns the request that absent wire fields fall back to.
func (s *BacktestService) DefaultRunRequest() walkfwd.RunRequest {
	b := s.defaults
	return walkfwd.RunRequest{
		Strategy:        "bollinger",
		Resolution:      string(domain.ResolutionDay),
		Window:          b.Window,
		NumStd:          b.NumStd,
		Oversold:        b.Oversold,
		Overbought:      b.Overbought,
		BuyThreshold:    b.BuyThreshold,
		SellThreshold:   b.SellThreshold,
		InitialCapital:  b.InitialCapital,
		PositionSizePct: b.PositionSizePct,
		LiquidateAtEnd:  b.LiquidateAtEnd,
	}
}

// Backtest runs req and returns the full report, including ignored signals
// and the final ledger state.
func (s *BacktestService) Backtest(ctx context.Context, req walkfwd.RunRequest) (*backtest.Report, error) {
	bars, err := s.loadBars(ctx, req)
	if err != nil {
		return nil, err
	}
	p := strategyParams(req)

	clf, err := s.classifier(ctx, req.Strategy, p, bars)
	if err != nil {
		return nil, err
	}
	reg, err := builtins.NewRegistry(p, clf)
	if err != nil {
		return nil, err
	}

	opts := []backtest.Option{backtest.WithLogger(s.log)}
	if req.Persist {
		if s.runs == nil && s.artifacts == nil {
			return nil, fmt.Errorf("%w: run history is not configured", domain.ErrInvalidConfiguration)
		}
		if s.runs != nil {
			opts = append(opts, backtest.WithRunStore(s.runs))
		}
		if s.artifacts != nil {
			opts = append(opts, backtest.WithArtifactStore(s.artifacts))
		}
	}

	return backtest.NewBacktester(s.bars, reg, opts...).RunBars(ctx, backtest.Request{
		Strategy: req.Strategy,
		Symbol:   req.Symbol,
		Params:   simParams(req),
		Tags:     paramTags(p),
	}, bars)
}

// Run backtests one strategy and returns the wire form of the report.
func (s *BacktestService) Run(ctx context.Context, req walkfwd.RunRequest) (*walkfwd.RunResponse, error) {
	rep, err := s.Backtest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &walkfwd.RunResponse{
		RunID:    rep.RunID,
		Symbol:   rep.Symbol,
		Strategy: rep.Strategy,
		Bars:     rep.Bars,
		Metrics:  walkfwd.Metrics(rep.Metrics),
		Trades:   make([]walkfwd.Trade, 0, len(rep.Trades)),
	}
	for _, t := range report.TradeRows(rep.Trades) {
		resp.Trades = append(resp.Trades, walkfwd.Trade(t))
	}
	if req.IncludeSnapshots {
		for _, sn := range report.SnapshotRows(rep.Snapshots) {
			resp.Snapshots = append(resp.Snapshots, walkfwd.Snapshot(sn))
		}
	}
	return resp, nil
}

// SweepResults evaluates the parameter grid around req.Base. Results are in
// grid order.
func (s *BacktestService) SweepResults(ctx context.Context, req walkfwd.SweepRequest) ([]backtest.SweepResult, error) {
	bars, err := s.loadBars(ctx, req.Base)
	if err != nil {
		return nil, err
	}
	if _, err := builtins.New(req.Base.Strategy, strategyParams(req.Base), model.NewStatic(0.5)); err != nil {
		return nil, err
	}

	grid := backtest.Grid{
		Base:           strategyParams(req.Base),
		Windows:        req.Windows,
		NumStds:        req.NumStds,
		Oversold:       req.Oversold,
		Overbought:     req.Overbought,
		BuyThresholds:  req.BuyThresholds,
		SellThresholds: req.SellThresholds,
	}
	factory := func(p builtins.Params) (strategy.Strategy, error) {
		clf, err := s.classifier(ctx, req.Base.Strategy, p, bars)
		if err != nil {
			return nil, err
		}
		return builtins.New(req.Base.Strategy, p, clf)
	}

	results, err := backtest.Sweep(ctx, bars, grid.Points(), factory, simParams(req.Base), req.Concurrency)
	if err != nil {
		return nil, err
	}
	s.log.Info("sweep complete", "symbol", req.Base.Symbol, "strategy", req.Base.Strategy, "points", len(results))
	return results, nil
}

// Sweep is SweepResults in wire form; Best indexes the highest total return.
func (s *BacktestService) Sweep(ctx context.Context, req walkfwd.SweepRequest) (*walkfwd.SweepResponse, error) {
	results, err := s.SweepResults(ctx, req)
	if err != nil {
		return nil, err
	}

	resp := &walkfwd.SweepResponse{Results: make([]walkfwd.SweepPoint, len(results))}
	for i, r := range results {
		resp.Results[i] = walkfwd.SweepPoint{
			Window:        r.Params.Window,
			NumStd:        r.Params.NumStd,
			Oversold:      r.Params.Oversold,
			Overbought:    r.Params.Overbought,
			BuyThreshold:  r.Params.BuyThreshold,
			SellThreshold: r.Params.SellThreshold,
			Metrics:       walkfwd.Metrics(r.Metrics),
		}
		if r.Metrics.TotalReturnPct > resp.Results[resp.Best].Metrics.TotalReturnPct {
			resp.Best = i
		}
	}
	return resp, nil
}

func (s *BacktestService) loadBars(ctx context.Context, req walkfwd.RunRequest) ([]domain.Bar, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", domain.ErrInvalidConfiguration)
	}
	res, err := domain.ParseResolution(req.Resolution)
	if err != nil {
		return nil, err
	}
	start, err := parseDate("start", req.Start)
	if err != nil {
		return nil, err
	}
	end, err := parseDate("end", req.End)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", domain.ErrInvalidConfiguration, req.End, req.Start)
	}
	// Include every bar stamped on the end date.
	end = end.Add(24*time.Hour - time.Nanosecond)

	bars, err := s.bars.ReadBars(ctx, req.Symbol, res, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", req.Symbol, err)
	}
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: %d stored bars for %s between %s and %s",
			domain.ErrInsufficientData, len(bars), req.Symbol, req.Start, req.End)
	}
	return bars, nil
}

// classifier builds the model for classifier-backed strategies from bars
// computed with p's bands; other strategies get nil.
func (s *BacktestService) classifier(ctx context.Context, name string, p builtins.Params, bars []domain.Bar) (model.Classifier, error) {
	if !builtins.NeedsClassifier(name) {
		return nil, nil
	}
	frame, err := p.Bands().Build(bars)
	if err != nil {
		return nil, err
	}
	return model.FromConfig(ctx, s.model, frame)
}

func parseDate(field, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("%w: %s date is required", domain.ErrInvalidConfiguration, field)
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", domain.ErrInvalidConfiguration, field, err)
	}
	return t, nil
}

func strategyParams(r walkfwd.RunRequest) builtins.Params {
	return builtins.Params{
		Window:        r.Window,
		NumStd:        r.NumStd,
		Oversold:      r.Oversold,
		Overbought:    r.Overbought,
		BuyThreshold:  r.BuyThreshold,
		SellThreshold: r.SellThreshold,
	}
}

func simParams(r walkfwd.RunRequest) backtest.Params {
	return backtest.Params{
		InitialCapital:  r.InitialCapital,
		PositionSizePct: r.PositionSizePct,
		LiquidateAtEnd:  r.LiquidateAtEnd,
	}
}

func paramTags(p builtins.Params) map[string]float64 {
	return map[string]float64{
		"window":         float64(p.Window),
		"num_std":        p.NumStd,
		"oversold":       p.Oversold,
		"overbought":     p.Overbought,
		"buy_threshold":  p.BuyThreshold,
		"sell_threshold": p.SellThreshold,
	}
}
