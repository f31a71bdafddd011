package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// Params configures the execution simulator.
type Params struct {
	InitialCapital  float64
	PositionSizePct float64
	// LiquidateAtEnd sells an open position at the final close.
	LiquidateAtEnd bool
}

// Validate checks the simulator parameters.
func (p Params) Validate() error {
	if !(p.InitialCapital > 0) {
		return fmt.Errorf("%w: initial_capital must be > 0, got %v", domain.ErrInvalidConfiguration, p.InitialCapital)
	}
	if !(p.PositionSizePct > 0 && p.PositionSizePct <= 1) {
		return fmt.Errorf("%w: position_size_pct must be in (0, 1], got %v", domain.ErrInvalidConfiguration, p.PositionSizePct)
	}
	return nil
}

// Result holds the three artifacts of one run plus the ignored-signal audit.
type Result struct {
	Snapshots []domain.Snapshot
	Trades    []domain.Trade
	Ignored   []IgnoredSignal
	Metrics   domain.Metrics
	// Final is the state after the last bar, including any open position.
	Final State
}

// Simulator replays signals over an indicator frame.
type Simulator struct {
	params Params
	log    *slog.Logger
}

// NewSimulator validates params and returns a Simulator.
func NewSimulator(params Params, logger *slog.Logger) (*Simulator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{params: params, log: logger.With("component", "simulator")}, nil
}

// Run walks the frame bar by bar. signals[i] must have been classified from
// frame.Rows[i]. The signal at bar i executes at the open of bar i+1 and the
// portfolio is marked at the close of bar i+1; the last signal is never
// acted on. A cancelled or failed run returns no result.
func (s *Simulator) Run(ctx context.Context, frame *indicator.Frame, signals []domain.Signal) (*Result, error) {
	n := frame.Len()
	if len(signals) != n {
		return nil, fmt.Errorf("%w: %d signals for %d bars", domain.ErrLookAhead, len(signals), n)
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: %d bars, need at least 2", domain.ErrInsufficientData, n)
	}

	rows := frame.Rows
	ledger := NewLedger(s.params.InitialCapital, n)
	ledger.Mark(rows[0].Bar)

	for i := 0; i < n-1; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		next := rows[i+1].Bar
		tr := ledger.Apply(i, rows[i], next, signals[i], s.params.PositionSizePct)
		if tr.Trade != nil {
			f := tr.Trade.Details()
			s.log.Debug("trade",
				"side", tr.Trade.Side(),
				"signal_date", f.SignalDate,
				"execution_date", f.ExecutionDate,
				"price", f.Price,
				"shares", f.Shares,
			)
		}
		ledger.Mark(next)
	}

	if s.params.LiquidateAtEnd && ledger.Liquidate(rows[n-1]) {
		s.log.Debug("liquidated open position at final close", "date", rows[n-1].Bar.Timestamp)
	}

	metrics, err := ComputeMetrics(ledger.Snapshots(), ledger.Trades(), s.params.InitialCapital)
	if err != nil {
		return nil, err
	}
	metrics.IgnoredSignals = len(ledger.Ignored())

	return &Result{
		Snapshots: ledger.Snapshots(),
		Trades:    ledger.Trades(),
		Ignored:   ledger.Ignored(),
		Metrics:   metrics,
		Final:     ledger.State(),
	}, nil
}
