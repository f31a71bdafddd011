package walkfwd

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"walkfwd/internal/config"
)

// Service and method names of the backtest gRPC service.
const (
	ServiceName = "walkfwd.v1.Backtest"
	RunMethod   = "/" + ServiceName + "/Run"
	SweepMethod = "/" + ServiceName + "/Sweep"
)

// RunRequest asks the server to backtest one strategy over stored bars.
// Dates are YYYY-MM-DD. Fields missing from the wire message take the
// server's defaults.
type RunRequest struct {
	Symbol     string `json:"symbol"`
	Strategy   string `json:"strategy"`
	Resolution string `json:"resolution"`
	Start      string `json:"start"`
	End        string `json:"end"`

	Window          int     `json:"window"`
	NumStd          float64 `json:"num_std"`
	Oversold        float64 `json:"oversold"`
	Overbought      float64 `json:"overbought"`
	BuyThreshold    float64 `json:"buy_threshold"`
	SellThreshold   float64 `json:"sell_threshold"`
	InitialCapital  float64 `json:"initial_capital"`
	PositionSizePct float64 `json:"position_size_pct"`
	LiquidateAtEnd  bool    `json:"liquidate_at_end"`

	// Persist stores the run in the server's run history.
	Persist bool `json:"persist"`
	// IncludeSnapshots returns the full snapshot series.
	IncludeSnapshots bool `json:"include_snapshots"`
}

// NewRunRequest returns a request carrying the default parameters.
func NewRunRequest(symbol, strategy string) RunRequest {
	b := config.DefaultBacktest()
	return RunRequest{
		Symbol:          symbol,
		Strategy:        strategy,
		Resolution:      "D",
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

// Metrics is the wire form of a run's summary statistics.
type Metrics struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	NetProfit      float64 `json:"net_profit"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	TotalTrades    int     `json:"total_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinRatePct     float64 `json:"win_rate_pct"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	ExposurePct    float64 `json:"exposure_pct"`
	IgnoredSignals int     `json:"ignored_signals"`
}

// Trade is the wire form of one executed trade.
type Trade struct {
	SignalDate    string   `json:"signal_date"`
	ExecutionDate string   `json:"execution_date"`
	Side          string   `json:"side"`
	Price         float64  `json:"price"`
	Shares        int64    `json:"shares"`
	Value         float64  `json:"value"`
	PercentB      *float64 `json:"percent_b"`
	Profit        *float64 `json:"profit,omitempty"`
	ProfitPct     *float64 `json:"profit_pct,omitempty"`
	Forced        bool     `json:"forced,omitempty"`
}

// Snapshot is the wire form of one mark-to-market row.
type Snapshot struct {
	Date           string  `json:"date"`
	PositionShares int64   `json:"position_shares"`
	Cash           float64 `json:"cash"`
	HoldingsValue  float64 `json:"holdings_value"`
	TotalValue     float64 `json:"total_value"`
}

// RunResponse is the result of a Run call.
type RunResponse struct {
	RunID     string     `json:"run_id,omitempty"`
	Symbol    string     `json:"symbol"`
	Strategy  string     `json:"strategy"`
	Bars      int        `json:"bars"`
	Metrics   Metrics    `json:"metrics"`
	Trades    []Trade    `json:"trades"`
	Snapshots []Snapshot `json:"snapshots,omitempty"`
}

// SweepRequest evaluates the cross product of the grid lists over Base.
// Empty lists keep the base value.
type SweepRequest struct {
	Base           RunRequest `json:"base"`
	Windows        []int      `json:"windows,omitempty"`
	NumStds        []float64  `json:"num_stds,omitempty"`
	Oversold       []float64  `json:"oversold,omitempty"`
	Overbought     []float64  `json:"overbought,omitempty"`
	BuyThresholds  []float64  `json:"buy_thresholds,omitempty"`
	SellThresholds []float64  `json:"sell_thresholds,omitempty"`
	Concurrency    int        `json:"concurrency,omitempty"`
}

// SweepPoint is one evaluated grid point.
type SweepPoint struct {
	Window        int     `json:"window"`
	NumStd        float64 `json:"num_std"`
	Oversold      float64 `json:"oversold"`
	Overbought    float64 `json:"overbought"`
	BuyThreshold  float64 `json:"buy_threshold"`
	SellThreshold float64 `json:"sell_threshold"`
	Metrics       Metrics `json:"metrics"`
}

// SweepResponse lists the grid results in grid order; Best indexes the
// highest total return.
type SweepResponse struct {
	Results []SweepPoint `json:"results"`
	Best    int          `json:"best"`
}

// ---------------------------------------------------------------------------
// structpb conversion
// ---------------------------------------------------------------------------

// ToStruct encodes v through its JSON form into a structpb.Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v. Keys absent from s leave v unchanged.
func FromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %T: %w", v, err)
	}
	return nil
}
