// Package domain defines the core value types shared across walkfwd: bars,
// signals, positions, trades, portfolio snapshots, metrics and broker orders.
package domain

import (
	"fmt"
	"time"
)

// Bar is one OHLCV bar of a single instrument. Bars are read-only once
// loaded; a bar sequence is ordered by strictly increasing Timestamp.
type Bar struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}

// Resolution is the bar interval requested from a market-data provider.
type Resolution string

const (
	ResolutionMinute Resolution = "1"
	ResolutionHour   Resolution = "60"
	ResolutionDay    Resolution = "D"
	ResolutionWeek   Resolution = "W"
)

// ParseResolution maps user input ("D", "1d", "day", "60", "1h", ...) onto a
// Resolution.
func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "1", "1m", "1min", "minute":
		return ResolutionMinute, nil
	case "60", "1h", "hour":
		return ResolutionHour, nil
	case "", "D", "1D", "1d", "day":
		return ResolutionDay, nil
	case "W", "1W", "1w", "week":
		return ResolutionWeek, nil
	}
	return "", fmt.Errorf("%w: unknown resolution %q", ErrInvalidConfiguration, s)
}

// Signal is the per-bar decision produced by a strategy.
type Signal int

const (
	Hold Signal = iota
	Buy
	Sell
)

func (s Signal) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// PositionState is the simulator's position state machine.
type PositionState string

const (
	Flat PositionState = "FLAT"
	Long PositionState = "LONG"
)

// Position is the single position held during a simulation run.
type Position struct {
	State      PositionState
	Shares     int64
	EntryPrice float64
}

// FlatPosition returns the initial, empty position.
func FlatPosition() Position {
	return Position{State: Flat}
}

// Snapshot is the mark-to-market state of the portfolio at the close of one
// bar. TotalValue always equals Cash + PositionShares*close.
type Snapshot struct {
	Date           time.Time
	PositionShares int64
	Cash           float64
	HoldingsValue  float64
	TotalValue     float64
}

// Metrics is the summary of a finished run. All percentages are expressed in
// percent (10.0 means 10%).
type Metrics struct {
	InitialCapital float64
	FinalValue     float64
	NetProfit      float64
	TotalReturnPct float64
	MaxDrawdownPct float64
	SharpeRatio    float64
	TotalTrades    int
	ClosedTrades   int
	WinRatePct     float64
	AvgWin         float64
	AvgLoss        float64
	ProfitFactor   float64
	ExposurePct    float64
	IgnoredSignals int
}

// ---------------------------------------------------------------------------
// Broker-facing types
// ---------------------------------------------------------------------------

// OrderSide is the direction of a broker order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderStatus is the lifecycle state of a broker order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a market order sent to a broker by the live-trading adapter.
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           OrderSide
	Qty            int64
	Status         OrderStatus
	FilledQty      int64
	FilledAvgPrice float64
	CreatedAt      time.Time
}

// Holding is a position reported by a broker account.
type Holding struct {
	Symbol        string
	Qty           int64
	AvgEntryPrice float64
}

// AccountInfo is a snapshot of the broker account.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
	// LastEquity is the equity at the previous session close, zero when the
	// broker does not report it.
	LastEquity float64
}
