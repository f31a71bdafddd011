// Package backtest is the walk-forward simulation core: a pure per-bar state
// transition, the ledger that owns cash and the position, the metrics
// calculator, and the runners built on top of them.
package backtest

import (
	"math"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// State is the complete mutable state of one run between two bars.
type State struct {
	Cash     float64
	Position domain.Position
}

// InitialState returns a flat state holding capital in cash.
func InitialState(capital float64) State {
	return State{Cash: capital, Position: domain.FlatPosition()}
}

// IgnoreReason explains why a BUY or SELL signal produced no trade.
type IgnoreReason string

const (
	ReasonAlreadyLong IgnoreReason = "already_long"
	ReasonNotLong     IgnoreReason = "not_long"
	ReasonZeroShares  IgnoreReason = "zero_shares"
)

// Transition is the outcome of one Step. At most one of Trade and Ignored
// is set; both are empty for HOLD.
type Transition struct {
	Trade   domain.Trade
	Ignored IgnoreReason
}

// Step applies the signal classified at cur to the state, executing at the
// open of next. It never reads anything beyond next.Open, so the mark at
// next.Close is left to the caller.
func Step(s State, cur indicator.Row, next domain.Bar, sig domain.Signal, sizePct float64) (State, Transition) {
	switch sig {
	case domain.Buy:
		if s.Position.State == domain.Long {
			return s, Transition{Ignored: ReasonAlreadyLong}
		}
		price := next.Open
		if !(price > 0) {
			return s, Transition{Ignored: ReasonZeroShares}
		}
		shares := int64(math.Floor(s.Cash * sizePct / price))
		if shares <= 0 {
			return s, Transition{Ignored: ReasonZeroShares}
		}
		cost := float64(shares) * price
		s.Cash -= cost
		s.Position = domain.Position{State: domain.Long, Shares: shares, EntryPrice: price}
		return s, Transition{Trade: domain.BuyTrade{Fill: domain.Fill{
			SignalDate:    cur.Bar.Timestamp,
			ExecutionDate: next.Timestamp,
			Price:         price,
			Shares:        shares,
			Value:         cost,
			PercentB:      cur.PercentB,
		}}}

	case domain.Sell:
		if s.Position.State != domain.Long {
			return s, Transition{Ignored: ReasonNotLong}
		}
		sell := closePosition(s.Position, next.Open)
		sell.SignalDate = cur.Bar.Timestamp
		sell.ExecutionDate = next.Timestamp
		sell.PercentB = cur.PercentB
		s.Cash += sell.Value
		s.Position = domain.FlatPosition()
		return s, Transition{Trade: sell}
	}
	return s, Transition{}
}

// closePosition prices the exit of pos at price. Dates are left to the
// caller.
func closePosition(pos domain.Position, price float64) domain.SellTrade {
	shares := float64(pos.Shares)
	profit := (price - pos.EntryPrice) * shares
	var profitPct float64
	if basis := pos.EntryPrice * shares; basis != 0 {
		profitPct = profit / basis * 100
	}
	return domain.SellTrade{
		Fill: domain.Fill{
			Price:  price,
			Shares: pos.Shares,
			Value:  shares * price,
		},
		Profit:    profit,
		ProfitPct: profitPct,
	}
}

// Mark values the state at the close of bar.
func Mark(s State, bar domain.Bar) domain.Snapshot {
	holdings := float64(s.Position.Shares) * bar.Close
	return domain.Snapshot{
		Date:           bar.Timestamp,
		PositionShares: s.Position.Shares,
		Cash:           s.Cash,
		HoldingsValue:  holdings,
		TotalValue:     s.Cash + holdings,
	}
}
