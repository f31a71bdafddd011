package backtest

import (
	"time"

	"walkfwd/internal/domain"
	"walkfwd/internal/indicator"
)

// IgnoredSignal records a BUY or SELL that did not trade.
type IgnoredSignal struct {
	Index  int
	Date   time.Time
	Signal domain.Signal
	Reason IgnoreReason
}

// Ledger owns the cash and position of one run together with the append-only
// trade log and snapshot series. It is the only writer of State.
type Ledger struct {
	state     State
	trades    []domain.Trade
	snapshots []domain.Snapshot
	ignored   []IgnoredSignal
}

// NewLedger opens a ledger with capital in cash. capacity sizes the
// snapshot series.
func NewLedger(capital float64, capacity int) *Ledger {
	return &Ledger{
		state:     InitialState(capital),
		snapshots: make([]domain.Snapshot, 0, capacity),
	}
}

// State returns the current state.
func (l *Ledger) State() State {
	return l.state
}

// Apply steps the ledger for the signal at row index i and records whatever
// the step produced.
func (l *Ledger) Apply(i int, cur indicator.Row, next domain.Bar, sig domain.Signal, sizePct float64) Transition {
	var tr Transition
	l.state, tr = Step(l.state, cur, next, sig, sizePct)
	if tr.Trade != nil {
		l.trades = append(l.trades, tr.Trade)
	}
	if tr.Ignored != "" {
		l.ignored = append(l.ignored, IgnoredSignal{
			Index:  i,
			Date:   cur.Bar.Timestamp,
			Signal: sig,
			Reason: tr.Ignored,
		})
	}
	return tr
}

// Mark appends the snapshot of the current state at bar's close.
func (l *Ledger) Mark(bar domain.Bar) domain.Snapshot {
	snap := Mark(l.state, bar)
	l.snapshots = append(l.snapshots, snap)
	return snap
}

// Liquidate sells an open position at the close of the last row and
// rewrites that row's snapshot with the post-sale cash. It reports whether a
// sale happened.
func (l *Ledger) Liquidate(last indicator.Row) bool {
	bar := last.Bar
	if l.state.Position.State != domain.Long {
		return false
	}
	sell := closePosition(l.state.Position, bar.Close)
	sell.SignalDate = bar.Timestamp
	sell.ExecutionDate = bar.Timestamp
	sell.PercentB = last.PercentB
	sell.Forced = true

	l.state.Cash += sell.Value
	l.state.Position = domain.FlatPosition()
	l.trades = append(l.trades, sell)

	if n := len(l.snapshots); n > 0 && l.snapshots[n-1].Date.Equal(bar.Timestamp) {
		l.snapshots[n-1] = Mark(l.state, bar)
	} else {
		l.snapshots = append(l.snapshots, Mark(l.state, bar))
	}
	return true
}

// Trades returns the trade log.
func (l *Ledger) Trades() []domain.Trade {
	return l.trades
}

// Snapshots returns the snapshot series.
func (l *Ledger) Snapshots() []domain.Snapshot {
	return l.snapshots
}

// Ignored returns the ignored-signal audit.
func (l *Ledger) Ignored() []IgnoredSignal {
	return l.ignored
}
