package domain

import "time"

// Fill holds the fields shared by both trade shapes.
type Fill struct {
	SignalDate    time.Time
	ExecutionDate time.Time
	Price         float64
	Shares        int64
	Value         float64
	// PercentB is the indicator value at the signal bar, kept for audit.
	PercentB float64
}

// Trade is an executed BUY or SELL. The only implementations are BuyTrade
// and SellTrade; profit fields exist only on SellTrade.
type Trade interface {
	Side() OrderSide
	Details() Fill
	isTrade()
}

// Compile-time interface checks.
var _ Trade = BuyTrade{}
var _ Trade = SellTrade{}

// BuyTrade opens the position.
type BuyTrade struct {
	Fill
}

// Side returns OrderSideBuy.
func (BuyTrade) Side() OrderSide { return OrderSideBuy }

// Details returns the shared fill fields.
func (b BuyTrade) Details() Fill { return b.Fill }

func (BuyTrade) isTrade() {}

// SellTrade closes the position and carries the realized economics.
type SellTrade struct {
	Fill
	Profit    float64
	ProfitPct float64
	// Forced marks an end-of-run liquidation at the final close.
	Forced bool
}

// Side returns OrderSideSell.
func (SellTrade) Side() OrderSide { return OrderSideSell }

// Details returns the shared fill fields.
func (s SellTrade) Details() Fill { return s.Fill }

func (SellTrade) isTrade() {}

// Sells returns the SELL trades of a trade log in order.
func Sells(trades []Trade) []SellTrade {
	var out []SellTrade
	for _, t := range trades {
		if s, ok := t.(SellTrade); ok {
			out = append(out, s)
		}
	}
	return out
}
