// Package engine is the live-trading adapter: it turns the latest strategy
// signal into an order intent, checks it against risk limits, and submits it
// through a broker.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"walkfwd/internal/broker"
	"walkfwd/internal/domain"
	"walkfwd/internal/store"
	"walkfwd/internal/strategy"
)

// Intent is an order the latest signal asks for. Price is the reference
// close used for sizing; the broker fills at market.
type Intent struct {
	Symbol string
	Date   time.Time
	Signal domain.Signal
	Side   domain.OrderSide
	Qty    int64
	Price  float64
}

// Engine orchestrates the trading lifecycle by delegating to a broker for
// execution, a store for persistence, and a risk manager for pre-trade checks.
type Engine struct {
	broker  broker.Broker
	orders  store.OrderStore
	risk    *RiskManager
	sizePct float64
	log     *slog.Logger
}

// NewEngine creates a new Engine wired with the given dependencies. orders
// may be nil.
func NewEngine(b broker.Broker, orders store.OrderStore, risk *RiskManager, sizePct float64) *Engine {
	return &Engine{
		broker:  b,
		orders:  orders,
		risk:    risk,
		sizePct: sizePct,
		log:     slog.Default().With("component", "engine"),
	}
}

// StartDay arms the daily loss limit with the account's previous-close
// equity, or its current equity when the broker does not report one.
func (e *Engine) StartDay(ctx context.Context) error {
	if e.risk == nil {
		return nil
	}
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("reading account: %w", err)
	}
	base := acct.LastEquity
	if base <= 0 {
		base = acct.Equity
	}
	e.risk.StartDay(base)
	e.log.Debug("day started", "broker", e.broker.Name(), "start_equity", base)
	return nil
}

// Intent classifies the last bar and returns the order it calls for, or nil
// when the signal is HOLD or does not apply to the current holding (BUY
// while holding, SELL while flat, or a BUY too small for one share).
func (e *Engine) Intent(ctx context.Context, s strategy.Strategy, bars []domain.Bar) (*Intent, error) {
	frame, err := s.ComputeIndicators(bars)
	if err != nil {
		return nil, err
	}
	last, ok := frame.Last()
	if !ok {
		return nil, fmt.Errorf("%w: no bars", domain.ErrInsufficientData)
	}
	sig, err := s.Classify(last)
	if err != nil {
		return nil, fmt.Errorf("%s: classifying %s: %w", s.Name(), last.Bar.Timestamp.Format(time.DateOnly), err)
	}

	symbol := last.Bar.Symbol
	held, err := e.heldQty(ctx, symbol)
	if err != nil {
		return nil, err
	}

	in := &Intent{Symbol: symbol, Date: last.Bar.Timestamp, Signal: sig, Price: last.Bar.Close}
	switch {
	case sig == domain.Buy && held == 0:
		acct, err := e.broker.GetAccount(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading account: %w", err)
		}
		in.Side = domain.OrderSideBuy
		in.Qty = int64(math.Floor(acct.Cash * e.sizePct / last.Bar.Close))
		if in.Qty <= 0 {
			return nil, nil
		}
	case sig == domain.Sell && held > 0:
		in.Side = domain.OrderSideSell
		in.Qty = held
	default:
		return nil, nil
	}

	e.log.Info("order intent", "symbol", symbol, "signal", sig, "side", in.Side, "qty", in.Qty)
	return in, nil
}

// Submit checks the intent against the risk limits, sends it to the broker
// and records the resulting order.
func (e *Engine) Submit(ctx context.Context, in *Intent) (*domain.Order, error) {
	acct, err := e.broker.GetAccount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading account: %w", err)
	}
	if e.risk != nil {
		if err := e.risk.CheckOrder(in.Side, in.Qty, in.Price, acct); err != nil {
			return nil, err
		}
	}

	order, err := e.broker.SubmitMarketOrder(ctx, in.Symbol, in.Qty, in.Side)
	if order != nil && e.orders != nil {
		if serr := e.orders.SaveOrder(ctx, order); serr != nil {
			e.log.Error("saving order failed", "id", order.ID, "error", serr)
		}
	}
	if err != nil {
		return order, fmt.Errorf("%s: %w", e.broker.Name(), err)
	}
	e.log.Info("order submitted", "id", order.ID, "status", order.Status)
	return order, nil
}

// CancelOrder requests cancellation of an open order and records the new
// status.
func (e *Engine) CancelOrder(ctx context.Context, orderID string) error {
	if err := e.broker.CancelOrder(ctx, orderID); err != nil {
		return err
	}
	if e.orders == nil {
		return nil
	}
	o, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("loading order %s: %w", orderID, err)
	}
	o.Status = domain.OrderStatusCancelled
	return e.orders.UpdateOrder(ctx, o)
}

// Holdings returns the broker's current positions.
func (e *Engine) Holdings(ctx context.Context) ([]domain.Holding, error) {
	return e.broker.GetHoldings(ctx)
}

func (e *Engine) heldQty(ctx context.Context, symbol string) (int64, error) {
	holdings, err := e.broker.GetHoldings(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading holdings: %w", err)
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h.Qty, nil
		}
	}
	return 0, nil
}
