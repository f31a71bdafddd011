package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"walkfwd/internal/domain"
)

// ErrOrderRejected is returned when the simulator cannot fill an order.
var ErrOrderRejected = errors.New("order rejected")

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for paper trading. Orders
// fill immediately and in full at the last price set for the symbol, without
// external API calls.
type SimulatorBroker struct {
	mu       sync.Mutex
	cash     float64
	prices   map[string]float64
	holdings map[string]*domain.Holding
	orders   map[string]*domain.Order
}

// NewSimulatorBroker creates a SimulatorBroker holding cash and no positions.
func NewSimulatorBroker(cash float64) *SimulatorBroker {
	return &SimulatorBroker{
		cash:     cash,
		prices:   make(map[string]float64),
		holdings: make(map[string]*domain.Holding),
		orders:   make(map[string]*domain.Order),
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// SetPrice sets the fill and mark price of symbol.
func (b *SimulatorBroker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price
}

// SubmitMarketOrder fills the order at the current price. Buys need enough
// cash and sells need enough shares; otherwise the order is recorded as
// rejected and ErrOrderRejected is returned.
func (b *SimulatorBroker) SubmitMarketOrder(_ context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	if err := validateOrder(symbol, qty, side); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	o := &domain.Order{
		ID:            uuid.NewString(),
		ClientOrderID: uuid.NewString(),
		Symbol:        symbol,
		Side:          side,
		Qty:           qty,
		Status:        domain.OrderStatusNew,
		CreatedAt:     time.Now().UTC(),
	}
	b.orders[o.ID] = o

	price, ok := b.prices[symbol]
	if !ok || price <= 0 {
		o.Status = domain.OrderStatusRejected
		return o, fmt.Errorf("%w: no price for %s", ErrOrderRejected, symbol)
	}
	notional := float64(qty) * price

	h := b.holdings[symbol]
	switch side {
	case domain.OrderSideBuy:
		if notional > b.cash {
			o.Status = domain.OrderStatusRejected
			return o, fmt.Errorf("%w: notional %.2f exceeds cash %.2f", ErrOrderRejected, notional, b.cash)
		}
		if h == nil {
			h = &domain.Holding{Symbol: symbol}
			b.holdings[symbol] = h
		}
		h.AvgEntryPrice = (h.AvgEntryPrice*float64(h.Qty) + notional) / float64(h.Qty+qty)
		h.Qty += qty
		b.cash -= notional
	case domain.OrderSideSell:
		if h == nil || h.Qty < qty {
			o.Status = domain.OrderStatusRejected
			return o, fmt.Errorf("%w: selling %d %s without the shares", ErrOrderRejected, qty, symbol)
		}
		h.Qty -= qty
		if h.Qty == 0 {
			delete(b.holdings, symbol)
		}
		b.cash += notional
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = qty
	o.FilledAvgPrice = price
	return o, nil
}

// CancelOrder marks an unfilled order as cancelled.
func (b *SimulatorBroker) CancelOrder(_ context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s not found", orderID)
	}
	if o.Status != domain.OrderStatusNew {
		return fmt.Errorf("order %s is %s", orderID, o.Status)
	}
	o.Status = domain.OrderStatusCancelled
	return nil
}

// GetHoldings returns copies of all simulated positions.
func (b *SimulatorBroker) GetHoldings(_ context.Context) ([]domain.Holding, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Holding, 0, len(b.holdings))
	for _, h := range b.holdings {
		out = append(out, *h)
	}
	return out, nil
}

// GetAccount marks holdings at their last price.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	equity := b.cash
	for sym, h := range b.holdings {
		equity += float64(h.Qty) * b.prices[sym]
	}
	return &domain.AccountInfo{Equity: equity, Cash: b.cash, BuyingPower: b.cash}, nil
}
