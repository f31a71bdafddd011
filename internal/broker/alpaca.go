package broker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"walkfwd/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*AlpacaBroker)(nil)

// AlpacaBroker implements the Broker interface using the Alpaca trading API.
type AlpacaBroker struct {
	client *alpaca.Client
	log    *slog.Logger
}

// NewAlpacaBroker creates a new AlpacaBroker configured with the given
// credentials and API endpoint.
func NewAlpacaBroker(apiKey, apiSecret, baseURL string) *AlpacaBroker {
	return &AlpacaBroker{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		log: slog.Default().With("broker", "alpaca"),
	}
}

// Name returns "alpaca".
func (b *AlpacaBroker) Name() string {
	return "alpaca"
}

// SubmitMarketOrder places a day market order with a generated client order ID.
func (b *AlpacaBroker) SubmitMarketOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	if err := validateOrder(symbol, qty, side); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := decimal.NewFromInt(qty)
	ao, err := b.client.PlaceOrder(alpaca.PlaceOrderRequest{
		Symbol:        symbol,
		Qty:           &q,
		Side:          alpaca.Side(side),
		Type:          alpaca.Market,
		TimeInForce:   alpaca.Day,
		ClientOrderID: uuid.NewString(),
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca place order %s %d %s: %w", side, qty, symbol, err)
	}
	b.log.Info("order placed", "id", ao.ID, "symbol", symbol, "side", side, "qty", qty)
	return fromAlpacaOrder(ao), nil
}

// CancelOrder requests cancellation of an open order via the Alpaca API.
func (b *AlpacaBroker) CancelOrder(_ context.Context, orderID string) error {
	if err := b.client.CancelOrder(orderID); err != nil {
		return fmt.Errorf("alpaca cancel %s: %w", orderID, err)
	}
	return nil
}

// GetHoldings returns all current positions from the Alpaca account.
func (b *AlpacaBroker) GetHoldings(_ context.Context) ([]domain.Holding, error) {
	positions, err := b.client.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}
	out := make([]domain.Holding, 0, len(positions))
	for _, p := range positions {
		out = append(out, domain.Holding{
			Symbol:        p.Symbol,
			Qty:           p.Qty.IntPart(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// GetAccount returns the current account information from the Alpaca API.
func (b *AlpacaBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	acct, err := b.client.GetAccount()
	if err != nil {
		return nil, fmt.Errorf("alpaca account: %w", err)
	}
	return &domain.AccountInfo{
		Equity:      acct.Equity.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		LastEquity:  acct.LastEquity.InexactFloat64(),
	}, nil
}

func fromAlpacaOrder(ao *alpaca.Order) *domain.Order {
	o := &domain.Order{
		ID:            ao.ID,
		ClientOrderID: ao.ClientOrderID,
		Symbol:        ao.Symbol,
		Side:          domain.OrderSide(ao.Side),
		Status:        alpacaStatus(ao.Status),
		FilledQty:     ao.FilledQty.IntPart(),
		CreatedAt:     ao.CreatedAt,
	}
	if ao.Qty != nil {
		o.Qty = ao.Qty.IntPart()
	}
	if ao.FilledAvgPrice != nil {
		o.FilledAvgPrice = ao.FilledAvgPrice.InexactFloat64()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	return o
}

func alpacaStatus(s string) domain.OrderStatus {
	switch s {
	case "filled":
		return domain.OrderStatusFilled
	case "rejected":
		return domain.OrderStatusRejected
	case "canceled", "cancelled", "expired":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusNew
	}
}
