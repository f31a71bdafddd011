// Package broker defines the Broker interface and provides implementations
// for executing market orders and reading account state at Alpaca, Fyers and
// an in-memory simulator.
package broker

import (
	"context"
	"fmt"
	"strings"

	"walkfwd/internal/config"
	"walkfwd/internal/domain"
)

// Broker abstracts brokerage operations for order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "alpaca", "simulator").
	Name() string

	// SubmitMarketOrder sends a market order for qty shares of symbol.
	SubmitMarketOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error)

	// CancelOrder requests cancellation of an open order by its ID.
	CancelOrder(ctx context.Context, orderID string) error

	// GetHoldings returns all current positions held at the brokerage.
	GetHoldings(ctx context.Context) ([]domain.Holding, error)

	// GetAccount returns a snapshot of the account's financial metrics.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}

// New returns the broker named by cfg.Trading.Broker.
func New(cfg *config.Config) (Broker, error) {
	switch strings.ToLower(cfg.Trading.Broker) {
	case "alpaca":
		return NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL), nil
	case "fyers":
		return NewFyersBroker(cfg.Fyers.ClientID, cfg.Fyers.AccessToken, cfg.Fyers.BaseURL), nil
	case "simulator", "":
		return NewSimulatorBroker(cfg.Backtest.InitialCapital), nil
	}
	return nil, fmt.Errorf("%w: unknown broker %q", domain.ErrInvalidConfiguration, cfg.Trading.Broker)
}

func validateOrder(symbol string, qty int64, side domain.OrderSide) error {
	if symbol == "" {
		return fmt.Errorf("%w: empty symbol", domain.ErrInvalidConfiguration)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be > 0, got %d", domain.ErrInvalidConfiguration, qty)
	}
	if side != domain.OrderSideBuy && side != domain.OrderSideSell {
		return fmt.Errorf("%w: unknown side %q", domain.ErrInvalidConfiguration, side)
	}
	return nil
}
