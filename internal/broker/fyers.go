package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"walkfwd/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*FyersBroker)(nil)

// FyersBroker places delivery (CNC) market orders through the Fyers v3 REST
// API.
type FyersBroker struct {
	client *resty.Client
	log    *slog.Logger
}

// NewFyersBroker creates a FyersBroker against baseURL
// (e.g. https://api-t1.fyers.in/api/v3).
func NewFyersBroker(clientID, accessToken, baseURL string) *FyersBroker {
	return &FyersBroker{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(15*time.Second).
			SetHeader("Authorization", clientID+":"+accessToken),
		log: slog.Default().With("broker", "fyers"),
	}
}

// Name returns "fyers".
func (b *FyersBroker) Name() string { return "fyers" }

type fyersOrderRequest struct {
	Symbol       string  `json:"symbol"`
	Qty          int64   `json:"qty"`
	Type         int     `json:"type"`
	Side         int     `json:"side"`
	ProductType  string  `json:"productType"`
	LimitPrice   float64 `json:"limitPrice"`
	StopPrice    float64 `json:"stopPrice"`
	Validity     string  `json:"validity"`
	DisclosedQty int64   `json:"disclosedQty"`
	OfflineOrder bool    `json:"offlineOrder"`
}

type fyersResponse struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func (r *fyersResponse) err() error {
	if r.S == "ok" {
		return nil
	}
	return fmt.Errorf("fyers code %d: %s", r.Code, r.Message)
}

// Fyers order type 2 is market; side is 1 for buy and -1 for sell.
const fyersMarketOrder = 2

// SubmitMarketOrder places a CNC day market order.
func (b *FyersBroker) SubmitMarketOrder(ctx context.Context, symbol string, qty int64, side domain.OrderSide) (*domain.Order, error) {
	if err := validateOrder(symbol, qty, side); err != nil {
		return nil, err
	}
	fs := 1
	if side == domain.OrderSideSell {
		fs = -1
	}

	var out fyersResponse
	if err := b.do(ctx, http.MethodPost, "/orders/sync", fyersOrderRequest{
		Symbol:      symbol,
		Qty:         qty,
		Type:        fyersMarketOrder,
		Side:        fs,
		ProductType: "CNC",
		Validity:    "DAY",
	}, &out); err != nil {
		return nil, fmt.Errorf("fyers place order %s %d %s: %w", side, qty, symbol, err)
	}

	b.log.Info("order placed", "id", out.ID, "symbol", symbol, "side", side, "qty", qty)
	return &domain.Order{
		ID:        out.ID,
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		Status:    domain.OrderStatusNew,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// CancelOrder cancels a pending order.
func (b *FyersBroker) CancelOrder(ctx context.Context, orderID string) error {
	var out fyersResponse
	if err := b.do(ctx, http.MethodDelete, "/orders/sync", map[string]string{"id": orderID}, &out); err != nil {
		return fmt.Errorf("fyers cancel %s: %w", orderID, err)
	}
	return nil
}

type fyersHoldings struct {
	fyersResponse
	Holdings []struct {
		Symbol    string  `json:"symbol"`
		Quantity  int64   `json:"quantity"`
		CostPrice float64 `json:"costPrice"`
	} `json:"holdings"`
}

// GetHoldings returns the demat holdings.
func (b *FyersBroker) GetHoldings(ctx context.Context) ([]domain.Holding, error) {
	var out fyersHoldings
	if err := b.do(ctx, http.MethodGet, "/holdings", nil, &out); err != nil {
		return nil, fmt.Errorf("fyers holdings: %w", err)
	}
	holdings := make([]domain.Holding, 0, len(out.Holdings))
	for _, h := range out.Holdings {
		holdings = append(holdings, domain.Holding{Symbol: h.Symbol, Qty: h.Quantity, AvgEntryPrice: h.CostPrice})
	}
	return holdings, nil
}

type fyersFunds struct {
	fyersResponse
	FundLimit []struct {
		ID           int     `json:"id"`
		Title        string  `json:"title"`
		EquityAmount float64 `json:"equityAmount"`
	} `json:"fund_limit"`
}

// Fund limit rows reported by /funds.
const (
	fyersTotalBalance     = 1
	fyersAvailableBalance = 10
)

// GetAccount reports the total balance as equity and the available balance
// as cash and buying power.
func (b *FyersBroker) GetAccount(ctx context.Context) (*domain.AccountInfo, error) {
	var out fyersFunds
	if err := b.do(ctx, http.MethodGet, "/funds", nil, &out); err != nil {
		return nil, fmt.Errorf("fyers funds: %w", err)
	}
	info := &domain.AccountInfo{}
	for _, f := range out.FundLimit {
		switch f.ID {
		case fyersTotalBalance:
			info.Equity = f.EquityAmount
		case fyersAvailableBalance:
			info.Cash = f.EquityAmount
			info.BuyingPower = f.EquityAmount
		}
	}
	return info, nil
}

type fyersResult interface{ err() error }

func (b *FyersBroker) do(ctx context.Context, method, path string, body any, out fyersResult) error {
	req := b.client.R().SetContext(ctx).SetResult(out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	return out.err()
}
