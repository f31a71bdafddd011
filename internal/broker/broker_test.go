package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"walkfwd/internal/config"
	"walkfwd/internal/domain"
)

func TestNew(t *testing.T) {
	cfg := config.Default()
	for _, name := range []string{"alpaca", "fyers", "simulator"} {
		cfg.Trading.Broker = name
		b, err := New(cfg)
		if err != nil {
			t.Fatalf("New(%q): %v", name, err)
		}
		if got := b.Name(); got != name {
			t.Errorf("Name() = %q, want %q", got, name)
		}
	}
	cfg.Trading.Broker = "ib"
	if _, err := New(cfg); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("New(ib) error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestSimulatorBuySell(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(10000)
	b.SetPrice("TEST", 100)

	o, err := b.SubmitMarketOrder(ctx, "TEST", 50, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if o.Status != domain.OrderStatusFilled || o.FilledAvgPrice != 100 || o.FilledQty != 50 {
		t.Errorf("buy order = %+v", o)
	}

	b.SetPrice("TEST", 110)
	acct, _ := b.GetAccount(ctx)
	if acct.Cash != 5000 || acct.Equity != 10500 {
		t.Errorf("account = %+v, want cash 5000 equity 10500", acct)
	}
	holdings, _ := b.GetHoldings(ctx)
	if len(holdings) != 1 || holdings[0].Qty != 50 || holdings[0].AvgEntryPrice != 100 {
		t.Errorf("holdings = %+v", holdings)
	}

	if _, err := b.SubmitMarketOrder(ctx, "TEST", 50, domain.OrderSideSell); err != nil {
		t.Fatalf("sell: %v", err)
	}
	acct, _ = b.GetAccount(ctx)
	if acct.Cash != 10500 || acct.Equity != 10500 {
		t.Errorf("account after sell = %+v", acct)
	}
	if holdings, _ := b.GetHoldings(ctx); len(holdings) != 0 {
		t.Errorf("holdings after sell = %+v, want none", holdings)
	}
}

func TestSimulatorRejects(t *testing.T) {
	ctx := context.Background()
	b := NewSimulatorBroker(1000)

	if _, err := b.SubmitMarketOrder(ctx, "TEST", 1, domain.OrderSideBuy); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("buy without price error = %v, want ErrOrderRejected", err)
	}
	b.SetPrice("TEST", 100)
	o, err := b.SubmitMarketOrder(ctx, "TEST", 11, domain.OrderSideBuy)
	if !errors.Is(err, ErrOrderRejected) || o.Status != domain.OrderStatusRejected {
		t.Errorf("oversized buy = %+v, %v, want rejected", o, err)
	}
	if _, err := b.SubmitMarketOrder(ctx, "TEST", 1, domain.OrderSideSell); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("naked sell error = %v, want ErrOrderRejected", err)
	}
	if _, err := b.SubmitMarketOrder(ctx, "TEST", 0, domain.OrderSideBuy); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Errorf("zero qty error = %v, want ErrInvalidConfiguration", err)
	}
	if err := b.CancelOrder(ctx, o.ID); err == nil {
		t.Error("cancelling a rejected order should fail")
	}
}

func TestFyersSubmitMarketOrder(t *testing.T) {
	var got fyersOrderRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/orders/sync":
			if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			fmt.Fprint(w, `{"s":"ok","code":1101,"message":"placed","id":"25010100001"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/funds":
			fmt.Fprint(w, `{"s":"ok","code":200,"fund_limit":[{"id":1,"title":"Total Balance","equityAmount":50000},{"id":10,"title":"Available Balance","equityAmount":20000}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b := NewFyersBroker("APP-100", "tok", srv.URL)
	o, err := b.SubmitMarketOrder(context.Background(), "NSE:SONATSOFTW-EQ", 7, domain.OrderSideSell)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if o.ID != "25010100001" || o.Qty != 7 {
		t.Errorf("order = %+v", o)
	}
	if got.Type != 2 || got.Side != -1 || got.ProductType != "CNC" || got.Qty != 7 {
		t.Errorf("request = %+v", got)
	}
	if auth != "APP-100:tok" {
		t.Errorf("Authorization = %q", auth)
	}

	acct, err := b.GetAccount(context.Background())
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Equity != 50000 || acct.Cash != 20000 {
		t.Errorf("account = %+v", acct)
	}
}

func TestFyersError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"s":"error","code":-50,"message":"insufficient funds"}`)
	}))
	defer srv.Close()

	b := NewFyersBroker("id", "tok", srv.URL)
	if _, err := b.SubmitMarketOrder(context.Background(), "NSE:X-EQ", 1, domain.OrderSideBuy); err == nil {
		t.Error("SubmitMarketOrder should fail on s=error")
	}
}

func TestAlpacaSubmitMarketOrder(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/orders" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"ord-1","client_order_id":"c-1","symbol":"AAPL","side":"buy","type":"market",`+
			`"qty":"10","filled_qty":"10","filled_avg_price":"185.5","status":"filled","created_at":"2024-01-02T15:00:00Z"}`)
	}))
	defer srv.Close()

	b := NewAlpacaBroker("key", "secret", srv.URL)
	o, err := b.SubmitMarketOrder(context.Background(), "AAPL", 10, domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("SubmitMarketOrder: %v", err)
	}
	if o.ID != "ord-1" || o.Status != domain.OrderStatusFilled || o.FilledAvgPrice != 185.5 || o.Qty != 10 {
		t.Errorf("order = %+v", o)
	}
	if body["side"] != "buy" || body["type"] != "market" || body["qty"] != "10" {
		t.Errorf("request body = %v", body)
	}
}
