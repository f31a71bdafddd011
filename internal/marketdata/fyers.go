package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"walkfwd/internal/domain"
	"walkfwd/internal/util"
)

// FyersProvider fetches NSE/BSE bars from the Fyers v3 history endpoint.
// Symbols use the exchange prefix form, e.g. "NSE:SONATSOFTW-EQ".
type FyersProvider struct {
	client  *resty.Client
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewFyersProvider creates a FyersProvider against dataURL.
func NewFyersProvider(clientID, accessToken, dataURL string) *FyersProvider {
	client := resty.New().
		SetBaseURL(dataURL).
		SetTimeout(30*time.Second).
		SetHeader("Authorization", clientID+":"+accessToken)

	return &FyersProvider{
		client:  client,
		limiter: util.NewRateLimiter(600, 10),
		log:     slog.Default().With("provider", "fyers"),
	}
}

// Name returns "fyers".
func (p *FyersProvider) Name() string { return "fyers" }

// fyersHistory is the /history response. Each candle is
// [epoch_seconds, open, high, low, close, volume].
type fyersHistory struct {
	S       string      `json:"s"`
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Candles [][]float64 `json:"candles"`
}

// Fetch returns the bars of symbol between from and to.
func (p *FyersProvider) Fetch(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body fyersHistory
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":      symbol,
			"resolution":  string(res),
			"date_format": "0",
			"range_from":  strconv.FormatInt(from.Unix(), 10),
			"range_to":    strconv.FormatInt(to.Unix(), 10),
			"cont_flag":   "1",
		}).
		SetResult(&body).
		Get("/history")
	if err != nil {
		return nil, unavailable(p.Name(), symbol, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, unavailable(p.Name(), symbol, fmt.Errorf("HTTP %d: %s", resp.StatusCode(), resp.String()))
	}
	if body.S != "ok" {
		return nil, unavailable(p.Name(), symbol, fmt.Errorf("code %d: %s", body.Code, body.Message))
	}

	bars := make([]domain.Bar, 0, len(body.Candles))
	for i, c := range body.Candles {
		if len(c) < 6 {
			return nil, unavailable(p.Name(), symbol, fmt.Errorf("candle %d has %d fields", i, len(c)))
		}
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: time.Unix(int64(c[0]), 0).UTC(),
			Open:      c[1],
			High:      c[2],
			Low:       c[3],
			Close:     c[4],
			Volume:    int64(math.Round(c[5])),
		})
	}
	p.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return Normalize(bars), nil
}
