package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	alpacamd "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"walkfwd/internal/domain"
)

// AlpacaProvider fetches US equity bars from the Alpaca market data API.
type AlpacaProvider struct {
	client *alpacamd.Client
	feed   string
	log    *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider. An empty dataURL uses the
// SDK default endpoint; an empty feed uses "iex".
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string) *AlpacaProvider {
	opts := alpacamd.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	if feed == "" {
		feed = "iex"
	}

	return &AlpacaProvider{
		client: alpacamd.NewClient(opts),
		feed:   feed,
		log:    slog.Default().With("provider", "alpaca"),
	}
}

// Name returns "alpaca".
func (p *AlpacaProvider) Name() string { return "alpaca" }

// Fetch returns the bars of symbol between from and to inclusive.
func (p *AlpacaProvider) Fetch(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tf, err := alpacaTimeFrame(res)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	abars, err := p.client.GetBars(symbol, alpacamd.GetBarsRequest{
		TimeFrame:  tf,
		Start:      from,
		End:        to,
		Feed:       alpacamd.Feed(p.feed),
		Adjustment: alpacamd.Split,
	})
	if err != nil {
		return nil, unavailable(p.Name(), symbol, err)
	}

	bars := make([]domain.Bar, 0, len(abars))
	for _, ab := range abars {
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Timestamp: ab.Timestamp.UTC(),
			Open:      ab.Open,
			High:      ab.High,
			Low:       ab.Low,
			Close:     ab.Close,
			Volume:    int64(ab.Volume),
		})
	}
	p.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return Normalize(bars), nil
}

func alpacaTimeFrame(res domain.Resolution) (alpacamd.TimeFrame, error) {
	switch res {
	case domain.ResolutionMinute:
		return alpacamd.OneMin, nil
	case domain.ResolutionHour:
		return alpacamd.OneHour, nil
	case domain.ResolutionDay:
		return alpacamd.OneDay, nil
	case domain.ResolutionWeek:
		return alpacamd.NewTimeFrame(1, alpacamd.Week), nil
	}
	_, err := domain.ParseResolution(string(res))
	return alpacamd.TimeFrame{}, err
}
