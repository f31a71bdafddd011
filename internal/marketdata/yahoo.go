package marketdata

import (
	"context"
	"log/slog"
	"strings"
	"time"

	finance "github.com/piquette/finance-go"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"

	"walkfwd/internal/domain"
	"walkfwd/internal/util"
)

// YahooProvider fetches bars from the Yahoo Finance chart API. Indian
// listings use the ".NS"/".BO" suffixes.
type YahooProvider struct {
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewYahooProvider creates a YahooProvider limited to 60 requests a minute.
func NewYahooProvider() *YahooProvider {
	return &YahooProvider{
		limiter: util.NewRateLimiter(60, 5),
		log:     slog.Default().With("provider", "yahoo"),
	}
}

// Name returns "yahoo".
func (p *YahooProvider) Name() string { return "yahoo" }

// Fetch returns the bars of symbol between from and to.
func (p *YahooProvider) Fetch(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error) {
	interval, err := yahooInterval(res)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)

	var bars []domain.Bar
	err = util.Retry(ctx, 3, time.Second, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		iter := chart.Get(&chart.Params{
			Symbol:   symbol,
			Start:    datetime.New(&from),
			End:      datetime.New(&to),
			Interval: interval,
		})

		bars = bars[:0]
		for iter.Next() {
			bars = append(bars, fromChartBar(symbol, iter.Bar()))
		}
		return iter.Err()
	})
	if err != nil {
		return nil, unavailable(p.Name(), symbol, err)
	}
	p.log.Debug("fetched bars", "symbol", symbol, "count", len(bars))
	return Normalize(bars), nil
}

func fromChartBar(symbol string, b *finance.ChartBar) domain.Bar {
	return domain.Bar{
		Symbol:    symbol,
		Timestamp: time.Unix(int64(b.Timestamp), 0).UTC(),
		Open:      b.Open.InexactFloat64(),
		High:      b.High.InexactFloat64(),
		Low:       b.Low.InexactFloat64(),
		Close:     b.Close.InexactFloat64(),
		Volume:    int64(b.Volume),
	}
}

func yahooInterval(res domain.Resolution) (datetime.Interval, error) {
	switch res {
	case domain.ResolutionMinute:
		return datetime.OneMin, nil
	case domain.ResolutionHour:
		return datetime.OneHour, nil
	case domain.ResolutionDay:
		return datetime.OneDay, nil
	case domain.ResolutionWeek:
		return datetime.Interval("1wk"), nil
	}
	_, err := domain.ParseResolution(string(res))
	return "", err
}
