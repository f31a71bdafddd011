// Package marketdata fetches historical bars from external providers
// (Alpaca, Yahoo Finance, Fyers), loads them from CSV files, and caches them
// in the Parquet bar store.
package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"walkfwd/internal/config"
	"walkfwd/internal/domain"
	"walkfwd/internal/store"
	"walkfwd/internal/util"
)

// Provider fetches an ordered, de-duplicated bar sequence for one symbol.
// Failures are wrapped in domain.ErrExternalDataUnavailable; providers never
// substitute stale data.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error)
}

// Compile-time interface checks.
var (
	_ Provider = (*AlpacaProvider)(nil)
	_ Provider = (*YahooProvider)(nil)
	_ Provider = (*FyersProvider)(nil)
	_ Provider = (*Cached)(nil)
)

// New returns the provider registered under name ("alpaca", "yahoo" or
// "fyers") configured from cfg.
func New(name string, cfg *config.Config) (Provider, error) {
	switch strings.ToLower(name) {
	case "alpaca":
		return NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.Feed), nil
	case "yahoo", "":
		return NewYahooProvider(), nil
	case "fyers":
		return NewFyersProvider(cfg.Fyers.ClientID, cfg.Fyers.AccessToken, cfg.Fyers.DataURL), nil
	}
	return nil, fmt.Errorf("%w: unknown provider %q (want alpaca, yahoo or fyers)", domain.ErrInvalidConfiguration, name)
}

// Normalize sorts bars by timestamp and drops later duplicates of the same
// timestamp, so the result satisfies domain.ValidateBars.
func Normalize(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	n := 0
	for i := range out {
		if n > 0 && out[i].Timestamp.Equal(out[n-1].Timestamp) {
			continue
		}
		out[n] = out[i]
		n++
	}
	return out[:n]
}

func unavailable(provider, symbol string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrExternalDataUnavailable, provider, symbol, err)
}

// ---------------------------------------------------------------------------
// Cached
// ---------------------------------------------------------------------------

// Cached serves bars from a store.BarStore and falls back to an upstream
// provider when the store holds nothing for the requested range, or when the
// cached bars stop short of the last trading day the range covers. Fetched
// bars are written back before being returned.
type Cached struct {
	upstream Provider
	store    store.BarStore
	now      func() time.Time
}

// NewCached wraps upstream with the given bar store.
func NewCached(upstream Provider, s store.BarStore) *Cached {
	return &Cached{upstream: upstream, store: s, now: time.Now}
}

// Name returns the upstream name with a "cached:" prefix.
func (c *Cached) Name() string { return "cached:" + c.upstream.Name() }

// Fetch reads from the store and fetches from upstream on a miss. A cache hit
// whose last bar is older than the last business day on or before to is
// topped up with the missing tail. Exchange holidays are not modelled, so a
// range ending on one costs an upstream call that returns nothing new.
func (c *Cached) Fetch(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error) {
	bars, err := c.store.ReadBars(ctx, symbol, res, from, to)
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}
	if len(bars) == 0 {
		return c.fill(ctx, symbol, from, to, res)
	}

	bars = Normalize(bars)
	last := bars[len(bars)-1].Timestamp
	if now := c.now(); to.After(now) {
		to = now
	}
	if !dateBefore(last, util.LastBusinessDay(to.UTC())) {
		return bars, nil
	}

	tail, err := c.fill(ctx, symbol, last, to, res)
	if err != nil {
		return nil, err
	}
	return Normalize(append(bars, tail...)), nil
}

func (c *Cached) fill(ctx context.Context, symbol string, from, to time.Time, res domain.Resolution) ([]domain.Bar, error) {
	bars, err := c.upstream.Fetch(ctx, symbol, from, to, res)
	if err != nil {
		return nil, err
	}
	if len(bars) > 0 {
		if err := c.store.WriteBars(ctx, bars, res); err != nil {
			return nil, fmt.Errorf("writing cache: %w", err)
		}
	}
	return bars, nil
}

// dateBefore reports whether a falls on an earlier UTC calendar day than b.
func dateBefore(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}
