package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"walkfwd/internal/domain"
)

// Compile-time interface checks.
var _ BarStore = (*ParquetStore)(nil)
var _ ArtifactStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore and ArtifactStore using Parquet files on
// disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// SnapshotRecord is the Parquet schema for one portfolio snapshot.
type SnapshotRecord struct {
	Date           int64   `parquet:"date,timestamp(millisecond)"`
	PositionShares int64   `parquet:"position_shares"`
	Cash           float64 `parquet:"cash"`
	HoldingsValue  float64 `parquet:"holdings_value"`
	TotalValue     float64 `parquet:"total_value"`
}

// TradeRecord is the Parquet schema for one executed trade. Profit fields
// are null on BUY rows.
type TradeRecord struct {
	Seq           int32    `parquet:"seq"`
	Side          string   `parquet:"side"`
	SignalDate    int64    `parquet:"signal_date,timestamp(millisecond)"`
	ExecutionDate int64    `parquet:"execution_date,timestamp(millisecond)"`
	Price         float64  `parquet:"price"`
	Shares        int64    `parquet:"shares"`
	Value         float64  `parquet:"value"`
	PercentB      float64  `parquet:"percent_b"`
	Profit        *float64 `parquet:"profit,optional"`
	ProfitPct     *float64 `parquet:"profit_pct,optional"`
	Forced        bool     `parquet:"forced"`
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bar data to Parquet files organized by symbol and year.
// Each symbol+year combination produces a separate file at:
//
//	<DataDir>/bars/<resolution>/<SYMBOL>/<YYYY>.parquet
//
// Existing files are merged, with incoming bars replacing stored bars that
// share a timestamp.
func (s *ParquetStore) WriteBars(_ context.Context, bars []domain.Bar, res domain.Resolution) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		year   int
	}
	groups := make(map[key][]BarRecord)
	for _, b := range bars {
		k := key{symbol: strings.ToUpper(b.Symbol), year: b.Timestamp.UTC().Year()}
		groups[k] = append(groups[k], BarRecord{
			Symbol:    k.symbol,
			Timestamp: b.Timestamp.UnixMilli(),
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].year < keys[j].year
	})

	for _, k := range keys {
		path := s.barPath(k.symbol, res, k.year)

		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("reading existing bars for %s/%d: %w", k.symbol, k.year, err)
		}
		merged := mergeBarRecords(existing, groups[k])

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", k.symbol, k.year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the given symbol and time range.
func (s *ParquetStore) ReadBars(_ context.Context, symbol string, res domain.Resolution, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		path := s.barPath(symbol, res, year)

		records, err := readParquetFile[BarRecord](path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading bars %s: %w", path, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp).UTC()
			if ts.Before(start) || ts.After(end) {
				continue
			}
			bars = append(bars, domain.Bar{
				Symbol:    r.Symbol,
				Timestamp: ts,
				Open:      r.Open,
				High:      r.High,
				Low:       r.Low,
				Close:     r.Close,
				Volume:    r.Volume,
			})
		}
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data at the resolution.
func (s *ParquetStore) ListSymbols(_ context.Context, res domain.Resolution) ([]string, error) {
	dir := filepath.Join(s.DataDir, "bars", resolutionDir(res))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// ---------------------------------------------------------------------------
// ArtifactStore implementation
// ---------------------------------------------------------------------------

// WriteArtifacts writes the run's snapshots and trades to:
//
//	<DataDir>/runs/<runID>/snapshots.parquet
//	<DataDir>/runs/<runID>/trades.parquet
func (s *ParquetStore) WriteArtifacts(_ context.Context, runID string, snapshots []domain.Snapshot, trades []domain.Trade) error {
	snaps := make([]SnapshotRecord, len(snapshots))
	for i, sn := range snapshots {
		snaps[i] = SnapshotRecord{
			Date:           sn.Date.UnixMilli(),
			PositionShares: sn.PositionShares,
			Cash:           sn.Cash,
			HoldingsValue:  sn.HoldingsValue,
			TotalValue:     sn.TotalValue,
		}
	}
	if err := writeParquetFile(s.runPath(runID, "snapshots"), snaps); err != nil {
		_ = os.RemoveAll(s.runDir(runID))
		return fmt.Errorf("writing snapshots for run %s: %w", runID, err)
	}

	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = toTradeRecord(i, t)
	}
	if err := writeParquetFile(s.runPath(runID, "trades"), records); err != nil {
		_ = os.RemoveAll(s.runDir(runID))
		return fmt.Errorf("writing trades for run %s: %w", runID, err)
	}
	return nil
}

// DeleteArtifacts removes <DataDir>/runs/<runID>.
func (s *ParquetStore) DeleteArtifacts(_ context.Context, runID string) error {
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("deleting artifacts for run %s: %w", runID, err)
	}
	return nil
}

// ReadSnapshots reads the snapshot series of a run.
func (s *ParquetStore) ReadSnapshots(_ context.Context, runID string) ([]domain.Snapshot, error) {
	records, err := readParquetFile[SnapshotRecord](s.runPath(runID, "snapshots"))
	if err != nil {
		return nil, fmt.Errorf("reading snapshots for run %s: %w", runID, err)
	}
	out := make([]domain.Snapshot, len(records))
	for i, r := range records {
		out[i] = domain.Snapshot{
			Date:           time.UnixMilli(r.Date).UTC(),
			PositionShares: r.PositionShares,
			Cash:           r.Cash,
			HoldingsValue:  r.HoldingsValue,
			TotalValue:     r.TotalValue,
		}
	}
	return out, nil
}

// ReadTrades reads the trade log of a run in execution order.
func (s *ParquetStore) ReadTrades(_ context.Context, runID string) ([]domain.Trade, error) {
	records, err := readParquetFile[TradeRecord](s.runPath(runID, "trades"))
	if err != nil {
		return nil, fmt.Errorf("reading trades for run %s: %w", runID, err)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	out := make([]domain.Trade, len(records))
	for i, r := range records {
		out[i] = fromTradeRecord(r)
	}
	return out, nil
}

func toTradeRecord(seq int, t domain.Trade) TradeRecord {
	f := t.Details()
	r := TradeRecord{
		Seq:           int32(seq),
		Side:          string(t.Side()),
		SignalDate:    f.SignalDate.UnixMilli(),
		ExecutionDate: f.ExecutionDate.UnixMilli(),
		Price:         f.Price,
		Shares:        f.Shares,
		Value:         f.Value,
		PercentB:      f.PercentB,
	}
	if sell, ok := t.(domain.SellTrade); ok {
		profit, pct := sell.Profit, sell.ProfitPct
		r.Profit = &profit
		r.ProfitPct = &pct
		r.Forced = sell.Forced
	}
	return r
}

func fromTradeRecord(r TradeRecord) domain.Trade {
	fill := domain.Fill{
		SignalDate:    time.UnixMilli(r.SignalDate).UTC(),
		ExecutionDate: time.UnixMilli(r.ExecutionDate).UTC(),
		Price:         r.Price,
		Shares:        r.Shares,
		Value:         r.Value,
		PercentB:      r.PercentB,
	}
	if domain.OrderSide(r.Side) == domain.OrderSideBuy {
		return domain.BuyTrade{Fill: fill}
	}
	sell := domain.SellTrade{Fill: fill, Forced: r.Forced}
	if r.Profit != nil {
		sell.Profit = *r.Profit
	}
	if r.ProfitPct != nil {
		sell.ProfitPct = *r.ProfitPct
	}
	return sell
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/bars/<resolution>/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(symbol string, res domain.Resolution, year int) string {
	return filepath.Join(s.DataDir, "bars", resolutionDir(res), strings.ToUpper(symbol), fmt.Sprintf("%d.parquet", year))
}

// runPath returns the filesystem path for a run artifact.
// Layout: <dataDir>/runs/<runID>/<name>.parquet
func (s *ParquetStore) runPath(runID, name string) string {
	return filepath.Join(s.runDir(runID), name+".parquet")
}

func (s *ParquetStore) runDir(runID string) string {
	return filepath.Join(s.DataDir, "runs", runID)
}

func resolutionDir(res domain.Resolution) string {
	switch res {
	case domain.ResolutionMinute:
		return "1min"
	case domain.ResolutionHour:
		return "60min"
	case domain.ResolutionWeek:
		return "weekly"
	default:
		return "daily"
	}
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by (symbol, timestamp), preferring
// new records over existing ones.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	type key struct {
		symbol string
		ts     int64
	}
	seen := make(map[key]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[key{r.Symbol, r.Timestamp}] = r
	}
	for _, r := range incoming {
		seen[key{r.Symbol, r.Timestamp}] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
