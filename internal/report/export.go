package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"walkfwd/internal/backtest"
	"walkfwd/internal/domain"
)

// Format is an export serialization.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts "csv" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", domain.ErrInvalidConfiguration, s)
}

// SnapshotRow is the exported form of a domain.Snapshot.
type SnapshotRow struct {
	Date           string  `json:"date"`
	PositionShares int64   `json:"position_shares"`
	Cash           float64 `json:"cash"`
	HoldingsValue  float64 `json:"holdings_value"`
	TotalValue     float64 `json:"total_value"`
}

// TradeRow is the exported form of a trade. Profit fields are absent on
// BUY rows and PercentB is absent when the indicator was undefined.
type TradeRow struct {
	SignalDate    string   `json:"signal_date"`
	ExecutionDate string   `json:"execution_date"`
	Side          string   `json:"side"`
	Price         float64  `json:"price"`
	Shares        int64    `json:"shares"`
	Value         float64  `json:"value"`
	PercentB      *float64 `json:"percent_b"`
	Profit        *float64 `json:"profit,omitempty"`
	ProfitPct     *float64 `json:"profit_pct,omitempty"`
	Forced        bool     `json:"forced,omitempty"`
}

// MetricsRow is the exported form of domain.Metrics.
type MetricsRow struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalValue     float64 `json:"final_value"`
	NetProfit      float64 `json:"net_profit"`
	TotalReturnPct float64 `json:"total_return_pct"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	TotalTrades    int     `json:"total_trades"`
	ClosedTrades   int     `json:"closed_trades"`
	WinRatePct     float64 `json:"win_rate_pct"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
	ExposurePct    float64 `json:"exposure_pct"`
	IgnoredSignals int     `json:"ignored_signals"`
}

func dateString(t time.Time) string { return t.Format(time.DateOnly) }

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// SnapshotRows converts the snapshot series.
func SnapshotRows(snaps []domain.Snapshot) []SnapshotRow {
	rows := make([]SnapshotRow, len(snaps))
	for i, s := range snaps {
		rows[i] = SnapshotRow{
			Date:           dateString(s.Date),
			PositionShares: s.PositionShares,
			Cash:           s.Cash,
			HoldingsValue:  s.HoldingsValue,
			TotalValue:     s.TotalValue,
		}
	}
	return rows
}

// TradeRows converts the trade log.
func TradeRows(trades []domain.Trade) []TradeRow {
	rows := make([]TradeRow, len(trades))
	for i, t := range trades {
		f := t.Details()
		rows[i] = TradeRow{
			SignalDate:    dateString(f.SignalDate),
			ExecutionDate: dateString(f.ExecutionDate),
			Side:          string(t.Side()),
			Price:         f.Price,
			Shares:        f.Shares,
			Value:         f.Value,
			PercentB:      optional(f.PercentB),
		}
		if s, ok := t.(domain.SellTrade); ok {
			rows[i].Profit = optional(s.Profit)
			rows[i].ProfitPct = optional(s.ProfitPct)
			rows[i].Forced = s.Forced
		}
	}
	return rows
}

// MetricsRowOf converts the metrics record.
func MetricsRowOf(m domain.Metrics) MetricsRow {
	return MetricsRow(m)
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func formatF(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func formatOpt(f *float64) string {
	if f == nil {
		return ""
	}
	return formatF(*f)
}

// WriteSnapshotsCSV writes the snapshot series with a header row.
func WriteSnapshotsCSV(w io.Writer, snaps []domain.Snapshot) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"date", "position_shares", "cash", "holdings_value", "total_value"})
	for _, r := range SnapshotRows(snaps) {
		_ = cw.Write([]string{
			r.Date, strconv.FormatInt(r.PositionShares, 10),
			formatF(r.Cash), formatF(r.HoldingsValue), formatF(r.TotalValue),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteTradesCSV writes the trade log with a header row. Undefined values
// are empty cells.
func WriteTradesCSV(w io.Writer, trades []domain.Trade) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{
		"signal_date", "execution_date", "side", "price", "shares", "value",
		"percent_b", "profit", "profit_pct", "forced",
	})
	for _, r := range TradeRows(trades) {
		_ = cw.Write([]string{
			r.SignalDate, r.ExecutionDate, r.Side,
			formatF(r.Price), strconv.FormatInt(r.Shares, 10), formatF(r.Value),
			formatOpt(r.PercentB), formatOpt(r.Profit), formatOpt(r.ProfitPct),
			strconv.FormatBool(r.Forced),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetricsCSV writes the metrics as metric,value rows.
func WriteMetricsCSV(w io.Writer, m domain.Metrics) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"metric", "value"})
	for _, kv := range [][2]string{
		{"initial_capital", formatF(m.InitialCapital)},
		{"final_value", formatF(m.FinalValue)},
		{"net_profit", formatF(m.NetProfit)},
		{"total_return_pct", formatF(m.TotalReturnPct)},
		{"max_drawdown_pct", formatF(m.MaxDrawdownPct)},
		{"sharpe_ratio", formatF(m.SharpeRatio)},
		{"total_trades", strconv.Itoa(m.TotalTrades)},
		{"closed_trades", strconv.Itoa(m.ClosedTrades)},
		{"win_rate_pct", formatF(m.WinRatePct)},
		{"avg_win", formatF(m.AvgWin)},
		{"avg_loss", formatF(m.AvgLoss)},
		{"profit_factor", formatF(m.ProfitFactor)},
		{"exposure_pct", formatF(m.ExposurePct)},
		{"ignored_signals", strconv.Itoa(m.IgnoredSignals)},
	} {
		_ = cw.Write(kv[:])
	}
	cw.Flush()
	return cw.Error()
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// Run export
// ---------------------------------------------------------------------------

// ExportRun writes snapshots, trades and metrics of res into dir as
// snapshots.<ext>, trades.<ext> and metrics.<ext>. It returns the written
// paths.
func ExportRun(dir string, res *backtest.Result, format Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	type artifact struct {
		name  string
		csv   func(io.Writer) error
		value any
	}
	artifacts := []artifact{
		{"snapshots", func(w io.Writer) error { return WriteSnapshotsCSV(w, res.Snapshots) }, SnapshotRows(res.Snapshots)},
		{"trades", func(w io.Writer) error { return WriteTradesCSV(w, res.Trades) }, TradeRows(res.Trades)},
		{"metrics", func(w io.Writer) error { return WriteMetricsCSV(w, res.Metrics) }, MetricsRowOf(res.Metrics)},
	}

	paths := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		path := filepath.Join(dir, a.name+"."+string(format))
		if err := writeFile(path, func(w io.Writer) error {
			if format == FormatJSON {
				return WriteJSON(w, a.value)
			}
			return a.csv(w)
		}); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", a.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
