package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"walkfwd/internal/backtest"
	"walkfwd/internal/domain"
)

func day(i int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func sampleTrades() []domain.Trade {
	return []domain.Trade{
		domain.BuyTrade{Fill: domain.Fill{SignalDate: day(0), ExecutionDate: day(1), Price: 100, Shares: 950, Value: 95000, PercentB: math.NaN()}},
		domain.SellTrade{
			Fill:   domain.Fill{SignalDate: day(2), ExecutionDate: day(3), Price: 110, Shares: 950, Value: 104500, PercentB: 0.95},
			Profit: 9500, ProfitPct: 10,
		},
	}
}

func TestFormatters(t *testing.T) {
	cases := []struct{ got, want string }{
		{FormatInt(1234567), "1,234,567"},
		{FormatInt(-1000), "-1,000"},
		{FormatInt(999), "999"},
		{FormatMoney(1234.5), "1,234.50"},
		{FormatMoney(-0.004), "0.00"},
		{FormatMoney(-98765.432), "-98,765.43"},
		{FormatMoney(math.NaN()), "-"},
		{FormatPct(3), "+3.00%"},
		{FormatPct(-1.98), "-1.98%"},
		{FormatFloat(math.Inf(1), 2), "-"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTradesCSV(&buf, sampleTrades()); err != nil {
		t.Fatalf("WriteTradesCSV: %v", err)
	}
	recs, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("reading CSV: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(recs))
	}
	buy, sell := recs[1], recs[2]
	if buy[2] != "buy" || buy[6] != "" || buy[7] != "" {
		t.Errorf("buy row = %v, want empty percent_b and profit", buy)
	}
	if sell[1] != "2024-01-04" || sell[7] != "9500" || sell[8] != "10" {
		t.Errorf("sell row = %v", sell)
	}
}

func TestWriteSnapshotsCSV(t *testing.T) {
	var buf bytes.Buffer
	snaps := []domain.Snapshot{{Date: day(0), Cash: 100000, TotalValue: 100000}}
	if err := WriteSnapshotsCSV(&buf, snaps); err != nil {
		t.Fatalf("WriteSnapshotsCSV: %v", err)
	}
	want := "date,position_shares,cash,holdings_value,total_value\n2024-01-01,0,100000,0,100000\n"
	if buf.String() != want {
		t.Errorf("CSV = %q, want %q", buf.String(), want)
	}
}

func TestTradeRowsJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, TradeRows(sampleTrades())); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if v, ok := rows[0]["percent_b"]; !ok || v != nil {
		t.Errorf("buy percent_b = %v (present %v), want null", v, ok)
	}
	if _, ok := rows[0]["profit"]; ok {
		t.Error("buy row carries profit")
	}
	if rows[1]["profit"] != 9500.0 {
		t.Errorf("sell profit = %v, want 9500", rows[1]["profit"])
	}
}

func TestExportRun(t *testing.T) {
	dir := t.TempDir()
	res := &backtest.Result{
		Snapshots: []domain.Snapshot{{Date: day(0), Cash: 1, TotalValue: 1}, {Date: day(1), Cash: 1, TotalValue: 1}},
		Trades:    sampleTrades(),
		Metrics:   domain.Metrics{InitialCapital: 1, FinalValue: 1},
	}
	for _, f := range []Format{FormatCSV, FormatJSON} {
		paths, err := ExportRun(filepath.Join(dir, string(f)), res, f)
		if err != nil {
			t.Fatalf("ExportRun(%s): %v", f, err)
		}
		if len(paths) != 3 {
			t.Fatalf("ExportRun(%s) wrote %d files, want 3", f, len(paths))
		}
		for _, p := range paths {
			if !strings.HasSuffix(p, "."+string(f)) {
				t.Errorf("path %q lacks .%s", p, f)
			}
			if info, err := os.Stat(p); err != nil || info.Size() == 0 {
				t.Errorf("%s missing or empty: %v", p, err)
			}
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("ParseFormat(xml) should fail")
	}
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	m := domain.Metrics{InitialCapital: 100000, FinalValue: 103000, NetProfit: 3000, TotalReturnPct: 3, TotalTrades: 2, ClosedTrades: 1}
	if err := WriteSummary(&buf, "bollinger TEST", m); err != nil {
		t.Fatalf("WriteSummary: %v", err)
	}
	for _, want := range []string{"bollinger TEST", "103,000.00", "+3.00%", "2 (1 closed)"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	if err := WriteTrades(&buf, sampleTrades()); err != nil {
		t.Fatalf("WriteTrades: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "SELL") || !strings.Contains(out, "9,500.00") {
		t.Errorf("trades output:\n%s", out)
	}

	buf.Reset()
	if err := WriteTrades(&buf, nil); err != nil || !strings.Contains(buf.String(), "no trades") {
		t.Errorf("empty trades output = %q, %v", buf.String(), err)
	}
}
