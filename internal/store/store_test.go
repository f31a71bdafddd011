package store

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"walkfwd/internal/domain"
)

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("aapl", domain.ResolutionDay, 2024)
	wantBarPath := filepath.Join("/data", "bars", "daily", "AAPL", "2024.parquet")
	if bp != wantBarPath {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, wantBarPath)
	}

	rp := ps.runPath("abc", "trades")
	wantRunPath := filepath.Join("/data", "runs", "abc", "trades.parquet")
	if rp != wantRunPath {
		t.Errorf("runPath mismatch:\n  got  %s\n  want %s", rp, wantRunPath)
	}
	if !strings.Contains(ps.barPath("X", domain.ResolutionHour, 2024), "60min") {
		t.Errorf("hourly barPath should contain '60min'")
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{
			Symbol:    "AAPL",
			Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Open:      185.0,
			High:      186.5,
			Low:       184.0,
			Close:     185.5,
			Volume:    50000000,
		},
		{
			Symbol:    "AAPL",
			Timestamp: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			Open:      185.5,
			High:      187.0,
			Low:       185.0,
			Close:     186.0,
			Volume:    45000000,
		},
	}

	if err := ps.WriteBars(ctx, bars, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "AAPL", domain.ResolutionDay, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars, want 2", len(got))
	}
	if got[0].Close != 185.5 {
		t.Errorf("first bar Close = %v, want 185.5", got[0].Close)
	}
	if got[1].Close != 186.0 {
		t.Errorf("second bar Close = %v, want 186.0", got[1].Close)
	}
	if !got[0].Timestamp.Equal(bars[0].Timestamp) {
		t.Errorf("first bar Timestamp = %v, want %v", got[0].Timestamp, bars[0].Timestamp)
	}

	// Other resolutions are stored separately.
	hourly, err := ps.ReadBars(ctx, "AAPL", domain.ResolutionHour, start, end)
	if err != nil {
		t.Fatalf("ReadBars hourly: %v", err)
	}
	if len(hourly) != 0 {
		t.Errorf("ReadBars hourly returned %d bars, want 0", len(hourly))
	}
}

func TestParquetStoreMergeBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars1 := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: 400, High: 405, Low: 399, Close: 403, Volume: 30000000},
	}
	if err := ps.WriteBars(ctx, bars1, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars (first): %v", err)
	}

	// Same symbol+year merges; a repeated timestamp is replaced.
	bars2 := []domain.Bar{
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: 400, High: 405, Low: 399, Close: 404, Volume: 31000000},
		{Symbol: "MSFT", Timestamp: time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC), Open: 403, High: 410, Low: 402, Close: 408, Volume: 35000000},
	}
	if err := ps.WriteBars(ctx, bars2, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars (second): %v", err)
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	got, err := ps.ReadBars(ctx, "MSFT", domain.ResolutionDay, start, end)
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ReadBars returned %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 404 {
		t.Errorf("merged bar Close = %v, want 404", got[0].Close)
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		{Symbol: "AAPL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 185.0, High: 186.0, Low: 184.0, Close: 185.5, Volume: 50000000},
		{Symbol: "GOOGL", Timestamp: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 140.0, High: 141.0, Low: 139.0, Close: 140.5, Volume: 20000000},
	}
	if err := ps.WriteBars(ctx, bars, domain.ResolutionDay); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	symbols, err := ps.ListSymbols(ctx, domain.ResolutionDay)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(symbols) != 2 {
		t.Fatalf("ListSymbols returned %d symbols, want 2", len(symbols))
	}
	if symbols[0] != "AAPL" || symbols[1] != "GOOGL" {
		t.Errorf("ListSymbols = %v, want [AAPL GOOGL]", symbols)
	}
}

func sampleArtifacts() ([]domain.Snapshot, []domain.Trade) {
	d := func(n int) time.Time { return time.Date(2024, 1, 1+n, 0, 0, 0, 0, time.UTC) }
	snaps := []domain.Snapshot{
		{Date: d(0), Cash: 100000, TotalValue: 100000},
		{Date: d(1), PositionShares: 950, Cash: 5000, HoldingsValue: 95950, TotalValue: 100950},
		{Date: d(2), Cash: 109500, TotalValue: 109500},
	}
	trades := []domain.Trade{
		domain.BuyTrade{Fill: domain.Fill{SignalDate: d(0), ExecutionDate: d(1), Price: 100, Shares: 950, Value: 95000, PercentB: 0.05}},
		domain.SellTrade{Fill: domain.Fill{SignalDate: d(1), ExecutionDate: d(2), Price: 110, Shares: 950, Value: 104500, PercentB: 0.95}, Profit: 9500, ProfitPct: 10},
	}
	return snaps, trades
}

func TestParquetStoreArtifacts(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	ctx := context.Background()
	snaps, trades := sampleArtifacts()

	if err := ps.WriteArtifacts(ctx, "run-1", snaps, trades); err != nil {
		t.Fatalf("WriteArtifacts: %v", err)
	}

	gotSnaps, err := ps.ReadSnapshots(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadSnapshots: %v", err)
	}
	if len(gotSnaps) != 3 || gotSnaps[1].PositionShares != 950 || gotSnaps[2].TotalValue != 109500 {
		t.Errorf("ReadSnapshots = %+v", gotSnaps)
	}

	gotTrades, err := ps.ReadTrades(ctx, "run-1")
	if err != nil {
		t.Fatalf("ReadTrades: %v", err)
	}
	if len(gotTrades) != 2 {
		t.Fatalf("ReadTrades returned %d trades, want 2", len(gotTrades))
	}
	if _, ok := gotTrades[0].(domain.BuyTrade); !ok {
		t.Errorf("trade 0 is %T, want BuyTrade", gotTrades[0])
	}
	sell, ok := gotTrades[1].(domain.SellTrade)
	if !ok {
		t.Fatalf("trade 1 is %T, want SellTrade", gotTrades[1])
	}
	if sell.Profit != 9500 || sell.ProfitPct != 10 {
		t.Errorf("sell profit = (%v, %v), want (9500, 10)", sell.Profit, sell.ProfitPct)
	}

	if _, err := ps.ReadTrades(ctx, "missing"); err == nil {
		t.Error("ReadTrades(missing) returned nil error")
	}

	if err := ps.DeleteArtifacts(ctx, "run-1"); err != nil {
		t.Fatalf("DeleteArtifacts: %v", err)
	}
	if _, err := ps.ReadSnapshots(ctx, "run-1"); err == nil {
		t.Error("ReadSnapshots after DeleteArtifacts returned nil error")
	}
	if err := ps.DeleteArtifacts(ctx, "missing"); err != nil {
		t.Errorf("DeleteArtifacts(missing) = %v, want nil", err)
	}
}

func TestSQLiteStoreRuns(t *testing.T) {
	dir := t.TempDir()
	st, err := NewSQLiteStore(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer func() {
		if cerr := st.Close(); cerr != nil {
			t.Errorf("Close() returned error: %v", cerr)
		}
	}()
	ctx := context.Background()
	snaps, trades := sampleArtifacts()
	trades = append(trades, domain.SellTrade{
		Fill:   domain.Fill{SignalDate: snaps[2].Date, ExecutionDate: snaps[2].Date, Price: 1, Shares: 1, Value: 1, PercentB: math.NaN()},
		Forced: true,
	})

	run := &RunRecord{
		Symbol:    "SONATSOFTW",
		Strategy:  "bollinger",
		Params:    map[string]float64{"window": 20, "num_std": 2},
		Start:     snaps[0].Date,
		End:       snaps[2].Date,
		Metrics:   domain.Metrics{InitialCapital: 100000, FinalValue: 109500, TotalReturnPct: 9.5, TotalTrades: 3},
		Trades:    trades,
		Snapshots: snaps,
	}
	if err := st.SaveRun(ctx, run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if run.ID == "" {
		t.Fatal("SaveRun did not assign an ID")
	}

	got, err := st.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Metrics.FinalValue != 109500 || got.Metrics.TotalTrades != 3 {
		t.Errorf("GetRun metrics = %+v", got.Metrics)
	}
	if got.Params["window"] != 20 {
		t.Errorf("GetRun params = %v, want window 20", got.Params)
	}
	if len(got.Trades) != 3 || len(got.Snapshots) != 3 {
		t.Fatalf("GetRun returned %d trades, %d snapshots, want 3, 3", len(got.Trades), len(got.Snapshots))
	}
	forced, ok := got.Trades[2].(domain.SellTrade)
	if !ok || !forced.Forced {
		t.Errorf("trade 2 = %+v, want forced SellTrade", got.Trades[2])
	}
	if !math.IsNaN(forced.PercentB) {
		t.Errorf("forced PercentB = %v, want NaN", forced.PercentB)
	}

	list, err := st.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(list) != 1 || list[0].ID != run.ID {
		t.Errorf("ListRuns = %+v, want one run %s", list, run.ID)
	}

	if _, err := st.GetRun(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(nope) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreOrders(t *testing.T) {
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "orders.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer st.Close()
	ctx := context.Background()

	o := &domain.Order{
		ClientOrderID: "c-1",
		Symbol:        "AAPL",
		Side:          domain.OrderSideBuy,
		Qty:           10,
		Status:        domain.OrderStatusNew,
		CreatedAt:     time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC),
	}
	if err := st.SaveOrder(ctx, o); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	o.Status = domain.OrderStatusFilled
	o.FilledQty = 10
	o.FilledAvgPrice = 101.5
	if err := st.UpdateOrder(ctx, o); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err := st.GetOrder(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.FilledAvgPrice != 101.5 {
		t.Errorf("GetOrder = %+v, want filled at 101.5", got)
	}

	filled, err := st.ListOrders(ctx, domain.OrderStatusFilled)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(filled) != 1 {
		t.Errorf("ListOrders(filled) returned %d orders, want 1", len(filled))
	}

	if err := st.UpdateOrder(ctx, &domain.Order{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateOrder(missing) error = %v, want ErrNotFound", err)
	}
}
