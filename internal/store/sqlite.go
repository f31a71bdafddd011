package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"walkfwd/internal/domain"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface checks.
var _ RunStore = (*SQLiteStore)(nil)
var _ OrderStore = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements RunStore and OrderStore backed by a SQLite
// database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, creates the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", dbPath, err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var schema = []string{
	`PRAGMA foreign_keys = ON`,
	`CREATE TABLE IF NOT EXISTS runs (
		id               TEXT PRIMARY KEY,
		symbol           TEXT NOT NULL,
		strategy         TEXT NOT NULL,
		params           TEXT NOT NULL,
		start_ms         INTEGER NOT NULL,
		end_ms           INTEGER NOT NULL,
		created_ms       INTEGER NOT NULL,
		initial_capital  REAL NOT NULL,
		final_value      REAL NOT NULL,
		net_profit       REAL NOT NULL,
		total_return_pct REAL NOT NULL,
		max_drawdown_pct REAL NOT NULL,
		sharpe_ratio     REAL NOT NULL,
		total_trades     INTEGER NOT NULL,
		closed_trades    INTEGER NOT NULL,
		win_rate_pct     REAL NOT NULL,
		avg_win          REAL NOT NULL,
		avg_loss         REAL NOT NULL,
		profit_factor    REAL NOT NULL,
		exposure_pct     REAL NOT NULL,
		ignored_signals  INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS runs_created ON runs(created_ms)`,
	`CREATE TABLE IF NOT EXISTS run_trades (
		run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq          INTEGER NOT NULL,
		side         TEXT NOT NULL,
		signal_ms    INTEGER NOT NULL,
		execution_ms INTEGER NOT NULL,
		price        REAL NOT NULL,
		shares       INTEGER NOT NULL,
		value        REAL NOT NULL,
		percent_b    REAL,
		profit       REAL,
		profit_pct   REAL,
		forced       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS run_snapshots (
		run_id          TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		seq             INTEGER NOT NULL,
		date_ms         INTEGER NOT NULL,
		position_shares INTEGER NOT NULL,
		cash            REAL NOT NULL,
		holdings_value  REAL NOT NULL,
		total_value     REAL NOT NULL,
		PRIMARY KEY (run_id, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id               TEXT PRIMARY KEY,
		client_order_id  TEXT NOT NULL,
		symbol           TEXT NOT NULL,
		side             TEXT NOT NULL,
		qty              INTEGER NOT NULL,
		status           TEXT NOT NULL,
		filled_qty       INTEGER NOT NULL,
		filled_avg_price REAL NOT NULL,
		created_ms       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS orders_status ON orders(status)`,
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// RunStore implementation
// ---------------------------------------------------------------------------

// SaveRun inserts the run, its trades and its snapshots in one transaction.
// An empty ID is replaced with a new UUID.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	m := run.Metrics
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, symbol, strategy, params, start_ms, end_ms, created_ms,
		initial_capital, final_value, net_profit, total_return_pct, max_drawdown_pct,
		sharpe_ratio, total_trades, closed_trades, win_rate_pct, avg_win, avg_loss,
		profit_factor, exposure_pct, ignored_signals
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Symbol, run.Strategy, string(params),
		run.Start.UnixMilli(), run.End.UnixMilli(), run.CreatedAt.UnixMilli(),
		m.InitialCapital, m.FinalValue, m.NetProfit, m.TotalReturnPct, m.MaxDrawdownPct,
		m.SharpeRatio, m.TotalTrades, m.ClosedTrades, m.WinRatePct, m.AvgWin, m.AvgLoss,
		m.ProfitFactor, m.ExposurePct, m.IgnoredSignals,
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}

	tradeStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_trades (
		run_id, seq, side, signal_ms, execution_ms, price, shares, value,
		percent_b, profit, profit_pct, forced
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer tradeStmt.Close()
	for i, t := range run.Trades {
		r := toTradeRecord(i, t)
		if _, err := tradeStmt.ExecContext(ctx,
			run.ID, i, r.Side, r.SignalDate, r.ExecutionDate, r.Price, r.Shares, r.Value,
			nullFloat(r.PercentB), nullFloatPtr(r.Profit), nullFloatPtr(r.ProfitPct), r.Forced,
		); err != nil {
			return fmt.Errorf("inserting trade %d of run %s: %w", i, run.ID, err)
		}
	}

	snapStmt, err := tx.PrepareContext(ctx, `INSERT INTO run_snapshots (
		run_id, seq, date_ms, position_shares, cash, holdings_value, total_value
	) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer snapStmt.Close()
	for i, sn := range run.Snapshots {
		if _, err := snapStmt.ExecContext(ctx,
			run.ID, i, sn.Date.UnixMilli(), sn.PositionShares, sn.Cash, sn.HoldingsValue, sn.TotalValue,
		); err != nil {
			return fmt.Errorf("inserting snapshot %d of run %s: %w", i, run.ID, err)
		}
	}

	return tx.Commit()
}

const runColumns = `id, symbol, strategy, params, start_ms, end_ms, created_ms,
	initial_capital, final_value, net_profit, total_return_pct, max_drawdown_pct,
	sharpe_ratio, total_trades, closed_trades, win_rate_pct, avg_win, avg_loss,
	profit_factor, exposure_pct, ignored_signals`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*RunRecord, error) {
	var (
		r                         RunRecord
		params                    string
		startMs, endMs, createdMs int64
	)
	m := &r.Metrics
	err := row.Scan(&r.ID, &r.Symbol, &r.Strategy, &params, &startMs, &endMs, &createdMs,
		&m.InitialCapital, &m.FinalValue, &m.NetProfit, &m.TotalReturnPct, &m.MaxDrawdownPct,
		&m.SharpeRatio, &m.TotalTrades, &m.ClosedTrades, &m.WinRatePct, &m.AvgWin, &m.AvgLoss,
		&m.ProfitFactor, &m.ExposurePct, &m.IgnoredSignals)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", r.ID, err)
	}
	r.Start = time.UnixMilli(startMs).UTC()
	r.End = time.UnixMilli(endMs).UTC()
	r.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &r, nil
}

// GetRun retrieves a run with its trades and snapshots.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT side, signal_ms, execution_ms, price, shares, value,
		percent_b, profit, profit_pct, forced FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			r                     TradeRecord
			percentB, profit, pct sql.NullFloat64
		)
		if err := rows.Scan(&r.Side, &r.SignalDate, &r.ExecutionDate, &r.Price, &r.Shares, &r.Value,
			&percentB, &profit, &pct, &r.Forced); err != nil {
			return nil, err
		}
		r.PercentB = math.NaN()
		if percentB.Valid {
			r.PercentB = percentB.Float64
		}
		if profit.Valid {
			r.Profit = &profit.Float64
		}
		if pct.Valid {
			r.ProfitPct = &pct.Float64
		}
		run.Trades = append(run.Trades, fromTradeRecord(r))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	snaps, err := s.db.QueryContext(ctx, `SELECT date_ms, position_shares, cash, holdings_value, total_value
		FROM run_snapshots WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer snaps.Close()
	for snaps.Next() {
		var (
			sn     domain.Snapshot
			dateMs int64
		)
		if err := snaps.Scan(&dateMs, &sn.PositionShares, &sn.Cash, &sn.HoldingsValue, &sn.TotalValue); err != nil {
			return nil, err
		}
		sn.Date = time.UnixMilli(dateMs).UTC()
		run.Snapshots = append(run.Snapshots, sn)
	}
	return run, snaps.Err()
}

// ListRuns returns the most recent runs, newest first, without artifacts.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_ms DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// OrderStore implementation
// ---------------------------------------------------------------------------

// SaveOrder inserts a new order into the database.
func (s *SQLiteStore) SaveOrder(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO orders (
		id, client_order_id, symbol, side, qty, status, filled_qty, filled_avg_price, created_ms
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.ClientOrderID, o.Symbol, string(o.Side), o.Qty, string(o.Status),
		o.FilledQty, o.FilledAvgPrice, o.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("inserting order %s: %w", o.ID, err)
	}
	return nil
}

const orderColumns = `id, client_order_id, symbol, side, qty, status, filled_qty, filled_avg_price, created_ms`

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o            domain.Order
		side, status string
		createdMs    int64
	)
	if err := row.Scan(&o.ID, &o.ClientOrderID, &o.Symbol, &side, &o.Qty, &status,
		&o.FilledQty, &o.FilledAvgPrice, &createdMs); err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &o, nil
}

// GetOrder retrieves a single order by its ID.
func (s *SQLiteStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

// ListOrders returns all orders matching the given status.
func (s *SQLiteStore) ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_ms, id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// UpdateOrder persists changes to an existing order.
func (s *SQLiteStore) UpdateOrder(ctx context.Context, o *domain.Order) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, filled_qty = ?, filled_avg_price = ? WHERE id = ?`,
		string(o.Status), o.FilledQty, o.FilledAvgPrice, o.ID)
	if err != nil {
		return fmt.Errorf("updating order %s: %w", o.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.ID, ErrNotFound)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullFloatPtr(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*v)
}
