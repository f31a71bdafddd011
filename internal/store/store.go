// Package store defines storage interfaces for persisting and retrieving
// bars, backtest run artifacts, run history and live orders.
package store

import (
	"context"
	"time"

	"walkfwd/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars of one resolution to storage.
	WriteBars(ctx context.Context, bars []domain.Bar, res domain.Resolution) error

	// ReadBars returns bars for the given symbol within [start, end], in
	// ascending timestamp order.
	ReadBars(ctx context.Context, symbol string, res domain.Resolution, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols stored at the resolution.
	ListSymbols(ctx context.Context, res domain.Resolution) ([]string, error)
}

// ArtifactStore persists the per-bar artifacts of a finished run.
type ArtifactStore interface {
	// WriteArtifacts stores the snapshot series and trade log of a run.
	WriteArtifacts(ctx context.Context, runID string, snapshots []domain.Snapshot, trades []domain.Trade) error

	// ReadSnapshots returns the snapshot series of a run.
	ReadSnapshots(ctx context.Context, runID string) ([]domain.Snapshot, error)

	// ReadTrades returns the trade log of a run.
	ReadTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// DeleteArtifacts removes everything stored for a run. Deleting a run
	// that has no artifacts is not an error.
	DeleteArtifacts(ctx context.Context, runID string) error
}

// RunStore persists the history of backtest runs.
type RunStore interface {
	// SaveRun stores a run record with its metrics, trades and snapshots
	// atomically.
	SaveRun(ctx context.Context, run *RunRecord) error

	// GetRun retrieves a run with its trades and snapshots.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs without their artifacts, up to
	// limit.
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)
}

// OrderStore persists and retrieves live order records.
type OrderStore interface {
	// SaveOrder inserts a new order into storage.
	SaveOrder(ctx context.Context, order *domain.Order) error

	// GetOrder retrieves a single order by its ID.
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrders returns all orders matching the given status.
	ListOrders(ctx context.Context, status domain.OrderStatus) ([]domain.Order, error)

	// UpdateOrder persists changes to an existing order.
	UpdateOrder(ctx context.Context, order *domain.Order) error
}

// RunRecord is one persisted backtest run.
type RunRecord struct {
	ID        string
	Symbol    string
	Strategy  string
	Params    map[string]float64
	Start     time.Time
	End       time.Time
	CreatedAt time.Time
	Metrics   domain.Metrics

	// Trades and Snapshots are empty when listed via ListRuns.
	Trades    []domain.Trade
	Snapshots []domain.Snapshot
}
