package engine

import (
	"errors"
	"fmt"
	"sync"

	"walkfwd/internal/domain"
)

// ErrRiskLimit is returned when an order would breach a risk limit.
var ErrRiskLimit = errors.New("risk limit exceeded")

// RiskManager enforces pre-trade risk rules such as position sizing limits
// and maximum daily loss constraints.
type RiskManager struct {
	maxPositionPct  float64
	maxDailyLossPct float64

	mu             sync.Mutex
	dayStartEquity float64
}

// NewRiskManager creates a RiskManager with the specified risk thresholds.
//
//   - maxPositionPct: maximum fraction of equity allowed in a single order's
//     notional (e.g. 0.95 for 95%).
//   - maxDailyLossPct: maximum fraction of the day's starting equity that may
//     be lost before new buys are refused (e.g. 0.02 for 2%). Zero disables
//     the check.
func NewRiskManager(maxPositionPct, maxDailyLossPct float64) *RiskManager {
	return &RiskManager{
		maxPositionPct:  maxPositionPct,
		maxDailyLossPct: maxDailyLossPct,
	}
}

// StartDay records the equity that daily losses are measured against.
func (rm *RiskManager) StartDay(equity float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dayStartEquity = equity
}

// CheckOrder evaluates whether an order of qty shares at price complies with
// the configured limits given the account state. Sells always pass.
func (rm *RiskManager) CheckOrder(side domain.OrderSide, qty int64, price float64, account *domain.AccountInfo) error {
	if side == domain.OrderSideSell {
		return nil
	}

	notional := float64(qty) * price
	if limit := rm.maxPositionPct * account.Equity; notional > limit {
		return fmt.Errorf("%w: notional %.2f exceeds %.0f%% of equity (%.2f)",
			ErrRiskLimit, notional, rm.maxPositionPct*100, limit)
	}

	rm.mu.Lock()
	start := rm.dayStartEquity
	rm.mu.Unlock()
	if rm.maxDailyLossPct > 0 && start > 0 {
		if loss := (start - account.Equity) / start; loss > rm.maxDailyLossPct {
			return fmt.Errorf("%w: daily loss %.2f%% exceeds %.2f%%",
				ErrRiskLimit, loss*100, rm.maxDailyLossPct*100)
		}
	}
	return nil
}
