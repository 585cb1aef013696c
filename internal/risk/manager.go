// Package risk provides an optional deployment-level gate that a harness or
// strategy can consult before submitting an order, layered on top of (never
// instead of) the order book's own always-on pre-trade checks.
package risk

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

// Config holds a single participant's deployment-level risk limits.
type Config struct {
	MaxOpenOrders           int
	MaxDailyLoss            decimal.Decimal
	MaxDailyLossPct         decimal.Decimal // fraction of AccountCapital, e.g. 0.02 = 2%
	AccountCapital          decimal.Decimal
	MaxPositionPerSymbol    decimal.Decimal // notional, same unit as cash
	StopLossPerSymbol       decimal.Decimal
	MaxDrawdownPct          decimal.Decimal
	MaxConsecutiveLosses    int
	ConsecutiveLossCooldown time.Duration
}

// Snapshot is a point-in-time read of a Manager's state, safe to log or
// expose without holding the manager's lock.
type Snapshot struct {
	EmergencyStop        bool
	DailyPnL             decimal.Decimal
	DailyLossLimit       decimal.Decimal
	ConsecutiveLosses    int
	InCooldown           bool
	CooldownRemaining    time.Duration
	MaxConsecutiveLosses int
}

// Manager tracks one participant's deployment-level risk state: open order
// count, realized daily PnL, per-symbol notional exposure, and an
// emergency-stop / cooldown latch. It is safe for concurrent use.
type Manager struct {
	mu                sync.RWMutex
	cfg               Config
	openOrders        int
	dailyPnL          decimal.Decimal
	positions         map[string]decimal.Decimal // symbol -> notional exposure
	emergencyStop     bool
	dailyStartPnL     decimal.Decimal
	consecutiveLosses int
	cooldownUntil     time.Time
}

// New constructs a Manager from cfg.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]decimal.Decimal),
	}
}

// Allow reports whether a prospective order of the given side and notional
// for symbol should be permitted, checking emergency-stop, cooldown,
// max-open-orders, daily-loss-limit, and max-position-per-symbol in that
// order.
func (m *Manager) Allow(symbol string, side types.Side, notional decimal.Decimal) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyStop {
		return fmt.Errorf("emergency stop active")
	}
	if m.inCooldownLocked() {
		return fmt.Errorf("loss cooldown active: %s remaining", m.cooldownUntil.Sub(time.Now()))
	}
	if m.cfg.MaxOpenOrders > 0 && m.openOrders >= m.cfg.MaxOpenOrders {
		return fmt.Errorf("max open orders reached: %d/%d", m.openOrders, m.cfg.MaxOpenOrders)
	}
	dailyLossLimit := m.dailyLossLimitLocked()
	if dailyLossLimit.IsPositive() && m.dailyPnL.LessThanOrEqual(dailyLossLimit.Neg()) {
		return fmt.Errorf("daily loss limit reached: %s/%s", m.dailyPnL, dailyLossLimit.Neg())
	}
	if m.cfg.MaxPositionPerSymbol.IsPositive() {
		pos := m.positions[symbol]
		var projected decimal.Decimal
		if side == types.Buy {
			projected = pos.Add(notional)
		} else {
			projected = pos.Sub(notional)
		}
		if projected.Abs().GreaterThan(m.cfg.MaxPositionPerSymbol) {
			return fmt.Errorf("position limit for %s: %s -> %s exceeds %s", symbol, pos, projected, m.cfg.MaxPositionPerSymbol)
		}
	}
	return nil
}

// SetOpenOrders records the participant's current open-order count.
func (m *Manager) SetOpenOrders(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = n
}

// RecordPnL adds amount to the running daily realized PnL.
func (m *Manager) RecordPnL(amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = m.dailyPnL.Add(amount)
}

// AddPosition increases tracked notional exposure for symbol (signed: a
// SELL passes a negative delta).
func (m *Manager) AddPosition(symbol string, delta decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[symbol] = m.positions[symbol].Add(delta)
	if m.positions[symbol].IsZero() {
		delete(m.positions, symbol)
	}
}

// SetEmergencyStop latches or releases the emergency stop.
func (m *Manager) SetEmergencyStop(stop bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emergencyStop = stop
}

// EmergencyStop reports whether the emergency stop is latched.
func (m *Manager) EmergencyStop() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyStop
}

// DailyPnL returns the running daily realized PnL.
func (m *Manager) DailyPnL() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// ResetDaily rolls dailyPnL into dailyStartPnL and clears the loss streak,
// intended to run once per simulated trading day.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyStartPnL = m.dailyPnL
	m.dailyPnL = decimal.Zero
	m.consecutiveLosses = 0
	m.cooldownUntil = time.Time{}
}

// SyncFromLedger refreshes openOrders, dailyPnL, and per-symbol notional
// exposure from the shared ledger's view of this participant, replacing the
// manager's own bookkeeping of those fields with the source of truth.
func (m *Manager) SyncFromLedger(participantID string, openOrders int, symbols []string, ledger *portfolio.Ledger, priceMap map[string]decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openOrders = openOrders
	m.dailyPnL = ledger.PnL(participantID, priceMap)

	positions := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		qty := ledger.Position(participantID, symbol)
		if qty == 0 {
			continue
		}
		basis, ok := ledger.CostBasis(participantID, symbol)
		if !ok {
			continue
		}
		exposure := basis.Mul(decimal.NewFromInt(qty))
		positions[symbol] = exposure
	}
	m.positions = positions
}

// EvaluateStopLoss reports whether the unrealized loss of a qty position
// held at basis, marked at currentPrice, breaches the configured per-symbol
// stop loss. Realized PnL is not included.
func (m *Manager) EvaluateStopLoss(qty int64, basis, currentPrice decimal.Decimal) bool {
	if m.cfg.StopLossPerSymbol.Sign() <= 0 {
		return false
	}
	unrealized := currentPrice.Sub(basis).Mul(decimal.NewFromInt(qty))
	return unrealized.LessThanOrEqual(m.cfg.StopLossPerSymbol.Neg())
}

// EvaluateDrawdown reports whether total PnL as a fraction of capital
// breaches the configured max drawdown.
func (m *Manager) EvaluateDrawdown(realizedPnL, unrealizedPnL, capital decimal.Decimal) bool {
	if m.cfg.MaxDrawdownPct.Sign() <= 0 || capital.Sign() <= 0 {
		return false
	}
	totalPnL := realizedPnL.Add(unrealizedPnL)
	drawdownPct := totalPnL.Neg().Div(capital)
	return drawdownPct.GreaterThanOrEqual(m.cfg.MaxDrawdownPct)
}

// DailyLossLimit returns the effective daily loss limit after deriving
// the percentage-of-capital variant, if configured.
func (m *Manager) DailyLossLimit() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyLossLimitLocked()
}

// RecordTradeResult updates the consecutive-loss streak from a realized
// PnL delta and returns true when the streak just triggered a cooldown.
func (m *Manager) RecordTradeResult(realizedDelta decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case realizedDelta.IsNegative():
		m.consecutiveLosses++
	case realizedDelta.IsPositive():
		m.consecutiveLosses = 0
	}

	if m.cfg.MaxConsecutiveLosses <= 0 || m.consecutiveLosses < m.cfg.MaxConsecutiveLosses {
		return false
	}

	cooldown := m.cfg.ConsecutiveLossCooldown
	if cooldown <= 0 {
		cooldown = 15 * time.Minute
	}
	m.cooldownUntil = time.Now().Add(cooldown)
	return true
}

// ConsecutiveLosses returns the current consecutive-loss streak length.
func (m *Manager) ConsecutiveLosses() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveLosses
}

// InCooldown reports whether the consecutive-loss cooldown is active.
func (m *Manager) InCooldown() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inCooldownLocked()
}

// CooldownRemaining returns the time left in an active cooldown, or zero.
func (m *Manager) CooldownRemaining() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.inCooldownLocked() {
		return 0
	}
	return m.cooldownUntil.Sub(time.Now())
}

// Snapshot returns a point-in-time copy of the manager's state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	remaining := time.Duration(0)
	inCooldown := m.inCooldownLocked()
	if inCooldown {
		remaining = m.cooldownUntil.Sub(time.Now())
	}
	return Snapshot{
		EmergencyStop:        m.emergencyStop,
		DailyPnL:             m.dailyPnL,
		DailyLossLimit:       m.dailyLossLimitLocked(),
		ConsecutiveLosses:    m.consecutiveLosses,
		InCooldown:           inCooldown,
		CooldownRemaining:    remaining,
		MaxConsecutiveLosses: m.cfg.MaxConsecutiveLosses,
	}
}

func (m *Manager) dailyLossLimitLocked() decimal.Decimal {
	limit := m.cfg.MaxDailyLoss
	if m.cfg.AccountCapital.IsPositive() && m.cfg.MaxDailyLossPct.IsPositive() {
		derived := m.cfg.AccountCapital.Mul(m.cfg.MaxDailyLossPct)
		if limit.Sign() <= 0 || derived.LessThan(limit) {
			limit = derived
		}
	}
	return limit
}

func (m *Manager) inCooldownLocked() bool {
	if m.cooldownUntil.IsZero() {
		return false
	}
	return time.Now().Before(m.cooldownUntil)
}
