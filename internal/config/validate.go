package config

import "fmt"

// Validate checks structural and numeric constraints across the config,
// one fmt.Errorf per violated constraint.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}
	seenSymbols := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbol entry missing a name")
		}
		if seenSymbols[s.Symbol] {
			return fmt.Errorf("duplicate symbol %q", s.Symbol)
		}
		seenSymbols[s.Symbol] = true
		if _, err := s.Price(); err != nil {
			return fmt.Errorf("symbol %q: invalid initial_price %q: %w", s.Symbol, s.InitialPrice, err)
		}
	}

	if len(c.Participants) == 0 {
		return fmt.Errorf("at least one participant must be configured")
	}
	seenParticipants := make(map[string]bool, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID == "" {
			return fmt.Errorf("participant entry missing an id")
		}
		if seenParticipants[p.ID] {
			return fmt.Errorf("duplicate participant id %q", p.ID)
		}
		seenParticipants[p.ID] = true
		if _, err := p.Cash(); err != nil {
			return fmt.Errorf("participant %q: invalid initial_cash %q: %w", p.ID, p.InitialCash, err)
		}
		for _, pos := range p.Positions {
			if !seenSymbols[pos.Symbol] {
				return fmt.Errorf("participant %q: position for unconfigured symbol %q", p.ID, pos.Symbol)
			}
			if pos.Qty == 0 {
				return fmt.Errorf("participant %q: position for %q must be non-zero", p.ID, pos.Symbol)
			}
		}
	}

	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0, got %s", c.Engine.TickInterval)
	}
	if c.Engine.Sigma < 0 {
		return fmt.Errorf("engine.sigma must be >= 0, got %f", c.Engine.Sigma)
	}
	floor, err := c.Engine.Floor()
	if err != nil {
		return fmt.Errorf("engine.floor_price: %w", err)
	}
	if !floor.IsPositive() {
		return fmt.Errorf("engine.floor_price must be > 0, got %s", c.Engine.FloorPrice)
	}

	if c.Maker.Enabled {
		if c.Maker.Participant == "" || !seenParticipants[c.Maker.Participant] {
			return fmt.Errorf("maker.participant %q is not a configured participant", c.Maker.Participant)
		}
		if c.Maker.MinSpreadBps <= 0 {
			return fmt.Errorf("maker.min_spread_bps must be > 0, got %f", c.Maker.MinSpreadBps)
		}
		if c.Maker.OrderSize <= 0 {
			return fmt.Errorf("maker.order_size must be > 0, got %d", c.Maker.OrderSize)
		}
		if c.Maker.MinOrderSize <= 0 {
			return fmt.Errorf("maker.min_order_size must be > 0, got %d", c.Maker.MinOrderSize)
		}
	}

	if c.Momentum.Enabled {
		if c.Momentum.Participant == "" || !seenParticipants[c.Momentum.Participant] {
			return fmt.Errorf("momentum.participant %q is not a configured participant", c.Momentum.Participant)
		}
		if c.Momentum.MinImbalance <= 0 || c.Momentum.MinImbalance > 1 {
			return fmt.Errorf("momentum.min_imbalance must be within (0,1], got %f", c.Momentum.MinImbalance)
		}
		if c.Momentum.DepthLevels <= 0 {
			return fmt.Errorf("momentum.depth_levels must be > 0, got %d", c.Momentum.DepthLevels)
		}
		if c.Momentum.OrderQty <= 0 {
			return fmt.Errorf("momentum.order_qty must be > 0, got %d", c.Momentum.OrderQty)
		}
	}

	if c.Risk.MaxOpenOrders <= 0 {
		return fmt.Errorf("risk.max_open_orders must be > 0, got %d", c.Risk.MaxOpenOrders)
	}
	if _, err := c.Risk.MaxDailyLossDecimal(); err != nil {
		return fmt.Errorf("risk.max_daily_loss: %w", err)
	}
	if c.Risk.MaxDailyLossPct < 0 || c.Risk.MaxDailyLossPct > 1 {
		return fmt.Errorf("risk.max_daily_loss_pct must be within [0,1], got %f", c.Risk.MaxDailyLossPct)
	}
	capital, err := c.Risk.AccountCapitalDecimal()
	if err != nil {
		return fmt.Errorf("risk.account_capital: %w", err)
	}
	if capital.IsNegative() {
		return fmt.Errorf("risk.account_capital must be >= 0, got %s", c.Risk.AccountCapital)
	}
	maxPos, err := c.Risk.MaxPositionPerSymbolDecimal()
	if err != nil {
		return fmt.Errorf("risk.max_position_per_symbol: %w", err)
	}
	if !maxPos.IsPositive() {
		return fmt.Errorf("risk.max_position_per_symbol must be > 0, got %s", c.Risk.MaxPositionPerSymbol)
	}
	if c.Risk.MaxDrawdownPct < 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("risk.max_drawdown_pct must be within [0,1], got %f", c.Risk.MaxDrawdownPct)
	}
	if c.Risk.MaxConsecutiveLosses < 0 {
		return fmt.Errorf("risk.max_consecutive_losses must be >= 0, got %d", c.Risk.MaxConsecutiveLosses)
	}
	if c.Risk.ConsecutiveLossCooldown < 0 {
		return fmt.Errorf("risk.consecutive_loss_cooldown must be >= 0, got %s", c.Risk.ConsecutiveLossCooldown)
	}

	return nil
}
