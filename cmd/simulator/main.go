package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/config"
	"github.com/marketsim/exchange-sim/internal/marketdata"
	"github.com/marketsim/exchange-sim/internal/notify"
	"github.com/marketsim/exchange-sim/internal/orderbook"
	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/risk"
	"github.com/marketsim/exchange-sim/internal/sim"
	"github.com/marketsim/exchange-sim/internal/strategy"
	"github.com/marketsim/exchange-sim/internal/types"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	runID := uuid.NewString()
	log.Printf("exchange-sim starting run=%s (log_level=%s, symbols=%d)", runID, cfg.LogLevel, len(cfg.Symbols))

	symbolPrices := make(map[string]decimal.Decimal, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		price, sErr := s.Price()
		if sErr != nil {
			log.Fatalf("symbol %s: %v", s.Symbol, sErr)
		}
		symbolPrices[s.Symbol] = price
	}

	ledger := portfolio.NewLedger()
	for _, p := range cfg.Participants {
		cash, pErr := p.Cash()
		if pErr != nil {
			log.Fatalf("participant %s: %v", p.ID, pErr)
		}
		if aErr := ledger.AddParticipant(p.ID, cash); aErr != nil {
			log.Fatalf("participant %s: %v", p.ID, aErr)
		}
		for _, pos := range p.Positions {
			if sErr := ledger.SetInitialPosition(p.ID, pos.Symbol, pos.Qty, symbolPrices[pos.Symbol]); sErr != nil {
				log.Fatalf("participant %s: seed %s: %v", p.ID, pos.Symbol, sErr)
			}
		}
	}

	floor, err := cfg.Engine.Floor()
	if err != nil {
		log.Fatalf("engine floor_price: %v", err)
	}
	market := marketdata.New(marketdata.Config{
		Interval: cfg.Engine.TickInterval,
		Sigma:    cfg.Engine.Sigma,
		Floor:    floor,
		Seed:     cfg.Engine.Seed,
	})

	harness := sim.New(ledger, market)

	for _, s := range cfg.Symbols {
		price := symbolPrices[s.Symbol]
		market.AddSymbol(s.Symbol, price)
		book := orderbook.NewBook(s.Symbol, price)
		book.SetPortfolio(ledger)
		book.SetKnownParticipants(ledger.Exists)
		harness.AddBook(s.Symbol, book)
	}

	// One deployment-level risk manager per participant; the shared order
	// book checks stay the always-on authority, these track streaks,
	// stop-loss, and drawdown on top.
	riskMgrs := make(map[string]*risk.Manager, len(cfg.Participants))
	for _, p := range cfg.Participants {
		riskMgrs[p.ID] = risk.New(buildRiskConfig(cfg.Risk))
	}

	if cfg.Maker.Enabled {
		symbols := makerSymbols(cfg)
		maker := strategy.NewMarketMaker(strategy.MakerConfig{
			MinSpreadBps:         cfg.Maker.MinSpreadBps,
			SpreadMultiplier:     cfg.Maker.SpreadMultiplier,
			OrderSize:            cfg.Maker.OrderSize,
			InventorySkewBps:     cfg.Maker.InventorySkewBps,
			InventoryWidenFactor: cfg.Maker.InventoryWidenFactor,
			MinOrderSize:         cfg.Maker.MinOrderSize,
		})
		harness.AddStrategy(strategy.NewMakerStrategy(cfg.Maker.Participant, symbols, cfg.Maker.MaxPosition, maker))
		log.Printf("maker strategy enabled for %v as %s", symbols, cfg.Maker.Participant)
	}

	if cfg.Momentum.Enabled {
		symbols := momentumSymbols(cfg)
		momentum := strategy.NewMomentum(strategy.MomentumConfig{
			MinImbalance:      cfg.Momentum.MinImbalance,
			DepthLevels:       cfg.Momentum.DepthLevels,
			OrderQty:          cfg.Momentum.OrderQty,
			MaxSlippageBps:    cfg.Momentum.MaxSlippageBps,
			Cooldown:          cfg.Momentum.Cooldown,
			FlowWeight:        cfg.Momentum.FlowWeight,
			ImbalanceWeight:   cfg.Momentum.ImbalanceWeight,
			FlowWindow:        cfg.Momentum.FlowWindow,
			MinCompositeScore: cfg.Momentum.MinCompositeScore,
		})
		flow := strategy.NewFlowTracker(cfg.Momentum.FlowWindow)
		harness.AddStrategy(strategy.NewMomentumStrategy(cfg.Momentum.Participant, symbols, momentum, flow))
		log.Printf("momentum strategy enabled for %v as %s", symbols, cfg.Momentum.Participant)
	}

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if notifier.Enabled() {
			harness.AddListener(sim.EventTrade, func(tr types.Trade) {
				// Order ids assign in submission order; the higher of the
				// two belongs to the incoming order that crossed the book.
				side := "BUY"
				if tr.SellOrderID > tr.BuyOrderID {
					side = "SELL"
				}
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if nErr := notifier.NotifyFill(ctx, tr.Symbol, side, tr.Price, tr.Quantity); nErr != nil {
					log.Printf("notify: %v", nErr)
				}
			})
			harness.AddListener(sim.EventOrderRejection, func(ev types.RejectionEvent) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if nErr := notifier.Send(ctx, "order rejected: "+ev.Detail); nErr != nil {
					log.Printf("notify: %v", nErr)
				}
			})
		} else {
			log.Println("telegram enabled in config but bot_token/chat_id missing, skipping")
		}
	}

	// Session stats for the closing summary, plus the per-trade feed into
	// each participant's loss-streak tracking. Mark-to-market PnL deltas
	// between fills stand in for realized PnL per trade.
	var statsMu sync.Mutex
	fills := 0
	volume := decimal.Zero
	lastPnL := make(map[string]decimal.Decimal, len(cfg.Participants))
	harness.AddListener(sim.EventTrade, func(tr types.Trade) {
		prices := market.GetAllPrices()

		statsMu.Lock()
		fills++
		volume = volume.Add(tr.Price.Mul(decimal.NewFromInt(tr.Quantity)))
		statsMu.Unlock()

		for _, id := range []string{tr.BuyerID, tr.SellerID} {
			mgr, ok := riskMgrs[id]
			if !ok {
				continue
			}
			statsMu.Lock()
			pnl := ledger.PnL(id, prices)
			delta := pnl.Sub(lastPnL[id])
			lastPnL[id] = pnl
			statsMu.Unlock()
			if mgr.RecordTradeResult(delta) {
				snap := mgr.Snapshot()
				log.Printf("risk: %s entered loss cooldown after %d consecutive losses", id, snap.ConsecutiveLosses)
				notifyRiskCooldown(notifier, snap)
			}
		}
	})

	// The risk managers are a deployment-level gate, evaluated on a fixed
	// cadence against the live ledger rather than wired into every strategy
	// call site.
	riskCtx, stopRiskSync := context.WithCancel(context.Background())
	defer stopRiskSync()
	go runRiskSync(riskCtx, ledger, market, riskMgrs, notifier, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	harness.Start(ctx)
	log.Println("simulation running, press Ctrl-C to stop")

	select {
	case <-sigCh:
		log.Println("shutdown signal received")
	case <-ctx.Done():
	}

	if hErr := harness.Stop(); hErr != nil {
		log.Printf("simulation stopped with error: %v", hErr)
	}

	prices := market.GetAllPrices()
	totalPnL := decimal.Zero
	for _, p := range cfg.Participants {
		role := "trader"
		if types.IsMarketMaker(p.ID) {
			role = "liquidity_provider"
		}
		pnl := ledger.PnL(p.ID, prices)
		totalPnL = totalPnL.Add(pnl)
		log.Printf("session summary: run=%s participant=%s role=%s cash=%s pnl=%s", runID, p.ID, role, ledger.Cash(p.ID), pnl)
	}

	statsMu.Lock()
	sessionFills, sessionVolume := fills, volume
	statsMu.Unlock()
	log.Printf("session summary: run=%s fills=%d volume=%s total_pnl=%s", runID, sessionFills, sessionVolume, totalPnL)
	if notifier != nil && notifier.Enabled() {
		nctx, ncancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ncancel()
		if nErr := notifier.NotifyDailySummary(nctx, totalPnL, sessionFills, sessionVolume); nErr != nil {
			log.Printf("notify: %v", nErr)
		}
	}
}

func buildRiskConfig(r config.RiskConfig) risk.Config {
	maxDailyLoss, err := r.MaxDailyLossDecimal()
	if err != nil {
		log.Fatalf("risk max_daily_loss: %v", err)
	}
	capital, err := r.AccountCapitalDecimal()
	if err != nil {
		log.Fatalf("risk account_capital: %v", err)
	}
	maxPosition, err := r.MaxPositionPerSymbolDecimal()
	if err != nil {
		log.Fatalf("risk max_position_per_symbol: %v", err)
	}
	stopLoss, err := r.StopLossPerSymbolDecimal()
	if err != nil {
		log.Fatalf("risk stop_loss_per_symbol: %v", err)
	}
	return risk.Config{
		MaxOpenOrders:           r.MaxOpenOrders,
		MaxDailyLoss:            maxDailyLoss,
		MaxDailyLossPct:         decimal.NewFromFloat(r.MaxDailyLossPct),
		AccountCapital:          capital,
		MaxPositionPerSymbol:    maxPosition,
		StopLossPerSymbol:       stopLoss,
		MaxDrawdownPct:          decimal.NewFromFloat(r.MaxDrawdownPct),
		MaxConsecutiveLosses:    r.MaxConsecutiveLosses,
		ConsecutiveLossCooldown: r.ConsecutiveLossCooldown,
	}
}

func makerSymbols(cfg config.Config) []string {
	if len(cfg.Maker.Symbols) > 0 {
		return cfg.Maker.Symbols
	}
	return allSymbols(cfg)
}

func momentumSymbols(cfg config.Config) []string {
	if len(cfg.Momentum.Symbols) > 0 {
		return cfg.Momentum.Symbols
	}
	return allSymbols(cfg)
}

func allSymbols(cfg config.Config) []string {
	symbols := make([]string, 0, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		symbols = append(symbols, s.Symbol)
	}
	return symbols
}

// runRiskSync periodically snapshots every participant's position and PnL
// into their risk manager, then evaluates the stop-loss and drawdown gates
// against the live ledger, latching the emergency stop on a drawdown
// breach. Runs until ctx is cancelled.
func runRiskSync(ctx context.Context, ledger *portfolio.Ledger, market *marketdata.Engine, riskMgrs map[string]*risk.Manager, notifier *notify.Notifier, cfg config.Config) {
	symbols := allSymbols(cfg)
	capital, err := cfg.Risk.AccountCapitalDecimal()
	if err != nil {
		capital = decimal.Zero
	}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prices := market.GetAllPrices()
			for _, p := range cfg.Participants {
				mgr := riskMgrs[p.ID]
				mgr.SyncFromLedger(p.ID, 0, symbols, ledger, prices)

				for _, sym := range symbols {
					qty := ledger.Position(p.ID, sym)
					basis, ok := ledger.CostBasis(p.ID, sym)
					if qty == 0 || !ok {
						continue
					}
					price, ok := prices[sym]
					if !ok {
						continue
					}
					if mgr.EvaluateStopLoss(qty, basis, price) {
						unrealized := price.Sub(basis).Mul(decimal.NewFromInt(qty))
						log.Printf("risk: stop loss breached for %s on %s (unrealized %s)", p.ID, sym, unrealized)
						notifyStopLoss(notifier, sym, unrealized)
					}
				}

				if !mgr.EmergencyStop() && mgr.EvaluateDrawdown(mgr.DailyPnL(), decimal.Zero, capital) {
					mgr.SetEmergencyStop(true)
					log.Printf("risk: max drawdown breached for %s, emergency stop latched", p.ID)
					notifyEmergencyStop(notifier)
				}
				if mgr.EmergencyStop() {
					log.Printf("risk: emergency stop active for %s", p.ID)
				}
			}
		}
	}
}

func notifyStopLoss(n *notify.Notifier, symbol string, pnl decimal.Decimal) {
	if n == nil || !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.NotifyStopLoss(ctx, symbol, pnl); err != nil {
		log.Printf("notify: %v", err)
	}
}

func notifyEmergencyStop(n *notify.Notifier) {
	if n == nil || !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.NotifyEmergencyStop(ctx); err != nil {
		log.Printf("notify: %v", err)
	}
}

func notifyRiskCooldown(n *notify.Notifier, snap risk.Snapshot) {
	if n == nil || !n.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.NotifyRiskCooldown(ctx, snap.ConsecutiveLosses, snap.MaxConsecutiveLosses, snap.CooldownRemaining); err != nil {
		log.Printf("notify: %v", err)
	}
}
