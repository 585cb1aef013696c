package strategy

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/orderbook"
)

// MomentumConfig parameterizes Momentum's signal generation.
type MomentumConfig struct {
	MinImbalance   float64
	DepthLevels    int
	OrderQty       int64
	MaxSlippageBps float64
	Cooldown       time.Duration

	FlowWeight        float64       // default 0.4
	ImbalanceWeight   float64       // default 0.6
	FlowWindow        time.Duration // default 2m
	MinCompositeScore float64       // default 0.3
}

// Signal is a directional trade suggestion produced from order book depth
// imbalance, optionally blended with recent trade flow.
type Signal struct {
	Symbol    string
	Side      string
	Qty       int64
	MaxPrice  decimal.Decimal
	Mid       decimal.Decimal
	Imbalance float64
}

// Momentum generates directional signals from resting depth imbalance on a
// symbol's order book, with an optional per-symbol cooldown between trades.
type Momentum struct {
	cfg        MomentumConfig
	mu         sync.Mutex
	lastTrades map[string]time.Time
}

func NewMomentum(cfg MomentumConfig) *Momentum {
	return &Momentum{
		cfg:        cfg,
		lastTrades: make(map[string]time.Time),
	}
}

// Evaluate inspects the top DepthLevels of book and returns a Signal if
// resting depth is imbalanced beyond MinImbalance, or nil if the book is
// balanced or the symbol is in cooldown. It returns an error when either
// side of the book is empty.
func (tk *Momentum) Evaluate(symbol string, book *orderbook.Book) (*Signal, error) {
	bids, asks := book.BookDepth(tk.cfg.DepthLevels)
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("empty book for %s", symbol)
	}

	tk.mu.Lock()
	if last, ok := tk.lastTrades[symbol]; ok && time.Since(last) < tk.cfg.Cooldown {
		tk.mu.Unlock()
		return nil, nil
	}
	tk.mu.Unlock()

	var bidDepth, askDepth int64
	for _, l := range bids {
		bidDepth += l.Qty
	}
	for _, l := range asks {
		askDepth += l.Qty
	}

	totalDepth := bidDepth + askDepth
	if totalDepth == 0 {
		return nil, nil
	}

	imbalance := float64(bidDepth-askDepth) / float64(totalDepth)
	if math.Abs(imbalance) < tk.cfg.MinImbalance {
		return nil, nil
	}

	mid := bids[0].Price.Add(asks[0].Price).Div(decimal.NewFromInt(2))

	side := "BUY"
	if imbalance < 0 {
		side = "SELL"
	}

	maxPrice := applySlippage(mid, side, tk.cfg.MaxSlippageBps)

	return &Signal{
		Symbol:    symbol,
		Side:      side,
		Qty:       tk.cfg.OrderQty,
		MaxPrice:  maxPrice,
		Mid:       mid,
		Imbalance: imbalance,
	}, nil
}

// EvaluateEnhanced blends depth imbalance with recent trade flow into a
// composite score, scaling the resulting order between 0.5x and 1.5x of
// OrderQty in proportion to that score.
func (tk *Momentum) EvaluateEnhanced(symbol string, book *orderbook.Book, flow *FlowTracker) (*Signal, error) {
	bids, asks := book.BookDepth(tk.cfg.DepthLevels)
	if len(bids) == 0 || len(asks) == 0 {
		return nil, fmt.Errorf("empty book for %s", symbol)
	}

	tk.mu.Lock()
	if last, ok := tk.lastTrades[symbol]; ok && time.Since(last) < tk.cfg.Cooldown {
		tk.mu.Unlock()
		return nil, nil
	}
	tk.mu.Unlock()

	var bidDepth, askDepth int64
	for _, l := range bids {
		bidDepth += l.Qty
	}
	for _, l := range asks {
		askDepth += l.Qty
	}
	totalDepth := bidDepth + askDepth
	if totalDepth == 0 {
		return nil, nil
	}
	imbalance := float64(bidDepth-askDepth) / float64(totalDepth)

	mid := bids[0].Price.Add(asks[0].Price).Div(decimal.NewFromInt(2))

	var netFlow float64
	if flow != nil {
		netFlow = flow.NetFlow(symbol)
	}

	imbalanceW := tk.cfg.ImbalanceWeight
	flowW := tk.cfg.FlowWeight
	if imbalanceW == 0 && flowW == 0 {
		imbalanceW, flowW = 0.6, 0.4
	}

	composite := imbalanceW*math.Abs(imbalance) + flowW*math.Abs(netFlow)

	minScore := tk.cfg.MinCompositeScore
	if minScore == 0 {
		minScore = 0.3
	}
	if composite < minScore {
		return nil, nil
	}

	side := "BUY"
	buyScore, sellScore := 0.0, 0.0
	if imbalance > 0 {
		buyScore += imbalanceW * imbalance
	} else {
		sellScore += imbalanceW * (-imbalance)
	}
	if netFlow > 0 {
		buyScore += flowW * netFlow
	} else {
		sellScore += flowW * (-netFlow)
	}
	if sellScore > buyScore {
		side = "SELL"
	}

	// Adaptive sizing: scale up to 1.5x base quantity at high confidence.
	scale := math.Min(composite/0.5, 1.5)
	if scale < 0.5 {
		scale = 0.5
	}
	qty := int64(float64(tk.cfg.OrderQty) * scale)
	if qty < 1 {
		qty = 1
	}

	maxPrice := applySlippage(mid, side, tk.cfg.MaxSlippageBps)

	return &Signal{
		Symbol:    symbol,
		Side:      side,
		Qty:       qty,
		MaxPrice:  maxPrice,
		Mid:       mid,
		Imbalance: imbalance,
	}, nil
}

func applySlippage(mid decimal.Decimal, side string, bps float64) decimal.Decimal {
	delta := mid.Mul(decimal.NewFromFloat(bps / 10000))
	if side == "SELL" {
		maxPrice := mid.Sub(delta)
		if maxPrice.LessThanOrEqual(decimal.Zero) {
			return decimal.NewFromFloat(0.01)
		}
		return maxPrice
	}
	return mid.Add(delta)
}

func (tk *Momentum) RecordTrade(symbol string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	tk.lastTrades[symbol] = time.Now()
}
