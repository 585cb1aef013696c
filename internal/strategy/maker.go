package strategy

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/orderbook"
)

// MakerConfig parameterizes MarketMaker's quoting behavior.
type MakerConfig struct {
	MinSpreadBps     float64
	SpreadMultiplier float64
	OrderSize        int64 // shares quoted per side before inventory adjustment

	InventorySkewBps     float64 // default 30
	InventoryWidenFactor float64 // default 0.5
	MinOrderSize         int64   // default 1
}

// InventoryState is a snapshot of the maker's current exposure in a symbol,
// used to skew and widen quotes as inventory builds up.
type InventoryState struct {
	NetPosition int64
	MaxPosition int64
}

// Quote is a pair of prices and a size MarketMaker would rest on each side.
type Quote struct {
	Symbol    string
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
	Size      int64
}

// MarketMaker quotes both sides of a symbol around the order book's mid,
// skewing and widening as inventory builds up so it mean-reverts toward
// flat rather than accumulating an unbounded position.
type MarketMaker struct {
	cfg MakerConfig
}

// NewMarketMaker constructs a MarketMaker from cfg.
func NewMarketMaker(cfg MakerConfig) *MarketMaker {
	return &MarketMaker{cfg: cfg}
}

// ComputeQuote derives a bid/ask quote for book, optionally skewed by inv.
func (m *MarketMaker) ComputeQuote(symbol string, book *orderbook.Book, inv ...InventoryState) (Quote, error) {
	bestBid, ok := book.BestBid()
	if !ok {
		return Quote{}, fmt.Errorf("no resting bid for %s", symbol)
	}
	bestAsk, ok := book.BestAsk()
	if !ok {
		return Quote{}, fmt.Errorf("no resting ask for %s", symbol)
	}
	if bestAsk.LessThanOrEqual(bestBid) {
		return Quote{}, fmt.Errorf("crossed book for %s: bid=%s ask=%s", symbol, bestBid, bestAsk)
	}

	midF, _ := bestBid.Add(bestAsk).Div(decimal.NewFromInt(2)).Float64()
	bidF, _ := bestBid.Float64()
	askF, _ := bestAsk.Float64()
	marketSpreadBps := (askF - bidF) / midF * 10000

	halfSpreadBps := math.Max(m.cfg.MinSpreadBps/2, marketSpreadBps*m.cfg.SpreadMultiplier/2)

	size := m.cfg.OrderSize

	var invRatio float64
	if len(inv) > 0 && inv[0].MaxPosition > 0 {
		is := inv[0]
		invRatio = float64(is.NetPosition) / float64(is.MaxPosition)
		if invRatio > 1 {
			invRatio = 1
		} else if invRatio < -1 {
			invRatio = -1
		}

		// Skew midpoint: if long, shift mid down (sell cheaper to reduce inventory).
		skewBps := invRatio * m.cfg.InventorySkewBps
		midF -= midF * skewBps / 10000

		// Widen spread at high inventory.
		widening := 1 + math.Abs(invRatio)*m.cfg.InventoryWidenFactor
		halfSpreadBps *= widening

		// Reduce size at high inventory.
		size = int64(float64(size) * (1 - math.Abs(invRatio)*0.5))
		if m.cfg.MinOrderSize > 0 && size < m.cfg.MinOrderSize {
			size = m.cfg.MinOrderSize
		}
	}

	halfSpread := midF * halfSpreadBps / 10000
	buyPrice := midF - halfSpread
	sellPrice := midF + halfSpread

	floor := 0.01
	if buyPrice <= 0 {
		buyPrice = floor
	}

	return Quote{
		Symbol:    symbol,
		BuyPrice:  decimal.NewFromFloat(buyPrice),
		SellPrice: decimal.NewFromFloat(sellPrice),
		Size:      size,
	}, nil
}
