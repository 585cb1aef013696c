package strategy

import (
	"sync"

	"github.com/marketsim/exchange-sim/internal/sim"
	"github.com/marketsim/exchange-sim/internal/types"
)

// MakerStrategy drives a MarketMaker against a fixed set of symbols,
// replacing its resting quote with a fresh one on every market data tick for
// that symbol.
type MakerStrategy struct {
	ParticipantID string
	Symbols       []string
	MaxPosition   int64
	Maker         *MarketMaker

	mu      sync.Mutex
	handles sim.Handles
	resting map[string][2]int64 // symbol -> [buyOrderID, sellOrderID]
}

func NewMakerStrategy(participantID string, symbols []string, maxPosition int64, maker *MarketMaker) *MakerStrategy {
	return &MakerStrategy{
		ParticipantID: participantID,
		Symbols:       symbols,
		MaxPosition:   maxPosition,
		Maker:         maker,
		resting:       make(map[string][2]int64),
	}
}

func (m *MakerStrategy) Initialize(h sim.Handles) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = h
}

func (m *MakerStrategy) tracks(symbol string) bool {
	for _, s := range m.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (m *MakerStrategy) OnMarketData(md types.MarketData) {
	if !m.tracks(md.Symbol) {
		return
	}
	m.mu.Lock()
	book := m.handles.Books[md.Symbol]
	ledger := m.handles.Ledger
	m.mu.Unlock()
	if book == nil {
		return
	}

	var inv InventoryState
	if ledger != nil && m.MaxPosition > 0 {
		inv = InventoryState{NetPosition: ledger.Position(m.ParticipantID, md.Symbol), MaxPosition: m.MaxPosition}
	}

	var quote Quote
	var err error
	if inv.MaxPosition > 0 {
		quote, err = m.Maker.ComputeQuote(md.Symbol, book, inv)
	} else {
		quote, err = m.Maker.ComputeQuote(md.Symbol, book)
	}
	if err != nil || quote.Size <= 0 {
		return
	}

	m.mu.Lock()
	if ids, ok := m.resting[md.Symbol]; ok {
		book.CancelOrder(ids[0])
		book.CancelOrder(ids[1])
	}
	m.mu.Unlock()

	buy := &types.Order{ParticipantID: m.ParticipantID, Symbol: md.Symbol, Side: types.Buy, Type: types.Limit, Quantity: quote.Size, Price: quote.BuyPrice}
	sell := &types.Order{ParticipantID: m.ParticipantID, Symbol: md.Symbol, Side: types.Sell, Type: types.Limit, Quantity: quote.Size, Price: quote.SellPrice}
	book.AddOrder(buy)
	book.AddOrder(sell)

	m.mu.Lock()
	m.resting[md.Symbol] = [2]int64{buy.ID, sell.ID}
	m.mu.Unlock()
}

func (m *MakerStrategy) OnTrade(types.Trade)                   {}
func (m *MakerStrategy) OnOrderRejection(types.RejectionEvent) {}

// MomentumStrategy drives a Momentum signal generator against a fixed set of
// symbols, firing a market order whenever a signal is produced. When Flow is
// set, every observed trade on a tracked symbol feeds it so EvaluateEnhanced
// has rolling flow data to blend with book imbalance.
type MomentumStrategy struct {
	ParticipantID string
	Symbols       []string
	Momentum      *Momentum
	Flow          *FlowTracker

	mu      sync.Mutex
	handles sim.Handles
}

func NewMomentumStrategy(participantID string, symbols []string, momentum *Momentum, flow *FlowTracker) *MomentumStrategy {
	return &MomentumStrategy{ParticipantID: participantID, Symbols: symbols, Momentum: momentum, Flow: flow}
}

func (m *MomentumStrategy) Initialize(h sim.Handles) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles = h
}

func (m *MomentumStrategy) tracks(symbol string) bool {
	for _, s := range m.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

func (m *MomentumStrategy) OnMarketData(md types.MarketData) {
	if !m.tracks(md.Symbol) {
		return
	}
	m.mu.Lock()
	book := m.handles.Books[md.Symbol]
	m.mu.Unlock()
	if book == nil {
		return
	}

	var sig *Signal
	var err error
	if m.Flow != nil {
		sig, err = m.Momentum.EvaluateEnhanced(md.Symbol, book, m.Flow)
	} else {
		sig, err = m.Momentum.Evaluate(md.Symbol, book)
	}
	if err != nil || sig == nil {
		return
	}

	side := types.Buy
	if sig.Side == "SELL" {
		side = types.Sell
	}
	order := &types.Order{ParticipantID: m.ParticipantID, Symbol: md.Symbol, Side: side, Type: types.Market, Quantity: sig.Qty}
	book.AddOrder(order)
	m.Momentum.RecordTrade(md.Symbol)
}

func (m *MomentumStrategy) OnTrade(tr types.Trade) {
	if m.Flow == nil || !m.tracks(tr.Symbol) {
		return
	}
	// Order ids assign in submission order; the higher of the two belongs to
	// the incoming order that crossed the book, so treat it as the aggressor.
	side := "BUY"
	if tr.SellOrderID > tr.BuyOrderID {
		side = "SELL"
	}
	price, _ := tr.Price.Float64()
	m.Flow.Record(tr.Symbol, side, tr.Quantity, price)
}

func (m *MomentumStrategy) OnOrderRejection(types.RejectionEvent) {}

var _ sim.Strategy = (*MakerStrategy)(nil)
var _ sim.Strategy = (*MomentumStrategy)(nil)
