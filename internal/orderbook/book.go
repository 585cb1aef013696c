// Package orderbook implements a per-symbol price-time-priority limit
// order book: admission, structural and risk validation, matching, and
// settlement against a shared portfolio.Ledger.
package orderbook

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

// TradeCallback receives every Trade this book settles.
type TradeCallback func(types.Trade)

// RejectionCallback receives every rejection or terminal-on-risk event.
type RejectionCallback func(types.RejectionEvent)

// Book is the matching engine for one symbol. The zero value is not usable;
// construct with NewBook. A Book owns its own bid/ask queues under its own
// mutex and never holds that lock across a callback invocation.
type Book struct {
	mu     sync.Mutex
	symbol string

	bids *restingQueue
	asks *restingQueue

	lastPrice decimal.Decimal
	nextID    int64

	ledger *portfolio.Ledger

	// MaxShort caps how negative a position this book will allow via its
	// own pre-trade risk check. nil means unlimited shorting, the engine's
	// documented default (spec.md §4.2); a deployment sets a finite value
	// to enforce a cap without a separate wrapping layer.
	maxShort *int64

	tradeCB     TradeCallback
	rejectionCB RejectionCallback

	participants func(id string) bool

	// halted latches on a settlement inconsistency: the book stops
	// admitting new orders and every later AddOrder rejects.
	halted bool
}

// NewBook constructs a Book for symbol, seeded with an initial last-trade
// price (used before any trade or tick has occurred).
func NewBook(symbol string, initialPrice decimal.Decimal) *Book {
	return &Book{
		symbol:    symbol,
		bids:      newRestingQueue(types.Buy),
		asks:      newRestingQueue(types.Sell),
		lastPrice: initialPrice,
	}
}

// SetPortfolio attaches the shared ledger this book settles trades against.
func (b *Book) SetPortfolio(l *portfolio.Ledger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledger = l
}

// SetMaxShort sets the book's own short-position cap. Pass nil to allow
// unlimited shorting (the default).
func (b *Book) SetMaxShort(max *int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxShort = max
}

// SetTradeCallback installs the single trade callback. Replaces any prior
// callback.
func (b *Book) SetTradeCallback(cb TradeCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tradeCB = cb
}

// SetRejectionCallback installs the single rejection callback. Replaces
// any prior callback.
func (b *Book) SetRejectionCallback(cb RejectionCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejectionCB = cb
}

// SetKnownParticipants installs a predicate used to validate an order's
// participant id on admission. When unset, any participant id is accepted
// structurally (the ledger itself will still reject settlement against an
// account it never registered).
func (b *Book) SetKnownParticipants(fn func(id string) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.participants = fn
}

// UpdateMarketPrice records a market-data tick as this book's last trade
// price (spec.md §3: book state's last trade price is "updated on every
// match and on every market-data tick").
func (b *Book) UpdateMarketPrice(p decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastPrice = p
}

// BestBid returns the best resting bid price. ok is false when the bid
// side is empty.
func (b *Book) BestBid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.bids.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return o.Price, true
}

// BestAsk returns the best resting ask price. ok is false when the ask
// side is empty.
func (b *Book) BestAsk() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.asks.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return o.Price, true
}

// Mid returns the midpoint of best bid and best ask. ok is false when
// either side is empty — spec.md §9's Open Question is resolved in favor
// of a distinguished "undefined" via this boolean, never a silent zero.
func (b *Book) Mid() (decimal.Decimal, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	bid, ok := b.bids.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	ask, ok := b.asks.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	two := decimal.NewFromInt(2)
	return bid.Price.Add(ask.Price).Div(two), true
}

// LastPrice returns the book's last trade (or tick) price.
func (b *Book) LastPrice() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastPrice
}

// BookDepth returns the top-n aggregated levels per side, best price
// first.
func (b *Book) BookDepth(n int) (bids, asks []types.Level) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bids.depth(n, true), b.asks.depth(n, false)
}

// CancelOrder removes a resting order if it exists on this book and is not
// terminal. Returns whether removal succeeded. No event is emitted on
// either outcome (spec.md §4.3).
func (b *Book) CancelOrder(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range [2]*restingQueue{b.bids, b.asks} {
		i, ok := q.index[id]
		if !ok {
			continue
		}
		o := q.orders[i]
		if o.Status.Terminal() {
			return false
		}
		q.remove(id)
		o.Status = types.Cancelled
		return true
	}
	return false
}

// pendingCallback batches a single side-effect to run after the book's
// lock is released, so callbacks never see the lock held.
type pendingCallback func()

// Halted reports whether the book has stopped admitting orders after a
// settlement inconsistency.
func (b *Book) Halted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.halted
}

// AddOrder admits a new order: validates, assigns id/timestamp, runs
// pre-trade risk, then matches it against the book. Returns false if the
// order was rejected (structurally or on risk) at any point before it
// could rest or fully fill productively — the order's Status records why.
//
// A settlement inconsistency during matching halts the book and panics
// with an error wrapping portfolio.ErrSettlementInconsistency after the
// book's lock is released; the harness's dispatch boundary recovers it and
// shuts the simulation down.
func (b *Book) AddOrder(o *types.Order) bool {
	if reason, detail, ok := b.validateStructure(o); !ok {
		o.Status = types.Rejected
		b.fireRejection(*o, reason, detail)
		return false
	}

	b.mu.Lock()

	if b.halted {
		b.mu.Unlock()
		o.Status = types.Rejected
		b.fireRejection(*o, types.ReasonEngineHalted, "book halted after settlement inconsistency")
		return false
	}

	o.ID = b.nextID + 1
	b.nextID++
	o.CreatedAt = time.Now()
	o.Status = types.Pending

	ledger := b.ledger
	if ledger == nil {
		b.mu.Unlock()
		o.Status = types.Rejected
		b.fireRejection(*o, types.ReasonUnknown, "no portfolio attached")
		return false
	}

	// Step 3: pre-trade risk using the prospective execution reference —
	// best opposite price for MARKET, the order's own limit for LIMIT.
	refPrice, havePrice := b.referencePrice(o)
	if havePrice {
		if reason, detail, ok := checkRisk(ledger, o.ParticipantID, o.Symbol, o.Side, o.Quantity, refPrice, b.maxShort); !ok {
			b.mu.Unlock()
			o.Status = types.Rejected
			b.fireRejection(*o, reason, detail)
			return false
		}
	}

	trades, callbacks, fatalErr := b.match(o, ledger)
	result := *o
	b.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
	for _, tr := range trades {
		b.fireTrade(tr)
	}
	if fatalErr != nil {
		panic(fatalErr)
	}

	return result.Status != types.Rejected
}

// referencePrice returns the price pre-trade risk should use, and whether
// one is available (it may not be, e.g. a MARKET order against an empty
// opposite side).
func (b *Book) referencePrice(o *types.Order) (decimal.Decimal, bool) {
	if o.Type == types.Limit {
		return o.Price, true
	}
	var opposite *restingQueue
	if o.Side == types.Buy {
		opposite = b.asks
	} else {
		opposite = b.bids
	}
	best, ok := opposite.best()
	if !ok {
		return decimal.Decimal{}, false
	}
	return best.Price, true
}

// match runs the matching loop for a freshly admitted order. Caller must
// hold b.mu. Returns the trades produced (to be emitted after unlock), any
// callback closures already captured for deferred firing, and a non-nil
// error when settlement failed, which also halts the book.
func (b *Book) match(incoming *types.Order, ledger *portfolio.Ledger) ([]types.Trade, []pendingCallback, error) {
	var trades []types.Trade
	var callbacks []pendingCallback

	var opposite, own *restingQueue
	if incoming.Side == types.Buy {
		opposite, own = b.asks, b.bids
	} else {
		opposite, own = b.bids, b.asks
	}

	for incoming.Remaining() > 0 {
		resting, ok := opposite.best()
		if !ok {
			break
		}
		if incoming.Type == types.Limit && !crosses(incoming, resting) {
			break
		}

		fillQty := min64(incoming.Remaining(), resting.Remaining())
		fillPrice := resting.Price

		reason, detail, ok := checkRisk(ledger, incoming.ParticipantID, incoming.Symbol, incoming.Side, fillQty, fillPrice, b.maxShort)
		if !ok {
			if incoming.Filled == 0 {
				incoming.Status = types.Rejected
			} else {
				incoming.Status = types.PartiallyFilled
			}
			rejection := types.RejectionEvent{Order: *incoming, Reason: reason, Detail: detail, Timestamp: time.Now()}
			callbacks = append(callbacks, func() { b.fireRejectionEvent(rejection) })
			return trades, callbacks, nil
		}

		var buyerID, sellerID string
		var buyOrderID, sellOrderID int64
		if incoming.Side == types.Buy {
			buyerID, sellerID = incoming.ParticipantID, resting.ParticipantID
			buyOrderID, sellOrderID = incoming.ID, resting.ID
		} else {
			buyerID, sellerID = resting.ParticipantID, incoming.ParticipantID
			buyOrderID, sellOrderID = resting.ID, incoming.ID
		}

		if err := ledger.ApplyTrade(buyerID, sellerID, incoming.Symbol, fillQty, fillPrice); err != nil {
			// Fatal: the ledger refused to settle. Halt the book and hand
			// the error back so AddOrder can surface it once the lock is
			// released.
			b.halted = true
			return trades, callbacks, err
		}

		incoming.Filled += fillQty
		resting.Filled += fillQty

		if incoming.Filled == incoming.Quantity {
			incoming.Status = types.Filled
		} else {
			incoming.Status = types.PartiallyFilled
		}
		if resting.Filled == resting.Quantity {
			resting.Status = types.Filled
			opposite.removeFilled()
		} else {
			resting.Status = types.PartiallyFilled
		}

		b.lastPrice = fillPrice

		b.nextID++
		trade := types.Trade{
			ID:          b.nextID,
			Symbol:      incoming.Symbol,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			BuyOrderID:  buyOrderID,
			SellOrderID: sellOrderID,
			Price:       fillPrice,
			Quantity:    fillQty,
			Timestamp:   time.Now(),
		}
		trades = append(trades, trade)
	}

	if incoming.Remaining() > 0 {
		switch incoming.Type {
		case types.Market:
			// Market orders never rest (spec.md §8 invariant #7); the
			// remainder is cancelled. Overall status per spec.md §3's
			// invariant table: PARTIALLY_FILLED if anything filled,
			// otherwise CANCELLED.
			if incoming.Filled > 0 {
				incoming.Status = types.PartiallyFilled
			} else {
				incoming.Status = types.Cancelled
			}
		case types.Limit:
			if incoming.Filled > 0 {
				incoming.Status = types.PartiallyFilled
			} else {
				incoming.Status = types.Pending
			}
			own.insert(incoming)
		}
	}

	return trades, callbacks, nil
}

// crosses reports whether a LIMIT incoming order crosses the best resting
// opposite order. spec.md §9: a LIMIT at exactly the best opposite price
// is kept as crossing.
func crosses(incoming, resting *types.Order) bool {
	if incoming.Side == types.Buy {
		return incoming.Price.GreaterThanOrEqual(resting.Price)
	}
	return incoming.Price.LessThanOrEqual(resting.Price)
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func (b *Book) fireTrade(t types.Trade) {
	b.mu.Lock()
	cb := b.tradeCB
	b.mu.Unlock()
	if cb != nil {
		cb(t)
	}
}

func (b *Book) fireRejection(o types.Order, reason types.RejectReason, detail string) {
	b.fireRejectionEvent(types.RejectionEvent{Order: o, Reason: reason, Detail: detail, Timestamp: time.Now()})
}

func (b *Book) fireRejectionEvent(ev types.RejectionEvent) {
	b.mu.Lock()
	cb := b.rejectionCB
	b.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}
