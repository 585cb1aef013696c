// Package sim wires a portfolio ledger, one order book per symbol, and a
// market-data engine into a running simulation, dispatching every event to
// registered strategies and external listeners with per-callback isolation.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/marketsim/exchange-sim/internal/marketdata"
	"github.com/marketsim/exchange-sim/internal/orderbook"
	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

// Handles gives a Strategy access to the shared components it needs to read
// state and submit orders. A Strategy must not mutate Books or Ledger's
// structure (add participants, replace a book); those belong to the harness.
type Handles struct {
	Ledger *portfolio.Ledger
	Books  map[string]*orderbook.Book
	Market *marketdata.Engine
}

// Strategy is the external contract a reference or user-supplied trading
// strategy implements. The harness invokes these in registration order,
// isolating panics and errors per callback so one strategy's fault never
// silences another's.
type Strategy interface {
	Initialize(Handles)
	OnMarketData(types.MarketData)
	OnTrade(types.Trade)
	OnOrderRejection(types.RejectionEvent)
}

// EventKind selects which external listener list AddListener appends to.
type EventKind int

const (
	EventMarketData EventKind = iota
	EventTrade
	EventOrderRejection
)

// Harness owns the shared ledger, the per-symbol order books, and the
// market-data engine, and drives dispatch of every event they produce to
// registered strategies and listeners.
type Harness struct {
	mu     sync.Mutex
	ledger *portfolio.Ledger
	books  map[string]*orderbook.Book
	market *marketdata.Engine

	strategies         []Strategy
	marketListeners    []func(types.MarketData)
	tradeListeners     []func(types.Trade)
	rejectionListeners []func(types.RejectionEvent)

	cancel    context.CancelFunc
	group     *errgroup.Group
	fatalOnce sync.Once
	fatalErr  error
}

// New constructs a Harness around a shared ledger and market-data engine.
// Use AddBook to attach each symbol's order book before Start.
func New(ledger *portfolio.Ledger, market *marketdata.Engine) *Harness {
	return &Harness{
		ledger: ledger,
		books:  make(map[string]*orderbook.Book),
		market: market,
	}
}

// AddBook attaches symbol's order book to the harness, wiring its trade and
// rejection callbacks to the dispatch loop. Must be called before Start.
func (h *Harness) AddBook(symbol string, book *orderbook.Book) {
	h.mu.Lock()
	h.books[symbol] = book
	h.mu.Unlock()

	book.SetTradeCallback(h.dispatchTrade)
	book.SetRejectionCallback(h.dispatchRejection)
}

// AddStrategy registers a strategy, initializing it with the harness's
// current handles, then appending it to the dispatch order. Must be called
// before Start.
func (h *Harness) AddStrategy(s Strategy) {
	s.Initialize(h.handles())
	h.mu.Lock()
	h.strategies = append(h.strategies, s)
	h.mu.Unlock()
}

// AddListener registers an external callback for one event kind. fn must be
// the matching function type for kind (func(types.MarketData),
// func(types.Trade), or func(types.RejectionEvent)) — a mismatch panics
// immediately at registration rather than silently dropping the listener.
func (h *Harness) AddListener(kind EventKind, fn any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch kind {
	case EventMarketData:
		h.marketListeners = append(h.marketListeners, fn.(func(types.MarketData)))
	case EventTrade:
		h.tradeListeners = append(h.tradeListeners, fn.(func(types.Trade)))
	case EventOrderRejection:
		h.rejectionListeners = append(h.rejectionListeners, fn.(func(types.RejectionEvent)))
	default:
		panic(fmt.Sprintf("sim: unknown EventKind %d", kind))
	}
}

func (h *Harness) handles() Handles {
	h.mu.Lock()
	defer h.mu.Unlock()
	books := make(map[string]*orderbook.Book, len(h.books))
	for sym, b := range h.books {
		books[sym] = b
	}
	return Handles{Ledger: h.ledger, Books: books, Market: h.market}
}

// Start launches the market-data engine and begins dispatching its ticks.
// Returns once the background supervisor goroutine is running; call Wait
// or Stop to block for completion.
func (h *Harness) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	h.group = g

	h.market.SetCallback(h.dispatchMarketData)
	h.market.Start()

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
}

// Wait blocks until the simulation stops, either from an external Stop
// call or a fatal settlement inconsistency, and returns the fatal error if
// one occurred.
func (h *Harness) Wait() error {
	_ = h.group.Wait()
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fatalErr
}

// Stop shuts down the market-data engine and cancels the run context, then
// waits for the supervisor goroutine to finish. Returns the fatal error if
// a settlement inconsistency caused the stop.
func (h *Harness) Stop() error {
	h.market.Stop()
	h.cancel()
	return h.Wait()
}

func (h *Harness) fatal(err error) {
	h.fatalOnce.Do(func() {
		h.mu.Lock()
		h.fatalErr = err
		h.mu.Unlock()
		log.Printf("sim: FATAL settlement inconsistency, shutting down: %v", err)
		// market.Stop blocks until its tick goroutine exits; calling it
		// synchronously here would deadlock when fatal fires from inside
		// a tick's own dispatch, so hand it to its own goroutine.
		go h.market.Stop()
		if h.cancel != nil {
			h.cancel()
		}
	})
}

func (h *Harness) dispatchMarketData(md types.MarketData) {
	h.mu.Lock()
	book := h.books[md.Symbol]
	strategies := append([]Strategy(nil), h.strategies...)
	listeners := make([]func(types.MarketData), len(h.marketListeners))
	copy(listeners, h.marketListeners)
	h.mu.Unlock()

	// Route the tick into the matching side before any strategy sees it:
	// the book's last trade price tracks every tick, and the tick carries a
	// best bid/ask snapshot when the book is two-sided.
	if book != nil {
		book.UpdateMarketPrice(md.Price)
		if bid, ok := book.BestBid(); ok {
			if ask, ok := book.BestAsk(); ok {
				md.BidAsk = &types.BidAsk{Bid: bid, Ask: ask}
			}
		}
	}

	for _, s := range strategies {
		s := s
		h.safeCall("strategy.OnMarketData", func() { s.OnMarketData(md) })
	}
	for _, fn := range listeners {
		fn := fn
		h.safeCall("listener.OnMarketData", func() { fn(md) })
	}
}

func (h *Harness) dispatchTrade(tr types.Trade) {
	h.mu.Lock()
	strategies := append([]Strategy(nil), h.strategies...)
	listeners := make([]func(types.Trade), len(h.tradeListeners))
	copy(listeners, h.tradeListeners)
	h.mu.Unlock()

	for _, s := range strategies {
		s := s
		h.safeCall("strategy.OnTrade", func() { s.OnTrade(tr) })
	}
	for _, fn := range listeners {
		fn := fn
		h.safeCall("listener.OnTrade", func() { fn(tr) })
	}
}

func (h *Harness) dispatchRejection(ev types.RejectionEvent) {
	h.mu.Lock()
	strategies := append([]Strategy(nil), h.strategies...)
	listeners := make([]func(types.RejectionEvent), len(h.rejectionListeners))
	copy(listeners, h.rejectionListeners)
	h.mu.Unlock()

	for _, s := range strategies {
		s := s
		h.safeCall("strategy.OnOrderRejection", func() { s.OnOrderRejection(ev) })
	}
	for _, fn := range listeners {
		fn := fn
		h.safeCall("listener.OnOrderRejection", func() { fn(ev) })
	}
}

// safeCall invokes fn, recovering a panic so one callback's fault never
// aborts the dispatch loop (spec: "Strategy callback error"). A panic
// carrying portfolio.ErrSettlementInconsistency is the one exception: it is
// a programming error, not a strategy fault, and triggers harness shutdown.
func (h *Harness) safeCall(label string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			if err, ok := r.(error); ok && errors.Is(err, portfolio.ErrSettlementInconsistency) {
				h.fatal(fmt.Errorf("%s: %w", label, err))
				return
			}
			log.Printf("sim: %s panicked: %v", label, r)
		}
	}()
	fn()
}
