package sim

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/marketdata"
	"github.com/marketsim/exchange-sim/internal/orderbook"
	"github.com/marketsim/exchange-sim/internal/portfolio"
	"github.com/marketsim/exchange-sim/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type recordingStrategy struct {
	mu         sync.Mutex
	ticks      int
	trades     int
	rejections int
	handles    Handles
}

func (s *recordingStrategy) Initialize(h Handles) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles = h
}
func (s *recordingStrategy) OnMarketData(types.MarketData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks++
}
func (s *recordingStrategy) OnTrade(types.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades++
}
func (s *recordingStrategy) OnOrderRejection(types.RejectionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejections++
}

type panickingStrategy struct{}

func (panickingStrategy) Initialize(Handles)                    {}
func (panickingStrategy) OnMarketData(types.MarketData)         { panic("boom") }
func (panickingStrategy) OnTrade(types.Trade)                   {}
func (panickingStrategy) OnOrderRejection(types.RejectionEvent) {}

func newTestHarness(t *testing.T) (*Harness, *portfolio.Ledger, *marketdata.Engine) {
	t.Helper()
	ledger := portfolio.NewLedger()
	market := marketdata.New(marketdata.Config{Interval: 5 * time.Millisecond, Sigma: 0.001, Floor: dec("0.01"), Seed: 1})
	h := New(ledger, market)
	return h, ledger, market
}

func TestAddStrategyInitializesWithHandles(t *testing.T) {
	h, ledger, _ := newTestHarness(t)
	book := orderbook.NewBook("AAPL", dec("150"))
	h.AddBook("AAPL", book)

	s := &recordingStrategy{}
	h.AddStrategy(s)

	if s.handles.Ledger != ledger {
		t.Fatal("strategy did not receive the harness's ledger")
	}
	if s.handles.Books["AAPL"] != book {
		t.Fatal("strategy did not receive the harness's books")
	}
}

func TestDispatchMarketDataReachesStrategiesAndListeners(t *testing.T) {
	h, _, market := newTestHarness(t)
	market.AddSymbol("AAPL", dec("150"))

	s := &recordingStrategy{}
	h.AddStrategy(s)

	var gotViaListener int
	var mu sync.Mutex
	h.AddListener(EventMarketData, func(types.MarketData) {
		mu.Lock()
		defer mu.Unlock()
		gotViaListener++
	})

	h.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	h.Stop()

	s.mu.Lock()
	ticks := s.ticks
	s.mu.Unlock()
	if ticks == 0 {
		t.Fatal("expected the strategy to observe at least one market data tick")
	}
	mu.Lock()
	defer mu.Unlock()
	if gotViaListener == 0 {
		t.Fatal("expected the external listener to observe at least one tick")
	}
}

func TestTickRoutesIntoBook(t *testing.T) {
	h, _, market := newTestHarness(t)
	market.AddSymbol("AAPL", dec("150"))

	book := orderbook.NewBook("AAPL", dec("150"))
	h.AddBook("AAPL", book)

	h.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	h.Stop()

	// The book's last trade price tracks every tick, not just fills.
	price, _ := market.GetCurrentPrice("AAPL")
	if !book.LastPrice().Equal(price) {
		t.Fatalf("book last price %s did not track the market tick %s", book.LastPrice(), price)
	}
}

func TestPanickingStrategyDoesNotBlockOthers(t *testing.T) {
	h, _, market := newTestHarness(t)
	market.AddSymbol("AAPL", dec("150"))

	h.AddStrategy(panickingStrategy{})
	good := &recordingStrategy{}
	h.AddStrategy(good)

	h.Start(context.Background())
	time.Sleep(40 * time.Millisecond)
	h.Stop()

	good.mu.Lock()
	defer good.mu.Unlock()
	if good.ticks == 0 {
		t.Fatal("a panicking strategy must not prevent a later strategy from being dispatched to")
	}
}

func TestTradeAndRejectionDispatchViaBook(t *testing.T) {
	h, ledger, _ := newTestHarness(t)
	ledger.AddParticipant("A", dec("10000"))
	ledger.AddParticipant("B", dec("10000"))

	book := orderbook.NewBook("AAPL", dec("150"))
	book.SetPortfolio(ledger)
	h.AddBook("AAPL", book)

	s := &recordingStrategy{}
	h.AddStrategy(s)

	buy := &types.Order{ParticipantID: "A", Symbol: "AAPL", Side: types.Buy, Type: types.Limit, Quantity: 5, Price: dec("100")}
	book.AddOrder(buy)
	sell := &types.Order{ParticipantID: "B", Symbol: "AAPL", Side: types.Sell, Type: types.Limit, Quantity: 5, Price: dec("100")}
	book.AddOrder(sell)

	rejectMe := &types.Order{ParticipantID: "ghost-with-no-cash", Symbol: "AAPL", Side: types.Buy, Type: types.Limit, Quantity: 100000, Price: dec("1000")}
	book.AddOrder(rejectMe)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.trades == 0 {
		t.Fatal("expected the strategy to observe the trade dispatched via the book's callback")
	}
	if s.rejections == 0 {
		t.Fatal("expected the strategy to observe the rejection dispatched via the book's callback")
	}
}

func TestFatalSettlementInconsistencyStopsHarness(t *testing.T) {
	h, _, market := newTestHarness(t)
	market.AddSymbol("AAPL", dec("150"))

	h.Start(context.Background())

	boom := fmt.Errorf("settlement test: %w", portfolio.ErrSettlementInconsistency)
	h.safeCall("test", func() { panic(boom) })

	err := h.Wait()
	if err == nil {
		t.Fatal("expected Wait to return the fatal settlement error")
	}
}
