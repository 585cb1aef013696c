package marketdata

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/types"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestAddSymbolAndGetCurrentPrice(t *testing.T) {
	e := New(Config{Interval: time.Second, Sigma: 0.001, Floor: dec("0.01"), Seed: 1})
	e.AddSymbol("AAPL", dec("150"))

	got, ok := e.GetCurrentPrice("AAPL")
	if !ok {
		t.Fatal("expected AAPL to be tracked")
	}
	if !got.Equal(dec("150")) {
		t.Errorf("price = %s, want 150", got)
	}

	if _, ok := e.GetCurrentPrice("MSFT"); ok {
		t.Fatal("expected MSFT to be unknown")
	}
}

func TestGetAllPricesSnapshot(t *testing.T) {
	e := New(Config{Interval: time.Second, Sigma: 0.001, Floor: dec("0.01"), Seed: 1})
	e.AddSymbol("AAPL", dec("150"))
	e.AddSymbol("MSFT", dec("300"))

	all := e.GetAllPrices()
	if len(all) != 2 {
		t.Fatalf("got %d symbols, want 2", len(all))
	}
	// Mutating the returned map must not affect the engine's own state.
	all["AAPL"] = dec("0")
	if got, _ := e.GetCurrentPrice("AAPL"); got.Equal(dec("0")) {
		t.Fatal("GetAllPrices leaked a mutable reference to internal state")
	}
}

func TestTickProducesBoundedPositivePrice(t *testing.T) {
	e := New(Config{Interval: time.Millisecond, Sigma: 0.001, Floor: dec("1"), Seed: 42})
	e.AddSymbol("AAPL", dec("150"))

	for i := 0; i < 1000; i++ {
		e.tick()
		p, _ := e.GetCurrentPrice("AAPL")
		if p.LessThan(dec("1")) {
			t.Fatalf("price fell below floor: %s", p)
		}
		if p.Sign() <= 0 {
			t.Fatalf("price must stay strictly positive, got %s", p)
		}
	}
}

func TestTickClampsToFloor(t *testing.T) {
	e := New(Config{Interval: time.Millisecond, Sigma: 0.5, Floor: dec("100"), Seed: 7})
	e.AddSymbol("AAPL", dec("100.0001"))

	for i := 0; i < 200; i++ {
		e.tick()
	}
	p, _ := e.GetCurrentPrice("AAPL")
	if p.LessThan(dec("100")) {
		t.Fatalf("price fell below the configured floor: %s", p)
	}
}

func TestSeedIsReproducible(t *testing.T) {
	a := New(Config{Interval: time.Millisecond, Sigma: 0.002, Floor: dec("0.01"), Seed: 99})
	b := New(Config{Interval: time.Millisecond, Sigma: 0.002, Floor: dec("0.01"), Seed: 99})
	a.AddSymbol("AAPL", dec("150"))
	b.AddSymbol("AAPL", dec("150"))

	for i := 0; i < 50; i++ {
		a.tick()
		b.tick()
	}
	pa, _ := a.GetCurrentPrice("AAPL")
	pb, _ := b.GetCurrentPrice("AAPL")
	if !pa.Equal(pb) {
		t.Fatalf("same-seed engines diverged: %s vs %s", pa, pb)
	}
}

func TestStartStopDeliversTicks(t *testing.T) {
	e := New(Config{Interval: 5 * time.Millisecond, Sigma: 0.001, Floor: dec("0.01"), Seed: 3})
	e.AddSymbol("AAPL", dec("150"))

	var mu sync.Mutex
	count := 0
	e.SetCallback(func(md types.MarketData) {
		mu.Lock()
		defer mu.Unlock()
		if md.Symbol != "AAPL" {
			t.Errorf("tick for unexpected symbol %s", md.Symbol)
		}
		count++
	})

	e.Start()
	time.Sleep(60 * time.Millisecond)
	e.Stop()

	mu.Lock()
	defer mu.Unlock()
	if count == 0 {
		t.Fatal("expected at least one tick to have been delivered")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := New(Config{Interval: 5 * time.Millisecond, Sigma: 0.001, Floor: dec("0.01"), Seed: 5})
	e.AddSymbol("AAPL", dec("150"))

	e.Start()
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.Stop()
		done <- struct{}{}
	}()
	e.Stop()
	<-done
}

func TestLateJoiningSymbolTicksToo(t *testing.T) {
	e := New(Config{Interval: 5 * time.Millisecond, Sigma: 0.001, Floor: dec("0.01"), Seed: 11})
	e.AddSymbol("AAPL", dec("150"))

	e.Start()
	e.AddSymbol("MSFT", dec("300"))
	time.Sleep(40 * time.Millisecond)
	e.Stop()

	if _, ok := e.GetCurrentPrice("MSFT"); !ok {
		t.Fatal("expected a late-added symbol to be tracked")
	}
}
