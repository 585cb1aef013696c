// Package marketdata drives a synthetic per-symbol price walk: a small
// mean-zero perturbation applied at a fixed tick interval, seedable for
// reproducible tests.
package marketdata

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marketsim/exchange-sim/internal/types"
)

// TickCallback receives every tick this engine generates, one call per
// symbol per wake.
type TickCallback func(types.MarketData)

// Engine advances a synthetic price for every symbol it tracks, one tick
// every interval, using a mean-zero perturbation: new = old * (1 + eps).
// The zero value is not usable; construct with New.
type Engine struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal

	interval time.Duration
	sigma    float64
	floor    decimal.Decimal
	rng      *rand.Rand

	cb TickCallback

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Config holds the parameters governing the price walk.
type Config struct {
	Interval time.Duration
	Sigma    float64         // standard deviation of the per-tick perturbation
	Floor    decimal.Decimal // strictly positive lower bound on price
	Seed     uint64
}

// New constructs an Engine. Call AddSymbol for every symbol before Start,
// or any time afterward (spec.md §5 permits late-joining symbols).
func New(cfg Config) *Engine {
	return &Engine{
		prices:   make(map[string]decimal.Decimal),
		interval: cfg.Interval,
		sigma:    cfg.Sigma,
		floor:    cfg.Floor,
		rng:      rand.New(rand.NewSource(int64(cfg.Seed))),
	}
}

// AddSymbol seeds symbol with an initial price. Safe to call before or
// after Start.
func (e *Engine) AddSymbol(symbol string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prices[symbol] = price
}

// SetCallback installs the single tick subscriber. Replaces any prior one.
func (e *Engine) SetCallback(cb TickCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cb = cb
}

// GetCurrentPrice returns the last price for symbol. ok is false if symbol
// was never added.
func (e *Engine) GetCurrentPrice(symbol string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.prices[symbol]
	return p, ok
}

// GetAllPrices returns a snapshot of every tracked symbol's last price.
func (e *Engine) GetAllPrices() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(e.prices))
	for sym, p := range e.prices {
		out[sym] = p
	}
	return out
}

// Start launches the background tick goroutine. Stop joins it. Start must
// not be called twice without an intervening Stop.
func (e *Engine) Start() {
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.stopOnce = sync.Once{}
	go e.run()
}

// Stop signals the tick goroutine to exit and blocks until it has.
// Idempotent: a second call blocks until the first's shutdown completes
// rather than double-closing the stop channel (spec.md §5).
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
	<-e.done
}

func (e *Engine) run() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	symbols := make([]string, 0, len(e.prices))
	for sym := range e.prices {
		symbols = append(symbols, sym)
	}
	updates := make(map[string]decimal.Decimal, len(symbols))
	for _, sym := range symbols {
		old := e.prices[sym]
		eps := e.sigma * e.sampleNormal()
		factor := decimal.NewFromFloat(1 + eps)
		next := old.Mul(factor)
		if next.LessThan(e.floor) {
			next = e.floor
		}
		e.prices[sym] = next
		updates[sym] = next
	}
	cb := e.cb
	e.mu.Unlock()

	if cb == nil {
		return
	}
	now := time.Now()
	for sym, price := range updates {
		cb(types.MarketData{Symbol: sym, Price: price, Timestamp: now})
	}
}

// sampleNormal draws from a standard normal distribution via the
// Box-Muller transform over two uniform draws from the seeded source
// (spec.md §4.4 leaves the exact distribution open, only requiring zero
// mean and bounded variance).
func (e *Engine) sampleNormal() float64 {
	u1 := e.rng.Float64()
	u2 := e.rng.Float64()
	if u1 == 0 {
		u1 = math.SmallestNonzeroFloat64
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
