package strategy

import (
	"sync"
	"time"
)

// FlowSample records a single trade for order flow tracking.
type FlowSample struct {
	Side      string // BUY or SELL
	Qty       int64
	Price     float64
	Timestamp time.Time
}

// FlowTracker tracks order flow in a rolling window per symbol.
type FlowTracker struct {
	mu      sync.RWMutex
	window  time.Duration
	samples map[string][]FlowSample // symbol -> rolling window
}

// NewFlowTracker creates a FlowTracker with the given window duration.
func NewFlowTracker(window time.Duration) *FlowTracker {
	return &FlowTracker{
		window:  window,
		samples: make(map[string][]FlowSample),
	}
}

// Record adds a trade sample to the tracker.
func (ft *FlowTracker) Record(symbol, side string, qty int64, price float64) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.samples[symbol] = append(ft.samples[symbol], FlowSample{
		Side:      side,
		Qty:       qty,
		Price:     price,
		Timestamp: time.Now(),
	})
	ft.evict(symbol)
}

// NetFlow returns a normalized flow score from -1 (all sells) to +1 (all buys).
func (ft *FlowTracker) NetFlow(symbol string) float64 {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	cutoff := time.Now().Add(-ft.window)
	var buyVol, sellVol float64
	for _, s := range ft.samples[symbol] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		if s.Side == "BUY" {
			buyVol += float64(s.Qty)
		} else {
			sellVol += float64(s.Qty)
		}
	}
	total := buyVol + sellVol
	if total == 0 {
		return 0
	}
	return (buyVol - sellVol) / total
}

// VWAP returns the volume-weighted average price for recent trades.
func (ft *FlowTracker) VWAP(symbol string) float64 {
	ft.mu.RLock()
	defer ft.mu.RUnlock()

	cutoff := time.Now().Add(-ft.window)
	var totalQty, totalNotional float64
	for _, s := range ft.samples[symbol] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		totalQty += float64(s.Qty)
		totalNotional += s.Price * float64(s.Qty)
	}
	if totalQty == 0 {
		return 0
	}
	return totalNotional / totalQty
}

// evict removes expired samples. Caller must hold ft.mu.
func (ft *FlowTracker) evict(symbol string) {
	cutoff := time.Now().Add(-ft.window)
	samples := ft.samples[symbol]
	i := 0
	for i < len(samples) && samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		ft.samples[symbol] = samples[i:]
	}
}
