package orderbook

import (
	"container/heap"

	"github.com/marketsim/exchange-sim/internal/types"
)

// restingQueue is a price-time priority queue of resting LIMIT orders for
// one side of one symbol's book. Bids are ordered best-price-first
// (descending price, then ascending timestamp); asks ascending price, then
// ascending timestamp. It implements container/heap.Interface directly so
// cancellation can remove an arbitrary element in O(log n) instead of
// relying on lazy deletion.
type restingQueue struct {
	orders []*types.Order
	index  map[int64]int // order id -> position in orders
	better func(a, b *types.Order) bool
}

func newRestingQueue(side types.Side) *restingQueue {
	var better func(a, b *types.Order) bool
	if side == types.Buy {
		better = func(a, b *types.Order) bool {
			if !a.Price.Equal(b.Price) {
				return a.Price.GreaterThan(b.Price)
			}
			return earlier(a, b)
		}
	} else {
		better = func(a, b *types.Order) bool {
			if !a.Price.Equal(b.Price) {
				return a.Price.LessThan(b.Price)
			}
			return earlier(a, b)
		}
	}
	return &restingQueue{
		index:  make(map[int64]int),
		better: better,
	}
}

// earlier orders within a price level fill first. Ids break timestamp ties
// since two orders admitted back to back can share a clock reading.
func earlier(a, b *types.Order) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (q *restingQueue) Len() int { return len(q.orders) }

func (q *restingQueue) Less(i, j int) bool { return q.better(q.orders[i], q.orders[j]) }

func (q *restingQueue) Swap(i, j int) {
	q.orders[i], q.orders[j] = q.orders[j], q.orders[i]
	q.index[q.orders[i].ID] = i
	q.index[q.orders[j].ID] = j
}

func (q *restingQueue) Push(x any) {
	o := x.(*types.Order)
	q.index[o.ID] = len(q.orders)
	q.orders = append(q.orders, o)
}

func (q *restingQueue) Pop() any {
	n := len(q.orders)
	o := q.orders[n-1]
	q.orders = q.orders[:n-1]
	delete(q.index, o.ID)
	return o
}

// insert rests an order into the queue, maintaining heap order.
func (q *restingQueue) insert(o *types.Order) {
	heap.Push(q, o)
}

// best returns the top-priority resting order without removing it.
func (q *restingQueue) best() (*types.Order, bool) {
	if len(q.orders) == 0 {
		return nil, false
	}
	return q.orders[0], true
}

// removeFilled pops the top-priority order once it is fully filled.
func (q *restingQueue) removeFilled() {
	heap.Pop(q)
}

// remove deletes an order by id, wherever it sits in the heap. Returns
// false if the id is not present.
func (q *restingQueue) remove(id int64) bool {
	i, ok := q.index[id]
	if !ok {
		return false
	}
	heap.Remove(q, i)
	return true
}

// depth aggregates quantity by price across the top n price levels, best
// price first for this queue's side (descending for bids, ascending for
// asks).
func (q *restingQueue) depth(n int, descending bool) []types.Level {
	// Depth is computed from a price-grouped copy rather than heap order,
	// since the heap only guarantees the root is best. Grouping compares
	// decimals by value, never by their string form: two orders at the same
	// price can carry different exponents (one parsed from config, one
	// derived from a float) and must still land in one level.
	levels := make([]types.Level, 0, len(q.orders))
	for _, o := range q.orders {
		merged := false
		for i := range levels {
			if levels[i].Price.Equal(o.Price) {
				levels[i].Qty += o.Remaining()
				merged = true
				break
			}
		}
		if !merged {
			levels = append(levels, types.Level{Price: o.Price, Qty: o.Remaining()})
		}
	}
	sortLevels(levels, descending)
	if n > 0 && n < len(levels) {
		levels = levels[:n]
	}
	return levels
}

// sortLevels is an insertion sort: depth snapshots are small (top-of-book
// use), avoiding a sort.Slice comparator allocation for a handful of
// elements.
func sortLevels(levels []types.Level, descending bool) {
	better := func(a, b types.Level) bool {
		if descending {
			return a.Price.GreaterThan(b.Price)
		}
		return a.Price.LessThan(b.Price)
	}
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && better(levels[j], levels[j-1]); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}
