// Package orderbook implements the in-memory price-time-priority book:
// one per symbol, two price-indexed heaps (descending for bids,
// ascending for asks), each entry ordered by insertion sequence at
// equal price.
package orderbook

import (
	"container/heap"
	"sync"

	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/domain"
)

// entry is one resting order plus its insertion sequence, used to break
// price ties in favour of the earliest-enqueued order.
type entry struct {
	order    *domain.Order
	sequence uint64
	index    int // heap.Interface bookkeeping
}

// priceHeap is a container/heap of entries for one side of one symbol.
type priceHeap struct {
	entries []*entry
	maxHeap bool // true for bids (highest price first), false for asks
}

func (h priceHeap) Len() int { return len(h.entries) }

func (h priceHeap) Less(i, j int) bool {
	a, b := h.entries[i], h.entries[j]
	if a.order.Price != b.order.Price {
		if h.maxHeap {
			return a.order.Price > b.order.Price
		}
		return a.order.Price < b.order.Price
	}
	return a.sequence < b.sequence
}

func (h priceHeap) Swap(i, j int) {
	h.entries[i], h.entries[j] = h.entries[j], h.entries[i]
	h.entries[i].index = i
	h.entries[j].index = j
}

func (h *priceHeap) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(h.entries)
	h.entries = append(h.entries, e)
}

func (h *priceHeap) Pop() interface{} {
	old := h.entries
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	h.entries = old[:n-1]
	return e
}

// Level is one aggregated price level returned by Depth.
type Level struct {
	Price    domain.Amount
	Quantity domain.Amount
}

// OrderBook is the per-symbol book. All methods are safe for concurrent
// use, though in practice only the owning matching lane mutates it;
// Depth may be read from other goroutines.
type OrderBook struct {
	Symbol string

	mu       sync.Mutex
	bids     *priceHeap
	asks     *priceHeap
	byID     map[int64]*entry
	sequence uint64
	logger   *zap.Logger
}

// New constructs an empty book for one symbol.
func New(symbol string, logger *zap.Logger) *OrderBook {
	ob := &OrderBook{
		Symbol: symbol,
		bids:   &priceHeap{maxHeap: true},
		asks:   &priceHeap{maxHeap: false},
		byID:   make(map[int64]*entry),
		logger: logger,
	}
	heap.Init(ob.bids)
	heap.Init(ob.asks)
	return ob
}

func (ob *OrderBook) sideHeap(side domain.OrderSide) *priceHeap {
	if side == domain.SideBuy {
		return ob.bids
	}
	return ob.asks
}

// Add inserts a resting order at its price level's tail in O(log n).
// Only orders in Active or PartiallyFilled status should be added; the
// caller (matching lane) enforces that.
func (ob *OrderBook) Add(order *domain.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.sequence++
	e := &entry{order: order, sequence: ob.sequence}
	ob.byID[order.ID] = e
	heap.Push(ob.sideHeap(order.Side), e)
}

// BestOpposite peeks the first still-live order on the opposite side of
// the given side, lazily discarding fully-filled or otherwise
// terminal/non-restable heads. Returns nil if the opposite side is
// exhausted.
func (ob *OrderBook) BestOpposite(side domain.OrderSide) *domain.Order {
	return ob.best(side.Opposite())
}

// best peeks the live top of one side, lazily discarding dead heads.
// Callers must hold no lock; best takes it itself.
func (ob *OrderBook) best(side domain.OrderSide) *domain.Order {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	h := ob.sideHeap(side)
	for h.Len() > 0 {
		top := h.entries[0]
		if top.order.Remaining() <= 0 || !top.order.Status.Restable() {
			heap.Pop(h)
			delete(ob.byID, top.order.ID)
			continue
		}
		return top.order
	}
	return nil
}

// Remove removes an order by id from its price level, dropping the level
// if it empties. Returns false if the order was not resting.
func (ob *OrderBook) Remove(orderID int64) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	e, ok := ob.byID[orderID]
	if !ok {
		return false
	}
	h := ob.sideHeap(e.order.Side)
	heap.Remove(h, e.index)
	delete(ob.byID, orderID)
	return true
}

// Depth aggregates the first N non-empty price levels for a side,
// best-first.
func (ob *OrderBook) Depth(side domain.OrderSide, n int) []Level {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	h := ob.sideHeap(side)
	agg := make(map[domain.Amount]domain.Amount)
	order := make([]domain.Amount, 0, len(h.entries))
	for _, e := range h.entries {
		remaining := e.order.Remaining()
		if remaining <= 0 || !e.order.Status.Restable() {
			continue
		}
		if _, seen := agg[e.order.Price]; !seen {
			order = append(order, e.order.Price)
		}
		agg[e.order.Price] += remaining
	}

	// Sort price levels best-first: descending for bids, ascending for asks.
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			swap := false
			if h.maxHeap {
				swap = order[j] > order[j-1]
			} else {
				swap = order[j] < order[j-1]
			}
			if !swap {
				break
			}
			order[j], order[j-1] = order[j-1], order[j]
		}
	}

	if n > 0 && len(order) > n {
		order = order[:n]
	}
	levels := make([]Level, 0, len(order))
	for _, p := range order {
		levels = append(levels, Level{Price: p, Quantity: agg[p]})
	}
	return levels
}

// BestBidAsk returns the current top of book on each side, zero values
// if a side is empty. After a matching pass completes, best bid is
// always strictly below best ask.
func (ob *OrderBook) BestBidAsk() (bestBid, bestAsk domain.Amount) {
	bid := ob.best(domain.SideBuy)
	ask := ob.best(domain.SideSell)
	if bid != nil {
		bestBid = bid.Price
	}
	if ask != nil {
		bestAsk = ask.Price
	}
	return
}
