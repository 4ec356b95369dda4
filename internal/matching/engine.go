package matching

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/orderbook"
	"github.com/solidusx/matchcore/internal/settlement"
	"github.com/solidusx/matchcore/internal/store"
)

// Engine owns one Lane per active trading pair and is the package's
// public entry point. It never mutates book state itself; every mutation
// happens inside a Lane's own goroutine.
type Engine struct {
	store  *store.Store
	settle *settlement.Settlement
	queue  *changequeue.Queue
	pub    Publisher
	cfg    LaneConfig
	logger *zap.Logger

	mu    sync.RWMutex
	lanes map[string]*Lane
}

// NewEngine wires the shared dependencies every lane needs. RegisterPair
// must be called once per active symbol before Submit/Cancel/Depth calls
// against that symbol will succeed.
func NewEngine(s *store.Store, st *settlement.Settlement, q *changequeue.Queue, pub Publisher, cfg LaneConfig, logger *zap.Logger) *Engine {
	return &Engine{
		store:  s,
		settle: st,
		queue:  q,
		pub:    pub,
		cfg:    cfg,
		logger: logger,
		lanes:  make(map[string]*Lane),
	}
}

// RegisterPair starts a new lane for the given pair and returns it. ctx
// governs the lane's lifetime — cancelling it stops the lane's goroutine.
func (e *Engine) RegisterPair(ctx context.Context, pair domain.TradingPair) *Lane {
	lane := NewLane(pair, e.store, e.settle, e.queue, e.pub, e.cfg, e.logger.With(zap.String("symbol", pair.Symbol)))

	e.mu.Lock()
	e.lanes[pair.Symbol] = lane
	e.mu.Unlock()

	go lane.Run(ctx)
	return lane
}

// Restore reinserts an already-resting order directly into its symbol's
// book, bypassing intake — used by the Seed Loader (component G) to
// reconstruct in-memory book state from the relational store on cold
// start, before the lane begins accepting live traffic.
func (e *Engine) Restore(order *domain.Order) error {
	lane := e.lane(order.Symbol)
	if lane == nil {
		return fmt.Errorf("matchcore: no lane registered for symbol %s", order.Symbol)
	}
	if order.Status.Restable() {
		lane.book.Add(order)
	}
	return nil
}

func (e *Engine) lane(symbol string) *Lane {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lanes[symbol]
}

// Submit routes a SubmitOrderRequest to its symbol's lane.
func (e *Engine) Submit(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	lane := e.lane(req.Symbol)
	if lane == nil {
		return nil, domain.WrapError(domain.ErrCodePairInactive, "unknown trading pair", domain.SeverityLow, nil, map[string]interface{}{"symbol": req.Symbol})
	}
	return lane.Submit(ctx, req)
}

// Cancel looks up the order's owning symbol from the operational store
// (CancelOrderRequest carries only the order id) and routes to that
// lane.
func (e *Engine) Cancel(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if err := req.validateShape(); err != nil {
		return &CancelOrderResponse{Success: false, Reason: "malformed cancel request"}, nil
	}
	order, err := LoadOrder(ctx, e.store, req.OrderID)
	if err != nil {
		return &CancelOrderResponse{Success: false, Reason: "order not found"}, nil
	}
	lane := e.lane(order.Symbol)
	if lane == nil {
		return &CancelOrderResponse{Success: false, Reason: "unknown trading pair"}, nil
	}
	return lane.Cancel(ctx, req)
}

// Depth serves depth queries directly off the live book, no lane round
// trip required since Depth/Add/Remove are internally synchronised by
// the OrderBook itself.
func (e *Engine) Depth(q DepthQuery) (*DepthResponse, error) {
	lane := e.lane(q.Symbol)
	if lane == nil {
		return nil, domain.WrapError(domain.ErrCodePairInactive, "unknown trading pair", domain.SeverityLow, nil, map[string]interface{}{"symbol": q.Symbol})
	}
	bids, asks := lane.Depth(q.Depth)
	return &DepthResponse{
		Symbol: q.Symbol,
		Bids:   toLevelViews(bids),
		Asks:   toLevelViews(asks),
		Ts:     time.Now().UnixMilli(),
	}, nil
}

func toLevelViews(levels []orderbook.Level) []LevelView {
	out := make([]LevelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, LevelView{Price: l.Price, Qty: l.Quantity})
	}
	return out
}

// LaneStatus is a point-in-time snapshot used by Health & Metrics.
type LaneStatus struct {
	Symbol    string
	Heartbeat time.Time
	Halted    bool
}

// Statuses returns every registered lane's current heartbeat/halt state.
func (e *Engine) Statuses() []LaneStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]LaneStatus, 0, len(e.lanes))
	for symbol, lane := range e.lanes {
		out = append(out, LaneStatus{Symbol: symbol, Heartbeat: lane.Heartbeat(), Halted: lane.isHalted()})
	}
	return out
}

// Symbols lists every registered trading pair symbol.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.lanes))
	for symbol := range e.lanes {
		out = append(out, symbol)
	}
	return out
}
