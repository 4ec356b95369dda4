package matching

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/orderbook"
	"github.com/solidusx/matchcore/internal/settlement"
	"github.com/solidusx/matchcore/internal/store"
)

// LaneConfig mirrors internal/config.LaneConfig; duplicated here as a
// narrow value type so this package does not import internal/config.
type LaneConfig struct {
	IntakeCapacity  int
	IntakeDeadline  time.Duration
	HeartbeatPeriod time.Duration
}

// Lane is the per-symbol single-writer matching loop: one goroutine
// reads a bounded intake channel FIFO and is the sole mutator of its
// OrderBook and of the pair's last-trade bookkeeping. No lock is taken
// around book mutation; the lane goroutine is the only caller.
type Lane struct {
	pair   domain.TradingPair
	book   *orderbook.OrderBook
	store  *store.Store
	settle *settlement.Settlement
	queue  *changequeue.Queue
	pub    Publisher
	cfg    LaneConfig
	logger *zap.Logger

	intake    chan *laneEvent
	done      chan struct{}
	heartbeat atomic.Value // time.Time

	haltedFlag int32
	haltErr    atomic.Value // error

	mu     sync.Mutex // guards pair.LastPrice/LastTradeAt/Volume24h* and candle
	candle domain.Candle
}

// candleInterval is the only bucket width this lane aggregates a live
// bar for. Only the current bucket is tracked, never persisted or
// backfilled; historical bar serving lives outside this core.
const candleInterval = time.Minute

// NewLane constructs a lane for one trading pair. The caller (Engine)
// starts it with Run in its own goroutine.
func NewLane(pair domain.TradingPair, s *store.Store, st *settlement.Settlement, q *changequeue.Queue, pub Publisher, cfg LaneConfig, logger *zap.Logger) *Lane {
	l := &Lane{
		pair:   pair,
		book:   orderbook.New(pair.Symbol, logger),
		store:  s,
		settle: st,
		queue:  q,
		pub:    pub,
		cfg:    cfg,
		logger: logger,
		intake: make(chan *laneEvent, cfg.IntakeCapacity),
		done:   make(chan struct{}),
	}
	l.heartbeat.Store(time.Now())
	return l
}

// Run is the lane's single goroutine. It returns when ctx is cancelled or
// the intake channel is closed.
func (l *Lane) Run(ctx context.Context) {
	defer close(l.done)

	period := l.cfg.HeartbeatPeriod
	if period <= 0 {
		period = 5 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.heartbeat.Store(time.Now())
		case ev, ok := <-l.intake:
			if !ok {
				return
			}
			l.handleEvent(ctx, ev)
			l.heartbeat.Store(time.Now())
		}
	}
}

// Heartbeat returns the last time the lane's loop woke up; the health
// monitor flags a lane whose heartbeat goes stale.
func (l *Lane) Heartbeat() time.Time {
	return l.heartbeat.Load().(time.Time)
}

// Done signals lane shutdown completion.
func (l *Lane) Done() <-chan struct{} { return l.done }

func (l *Lane) isHalted() bool { return atomic.LoadInt32(&l.haltedFlag) == 1 }

func (l *Lane) halt(err error) {
	if atomic.CompareAndSwapInt32(&l.haltedFlag, 0, 1) {
		l.haltErr.Store(err)
		l.logger.Error("matchcore: lane halted on change-queue failure", zap.String("symbol", l.pair.Symbol), zap.Error(err))
	}
}

func (l *Lane) haltError() error {
	if e, ok := l.haltErr.Load().(error); ok {
		return e
	}
	return domain.WrapError(domain.ErrCodeChangeQueue, "lane halted", domain.SeverityCritical, nil, map[string]interface{}{"symbol": l.pair.Symbol})
}

// Submit enqueues a Place event and blocks for its result. If the lane
// cannot start processing the event before its intake deadline, the
// event is rejected synchronously to the submitter.
func (l *Lane) Submit(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	if l.isHalted() {
		return nil, l.haltError()
	}
	deadline := l.cfg.IntakeDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	ev := &laneEvent{kind: eventPlace, deadline: newDeadline(deadline), place: req, respond: make(chan laneResult, 1)}
	if err := l.dispatch(ctx, ev, deadline); err != nil {
		return nil, err
	}
	select {
	case res := <-ev.respond:
		return res.submit, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel enqueues a Cancel event and blocks for its result.
func (l *Lane) Cancel(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	if l.isHalted() {
		return nil, l.haltError()
	}
	deadline := l.cfg.IntakeDeadline
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	ev := &laneEvent{kind: eventCancel, deadline: newDeadline(deadline), cancel: req, respond: make(chan laneResult, 1)}
	if err := l.dispatch(ctx, ev, deadline); err != nil {
		return nil, err
	}
	select {
	case res := <-ev.respond:
		return res.cancel, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Lane) dispatch(ctx context.Context, ev *laneEvent, deadline time.Duration) error {
	select {
	case l.intake <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(deadline):
		return domain.WrapError(domain.ErrCodeValidation, "lane intake deadline exceeded", domain.SeverityMedium, nil, map[string]interface{}{"symbol": l.pair.Symbol})
	}
}

func (l *Lane) handleEvent(ctx context.Context, ev *laneEvent) {
	if time.Now().After(ev.deadline) {
		ev.respond <- laneResult{err: domain.WrapError(domain.ErrCodeValidation, "event exceeded its processing deadline", domain.SeverityMedium, nil, nil)}
		close(ev.respond)
		return
	}
	switch ev.kind {
	case eventPlace:
		resp, err := l.processPlace(ctx, ev.place)
		ev.respond <- laneResult{submit: resp, err: err}
	case eventCancel:
		resp, err := l.processCancel(ctx, ev.cancel, ev.auto)
		ev.respond <- laneResult{cancel: resp, err: err}
	}
	close(ev.respond)
}

// Depth aggregates the live in-memory book's top levels for each side.
func (l *Lane) Depth(n int) ([]orderbook.Level, []orderbook.Level) {
	return l.book.Depth(domain.SideBuy, n), l.book.Depth(domain.SideSell, n)
}

// --- Place -----------------------------------------------------------------

func (l *Lane) processPlace(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	if te := req.validateShape(); te != nil {
		return nil, domain.WrapError(domain.ErrCodeValidation, "malformed submit request", domain.SeverityLow, te, nil)
	}

	orderID, err := l.store.Incr(ctx, store.CounterOrderID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrCodeStoreUnavailable, "order id allocation failed", domain.SeverityHigh, err, nil)
	}

	now := time.Now()
	order := &domain.Order{
		ID:            orderID,
		UserID:        req.UserID,
		TradingPairID: l.pair.ID,
		Symbol:        l.pair.Symbol,
		Side:          req.Side,
		Type:          req.Type,
		Quantity:      req.Quantity,
		Price:         req.Price,
		Status:        domain.StatusPending,
		ClientOrderID: req.ClientOrderID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := PersistOrder(ctx, l.store, order); err != nil {
		return nil, domain.WrapError(domain.ErrCodeStoreUnavailable, "order hash write failed", domain.SeverityHigh, err, nil)
	}
	if !l.recordChange(ctx, domain.KindOrder, domain.OpCreate, order.ID) {
		return nil, l.haltError()
	}

	if te := l.validateOrder(req); te != nil {
		return l.reject(ctx, order, te)
	}
	if te := l.freeze(ctx, order); te != nil {
		return l.reject(ctx, order, te)
	}

	order.Status = domain.StatusActive
	resp := &SubmitOrderResponse{OrderID: order.ID}

	if breach := l.matchTaker(ctx, order, resp); breach != nil {
		l.logger.Error("matchcore: settlement invariant breach, matching pass aborted",
			zap.Int64("orderId", order.ID), zap.Error(breach))
	}

	if order.Remaining() > 0 {
		switch order.Type {
		case domain.TypeLimit:
			if order.FilledQuantity == 0 {
				order.Status = domain.StatusActive
			}
			l.addToBook(ctx, order)
		case domain.TypeMarket:
			// Immediate-or-cancel: release whatever of the freeze the
			// matching pass did not consume.
			l.releaseFreeze(ctx, order)
			order.Status = domain.StatusCancelled
		}
	} else {
		order.Status = domain.StatusFilled
		l.releaseFreeze(ctx, order)
	}

	order.UpdatedAt = time.Now()
	if err := PersistOrder(ctx, l.store, order); err != nil {
		l.logger.Error("matchcore: order hash update failed", zap.Int64("orderId", order.ID), zap.Error(err))
	}
	l.recordChange(ctx, domain.KindOrder, domain.OpUpdate, order.ID)

	resp.Status = order.Status
	resp.ExecutedQuantity = order.FilledQuantity
	l.pub.UserEvent(order.UserID, "order", order)
	return resp, nil
}

// reject finalises a Rejected order: no freeze, no book entry.
func (l *Lane) reject(ctx context.Context, order *domain.Order, cause *domain.TradingError) (*SubmitOrderResponse, error) {
	order.Status = domain.StatusRejected
	order.UpdatedAt = time.Now()
	if err := PersistOrder(ctx, l.store, order); err != nil {
		l.logger.Error("matchcore: rejected-order persist failed", zap.Int64("orderId", order.ID), zap.Error(err))
	}
	l.recordChange(ctx, domain.KindOrder, domain.OpUpdate, order.ID)
	l.pub.UserEvent(order.UserID, "order", order)
	return &SubmitOrderResponse{OrderID: order.ID, Status: domain.StatusRejected}, cause
}

// validateOrder checks pair state, quantity bounds, and precision before
// any funds move.
func (l *Lane) validateOrder(req *SubmitOrderRequest) *domain.TradingError {
	if !l.pair.IsActive {
		return domain.WrapError(domain.ErrCodePairInactive, "trading pair is not active", domain.SeverityLow, nil, map[string]interface{}{"symbol": l.pair.Symbol})
	}
	if req.Quantity <= 0 {
		return domain.WrapError(domain.ErrCodeValidation, "quantity must be positive", domain.SeverityLow, nil, nil)
	}
	if req.Type == domain.TypeLimit && req.Price <= 0 {
		return domain.WrapError(domain.ErrCodeValidation, "limit order requires a positive price", domain.SeverityLow, nil, nil)
	}
	if req.Type == domain.TypeLimit {
		if l.pair.MinQuantity > 0 && req.Quantity < l.pair.MinQuantity {
			return domain.WrapError(domain.ErrCodeValidation, "quantity below pair minimum", domain.SeverityLow, nil, nil)
		}
		if l.pair.MaxQuantity > 0 && req.Quantity > l.pair.MaxQuantity {
			return domain.WrapError(domain.ErrCodeValidation, "quantity above pair maximum", domain.SeverityLow, nil, nil)
		}
		if !precisionOK(req.Price, l.pair.PricePrecision) {
			return domain.WrapError(domain.ErrCodeValidation, "price exceeds pair precision", domain.SeverityLow, nil, nil)
		}
	}
	if !precisionOK(req.Quantity, l.pair.QuantityPrecision) {
		return domain.WrapError(domain.ErrCodeValidation, "quantity exceeds pair precision", domain.SeverityLow, nil, nil)
	}
	return nil
}

func precisionOK(a domain.Amount, precision int) bool {
	if precision >= 8 {
		return true
	}
	step := int64(1)
	for i := 0; i < 8-precision; i++ {
		step *= 10
	}
	return int64(a)%step == 0
}

// freeze reserves the order's funds up front: quote notional for a buy
// limit, the quote budget for a buy market, base quantity for a sell.
func (l *Lane) freeze(ctx context.Context, order *domain.Order) *domain.TradingError {
	var currency string
	var amount domain.Amount
	if order.IsBuy() {
		currency = l.pair.QuoteAsset
		if order.Type == domain.TypeLimit {
			amount = order.Price.Mul(order.Quantity)
		} else {
			amount = order.Quantity // Buy Market: quantity is a quote-currency budget.
		}
	} else {
		currency = l.pair.BaseAsset
		amount = order.Quantity
	}

	ok, err := l.settle.Freeze(ctx, l.pair.Symbol, order.UserID, currency, amount)
	if err != nil {
		if te, isTE := err.(*domain.TradingError); isTE {
			return te
		}
		return domain.WrapError(domain.ErrCodeStoreUnavailable, "freeze call failed", domain.SeverityHigh, err, nil)
	}
	if !ok {
		return domain.WrapError(domain.ErrCodeInsufficientFunds, "insufficient available balance", domain.SeverityLow, nil, map[string]interface{}{
			"userId": order.UserID, "currency": currency, "amount": amount.String(),
		})
	}
	order.FrozenCurrency = currency
	order.FrozenRemaining = amount
	l.recordAssetChange(ctx, order.UserID, currency)
	return nil
}

// releaseFreeze reverses whatever of an order's tracked freeze remains
// unconsumed, used when an order reaches a terminal state (Filled, or an
// IOC Market remainder cancellation).
func (l *Lane) releaseFreeze(ctx context.Context, order *domain.Order) {
	if order.FrozenRemaining <= 0 {
		return
	}
	ok, err := l.settle.ReverseFreeze(ctx, l.pair.Symbol, order.UserID, order.FrozenCurrency, order.FrozenRemaining)
	if err != nil || !ok {
		l.logger.Error("matchcore: reverse-freeze failed releasing order surplus",
			zap.Int64("orderId", order.ID), zap.Error(err))
		return
	}
	order.FrozenRemaining = 0
	l.recordAssetChange(ctx, order.UserID, order.FrozenCurrency)
}

// --- Crossing ---------------------------------------------------------------

// matchTaker runs the crossing loop for a taker order against the
// resting book. It returns a non-nil error when the execute-trade call
// fails or is declined (a SettlementInvariantBreach), or when a trade id
// cannot be allocated; in each case the crossing pass is aborted and
// whatever state changes already landed (prior trades in this same pass)
// stand; they are not rolled back.
func (l *Lane) matchTaker(ctx context.Context, taker *domain.Order, resp *SubmitOrderResponse) *domain.TradingError {
	for taker.Remaining() > 0 {
		maker := l.book.BestOpposite(taker.Side)
		if maker == nil {
			break
		}

		if maker.UserID == taker.UserID {
			l.removeFromBook(ctx, maker)
			if err := l.cancelResting(ctx, maker); err != nil {
				l.logger.Error("matchcore: self-trade auto-cancel failed", zap.Int64("orderId", maker.ID), zap.Error(err))
			}
			continue
		}

		if !crosses(taker, maker) {
			break
		}

		matchQty := domain.Min(taker.Remaining(), maker.Remaining())
		matchPrice := maker.Price
		if matchPrice <= 0 {
			// Market-vs-market: fall back to the pair's last traded price.
			if l.pair.LastPrice <= 0 {
				break
			}
			matchPrice = l.pair.LastPrice
		}

		buyer, seller := buyerSeller(taker, maker)
		ok, err := l.settle.ExecuteTrade(ctx, l.pair.Symbol, buyer.UserID, seller.UserID, l.pair.BaseAsset, l.pair.QuoteAsset, matchPrice, matchQty)
		if err != nil {
			if te, isTE := err.(*domain.TradingError); isTE {
				return te
			}
			return domain.WrapError(domain.ErrCodeSettlement, "execute-trade call failed", domain.SeverityCritical, err, nil)
		}
		if !ok {
			return domain.WrapError(domain.ErrCodeSettlement, "execute-trade declined: invariant violated", domain.SeverityCritical, nil, map[string]interface{}{
				"buyOrderId": buyer.ID, "sellOrderId": seller.ID,
			})
		}

		taker.ApplyFill(matchPrice, matchQty)
		maker.ApplyFill(matchPrice, matchQty)
		consumeFreeze(buyer, matchPrice, matchQty, true)
		consumeFreeze(seller, matchPrice, matchQty, false)
		l.recordAssetChange(ctx, buyer.UserID, l.pair.QuoteAsset)
		l.recordAssetChange(ctx, buyer.UserID, l.pair.BaseAsset)
		l.recordAssetChange(ctx, seller.UserID, l.pair.BaseAsset)
		l.recordAssetChange(ctx, seller.UserID, l.pair.QuoteAsset)

		now := time.Now()
		l.mu.Lock()
		l.pair.LastPrice = matchPrice
		l.pair.LastTradeAt = now
		if l.pair.Volume24hWindowStart.IsZero() || now.Sub(l.pair.Volume24hWindowStart) >= 24*time.Hour {
			l.pair.Volume24h = matchQty
			l.pair.Volume24hWindowStart = now
		} else {
			l.pair.Volume24h += matchQty
		}
		vol24h := l.pair.Volume24h
		l.updateCandle(now, matchPrice, matchQty)
		candle := l.candle
		l.mu.Unlock()

		tradeID, err := l.store.Incr(ctx, store.CounterTradeID)
		if err != nil {
			l.logger.Error("matchcore: trade id allocation failed", zap.Error(err))
			return domain.WrapError(domain.ErrCodeStoreUnavailable, "trade id allocation failed", domain.SeverityCritical, err, nil)
		}
		trade := &domain.Trade{
			ID:            tradeID,
			TradingPairID: l.pair.ID,
			Symbol:        l.pair.Symbol,
			BuyOrderID:    buyer.ID,
			SellOrderID:   seller.ID,
			BuyerID:       buyer.UserID,
			SellerID:      seller.UserID,
			Price:         matchPrice,
			Quantity:      matchQty,
			TakerSide:     taker.Side,
			ExecutedAt:    time.Now(),
		}
		if err := PersistTrade(ctx, l.store, trade); err != nil {
			l.logger.Error("matchcore: trade hash write failed", zap.Int64("tradeId", tradeID), zap.Error(err))
		}
		l.recordChange(ctx, domain.KindTrade, domain.OpCreate, tradeID)

		if maker.Status == domain.StatusFilled {
			l.releaseFreeze(ctx, maker)
		}
		if err := PersistOrder(ctx, l.store, maker); err != nil {
			l.logger.Error("matchcore: maker order update failed", zap.Int64("orderId", maker.ID), zap.Error(err))
		}
		l.recordChange(ctx, domain.KindOrder, domain.OpUpdate, maker.ID)

		resp.Trades = append(resp.Trades, TradeSummary{ID: tradeID, Price: matchPrice, Quantity: matchQty, ExecutedAt: trade.ExecutedAt.UnixMilli()})
		l.pub.TradeTape(l.pair.Symbol, *trade)
		l.pub.Ticker(l.pair.Symbol, matchPrice, vol24h)
		l.pub.Kline(l.pair.Symbol, candle.Interval, candle)
		l.pub.UserEvent(maker.UserID, "trade", trade)

		if maker.Remaining() <= 0 {
			l.removeFromBook(ctx, maker)
		} else {
			l.bookDelta(maker.Side, maker.Price)
		}
	}
	return nil
}

// updateCandle rolls the lane's in-progress bar forward for one trade.
// Called with l.mu held. A trade outside the current bucket opens a new
// one-trade bar rather than backfilling the gap.
func (l *Lane) updateCandle(at time.Time, price, qty domain.Amount) {
	bucket := at.Truncate(candleInterval)
	if l.candle.OpenTime != bucket.UnixMilli() {
		l.candle = domain.Candle{
			Interval:  "1m",
			OpenTime:  bucket.UnixMilli(),
			CloseTime: bucket.Add(candleInterval).UnixMilli(),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
			Volume:    qty,
		}
		return
	}
	if price > l.candle.High {
		l.candle.High = price
	}
	if price < l.candle.Low {
		l.candle.Low = price
	}
	l.candle.Close = price
	l.candle.Volume += qty
}

func crosses(taker, maker *domain.Order) bool {
	if taker.Type == domain.TypeMarket {
		return true
	}
	if taker.IsBuy() {
		return taker.Price >= maker.Price
	}
	return taker.Price <= maker.Price
}

// consumeFreeze reduces the tracked freeze remainder by the notional (for
// the buyer, quote currency) or quantity (for the seller, base currency)
// this fill actually consumed.
func consumeFreeze(o *domain.Order, matchPrice, matchQty domain.Amount, isBuyer bool) {
	if isBuyer {
		o.FrozenRemaining -= matchPrice.Mul(matchQty)
	} else {
		o.FrozenRemaining -= matchQty
	}
	if o.FrozenRemaining < 0 {
		o.FrozenRemaining = 0
	}
}

// --- Cancel -----------------------------------------------------------------

func (l *Lane) processCancel(ctx context.Context, req *CancelOrderRequest, auto bool) (*CancelOrderResponse, error) {
	if te := req.validateShape(); te != nil {
		return &CancelOrderResponse{Success: false, Reason: "malformed cancel request"}, nil
	}
	order, err := LoadOrder(ctx, l.store, req.OrderID)
	if err != nil {
		return &CancelOrderResponse{Success: false, Reason: "order not found"}, nil
	}
	if !auto && order.UserID != req.UserID {
		return &CancelOrderResponse{Success: false, Reason: "not the order owner"}, nil
	}
	if order.Status != domain.StatusActive && order.Status != domain.StatusPending && order.Status != domain.StatusPartiallyFilled {
		return &CancelOrderResponse{Success: false, Reason: fmt.Sprintf("order not cancellable in status %s", order.Status)}, nil
	}

	l.removeFromBook(ctx, order)
	if err := l.cancelResting(ctx, order); err != nil {
		return &CancelOrderResponse{Success: false, Reason: "cancel failed"}, err
	}
	l.pub.UserEvent(order.UserID, "order", order)
	return &CancelOrderResponse{Success: true}, nil
}

// cancelResting finalises a Cancelled order already removed from the book:
// reverse-freezes its tracked remainder and persists the change.
func (l *Lane) cancelResting(ctx context.Context, order *domain.Order) error {
	l.releaseFreeze(ctx, order)
	order.Status = domain.StatusCancelled
	order.UpdatedAt = time.Now()
	if err := PersistOrder(ctx, l.store, order); err != nil {
		return domain.WrapError(domain.ErrCodeStoreUnavailable, "cancelled-order persist failed", domain.SeverityHigh, err, nil)
	}
	if !l.recordChange(ctx, domain.KindOrder, domain.OpUpdate, order.ID) {
		return l.haltError()
	}
	return nil
}

// --- Book + change-queue + publisher plumbing -------------------------------

func (l *Lane) addToBook(ctx context.Context, order *domain.Order) {
	l.book.Add(order)
	if err := l.store.ZAdd(ctx, store.ActiveBookKey(l.pair.Symbol, order.Side.String()), float64(order.Price), strconv.FormatInt(order.ID, 10)); err != nil {
		l.logger.Warn("matchcore: active-book mirror write failed", zap.Int64("orderId", order.ID), zap.Error(err))
	}
	l.bookDelta(order.Side, order.Price)
}

func (l *Lane) removeFromBook(ctx context.Context, order *domain.Order) {
	if !l.book.Remove(order.ID) {
		return
	}
	if err := l.store.ZRem(ctx, store.ActiveBookKey(l.pair.Symbol, order.Side.String()), strconv.FormatInt(order.ID, 10)); err != nil {
		l.logger.Warn("matchcore: active-book mirror removal failed", zap.Int64("orderId", order.ID), zap.Error(err))
	}
	l.bookDelta(order.Side, order.Price)
}

// snapshotDepth caps how many price levels per side the refreshed
// late-subscriber snapshot carries.
const snapshotDepth = 50

// bookDelta re-aggregates the live level at (side, price), publishes
// it, and refreshes the symbol's cached depth snapshot for late
// subscribers; a level that has emptied naturally reports newSize=0.
func (l *Lane) bookDelta(side domain.OrderSide, price domain.Amount) {
	newSize := domain.Zero
	for _, lvl := range l.book.Depth(side, 0) {
		if lvl.Price == price {
			newSize = lvl.Quantity
			break
		}
	}
	l.pub.OrderBookDelta(l.pair.Symbol, side, price, newSize)
	l.pub.SnapshotOrderBook(l.pair.Symbol, l.book.Depth(domain.SideBuy, snapshotDepth), l.book.Depth(domain.SideSell, snapshotDepth))
}

// recordChange enqueues a change record and, on failure, halts the lane:
// a lost append means the durable store would silently diverge, so the
// lane stops taking work instead. Returns false if the lane is now
// halted.
func (l *Lane) recordChange(ctx context.Context, kind domain.EntityKind, op domain.ChangeOperation, entityID int64) bool {
	return l.recordChangeID(ctx, kind, op, strconv.FormatInt(entityID, 10))
}

// recordAssetChange enqueues a change record for one (symbol, userId,
// currency) asset row, composite-keyed the same way
// internal/db/repositories' AssetRepository identifies a row.
func (l *Lane) recordAssetChange(ctx context.Context, userID int64, currency string) bool {
	return l.recordChangeID(ctx, domain.KindAsset, domain.OpUpdate, AssetEntityID(l.pair.Symbol, userID, currency))
}

func (l *Lane) recordChangeID(ctx context.Context, kind domain.EntityKind, op domain.ChangeOperation, entityID string) bool {
	rec := changequeue.NewRecord(kind, op, entityID)
	if err := l.queue.Enqueue(ctx, kind, rec); err != nil {
		l.halt(err)
		return false
	}
	return true
}
