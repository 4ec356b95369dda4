// Package publish is the market-data publisher: a group-based broadcast
// fed by the matching lanes' TradeTape/
// OrderBookDelta/Ticker/Kline/UserEvent calls, fanned out to subscribers
// of `orderbook:{symbol}`, `trades:{symbol}`, `ticker:{symbol}`,
// `kline:{symbol}:{interval}`, and `user:{userId}` groups. Topic routing
// is backed by watermill's in-process gochannel pub/sub. Each topic gets
// one dedicated dispatch goroutine draining its ring buffer strictly
// FIFO, so messages within a group are always published in enqueue
// order; the actual watermill Publish call that goroutine makes is
// still bounded by a shared ants worker pool, capping total concurrent
// fan-out I/O across every topic.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/orderbook"
)

// DropPolicy names which end of a group's backlog is sacrificed once
// its bounded ring buffer is full.
type DropPolicy int

const (
	// DropOldest evicts the oldest buffered message to make room for the
	// newest one — used for order-book deltas, where only the latest
	// state of a level matters to a newly-caught-up subscriber.
	DropOldest DropPolicy = iota
	// DropNewest discards the incoming message instead — used for the
	// trade tape, where every individual trade is a distinct fact a
	// subscriber may care about, so silently overwriting an older one
	// with a newer one would hide history rather than just lag it.
	DropNewest
)

// Config tunes the publisher, mirroring config.PublisherConfig.
type Config struct {
	GroupBufferSize int
	FanoutPoolSize  int
}

// Publisher implements matching.Publisher and exposes a Subscribe side
// for whatever presentation layer eventually sits on top; the push
// channel itself is this package's whole job.
type Publisher struct {
	pubsub *gochannel.GoChannel
	pool   *ants.Pool
	logger *zap.Logger

	mu      sync.Mutex
	groups  map[string]*ringBuffer
	cfg     Config
	enc     *zstd.Encoder
	snapMu  sync.RWMutex
	snapsh  map[string][]byte // compressed order-book snapshots, by symbol
}

// New wires the gochannel backbone and the fan-out pool.
func New(cfg Config, logger *zap.Logger) (*Publisher, error) {
	wmLogger := watermill.NewStdLogger(false, false)
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.GroupBufferSize),
		Persistent:          false,
	}, wmLogger)

	pool, err := ants.NewPool(cfg.FanoutPoolSize)
	if err != nil {
		return nil, fmt.Errorf("matchcore: build publisher fan-out pool: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("matchcore: build zstd encoder: %w", err)
	}

	return &Publisher{
		pubsub: pubsub,
		pool:   pool,
		logger: logger,
		groups: make(map[string]*ringBuffer),
		cfg:    cfg,
		enc:    enc,
		snapsh: make(map[string][]byte),
	}, nil
}

// Close stops every topic's dispatch loop, then releases the fan-out
// pool and the pub/sub backbone.
func (p *Publisher) Close() error {
	p.mu.Lock()
	for _, buf := range p.groups {
		buf.close()
	}
	p.mu.Unlock()
	p.pool.Release()
	return p.pubsub.Close()
}

// Subscribe joins one of the broadcast groups. If the group is an
// `orderbook:{symbol}` group and a snapshot has been primed via
// SnapshotOrderBook, the first delivered message is that compressed
// snapshot (metadata snapshot=zstd) so a newly-joined subscriber
// doesn't have to wait for the next delta to know the current book.
func (p *Publisher) Subscribe(ctx context.Context, group string) (<-chan *message.Message, error) {
	ch, err := p.pubsub.Subscribe(ctx, group)
	if err != nil {
		return nil, err
	}
	symbol, isBook := strings.CutPrefix(group, "orderbook:")
	if !isBook {
		return ch, nil
	}
	p.snapMu.RLock()
	snap := p.snapsh[symbol]
	p.snapMu.RUnlock()
	if snap == nil {
		return ch, nil
	}

	out := make(chan *message.Message, 1)
	first := message.NewMessage(uuid.NewString(), snap)
	first.Metadata.Set("snapshot", "zstd")
	out <- first
	go func() {
		defer close(out)
		for msg := range ch {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SnapshotOrderBook compresses and caches the current depth for a
// symbol. The matching lane refreshes it on every book mutation, so
// Subscribe can hand a newly-joined orderbook:{symbol} subscriber the
// whole book instead of making it wait for deltas.
func (p *Publisher) SnapshotOrderBook(symbol string, bids, asks []orderbook.Level) {
	raw, err := json.Marshal(orderBookSnapshot{Symbol: symbol, Bids: toBookLevels(bids), Asks: toBookLevels(asks)})
	if err != nil {
		p.logger.Error("matchcore: marshal book snapshot failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	p.snapMu.Lock()
	defer p.snapMu.Unlock()
	var buf bytes.Buffer
	p.enc.Reset(&buf)
	if _, err := p.enc.Write(raw); err != nil {
		p.logger.Error("matchcore: compress book snapshot failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	if err := p.enc.Close(); err != nil {
		p.logger.Error("matchcore: compress book snapshot failed", zap.String("symbol", symbol), zap.Error(err))
		return
	}
	p.snapsh[symbol] = append([]byte(nil), buf.Bytes()...)
}

// bookLevel is one (price, qty) pair in a serialised snapshot.
type bookLevel struct {
	Price domain.Amount `json:"price"`
	Qty   domain.Amount `json:"qty"`
}

func toBookLevels(levels []orderbook.Level) []bookLevel {
	out := make([]bookLevel, 0, len(levels))
	for _, l := range levels {
		out = append(out, bookLevel{Price: l.Price, Qty: l.Quantity})
	}
	return out
}

type orderBookSnapshot struct {
	Symbol string      `json:"symbol"`
	Bids   []bookLevel `json:"bids"`
	Asks   []bookLevel `json:"asks"`
}

// --- matching.Publisher implementation ---

type tradePayload struct {
	Symbol string       `json:"symbol"`
	Trade  domain.Trade `json:"trade"`
}

func (p *Publisher) TradeTape(symbol string, trade domain.Trade) {
	p.deliver(tradesTopic(symbol), tradePayload{Symbol: symbol, Trade: trade}, DropNewest)
}

type bookDeltaPayload struct {
	Symbol  string           `json:"symbol"`
	Side    domain.OrderSide `json:"side"`
	Price   domain.Amount    `json:"price"`
	NewSize domain.Amount    `json:"newSize"`
}

func (p *Publisher) OrderBookDelta(symbol string, side domain.OrderSide, price, newSize domain.Amount) {
	p.deliver(orderbookTopic(symbol), bookDeltaPayload{Symbol: symbol, Side: side, Price: price, NewSize: newSize}, DropOldest)
}

type tickerPayload struct {
	Symbol string        `json:"symbol"`
	Last   domain.Amount `json:"last"`
	Vol24h domain.Amount `json:"vol24h"`
}

func (p *Publisher) Ticker(symbol string, last, vol24h domain.Amount) {
	p.deliver(tickerTopic(symbol), tickerPayload{Symbol: symbol, Last: last, Vol24h: vol24h}, DropOldest)
}

type klinePayload struct {
	Symbol string        `json:"symbol"`
	Candle domain.Candle `json:"candle"`
}

// Kline publishes the lane's current in-progress bar to
// `kline:{symbol}:{interval}`. This carries only the live bucket the
// matching lane is accumulating; historical bars are served elsewhere.
func (p *Publisher) Kline(symbol, interval string, candle domain.Candle) {
	p.deliver(klineTopic(symbol, interval), klinePayload{Symbol: symbol, Candle: candle}, DropOldest)
}

type userEventPayload struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

func (p *Publisher) UserEvent(userID int64, kind string, payload interface{}) {
	p.deliver(userTopic(userID), userEventPayload{Kind: kind, Payload: payload}, DropNewest)
}

func tradesTopic(symbol string) string          { return fmt.Sprintf("trades:%s", symbol) }
func orderbookTopic(symbol string) string       { return fmt.Sprintf("orderbook:%s", symbol) }
func tickerTopic(symbol string) string          { return fmt.Sprintf("ticker:%s", symbol) }
func klineTopic(symbol, interval string) string { return fmt.Sprintf("kline:%s:%s", symbol, interval) }
func userTopic(userID int64) string             { return fmt.Sprintf("user:%d", userID) }

// deliver enqueues payload onto its group's bounded ring buffer, dropping
// per policy if full. The group's dispatch loop (started the first time
// the topic is seen) drains the buffer and performs the actual watermill
// publish, so the calling matching lane's goroutine is never blocked by
// a slow or absent subscriber, and same-topic messages always leave in
// the order deliver() was called for them.
func (p *Publisher) deliver(topic string, payload interface{}, policy DropPolicy) {
	raw, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("matchcore: marshal publish payload failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	msg := message.NewMessage(uuid.NewString(), raw)

	buf := p.bufferFor(topic, policy)
	if !buf.push(msg) {
		p.logger.Debug("matchcore: publish group full, dropped message", zap.String("topic", topic))
	}
}

// bufferFor returns topic's ring buffer, creating it and starting its
// dispatch loop the first time topic is seen.
func (p *Publisher) bufferFor(topic string, policy DropPolicy) *ringBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	buf, ok := p.groups[topic]
	if !ok {
		buf = newRingBuffer(p.cfg.GroupBufferSize, policy)
		p.groups[topic] = buf
		go p.dispatchLoop(topic, buf)
	}
	return buf
}

// dispatchLoop is topic's single publish goroutine: it pops messages
// strictly FIFO and waits for each one's fan-out to finish on the shared
// ants pool before popping the next, so two concurrent deliver() calls
// for the same topic can never race past each other. One loop runs for
// the topic's lifetime, stopped by buf.close() from Publisher.Close.
func (p *Publisher) dispatchLoop(topic string, buf *ringBuffer) {
	for {
		msg, ok := buf.popBlocking()
		if !ok {
			return
		}
		done := make(chan struct{})
		err := p.pool.Submit(func() {
			defer close(done)
			if err := p.pubsub.Publish(topic, msg); err != nil {
				p.logger.Warn("matchcore: publish failed", zap.String("topic", topic), zap.Error(err))
			}
		})
		if err != nil {
			p.logger.Warn("matchcore: fan-out pool rejected task", zap.String("topic", topic), zap.Error(err))
			continue
		}
		<-done
	}
}

// ringBuffer is topic's bounded FIFO: deliver() pushes applying the drop
// policy when full, and the topic's dispatchLoop pops strictly in order,
// blocking when empty until something arrives or the buffer is closed.
type ringBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*message.Message
	capacity int
	policy   DropPolicy
	closed   bool
}

func newRingBuffer(capacity int, policy DropPolicy) *ringBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	r := &ringBuffer{pending: make([]*message.Message, 0, capacity), capacity: capacity, policy: policy}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// push admits msg, applying the drop policy if full; returns false if
// msg itself was the one dropped (or the buffer is already closed).
func (r *ringBuffer) push(msg *message.Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if len(r.pending) < r.capacity {
		r.pending = append(r.pending, msg)
		r.cond.Signal()
		return true
	}
	switch r.policy {
	case DropOldest:
		r.pending = append(r.pending[1:], msg)
		r.cond.Signal()
		return true
	default: // DropNewest
		return false
	}
}

// popBlocking waits for and removes the oldest pending message. ok is
// false once the buffer is closed and fully drained, telling the
// dispatch loop to exit.
func (r *ringBuffer) popBlocking() (*message.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.pending) == 0 && !r.closed {
		r.cond.Wait()
	}
	if len(r.pending) == 0 {
		return nil, false
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, true
}

// close marks the buffer closed and wakes its dispatch loop so it can
// drain whatever remains and exit.
func (r *ringBuffer) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}
