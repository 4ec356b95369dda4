package matching_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/orderbook"
	"github.com/solidusx/matchcore/internal/settlement"
	"github.com/solidusx/matchcore/internal/store"
)

// fakePublisher is a matching.Publisher that records what it was told.
type fakePublisher struct {
	trades     []domain.Trade
	deltas     []delta
	tickers    []tickerCall
	candles    []domain.Candle
	snapshots  []string
	userEvents []userEvent
}

type tickerCall struct {
	symbol       string
	last, vol24h domain.Amount
}

type delta struct {
	symbol         string
	side           domain.OrderSide
	price, newSize domain.Amount
}

type userEvent struct {
	userID  int64
	kind    string
	payload interface{}
}

func (f *fakePublisher) TradeTape(symbol string, trade domain.Trade) {
	f.trades = append(f.trades, trade)
}

func (f *fakePublisher) OrderBookDelta(symbol string, side domain.OrderSide, price, newSize domain.Amount) {
	f.deltas = append(f.deltas, delta{symbol: symbol, side: side, price: price, newSize: newSize})
}

func (f *fakePublisher) SnapshotOrderBook(symbol string, bids, asks []orderbook.Level) {
	f.snapshots = append(f.snapshots, symbol)
}

func (f *fakePublisher) Ticker(symbol string, last, vol24h domain.Amount) {
	f.tickers = append(f.tickers, tickerCall{symbol: symbol, last: last, vol24h: vol24h})
}

func (f *fakePublisher) Kline(symbol, interval string, candle domain.Candle) {
	f.candles = append(f.candles, candle)
}

func (f *fakePublisher) UserEvent(userID int64, kind string, payload interface{}) {
	f.userEvents = append(f.userEvents, userEvent{userID: userID, kind: kind, payload: payload})
}

type testHarness struct {
	t     *testing.T
	store *store.Store
	lane  *matching.Lane
	pub   *fakePublisher
	pair  domain.TradingPair
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := store.New(store.Config{Addresses: []string{mr.Addr()}, PoolSize: 5}, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	st := settlement.New(s, zap.NewNop())
	q := changequeue.New(s, zap.NewNop())
	pub := &fakePublisher{}

	pair := domain.TradingPair{
		ID:                1,
		Symbol:            "BTCUSDT",
		BaseAsset:         "BTC",
		QuoteAsset:        "USDT",
		PricePrecision:    2,
		QuantityPrecision: 6,
		IsActive:          true,
	}

	lane := matching.NewLane(pair, s, st, q, pub, matching.LaneConfig{IntakeCapacity: 100}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go lane.Run(ctx)

	return &testHarness{t: t, store: s, lane: lane, pub: pub, pair: pair}
}

func (h *testHarness) seed(userID int64, currency string, available float64) {
	h.t.Helper()
	key := store.AssetKey(h.pair.Symbol, userID, currency)
	require.NoError(h.t, h.store.HSet(context.Background(), key, map[string]interface{}{
		"available": int64(domain.NewAmountFromFloat(available)),
	}))
}

func (h *testHarness) balance(userID int64, currency string) (available, frozen domain.Amount) {
	h.t.Helper()
	fields, err := h.store.HGetAll(context.Background(), store.AssetKey(h.pair.Symbol, userID, currency))
	require.NoError(h.t, err)
	a, err := matching.DecodeAsset(fields)
	require.NoError(h.t, err)
	return a.Available, a.Frozen
}

func (h *testHarness) submit(req *matching.SubmitOrderRequest) *matching.SubmitOrderResponse {
	h.t.Helper()
	resp, err := h.lane.Submit(context.Background(), req)
	if err != nil {
		require.NotNil(h.t, resp, "submit failed with no response: %v", err)
	}
	return resp
}

// TestBasicCross: a buy limit crossing a resting sell trades at the
// resting order's price and settles both legs.
func TestBasicCross(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)
	h.seed(2, "BTC", 1)

	sellResp := h.submit(&matching.SubmitOrderRequest{
		UserID: 2, Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(50000),
	})
	require.Equal(t, domain.StatusActive, sellResp.Status, "resting sell should be Active")

	buyResp := h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(51000),
	})

	require.Equal(t, domain.StatusFilled, buyResp.Status, "buy should be Filled")
	require.Len(t, buyResp.Trades, 1)
	assert.Equal(t, domain.NewAmountFromFloat(50000), buyResp.Trades[0].Price, "resting order sets the price")
	assert.Equal(t, domain.NewAmountFromFloat(1), buyResp.Trades[0].Quantity)

	buyerBTCAvail, buyerBTCFrozen := h.balance(1, "BTC")
	buyerUSDTAvail, buyerUSDTFrozen := h.balance(1, "USDT")
	sellerBTCAvail, _ := h.balance(2, "BTC")
	sellerUSDTAvail, _ := h.balance(2, "USDT")

	assert.Equal(t, domain.NewAmountFromFloat(1), buyerBTCAvail)
	assert.Equal(t, domain.Zero, buyerBTCFrozen)
	assert.Equal(t, domain.NewAmountFromFloat(50000), buyerUSDTAvail, "the 1000 freeze surplus should be released")
	assert.Equal(t, domain.Zero, buyerUSDTFrozen)
	assert.Equal(t, domain.Zero, sellerBTCAvail, "seller BTC should be fully consumed")
	assert.Equal(t, domain.NewAmountFromFloat(50000), sellerUSDTAvail, "seller should receive 50000 USDT")
}

// TestPartialFill: a small taker consumes part of a larger resting
// order, which stays on the book with its remainder.
func TestPartialFill(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)
	h.seed(2, "BTC", 2)

	h.submit(&matching.SubmitOrderRequest{
		UserID: 2, Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(2), Price: domain.NewAmountFromFloat(50000),
	})

	buyResp := h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(0.3), Price: domain.NewAmountFromFloat(50000),
	})

	require.Equal(t, domain.StatusFilled, buyResp.Status, "small buy should fully fill")
	require.Len(t, buyResp.Trades, 1)
	assert.Equal(t, domain.NewAmountFromFloat(0.3), buyResp.Trades[0].Quantity)

	_, asks := h.lane.Depth(10)
	require.Len(t, asks, 1)
	assert.Equal(t, domain.NewAmountFromFloat(1.7), asks[0].Quantity, "resting sell should show its remainder at top of book")
}

// TestSelfTradePrevention: a taker crossing the same user's resting
// order produces no trade; the resting order is auto-cancelled and its
// freeze released.
func TestSelfTradePrevention(t *testing.T) {
	h := newHarness(t)
	h.seed(3, "BTC", 1)
	h.seed(3, "USDT", 100000)

	h.submit(&matching.SubmitOrderRequest{
		UserID: 3, Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(50000),
	})

	resp := h.submit(&matching.SubmitOrderRequest{
		UserID: 3, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(51000),
	})

	assert.Empty(t, resp.Trades, "self-trade must not produce a trade")

	btcAvail, btcFrozen := h.balance(3, "BTC")
	assert.Equal(t, domain.NewAmountFromFloat(1), btcAvail, "maker's BTC freeze should be fully released after auto-cancel")
	assert.Equal(t, domain.Zero, btcFrozen)

	bids, asks := h.lane.Depth(10)
	assert.Empty(t, asks, "self-traded maker sell should be gone from the book")
	assert.Len(t, bids, 1, "taker's own buy should rest since no other liquidity existed")
}

// TestInsufficientFunds: an order the user cannot fund is rejected
// without moving any balance.
func TestInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 10)

	resp, err := h.lane.Submit(context.Background(), &matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(50000),
	})
	require.Error(t, err, "insufficient funds must surface as a rejection error")
	require.NotNil(t, resp)
	assert.Equal(t, domain.StatusRejected, resp.Status)

	avail, frozen := h.balance(1, "USDT")
	assert.Equal(t, domain.NewAmountFromFloat(10), avail, "rejected order must not move any balance")
	assert.Equal(t, domain.Zero, frozen)
}

// TestCancelAfterPartialFill: cancelling a partially filled order
// returns only the unfilled remainder's freeze.
func TestCancelAfterPartialFill(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)
	h.seed(2, "BTC", 2)

	sellResp := h.submit(&matching.SubmitOrderRequest{
		UserID: 2, Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(2), Price: domain.NewAmountFromFloat(50000),
	})
	h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(0.3), Price: domain.NewAmountFromFloat(50000),
	})

	cancelResp, err := h.lane.Cancel(context.Background(), &matching.CancelOrderRequest{OrderID: sellResp.OrderID, UserID: 2})
	require.NoError(t, err)
	require.True(t, cancelResp.Success, "cancel should succeed: %s", cancelResp.Reason)

	avail, frozen := h.balance(2, "BTC")
	assert.Equal(t, domain.NewAmountFromFloat(1.7), avail, "remaining 1.7 BTC should move back to available")
	assert.Equal(t, domain.Zero, frozen)

	_, asks := h.lane.Depth(10)
	assert.Empty(t, asks, "cancelled order must be removed from the book")
}

// TestPlaceCancelNonCrossingLeavesBalancesUnchanged: a resting limit
// order that never crosses, then cancelled, must return the user to
// their starting balances exactly.
func TestPlaceCancelNonCrossingLeavesBalancesUnchanged(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)

	resp := h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(40000),
	})
	require.Equal(t, domain.StatusActive, resp.Status, "non-crossing buy should rest as Active")

	_, err := h.lane.Cancel(context.Background(), &matching.CancelOrderRequest{OrderID: resp.OrderID, UserID: 1})
	require.NoError(t, err)

	avail, frozen := h.balance(1, "USDT")
	assert.Equal(t, domain.NewAmountFromFloat(100000), avail, "place+cancel must leave balances unchanged")
	assert.Equal(t, domain.Zero, frozen)
}

// TestCancelByNonOwnerIsRejected exercises the cancel ownership check.
func TestCancelByNonOwnerIsRejected(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)

	resp := h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(40000),
	})

	cancelResp, err := h.lane.Cancel(context.Background(), &matching.CancelOrderRequest{OrderID: resp.OrderID, UserID: 999})
	require.NoError(t, err)
	assert.False(t, cancelResp.Success, "cancel by a non-owner must not succeed")
}

// TestLimitBuyAtExactlyBestAskCrosses: price equality is enough to
// cross, not just strict improvement.
func TestLimitBuyAtExactlyBestAskCrosses(t *testing.T) {
	h := newHarness(t)
	h.seed(1, "USDT", 100000)
	h.seed(2, "BTC", 1)

	h.submit(&matching.SubmitOrderRequest{
		UserID: 2, Symbol: "BTCUSDT", Side: domain.SideSell, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(50000),
	})
	resp := h.submit(&matching.SubmitOrderRequest{
		UserID: 1, Symbol: "BTCUSDT", Side: domain.SideBuy, Type: domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(1), Price: domain.NewAmountFromFloat(50000),
	})
	assert.Len(t, resp.Trades, 1, "a buy at exactly the best ask must cross")
}
