package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := New(Config{Addresses: []string{mr.Addr()}, PoolSize: 5}, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestStorePing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Ping(context.Background())
	require.NoError(t, err)
}

func TestHashRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "order:1", map[string]interface{}{"status": 1, "qty": 100}))

	v, err := s.HGet(ctx, "order:1", "status")
	require.NoError(t, err)
	assert.Equal(t, "1", v)

	all, err := s.HGetAll(ctx, "order:1")
	require.NoError(t, err)
	assert.Equal(t, "100", all["qty"])

	n, err := s.HIncrBy(ctx, "order:1", "qty", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(105), n)
}

func TestHGetMissingReturnsEmptyNotError(t *testing.T) {
	s, _ := newTestStore(t)
	v, err := s.HGet(context.Background(), "order:missing", "status")
	require.NoError(t, err, "a missing hash field must not be an error")
	assert.Empty(t, v)
}

func TestSortedSetOperations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := "orders:active:BTCUSDT:Buy"

	require.NoError(t, s.ZAdd(ctx, key, 100, "order-1"))
	require.NoError(t, s.ZAdd(ctx, key, 200, "order-2"))

	desc, err := s.ZRange(ctx, key, 0, -1, false)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "order-2", desc[0], "descending range should lead with the highest score")

	require.NoError(t, s.ZRem(ctx, key, "order-2"))
	card, err := s.ZCard(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestListAndQueueHandoff(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.LPush(ctx, "sync_queue:orders", "rec-1"))
	require.NoError(t, s.LPush(ctx, "sync_queue:orders", "rec-2"))

	n, err := s.LLen(ctx, "sync_queue:orders")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	moved, err := s.RPopLPush(ctx, "sync_queue:orders", "sync_queue:orders:processing")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", moved)

	remaining, err := s.LRange(ctx, "sync_queue:orders:processing", 0, -1)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	v, err := s.RPop(ctx, "sync_queue:orders:processing")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", v)

	v, err = s.RPop(ctx, "sync_queue:orders:processing")
	require.NoError(t, err)
	assert.Empty(t, v, "rpop of a drained list should return the empty string")
}

func TestIncrIsMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Incr(ctx, CounterOrderID)
	require.NoError(t, err)
	second, err := s.Incr(ctx, CounterOrderID)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestEvalFreezeInsufficientBalance(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := AssetKey("BTCUSDT", 1, "USDT")

	require.NoError(t, s.HSet(ctx, key, map[string]interface{}{"available": 10}))

	n, err := s.EvalFreeze(ctx, key, 1000, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "freeze must decline on insufficient balance")
}

func TestEvalFreezeAndReverseFreezeRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := AssetKey("BTCUSDT", 1, "USDT")

	require.NoError(t, s.HSet(ctx, key, map[string]interface{}{"available": 100000000000}))

	n, err := s.EvalFreeze(ctx, key, 5000000000, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	fields, err := s.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "95000000000", fields["available"])
	assert.Equal(t, "5000000000", fields["frozen"])

	n, err = s.EvalReverseFreeze(ctx, key, 5000000000, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	fields, err = s.HGetAll(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "100000000000", fields["available"])
	assert.Equal(t, "0", fields["frozen"])
}

func TestEvalExecuteTradeMovesAllFourLegs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	buyerQuote := AssetKey("BTCUSDT", 1, "USDT")
	buyerBase := AssetKey("BTCUSDT", 1, "BTC")
	sellerBase := AssetKey("BTCUSDT", 2, "BTC")
	sellerQuote := AssetKey("BTCUSDT", 2, "USDT")

	notional := int64(5000000000000) // 50000 * 1
	qty := int64(100000000)          // 1 BTC

	require.NoError(t, s.HSet(ctx, buyerQuote, map[string]interface{}{"frozen": notional}))
	require.NoError(t, s.HSet(ctx, sellerBase, map[string]interface{}{"frozen": qty}))

	n, err := s.EvalExecuteTrade(ctx, []string{buyerQuote, buyerBase, sellerBase, sellerQuote}, notional, qty, time.Now().UnixMilli())
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "settlement should succeed")

	bq, err := s.HGetAll(ctx, buyerQuote)
	require.NoError(t, err)
	bb, err := s.HGetAll(ctx, buyerBase)
	require.NoError(t, err)
	sb, err := s.HGetAll(ctx, sellerBase)
	require.NoError(t, err)
	sq, err := s.HGetAll(ctx, sellerQuote)
	require.NoError(t, err)

	assert.Equal(t, "0", bq["frozen"], "buyer frozen quote should be drained")
	assert.Equal(t, "100000000", bb["available"], "buyer should receive base qty")
	assert.Equal(t, "0", sb["frozen"], "seller frozen base should be drained")
	assert.Equal(t, "5000000000000", sq["available"], "seller should receive notional")
}

func TestEvalExecuteTradeFailsWhenBuyerUnderfrozen(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	buyerQuote := AssetKey("BTCUSDT", 1, "USDT")
	buyerBase := AssetKey("BTCUSDT", 1, "BTC")
	sellerBase := AssetKey("BTCUSDT", 2, "BTC")
	sellerQuote := AssetKey("BTCUSDT", 2, "USDT")

	require.NoError(t, s.HSet(ctx, buyerQuote, map[string]interface{}{"frozen": 1}))
	require.NoError(t, s.HSet(ctx, sellerBase, map[string]interface{}{"frozen": 100000000}))

	n, err := s.EvalExecuteTrade(ctx, []string{buyerQuote, buyerBase, sellerBase, sellerQuote}, 5000000000000, 100000000, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "settlement must decline on insufficient buyer freeze")
}
