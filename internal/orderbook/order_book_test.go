package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/domain"
)

func restingOrder(id int64, side domain.OrderSide, price, qty float64) *domain.Order {
	return &domain.Order{
		ID:       id,
		Side:     side,
		Type:     domain.TypeLimit,
		Quantity: domain.NewAmountFromFloat(qty),
		Price:    domain.NewAmountFromFloat(price),
		Status:   domain.StatusActive,
	}
}

func TestBestOppositePriceTimePriority(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())

	first := restingOrder(1, domain.SideSell, 50000, 1)
	second := restingOrder(2, domain.SideSell, 50000, 1)
	better := restingOrder(3, domain.SideSell, 49000, 1)

	ob.Add(first)
	ob.Add(second)

	best := ob.BestOpposite(domain.SideBuy)
	require.NotNil(t, best)
	assert.Equal(t, first.ID, best.ID, "earliest order at the best price should win")

	ob.Add(better)
	best = ob.BestOpposite(domain.SideBuy)
	require.NotNil(t, best)
	assert.Equal(t, better.ID, best.ID, "the better (lower) ask price should win")
}

func TestBestOppositeLazilyDiscardsDeadHeads(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	o1 := restingOrder(1, domain.SideBuy, 100, 1)
	o2 := restingOrder(2, domain.SideBuy, 100, 1)
	ob.Add(o1)
	ob.Add(o2)

	// Simulate o1 being fully filled without being explicitly removed.
	o1.FilledQuantity = o1.Quantity

	best := ob.BestOpposite(domain.SideSell)
	require.NotNil(t, best)
	assert.Equal(t, o2.ID, best.ID, "dead head o1 should be skipped in favour of o2")
}

func TestRemoveDropsOrderFromLevel(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	o1 := restingOrder(1, domain.SideBuy, 100, 1)
	ob.Add(o1)

	assert.True(t, ob.Remove(o1.ID), "Remove should report true for a resting order")
	assert.False(t, ob.Remove(o1.ID), "Remove should report false once the order is already gone")
	assert.Nil(t, ob.BestOpposite(domain.SideSell), "book should be empty after remove")
}

func TestDepthAggregatesBestFirst(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	ob.Add(restingOrder(1, domain.SideBuy, 100, 1))
	ob.Add(restingOrder(2, domain.SideBuy, 100, 2))
	ob.Add(restingOrder(3, domain.SideBuy, 101, 1))
	ob.Add(restingOrder(4, domain.SideBuy, 99, 5))

	levels := ob.Depth(domain.SideBuy, 0)
	require.Len(t, levels, 3)
	assert.Equal(t, domain.NewAmountFromFloat(101), levels[0].Price, "bids should be ordered best (highest) first")
	assert.Equal(t, domain.NewAmountFromFloat(100), levels[1].Price)
	assert.Equal(t, domain.NewAmountFromFloat(3), levels[1].Quantity, "level at 100 should aggregate orders 1+2")
	assert.Equal(t, domain.NewAmountFromFloat(99), levels[2].Price, "worst bid level should be last")
}

func TestDepthLimitsToN(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	ob.Add(restingOrder(1, domain.SideSell, 100, 1))
	ob.Add(restingOrder(2, domain.SideSell, 101, 1))
	ob.Add(restingOrder(3, domain.SideSell, 102, 1))

	levels := ob.Depth(domain.SideSell, 2)
	require.Len(t, levels, 2)
	assert.Equal(t, domain.NewAmountFromFloat(100), levels[0].Price, "asks should be ordered ascending")
	assert.Equal(t, domain.NewAmountFromFloat(101), levels[1].Price)
}

func TestDepthExcludesEmptiedLevels(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	o := restingOrder(1, domain.SideBuy, 100, 1)
	ob.Add(o)
	o.FilledQuantity = o.Quantity

	assert.Empty(t, ob.Depth(domain.SideBuy, 0), "fully-filled order should not contribute a price level")
}

func TestBestBidAskEmptyBook(t *testing.T) {
	ob := New("BTCUSDT", zap.NewNop())
	bid, ask := ob.BestBidAsk()
	assert.Equal(t, domain.Zero, bid)
	assert.Equal(t, domain.Zero, ask)
}
