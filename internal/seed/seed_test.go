package seed

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/db/repositories"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/orderbook"
	"github.com/solidusx/matchcore/internal/settlement"
	"github.com/solidusx/matchcore/internal/store"
)

type noopPublisher struct{}

func (noopPublisher) TradeTape(string, domain.Trade)                                        {}
func (noopPublisher) OrderBookDelta(string, domain.OrderSide, domain.Amount, domain.Amount) {}
func (noopPublisher) SnapshotOrderBook(string, []orderbook.Level, []orderbook.Level)        {}
func (noopPublisher) Ticker(string, domain.Amount, domain.Amount)                           {}
func (noopPublisher) Kline(string, string, domain.Candle)                                   {}
func (noopPublisher) UserEvent(int64, string, interface{})                                  {}

type testRig struct {
	loader *Loader
	store  *store.Store
	mock   sqlmock.Sqlmock
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	s := store.New(store.Config{Addresses: []string{mr.Addr()}, PoolSize: 5}, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{
		Conn:             sqlDB,
		WithoutReturning: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	orders := repositories.NewOrderRepository(gdb, zap.NewNop())
	trades := repositories.NewTradeRepository(gdb, zap.NewNop())
	assets := repositories.NewAssetRepository(gdb, zap.NewNop())

	q := changequeue.New(s, zap.NewNop())
	st := settlement.New(s, zap.NewNop())
	engine := matching.NewEngine(s, st, q, noopPublisher{}, matching.LaneConfig{}, zap.NewNop())

	loader, err := New(s, orders, trades, assets, engine, zap.NewNop())
	require.NoError(t, err)
	return &testRig{loader: loader, store: s, mock: mock}
}

func TestAlreadySeededRoundTrip(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	done, err := rig.loader.alreadySeeded(ctx, domain.KindOrder)
	require.NoError(t, err)
	assert.False(t, done, "orders should not be marked seeded yet")

	require.NoError(t, rig.loader.markSeeded(ctx, domain.KindOrder))

	done, err = rig.loader.alreadySeeded(ctx, domain.KindOrder)
	require.NoError(t, err)
	assert.True(t, done, "orders should be marked seeded after markSeeded")
}

// TestSeedOrdersSkipsWhenAlreadyMarked confirms a kind already marked
// seeded from a prior run is never re-streamed from the relational
// store.
func TestSeedOrdersSkipsWhenAlreadyMarked(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.loader.markSeeded(ctx, domain.KindOrder))

	require.NoError(t, rig.loader.seedOrders(ctx))
	require.NoError(t, rig.mock.ExpectationsWereMet(), "no relational queries should have run")
}

// TestSeedOrdersStreamsAndPersistsIntoOperationalStore exercises the
// full cold-start path: a relational row is streamed back, written into
// the operational store's order hash, and the kind is marked seeded.
func TestSeedOrdersStreamsAndPersistsIntoOperationalStore(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	now := time.Now()
	cols := []string{
		"id", "user_id", "trading_pair_id", "symbol", "side", "type",
		"quantity", "price", "filled_quantity", "average_price", "status",
		"client_order_id", "created_at", "updated_at",
	}
	rig.mock.ExpectQuery(".*").WillReturnRows(
		sqlmock.NewRows(cols).AddRow(
			int64(1), int64(7), int64(1), "BTCUSDT", int8(domain.SideBuy), int8(domain.TypeLimit),
			int64(100000000), int64(5000000000000), int64(0), int64(0), int8(domain.StatusActive),
			"", now, now,
		),
	)
	rig.mock.ExpectQuery(".*").WillReturnRows(sqlmock.NewRows(cols))

	require.NoError(t, rig.loader.seedOrders(ctx))

	fields, err := rig.store.HGetAll(ctx, store.OrderKey(1))
	require.NoError(t, err)
	assert.Equal(t, "1", fields["id"], "order should be persisted into the operational store")
	assert.Equal(t, "BTCUSDT", fields["symbol"])

	done, err := rig.loader.alreadySeeded(ctx, domain.KindOrder)
	require.NoError(t, err)
	assert.True(t, done, "orders should be marked seeded after a successful pass")
}
