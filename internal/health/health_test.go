package health

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/solidusx/matchcore/internal/changequeue"
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
	monitor *Monitor
	store   *store.Store
	mock    sqlmock.Sqlmock
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

	q := changequeue.New(s, zap.NewNop())
	st := settlement.New(s, zap.NewNop())
	engine := matching.NewEngine(s, st, q, noopPublisher{}, matching.LaneConfig{}, zap.NewNop())

	reg := prometheus.NewRegistry()
	m := New(reg, s, gdb, q, engine, zap.NewNop())
	return &testRig{monitor: m, store: s, mock: mock}
}

func markSeeded(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, kind := range []domain.EntityKind{domain.KindOrder, domain.KindTrade, domain.KindAsset} {
		require.NoError(t, s.HSet(ctx, store.SeededMarkerKey(string(kind)), map[string]interface{}{"done": 1}))
	}
}

func TestLivenessChecksStoreRelationalAndLanes(t *testing.T) {
	rig := newTestRig(t)

	rep := rig.monitor.Liveness(context.Background())
	require.True(t, rep.Healthy, "expected healthy liveness report, got %+v", rep)

	var sawStore, sawRelational bool
	for _, c := range rep.Checks {
		if c.Component == "operational_store" {
			sawStore = true
		}
		if c.Component == "relational_store" {
			sawRelational = true
		}
	}
	assert.True(t, sawStore, "liveness report missing operational_store check")
	assert.True(t, sawRelational, "liveness report missing relational_store check")
}

func TestReadinessFailsBeforeSeedCompletes(t *testing.T) {
	rig := newTestRig(t)

	rep := rig.monitor.Readiness(context.Background())
	require.False(t, rep.Healthy, "readiness must fail before seed markers are set")

	var sawSeed bool
	for _, c := range rep.Checks {
		if c.Component == "seed" {
			sawSeed = true
			assert.False(t, c.Healthy, "seed check must not report healthy before markers are set")
		}
	}
	assert.True(t, sawSeed, "readiness report missing seed check")
}

func TestReadinessSucceedsOnceSeeded(t *testing.T) {
	rig := newTestRig(t)
	markSeeded(t, rig.store)

	rep := rig.monitor.Readiness(context.Background())
	assert.True(t, rep.Healthy, "expected readiness to succeed once seeded, got %+v", rep)
}

// TestCheckStoreFastPingIsHealthyNotDegraded checks that a degraded
// Status does not count as healthy, and that checkStore against a fast,
// reachable miniredis reports healthy and not degraded. It does not
// simulate a ping slower than the 1s threshold.
func TestCheckStoreFastPingIsHealthyNotDegraded(t *testing.T) {
	rig := newTestRig(t)

	status := Status{Component: "operational_store", Healthy: false, Degraded: true, Latency: 2 * time.Second}
	assert.False(t, status.Healthy, "degraded status must not report healthy")
	assert.True(t, status.Degraded)

	// Live check against a healthy, fast miniredis instance should not be
	// flagged degraded.
	got := rig.monitor.checkStore(context.Background())
	assert.False(t, got.Degraded, "a fast local store ping should not be degraded")
	assert.True(t, got.Healthy, "a reachable store should be healthy")
}

func TestCheckQueuesReportsSeverity(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	statuses := rig.monitor.checkQueues(ctx)
	require.Len(t, statuses, 3)
	for _, s := range statuses {
		assert.True(t, s.Healthy, "empty queues should be healthy, got %+v", s)
	}
}
