// Package health implements liveness and readiness probes over the
// operational store, relational store, and matching lanes, plus
// pending-queue depth per entity kind and matching latency, published
// through a Prometheus registry and cached briefly with go-cache so a
// bursty prober can't re-hit Redis/Postgres more than once per TTL.
package health

import (
	"context"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/db"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/store"

	"gorm.io/gorm"
)

// cacheTTL bounds how often a Check actually re-probes dependencies;
// callers polling faster than this (e.g. an orchestrator's 1s liveness
// probe) get the cached verdict instead of hammering Redis/Postgres.
const cacheTTL = 2 * time.Second

// storeLatencyThreshold is the operational-store ping boundary: at or
// under this, a reachable store is healthy; over it, a reachable store
// is degraded rather than unhealthy.
const storeLatencyThreshold = time.Second

// Status is one component's point-in-time health. Degraded marks a
// component that answered but outside its latency threshold; Healthy is
// false whenever Degraded is true, so callers that only check Healthy
// still treat a degraded component as not fully up.
type Status struct {
	Component string
	Healthy   bool
	Degraded  bool
	Detail    string
	Latency   time.Duration
}

// Report is the full liveness/readiness snapshot.
type Report struct {
	Healthy bool
	Ready   bool
	Checks  []Status
}

// Monitor wires the probes against every durable/operational dependent,
// each reported as its own named component in a Report.
type Monitor struct {
	store   *store.Store
	gdb     *gorm.DB
	queue   *changequeue.Queue
	engine  *matching.Engine
	logger  *zap.Logger
	cache   *cache.Cache
	limiter *rate.Limiter

	metrics *metrics
}

// New builds a Monitor and registers its Prometheus collectors against
// the given registerer (normally prometheus.DefaultRegisterer).
func New(reg prometheus.Registerer, s *store.Store, gdb *gorm.DB, q *changequeue.Queue, engine *matching.Engine, logger *zap.Logger) *Monitor {
	m := &Monitor{
		store:   s,
		gdb:     gdb,
		queue:   q,
		engine:  engine,
		logger:  logger,
		cache:   cache.New(cacheTTL, 2*cacheTTL),
		limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 5),
		metrics: newMetrics(reg),
	}
	return m
}

// Liveness reports whether the process itself is making progress: the
// operational-store ping, the relational-store ping, and every
// registered matching lane's heartbeat.
func (m *Monitor) Liveness(ctx context.Context) Report {
	if cached, ok := m.cache.Get("liveness"); ok {
		return cached.(Report)
	}
	_ = m.limiter.Wait(ctx)

	checks := []Status{m.checkStore(ctx), m.checkRelational(ctx)}
	checks = append(checks, m.checkLanes()...)

	rep := buildReport(checks)
	m.cache.Set("liveness", rep, cache.DefaultExpiration)
	m.metrics.observe(rep)
	return rep
}

// Readiness additionally requires the seed loader to have completed,
// every lane to be running, and every entity kind's change-queue depth
// to be below the critical threshold, since any of
// those means the system is up but should not take more traffic.
func (m *Monitor) Readiness(ctx context.Context) Report {
	if cached, ok := m.cache.Get("readiness"); ok {
		return cached.(Report)
	}
	_ = m.limiter.Wait(ctx)

	checks := []Status{m.checkStore(ctx), m.checkRelational(ctx), m.checkSeeded(ctx)}
	checks = append(checks, m.checkLanes()...)
	checks = append(checks, m.checkQueues(ctx)...)

	rep := buildReport(checks)
	m.cache.Set("readiness", rep, cache.DefaultExpiration)
	m.metrics.observe(rep)
	return rep
}

func buildReport(checks []Status) Report {
	healthy := true
	for _, c := range checks {
		if !c.Healthy {
			healthy = false
			break
		}
	}
	return Report{Healthy: healthy, Ready: healthy, Checks: checks}
}

// checkStore classifies the operational-store ping three ways:
// reachable within storeLatencyThreshold is healthy, reachable but
// slower is degraded, unreachable is unhealthy.
func (m *Monitor) checkStore(ctx context.Context) Status {
	latency, err := m.store.Ping(ctx)
	if err != nil {
		return Status{Component: "operational_store", Healthy: false, Detail: err.Error(), Latency: latency}
	}
	if latency > storeLatencyThreshold {
		return Status{Component: "operational_store", Healthy: false, Degraded: true, Detail: "latency above 1s threshold", Latency: latency}
	}
	return Status{Component: "operational_store", Healthy: true, Latency: latency}
}

func (m *Monitor) checkRelational(ctx context.Context) Status {
	start := time.Now()
	err := db.Ping(ctx, m.gdb)
	latency := time.Since(start)
	if err != nil {
		return Status{Component: "relational_store", Healthy: false, Detail: err.Error(), Latency: latency}
	}
	return Status{Component: "relational_store", Healthy: true, Latency: latency}
}

// laneStaleAfter is how long a lane may go without a heartbeat tick
// before liveness considers it stuck — several multiples of the default
// heartbeat period so ordinary scheduling jitter never false-positives.
const laneStaleAfter = 30 * time.Second

func (m *Monitor) checkLanes() []Status {
	statuses := m.engine.Statuses()
	out := make([]Status, 0, len(statuses))
	for _, s := range statuses {
		healthy := !s.Halted && time.Since(s.Heartbeat) < laneStaleAfter
		detail := ""
		if s.Halted {
			detail = "lane halted"
		} else if !healthy {
			detail = "heartbeat stale"
		}
		out = append(out, Status{Component: "lane:" + s.Symbol, Healthy: healthy, Detail: detail})
	}
	return out
}

// checkSeeded is the readiness-only seed-completion probe: the seed
// loader marks each entity kind done with a "seeded:{kind}" key
// (internal/seed.Loader.markSeeded), so readiness just checks that every
// kind's marker is present.
func (m *Monitor) checkSeeded(ctx context.Context) Status {
	kinds := []domain.EntityKind{domain.KindOrder, domain.KindTrade, domain.KindAsset}
	for _, kind := range kinds {
		done, err := m.store.Exists(ctx, store.SeededMarkerKey(string(kind)))
		if err != nil {
			return Status{Component: "seed", Healthy: false, Detail: err.Error()}
		}
		if !done {
			return Status{Component: "seed", Healthy: false, Detail: "seed not yet complete: " + string(kind)}
		}
	}
	return Status{Component: "seed", Healthy: true}
}

func (m *Monitor) checkQueues(ctx context.Context) []Status {
	kinds := []domain.EntityKind{domain.KindOrder, domain.KindTrade, domain.KindAsset}
	out := make([]Status, 0, len(kinds))
	for _, kind := range kinds {
		depth, err := m.queue.Depth(ctx, kind)
		if err != nil {
			out = append(out, Status{Component: "queue:" + string(kind), Healthy: false, Detail: err.Error()})
			continue
		}
		m.metrics.queueDepth.WithLabelValues(string(kind)).Set(float64(depth))
		severity := changequeue.Severity(depth)
		out = append(out, Status{
			Component: "queue:" + string(kind),
			Healthy:   severity != "critical",
			Detail:    severity,
		})
	}
	return out
}

// ObserveMatchLatency records one order-submission's end-to-end latency
// against the matching-latency histogram. The submit surface itself
// lives outside this core, so the embedding caller wraps its
// Engine.Submit calls with this.
func (m *Monitor) ObserveMatchLatency(symbol string, d time.Duration) {
	m.metrics.matchLatency.WithLabelValues(symbol).Observe(d.Seconds())
}

// ObserveOrder increments the orders-processed counter; ObserveTrade the
// trade counter. Like ObserveMatchLatency these are for the embedding
// caller's submit path.
func (m *Monitor) ObserveOrder(symbol string, status domain.OrderStatus) {
	m.metrics.ordersProcessed.WithLabelValues(symbol, status.String()).Inc()
}

func (m *Monitor) ObserveTrade(symbol string) {
	m.metrics.tradesExecuted.WithLabelValues(symbol).Inc()
}

// ObserveSyncBatch records a synchroniser batch's wall-clock duration
// for one entity kind.
func (m *Monitor) ObserveSyncBatch(kind domain.EntityKind, d time.Duration) {
	m.metrics.syncBatchDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// PoolStats refreshes the relational connection-pool gauges by polling
// gorm's underlying *sql.DB.
func (m *Monitor) PoolStats() {
	stats, err := db.PoolStats(m.gdb)
	if err != nil {
		return
	}
	m.metrics.dbOpenConns.Set(float64(stats.OpenConnections))
	m.metrics.dbInUseConns.Set(float64(stats.InUse))
	m.metrics.dbIdleConns.Set(float64(stats.Idle))
	m.metrics.dbWaitCount.Set(float64(stats.WaitCount))
	m.metrics.dbWaitDuration.Set(stats.WaitDuration.Seconds())
}
