package health

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics groups every Prometheus collector this package registers,
// constructor-scoped rather than package-level globals so a test can
// build its own registry.
type metrics struct {
	componentHealth   *prometheus.GaugeVec
	queueDepth        *prometheus.GaugeVec
	matchLatency      *prometheus.HistogramVec
	ordersProcessed   *prometheus.CounterVec
	tradesExecuted    *prometheus.CounterVec
	syncBatchDuration *prometheus.HistogramVec

	dbOpenConns    prometheus.Gauge
	dbInUseConns   prometheus.Gauge
	dbIdleConns    prometheus.Gauge
	dbWaitCount    prometheus.Gauge
	dbWaitDuration prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		componentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchcore_component_health",
			Help: "1 if the named health component is healthy, else 0",
		}, []string{"component"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchcore_change_queue_depth",
			Help: "Current backlog depth of sync_queue:{kind}",
		}, []string{"kind"}),
		matchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_match_latency_seconds",
			Help:    "End-to-end latency of one order submission through the matching lane",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs .. ~1.6s
		}, []string{"symbol"}),
		ordersProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_orders_processed_total",
			Help: "Total orders processed, by symbol and terminal/resting status",
		}, []string{"symbol", "status"}),
		tradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_trades_executed_total",
			Help: "Total trades executed, by symbol",
		}, []string{"symbol"}),
		syncBatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_sync_batch_duration_seconds",
			Help:    "Durable synchroniser batch drain-to-commit duration, by entity kind",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		dbOpenConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchcore_db_open_connections",
			Help: "Relational store open connection count",
		}),
		dbInUseConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchcore_db_in_use_connections",
			Help: "Relational store in-use connection count",
		}),
		dbIdleConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchcore_db_idle_connections",
			Help: "Relational store idle connection count",
		}),
		dbWaitCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchcore_db_wait_count",
			Help: "Relational store total connection wait count",
		}),
		dbWaitDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "matchcore_db_wait_duration_seconds",
			Help: "Relational store cumulative connection wait duration",
		}),
	}

	reg.MustRegister(
		m.componentHealth, m.queueDepth, m.matchLatency, m.ordersProcessed,
		m.tradesExecuted, m.syncBatchDuration, m.dbOpenConns, m.dbInUseConns,
		m.dbIdleConns, m.dbWaitCount, m.dbWaitDuration,
	)
	return m
}

func (m *metrics) observe(rep Report) {
	for _, c := range rep.Checks {
		v := 0.0
		if c.Healthy {
			v = 1.0
		}
		m.componentHealth.WithLabelValues(c.Component).Set(v)
	}
}
