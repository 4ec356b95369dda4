package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/config"
	"github.com/solidusx/matchcore/internal/db"
	"github.com/solidusx/matchcore/internal/db/repositories"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/health"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/publish"
	"github.com/solidusx/matchcore/internal/seed"
	"github.com/solidusx/matchcore/internal/settlement"
	"github.com/solidusx/matchcore/internal/store"
	"github.com/solidusx/matchcore/internal/synchroniser"

	"gorm.io/gorm"
)

const appVersion = "v1.0.0"

func main() {
	var (
		configPath = flag.String("config", "", "Path to matchcore.yaml's containing directory")
		version    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("matchcore %s\n", appVersion)
		os.Exit(0)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("matchcore: failed to load configuration", zap.Error(err))
	}

	app := fx.New(
		fx.Supply(logger, cfg),
		fx.Provide(
			newStore,
			newSettlement,
			newChangeQueue,
			newRelational,
			newOrderRepository,
			newTradeRepository,
			newAssetRepository,
			newEngine,
			newPublisher,
			newSynchroniser,
			newSeedLoader,
			newHealthMonitor,
		),
		fx.Invoke(
			registerPairs,
			runSeedLoader,
			startSynchroniser,
			startPublisher,
			startPoolStatsPoller,
			startHTTPServer,
		),
	)

	app.Run()

	if err := app.Err(); err != nil {
		logger.Fatal("matchcore: fatal startup failure", zap.Error(err))
	}
}

func newStore(cfg *config.Config, logger *zap.Logger) *store.Store {
	return store.New(store.Config{
		Addresses:    cfg.Store.Addresses,
		Username:     cfg.Store.Username,
		Password:     cfg.Store.Password,
		DB:           cfg.Store.DB,
		PoolSize:     cfg.Store.PoolSize,
		MinIdleConns: cfg.Store.MinIdleConns,
		DialTimeout:  cfg.Store.DialTimeout,
		ReadTimeout:  cfg.Store.ReadTimeout,
		WriteTimeout: cfg.Store.WriteTimeout,
	}, logger)
}

func newSettlement(s *store.Store, logger *zap.Logger) *settlement.Settlement {
	return settlement.New(s, logger)
}

func newChangeQueue(s *store.Store, logger *zap.Logger) *changequeue.Queue {
	return changequeue.New(s, logger)
}

// newRelational connects the relational store honouring
// HealthChecks.FailFast/MaxRetries/RetryDelaySeconds.
func newRelational(cfg *config.Config, logger *zap.Logger) (*gorm.DB, error) {
	var lastErr error
	made := 0
	attempts := cfg.HealthChecks.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		made++
		gdb, err := db.Connect(cfg.Relational, logger)
		if err == nil {
			return gdb, nil
		}
		lastErr = err
		logger.Warn("matchcore: relational store connect attempt failed",
			zap.Int("attempt", i+1), zap.Error(err))
		if cfg.HealthChecks.FailFast {
			break
		}
		time.Sleep(time.Duration(cfg.HealthChecks.RetryDelaySeconds) * time.Second)
	}
	return nil, fmt.Errorf("matchcore: relational store unreachable after %d attempts: %w", made, lastErr)
}

func newOrderRepository(gdb *gorm.DB, logger *zap.Logger) *repositories.OrderRepository {
	return repositories.NewOrderRepository(gdb, logger)
}

func newTradeRepository(gdb *gorm.DB, logger *zap.Logger) *repositories.TradeRepository {
	return repositories.NewTradeRepository(gdb, logger)
}

func newAssetRepository(gdb *gorm.DB, logger *zap.Logger) *repositories.AssetRepository {
	return repositories.NewAssetRepository(gdb, logger)
}

func newEngine(s *store.Store, st *settlement.Settlement, q *changequeue.Queue, pub *publish.Publisher, cfg *config.Config, logger *zap.Logger) *matching.Engine {
	laneCfg := matching.LaneConfig{
		IntakeCapacity:  cfg.Lane.IntakeCapacity,
		IntakeDeadline:  cfg.Lane.IntakeDeadline,
		HeartbeatPeriod: cfg.Lane.HeartbeatPeriod,
	}
	return matching.NewEngine(s, st, q, pub, laneCfg, logger)
}

func newPublisher(cfg *config.Config, logger *zap.Logger) (*publish.Publisher, error) {
	return publish.New(publish.Config{
		GroupBufferSize: cfg.Publisher.GroupBufferSize,
		FanoutPoolSize:  cfg.Publisher.FanoutPoolSize,
	}, logger)
}

func newSynchroniser(
	s *store.Store,
	gdb *gorm.DB,
	q *changequeue.Queue,
	orders *repositories.OrderRepository,
	trades *repositories.TradeRepository,
	assets *repositories.AssetRepository,
	cfg *config.Config,
	monitor *health.Monitor,
	logger *zap.Logger,
) *synchroniser.Synchroniser {
	return synchroniser.New(s, gdb, q, orders, trades, assets, synchroniser.Config{
		BatchSize:     cfg.Synchroniser.BatchSize,
		DrainInterval: cfg.Synchroniser.DrainInterval,
		Watermark:     cfg.Synchroniser.Watermark,
		OnBatch:       monitor.ObserveSyncBatch,
	}, logger)
}

func newSeedLoader(
	s *store.Store,
	orders *repositories.OrderRepository,
	trades *repositories.TradeRepository,
	assets *repositories.AssetRepository,
	engine *matching.Engine,
	logger *zap.Logger,
) (*seed.Loader, error) {
	return seed.New(s, orders, trades, assets, engine, logger)
}

func newHealthMonitor(s *store.Store, gdb *gorm.DB, q *changequeue.Queue, engine *matching.Engine, logger *zap.Logger) *health.Monitor {
	return health.New(prometheus.DefaultRegisterer, s, gdb, q, engine, logger)
}

// registerPairs starts one matching lane per configured trading pair
// before anything that depends on a lane existing (the seed loader's
// Restore, the synchroniser, live traffic) is allowed to run.
func registerPairs(lc fx.Lifecycle, engine *matching.Engine, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			for i, p := range cfg.Pairs {
				pair := domain.TradingPair{
					ID:                int64(i + 1),
					Symbol:            p.Symbol,
					BaseAsset:         p.BaseAsset,
					QuoteAsset:        p.QuoteAsset,
					PricePrecision:    p.PricePrecision,
					QuantityPrecision: p.QuantityPrecision,
					MinQuantity:       domain.Amount(p.MinQuantity * float64(domain.AmountScale)),
					MaxQuantity:       domain.Amount(p.MaxQuantity * float64(domain.AmountScale)),
					IsActive:          true,
				}
				engine.RegisterPair(context.Background(), pair)
				logger.Info("matchcore: registered trading pair lane", zap.String("symbol", p.Symbol))
			}
			return nil
		},
	})
}

// runSeedLoader runs the one-shot cold-start seed pass as an OnStart
// hook so a seed failure aborts startup with a non-zero exit.
func runSeedLoader(lc fx.Lifecycle, loader *seed.Loader, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := loader.Run(ctx); err != nil {
				return fmt.Errorf("matchcore: seed loader failed: %w", err)
			}
			logger.Info("matchcore: seed loader complete")
			return nil
		},
	})
}

func startSynchroniser(lc fx.Lifecycle, sy *synchroniser.Synchroniser, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			sy.Start(context.Background())
			logger.Info("matchcore: durable synchroniser started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sy.Stop()
			return nil
		},
	})
}

func startPublisher(lc fx.Lifecycle, pub *publish.Publisher, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
}

// startPoolStatsPoller keeps the relational connection-pool gauges fresh;
// everything else in the registry is updated at its event's call site.
func startPoolStatsPoller(lc fx.Lifecycle, monitor *health.Monitor) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				ticker := time.NewTicker(15 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						monitor.PoolStats()
					}
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

// startHTTPServer exposes /healthz, /readyz, and /metrics, the only
// HTTP surface this process has; it is operational tooling, not a
// trading API.
func startHTTPServer(lc fx.Lifecycle, cfg *config.Config, monitor *health.Monitor, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		rep := monitor.Liveness(r.Context())
		writeReport(w, rep)
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		rep := monitor.Readiness(r.Context())
		writeReport(w, rep)
	})

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: mux}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("matchcore: metrics/health server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}

func writeReport(w http.ResponseWriter, rep health.Report) {
	if !rep.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	for _, c := range rep.Checks {
		fmt.Fprintf(w, "%s: healthy=%v %s\n", c.Component, c.Healthy, c.Detail)
	}
}
