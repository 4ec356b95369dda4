// Package synchroniser drains the change queues into the relational
// store: one background worker per entity kind (orders, trades,
// assets), each applying small batches on a timer with at-least-once
// delivery. Drains start only on a timer tick; queue depth does not
// start one between ticks.
package synchroniser

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/solidusx/matchcore/internal/changequeue"
	"github.com/solidusx/matchcore/internal/db/models"
	"github.com/solidusx/matchcore/internal/db/repositories"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/store"
)

// parseID parses an order/trade entity id, both of which are plain
// decimal 64-bit ids (unlike the composite asset entity id).
func parseID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}

// Config tunes the drain loop, mirroring config.SynchroniserConfig.
type Config struct {
	BatchSize     int
	DrainInterval time.Duration
	Watermark     int64

	// OnBatch, when set, receives each successfully committed batch's
	// wall-clock drain-to-commit duration, keyed by entity kind. Wired to
	// health.Monitor.ObserveSyncBatch by cmd/server.
	OnBatch func(kind domain.EntityKind, d time.Duration)
}

// entityWorker is the shared shape of the three per-kind loops; only the
// relational translation (apply) differs between kinds. apply is handed
// the batch's transaction so every record in a batch commits atomically.
type entityWorker struct {
	kind    domain.EntityKind
	queue   *changequeue.Queue
	gdb     *gorm.DB
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	logger  *zap.Logger
	apply   func(ctx context.Context, tx *gorm.DB, rec domain.ChangeRecord) error
}

// Synchroniser owns the three entity-kind workers and their lifecycle.
type Synchroniser struct {
	workers []*entityWorker
	logger  *zap.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires one worker per entity kind against the relational
// repositories. Workers read current authoritative state back from the
// operational store hash at drain time, never from the queued payload.
func New(
	s *store.Store,
	gdb *gorm.DB,
	q *changequeue.Queue,
	orders *repositories.OrderRepository,
	trades *repositories.TradeRepository,
	assets *repositories.AssetRepository,
	cfg Config,
	logger *zap.Logger,
) *Synchroniser {
	breakerFor := func(kind string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "synchroniser:" + kind,
			MaxRequests: 3,
			Timeout:     10 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("synchroniser circuit breaker state change",
					zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
	}

	orderWorker := &entityWorker{
		kind:    domain.KindOrder,
		queue:   q,
		gdb:     gdb,
		limiter: rate.NewLimiter(rate.Every(cfg.DrainInterval/4), 1),
		breaker: breakerFor(string(domain.KindOrder)),
		cfg:     cfg,
		logger:  logger.With(zap.String("kind", string(domain.KindOrder))),
		apply:   applyOrder(s, orders),
	}
	tradeWorker := &entityWorker{
		kind:    domain.KindTrade,
		queue:   q,
		gdb:     gdb,
		limiter: rate.NewLimiter(rate.Every(cfg.DrainInterval/4), 1),
		breaker: breakerFor(string(domain.KindTrade)),
		cfg:     cfg,
		logger:  logger.With(zap.String("kind", string(domain.KindTrade))),
		apply:   applyTrade(s, trades),
	}
	assetWorker := &entityWorker{
		kind:    domain.KindAsset,
		queue:   q,
		gdb:     gdb,
		limiter: rate.NewLimiter(rate.Every(cfg.DrainInterval/4), 1),
		breaker: breakerFor(string(domain.KindAsset)),
		cfg:     cfg,
		logger:  logger.With(zap.String("kind", string(domain.KindAsset))),
		apply:   applyAsset(s, assets),
	}

	return &Synchroniser{
		workers: []*entityWorker{orderWorker, tradeWorker, assetWorker},
		logger:  logger,
	}
}

// Start resumes any batch left in a processing queue by a prior crash
// and then launches the three per-kind drain loops.
func (sy *Synchroniser) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	sy.cancel = cancel

	for _, w := range sy.workers {
		w := w
		sy.wg.Add(1)
		go func() {
			defer sy.wg.Done()
			w.resume(ctx)
			w.run(ctx)
		}()
	}
}

// Stop cancels all drain loops and waits for them to exit.
func (sy *Synchroniser) Stop() {
	if sy.cancel != nil {
		sy.cancel()
	}
	sy.wg.Wait()
}

// resume replays any batch still parked in the processing queue from a
// crash that happened between commit and CommitBatch, applying it
// exactly like a freshly-drained batch before the loop's first tick.
// The translations are idempotent, so replaying an already-committed
// batch converges on the same relational state.
func (w *entityWorker) resume(ctx context.Context) {
	recs, err := w.queue.ReloadProcessing(ctx, w.kind)
	if err != nil {
		w.logger.Error("matchcore: reload processing queue failed", zap.Error(err))
		return
	}
	if len(recs) == 0 {
		return
	}
	w.logger.Info("matchcore: resuming interrupted batch", zap.Int("count", len(recs)))
	if w.applyBatch(ctx, recs) {
		if err := w.queue.CommitBatch(ctx, w.kind); err != nil {
			w.logger.Error("matchcore: commit resumed batch failed", zap.Error(err))
		}
	} else {
		if err := w.queue.AbortBatch(ctx, w.kind); err != nil {
			w.logger.Error("matchcore: abort resumed batch failed", zap.Error(err))
		}
	}
}

// run is the per-kind drain loop: on each timer tick (default 10s) it
// drains batch after batch until the depth it last read is at most one
// batch. A depth above the watermark does not start a drain between
// ticks; within a tick, at or above the watermark the worker skips its
// rate-limiter wait so it drains faster, but batch size is never
// expanded beyond cfg.BatchSize, keeping transaction times bounded.
func (w *entityWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drainUntilEmpty(ctx)
		}
	}
}

func (w *entityWorker) drainUntilEmpty(ctx context.Context) {
	for {
		depth, err := w.queue.Depth(ctx, w.kind)
		if err != nil {
			w.logger.Error("matchcore: depth check failed", zap.Error(err))
			return
		}
		if depth == 0 {
			return
		}
		if depth < w.cfg.Watermark {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
		}
		if !w.drainOnce(ctx) {
			return
		}
		if depth <= int64(w.cfg.BatchSize) {
			return
		}
	}
}

// drainOnce executes one crash-safe drain cycle: move a batch to the
// processing queue, apply it relationally, then drop or requeue it.
func (w *entityWorker) drainOnce(ctx context.Context) bool {
	start := time.Now()
	recs, err := w.queue.DrainBatch(ctx, w.kind, w.cfg.BatchSize)
	if err != nil {
		w.logger.Error("matchcore: drain batch failed", zap.Error(err))
		return false
	}
	if len(recs) == 0 {
		return false
	}

	if w.applyBatch(ctx, recs) {
		if err := w.queue.CommitBatch(ctx, w.kind); err != nil {
			w.logger.Error("matchcore: commit batch failed", zap.Error(err))
		}
		if w.cfg.OnBatch != nil {
			w.cfg.OnBatch(w.kind, time.Since(start))
		}
		return true
	}

	if err := w.queue.AbortBatch(ctx, w.kind); err != nil {
		w.logger.Error("matchcore: abort batch failed", zap.Error(err))
	}
	return false
}

// applyBatch translates every record inside one relational transaction,
// stopping and rolling back at the first failure: gdb.Transaction rolls
// back automatically whenever the callback returns a non-nil error, so
// a batch either lands in full or leaves no partial trace. The breaker
// trips on repeated RelationalStoreUnavailable failures so a down
// Postgres doesn't spend every batch cycle retrying hopeless connections.
func (w *entityWorker) applyBatch(ctx context.Context, recs []domain.ChangeRecord) bool {
	err := w.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range recs {
			rec := rec
			_, err := w.breaker.Execute(func() (interface{}, error) {
				return nil, w.apply(ctx, tx, rec)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		w.logger.Warn("matchcore: apply batch failed, transaction rolled back", zap.Error(err))
		return false
	}
	return true
}

// applyOrder builds the orders-kind translation: Create/Update re-read
// the order hash and upsert; Delete removes the row. Every call is
// handed the batch's transaction so repo's writes land through tx
// instead of the base connection.
func applyOrder(s *store.Store, repo *repositories.OrderRepository) func(context.Context, *gorm.DB, domain.ChangeRecord) error {
	return func(ctx context.Context, tx *gorm.DB, rec domain.ChangeRecord) error {
		orderID, err := parseID(rec.EntityID)
		if err != nil {
			return err
		}
		txRepo := repo.WithTx(tx)
		switch rec.Operation {
		case domain.OpDelete:
			return wrapRelational(txRepo.Delete(ctx, orderID))
		default:
			order, err := matching.LoadOrder(ctx, s, orderID)
			if err != nil {
				return wrapRelational(err)
			}
			row := toOrderModel(order)
			if rec.Operation == domain.OpCreate {
				return wrapRelational(txRepo.InsertIfAbsent(ctx, row))
			}
			return wrapRelational(txRepo.Upsert(ctx, row))
		}
	}
}

// applyTrade builds the trades-kind translation: Create inserts the row
// if absent, Update upserts it, Delete removes it.
func applyTrade(s *store.Store, repo *repositories.TradeRepository) func(context.Context, *gorm.DB, domain.ChangeRecord) error {
	return func(ctx context.Context, tx *gorm.DB, rec domain.ChangeRecord) error {
		tradeID, err := parseID(rec.EntityID)
		if err != nil {
			return err
		}
		txRepo := repo.WithTx(tx)
		if rec.Operation == domain.OpDelete {
			return wrapRelational(txRepo.Delete(ctx, tradeID))
		}
		trade, err := matching.LoadTrade(ctx, s, tradeID)
		if err != nil {
			return wrapRelational(err)
		}
		row := toTradeModel(trade)
		if rec.Operation == domain.OpCreate {
			return wrapRelational(txRepo.InsertIfAbsent(ctx, row))
		}
		return wrapRelational(txRepo.Upsert(ctx, row))
	}
}

// applyAsset builds the assets-kind translation, keyed by the composite
// (symbol, userId, currency) identity matching.AssetEntityID encodes.
func applyAsset(s *store.Store, repo *repositories.AssetRepository) func(context.Context, *gorm.DB, domain.ChangeRecord) error {
	return func(ctx context.Context, tx *gorm.DB, rec domain.ChangeRecord) error {
		symbol, userID, currency, err := matching.ParseAssetEntityID(rec.EntityID)
		if err != nil {
			return err
		}
		txRepo := repo.WithTx(tx)
		if rec.Operation == domain.OpDelete {
			return wrapRelational(txRepo.Delete(ctx, symbol, userID, currency))
		}
		asset, err := matching.LoadAsset(ctx, s, symbol, userID, currency)
		if err != nil {
			return wrapRelational(err)
		}
		row := toAssetModel(asset)
		if rec.Operation == domain.OpCreate {
			return wrapRelational(txRepo.InsertIfAbsent(ctx, row))
		}
		return wrapRelational(txRepo.Upsert(ctx, row))
	}
}

func toOrderModel(o *domain.Order) *models.Order {
	return &models.Order{
		ID:             o.ID,
		UserID:         o.UserID,
		TradingPairID:  o.TradingPairID,
		Symbol:         o.Symbol,
		Side:           int8(o.Side),
		Type:           int8(o.Type),
		Quantity:       int64(o.Quantity),
		Price:          int64(o.Price),
		FilledQuantity: int64(o.FilledQuantity),
		AveragePrice:   int64(o.AveragePrice),
		Status:         int8(o.Status),
		ClientOrderID:  o.ClientOrderID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func toTradeModel(t *domain.Trade) *models.Trade {
	return &models.Trade{
		ID:            t.ID,
		TradingPairID: t.TradingPairID,
		Symbol:        t.Symbol,
		BuyOrderID:    t.BuyOrderID,
		SellOrderID:   t.SellOrderID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Price:         int64(t.Price),
		Quantity:      int64(t.Quantity),
		Fee:           int64(t.Fee),
		FeeAsset:      t.FeeAsset,
		TakerSide:     int8(t.TakerSide),
		ExecutedAt:    t.ExecutedAt,
	}
}

func toAssetModel(a *domain.Asset) *models.Asset {
	return &models.Asset{
		Symbol:    a.Symbol,
		UserID:    a.UserID,
		Currency:  a.Currency,
		Available: int64(a.Available),
		Frozen:    int64(a.Frozen),
		UpdatedAt: a.UpdatedAt,
	}
}

// wrapRelational classifies any failure from this point on as
// RelationalStoreUnavailable, the one error kind this package is
// responsible for raising.
func wrapRelational(err error) error {
	if err == nil {
		return nil
	}
	return domain.WrapError(domain.ErrCodeRelationalUnavailable, "relational store operation failed", domain.SeverityHigh, err, nil)
}
