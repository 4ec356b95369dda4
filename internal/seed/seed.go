// Package seed is the one-shot cold-start loader: it streams cold state
// out of the relational store and
// populates the operational store's hashes and indices, then reinserts
// still-resting orders into their symbol's in-memory book before the
// matching lanes start accepting live traffic.
package seed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/solidusx/matchcore/internal/db/models"
	"github.com/solidusx/matchcore/internal/db/repositories"
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/matching"
	"github.com/solidusx/matchcore/internal/store"
)

// BatchSize governs both the relational StreamAll page size and the
// number of rows compressed into a single zstd frame while streaming
// cold state, bounding peak memory on a large backlog.
const BatchSize = 1000

// Loader runs the per-entity-kind seeding pass. Each kind is
// independently resumable via a "seeded:{kind}" marker in the
// operational store, so a crash partway through (e.g. orders seeded,
// trades not yet) only re-seeds the kinds still missing their marker.
type Loader struct {
	store  *store.Store
	orders *repositories.OrderRepository
	trades *repositories.TradeRepository
	assets *repositories.AssetRepository
	engine *matching.Engine
	logger *zap.Logger
	enc    *zstd.Encoder
}

func New(
	s *store.Store,
	orders *repositories.OrderRepository,
	trades *repositories.TradeRepository,
	assets *repositories.AssetRepository,
	engine *matching.Engine,
	logger *zap.Logger,
) (*Loader, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("matchcore: build zstd encoder: %w", err)
	}
	return &Loader{store: s, orders: orders, trades: trades, assets: assets, engine: engine, logger: logger, enc: enc}, nil
}

// Run seeds every entity kind that is not already marked seeded. It
// must run after the Engine has registered a lane for every active
// symbol, since restoring resting orders requires a lane to exist for
// their symbol.
func (l *Loader) Run(ctx context.Context) error {
	if err := l.seedOrders(ctx); err != nil {
		return err
	}
	if err := l.seedTrades(ctx); err != nil {
		return err
	}
	if err := l.seedAssets(ctx); err != nil {
		return err
	}
	return nil
}

func (l *Loader) alreadySeeded(ctx context.Context, kind domain.EntityKind) (bool, error) {
	return l.store.Exists(ctx, store.SeededMarkerKey(string(kind)))
}

func (l *Loader) markSeeded(ctx context.Context, kind domain.EntityKind) error {
	return l.store.HSet(ctx, store.SeededMarkerKey(string(kind)), map[string]interface{}{"done": 1})
}

func (l *Loader) seedOrders(ctx context.Context) error {
	done, err := l.alreadySeeded(ctx, domain.KindOrder)
	if err != nil {
		return err
	}
	if done {
		l.logger.Info("matchcore: orders already seeded, skipping")
		return nil
	}

	count := 0
	err = l.orders.StreamAll(ctx, BatchSize, func(batch []models.Order) error {
		l.compressSnapshot(ctx, domain.KindOrder, batch)
		for i := range batch {
			order := fromOrderModel(&batch[i])
			if err := matching.PersistOrder(ctx, l.store, order); err != nil {
				return fmt.Errorf("matchcore: seed order %d: %w", order.ID, err)
			}
			if order.Status.Restable() {
				if err := l.engine.Restore(order); err != nil {
					l.logger.Warn("matchcore: could not restore resting order into book",
						zap.Int64("orderId", order.ID), zap.Error(err))
				}
			}
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("matchcore: seeded orders", zap.Int("count", count))
	return l.markSeeded(ctx, domain.KindOrder)
}

func (l *Loader) seedTrades(ctx context.Context) error {
	done, err := l.alreadySeeded(ctx, domain.KindTrade)
	if err != nil {
		return err
	}
	if done {
		l.logger.Info("matchcore: trades already seeded, skipping")
		return nil
	}

	count := 0
	err = l.trades.StreamAll(ctx, BatchSize, func(batch []models.Trade) error {
		l.compressSnapshot(ctx, domain.KindTrade, batch)
		for i := range batch {
			trade := fromTradeModel(&batch[i])
			if err := matching.PersistTrade(ctx, l.store, trade); err != nil {
				return fmt.Errorf("matchcore: seed trade %d: %w", trade.ID, err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("matchcore: seeded trades", zap.Int("count", count))
	return l.markSeeded(ctx, domain.KindTrade)
}

func (l *Loader) seedAssets(ctx context.Context) error {
	done, err := l.alreadySeeded(ctx, domain.KindAsset)
	if err != nil {
		return err
	}
	if done {
		l.logger.Info("matchcore: assets already seeded, skipping")
		return nil
	}

	count := 0
	err = l.assets.StreamAll(ctx, BatchSize, func(batch []models.Asset) error {
		l.compressSnapshot(ctx, domain.KindAsset, batch)
		for i := range batch {
			asset := fromAssetModel(&batch[i])
			key := store.AssetKey(asset.Symbol, asset.UserID, asset.Currency)
			if err := l.store.HSet(ctx, key, matching.AssetFields(asset)); err != nil {
				return fmt.Errorf("matchcore: seed asset %s: %w", matching.AssetEntityID(asset.Symbol, asset.UserID, asset.Currency), err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return err
	}

	l.logger.Info("matchcore: seeded assets", zap.Int("count", count))
	return l.markSeeded(ctx, domain.KindAsset)
}

// compressSnapshot zstd-compresses one batch's JSON-encoded rows and
// records the raw and compressed byte counts under the last-batch
// snapshot key. The rows themselves (raw or compressed) are not stored.
// Overwritten on every batch; not read back by this package itself.
func (l *Loader) compressSnapshot(ctx context.Context, kind domain.EntityKind, batch interface{}) {
	raw, err := json.Marshal(batch)
	if err != nil {
		return
	}
	var buf bytes.Buffer
	l.enc.Reset(&buf)
	if _, err := l.enc.Write(raw); err != nil {
		return
	}
	if err := l.enc.Close(); err != nil {
		return
	}
	_ = l.store.HSet(ctx, store.SeedSnapshotKey(string(kind)), map[string]interface{}{
		"compressedBytes": buf.Len(),
		"rawBytes":        len(raw),
	})
}

func fromOrderModel(o *models.Order) *domain.Order {
	return &domain.Order{
		ID:             o.ID,
		UserID:         o.UserID,
		TradingPairID:  o.TradingPairID,
		Symbol:         o.Symbol,
		Side:           domain.OrderSide(o.Side),
		Type:           domain.OrderType(o.Type),
		Quantity:       domain.Amount(o.Quantity),
		Price:          domain.Amount(o.Price),
		FilledQuantity: domain.Amount(o.FilledQuantity),
		AveragePrice:   domain.Amount(o.AveragePrice),
		Status:         domain.OrderStatus(o.Status),
		ClientOrderID:  o.ClientOrderID,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func fromTradeModel(t *models.Trade) *domain.Trade {
	return &domain.Trade{
		ID:            t.ID,
		TradingPairID: t.TradingPairID,
		Symbol:        t.Symbol,
		BuyOrderID:    t.BuyOrderID,
		SellOrderID:   t.SellOrderID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		Price:         domain.Amount(t.Price),
		Quantity:      domain.Amount(t.Quantity),
		Fee:           domain.Amount(t.Fee),
		FeeAsset:      t.FeeAsset,
		TakerSide:     domain.OrderSide(t.TakerSide),
		ExecutedAt:    t.ExecutedAt,
	}
}

func fromAssetModel(a *models.Asset) *domain.Asset {
	return &domain.Asset{
		Symbol:    a.Symbol,
		UserID:    a.UserID,
		Currency:  a.Currency,
		Available: domain.Amount(a.Available),
		Frozen:    domain.Amount(a.Frozen),
		UpdatedAt: a.UpdatedAt,
	}
}
