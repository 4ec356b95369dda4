package repositories

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solidusx/matchcore/internal/db/models"
)

// TradeRepository handles the trades-kind synchroniser translation.
// Trades are immutable once created; the synchroniser inserts a trade
// row if absent on Create and upserts it on Update. Delete exists only to satisfy
// the uniform ChangeOperation contract and is never expected to fire in
// normal operation.
type TradeRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewTradeRepository(db *gorm.DB, logger *zap.Logger) *TradeRepository {
	return &TradeRepository{db: db, logger: logger}
}

// WithTx returns a repository bound to tx instead of the base *gorm.DB,
// so the synchroniser can scope a batch's writes to one transaction.
func (r *TradeRepository) WithTx(tx *gorm.DB) *TradeRepository {
	return &TradeRepository{db: tx, logger: r.logger}
}

func (r *TradeRepository) InsertIfAbsent(ctx context.Context, t *models.Trade) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(t).Error
}

func (r *TradeRepository) Upsert(ctx context.Context, t *models.Trade) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(t).Error
}

func (r *TradeRepository) Delete(ctx context.Context, tradeID int64) error {
	return r.db.WithContext(ctx).Delete(&models.Trade{}, tradeID).Error
}

func (r *TradeRepository) StreamAll(ctx context.Context, batchSize int, fn func([]models.Trade) error) error {
	var batch []models.Trade
	return r.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
