package repositories

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solidusx/matchcore/internal/db/models"
)

// AssetRepository handles the assets-kind synchroniser translation.
// Asset rows are keyed by (symbol, userId, currency) and never deleted,
// so Delete is implemented for contract completeness but the
// synchroniser never emits it for this kind.
type AssetRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewAssetRepository(db *gorm.DB, logger *zap.Logger) *AssetRepository {
	return &AssetRepository{db: db, logger: logger}
}

// WithTx returns a repository bound to tx instead of the base *gorm.DB,
// so the synchroniser can scope a batch's writes to one transaction.
func (r *AssetRepository) WithTx(tx *gorm.DB) *AssetRepository {
	return &AssetRepository{db: tx, logger: r.logger}
}

func (r *AssetRepository) InsertIfAbsent(ctx context.Context, a *models.Asset) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(a).Error
}

func (r *AssetRepository) Upsert(ctx context.Context, a *models.Asset) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "user_id"}, {Name: "currency"}},
		UpdateAll: true,
	}).Create(a).Error
}

func (r *AssetRepository) Delete(ctx context.Context, symbol string, userID int64, currency string) error {
	return r.db.WithContext(ctx).
		Where("symbol = ? AND user_id = ? AND currency = ?", symbol, userID, currency).
		Delete(&models.Asset{}).Error
}

func (r *AssetRepository) StreamAll(ctx context.Context, batchSize int, fn func([]models.Asset) error) error {
	var batch []models.Asset
	return r.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
