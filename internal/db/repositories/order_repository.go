package repositories

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solidusx/matchcore/internal/db/models"
)

// OrderRepository implements the orders-kind translation the durable
// synchroniser and seed loader need: idempotent Create/Update/Delete
// against the relational store, plus a full scan for cold-start
// seeding.
type OrderRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewOrderRepository(db *gorm.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

// WithTx returns a repository bound to tx instead of the base *gorm.DB,
// so the synchroniser can scope a batch's writes to one transaction.
func (r *OrderRepository) WithTx(tx *gorm.DB) *OrderRepository {
	return &OrderRepository{db: tx, logger: r.logger}
}

// InsertIfAbsent implements the Create translation: "insert if absent;
// else no-op (idempotent)".
func (r *OrderRepository) InsertIfAbsent(ctx context.Context, o *models.Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(o).Error
}

// Upsert implements the Update translation: "update columns if row
// exists; insert if absent (covers late seed races)".
func (r *OrderRepository) Upsert(ctx context.Context, o *models.Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(o).Error
}

// Delete implements the Delete translation: "delete if exists".
func (r *OrderRepository) Delete(ctx context.Context, orderID int64) error {
	return r.db.WithContext(ctx).Delete(&models.Order{}, orderID).Error
}

// StreamAll feeds every order row, batchSize at a time, to fn, used by
// the seed loader's cold-start pass.
func (r *OrderRepository) StreamAll(ctx context.Context, batchSize int, fn func([]models.Order) error) error {
	var batch []models.Order
	return r.db.WithContext(ctx).FindInBatches(&batch, batchSize, func(tx *gorm.DB, _ int) error {
		return fn(batch)
	}).Error
}
