// Package models holds the durable-store row shapes the synchroniser
// and seed loader translate the operational store's hashes to and from.
// Field shapes mirror internal/domain exactly; amounts are persisted as
// int64 fixed-point (domain.Amount's underlying type), not float64, so
// the relational copy never loses precision.
package models

import "time"

// Order is the relational row for one order, written by the orders
// synchroniser worker and read back by the Seed Loader.
type Order struct {
	ID              int64  `gorm:"primaryKey"`
	UserID          int64  `gorm:"index:idx_orders_user_id"`
	TradingPairID   int64  `gorm:"index:idx_orders_symbol"`
	Symbol          string `gorm:"size:20;index:idx_orders_symbol"`
	Side            int8
	Type            int8
	Quantity        int64
	Price           int64
	FilledQuantity  int64
	AveragePrice    int64
	Status          int8 `gorm:"index:idx_orders_status"`
	ClientOrderID   string `gorm:"size:64;index:idx_orders_client_order_id"`
	CreatedAt       time.Time `gorm:"index:idx_orders_created_at"`
	UpdatedAt       time.Time
}

// TableName pins the table name regardless of gorm's pluralisation
// guesses.
func (Order) TableName() string { return "orders" }
