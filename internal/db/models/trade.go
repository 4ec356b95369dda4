package models

import "time"

// Trade is the relational row for one executed trade. Immutable once
// written: the trades synchroniser worker only ever inserts, never
// updates.
type Trade struct {
	ID            int64 `gorm:"primaryKey"`
	TradingPairID int64
	Symbol        string `gorm:"size:20;index:idx_trades_symbol"`
	BuyOrderID    int64  `gorm:"index:idx_trades_buy_order_id"`
	SellOrderID   int64  `gorm:"index:idx_trades_sell_order_id"`
	BuyerID       int64
	SellerID      int64
	Price         int64
	Quantity      int64
	Fee           int64
	FeeAsset      string `gorm:"size:10"`
	TakerSide     int8
	ExecutedAt    time.Time `gorm:"index:idx_trades_executed_at"`
}

func (Trade) TableName() string { return "trades" }
