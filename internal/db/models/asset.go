package models

import "time"

// Asset is the relational row for one (symbol, userId, currency)
// balance, Symbol-scoped the same way the operational store's
// `asset:{symbol}:{userId}:{currency}` hash key is. The assets
// synchroniser worker upserts this row from the operational store's
// authoritative hash at drain time.
type Asset struct {
	Symbol    string    `gorm:"primaryKey;size:20"`
	UserID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Currency  string    `gorm:"primaryKey;size:10"`
	Available int64
	Frozen    int64
	UpdatedAt time.Time `gorm:"index:idx_assets_updated_at"`
}

func (Asset) TableName() string { return "assets" }
