package store

import "fmt"

// Key scheme for the operational store, centralised here so every
// caller builds keys the same way.

func OrderKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

func UserOrderIndexKey(userID int64) string {
	return fmt.Sprintf("user_orders:%d", userID)
}

func ActiveBookKey(symbol string, side string) string {
	return fmt.Sprintf("orders:active:%s:%s", symbol, side)
}

// AssetKey wraps the symbol in a hash tag so a clustered backend
// colocates all currency rows for a user's pair, keeping the multi-key
// settlement scripts on one slot.
func AssetKey(symbol string, userID int64, currency string) string {
	return fmt.Sprintf("asset:{%s}:%d:%s", symbol, userID, currency)
}

const (
	CounterOrderID = "global:order_id"
	CounterTradeID = "global:trade_id"
)

func ChangeQueueKey(kind string) string {
	return fmt.Sprintf("sync_queue:%s", kind)
}

func ChangeQueueProcessingKey(kind string) string {
	return fmt.Sprintf("sync_queue:%s:processing", kind)
}

// SeededMarkerKey is the per-kind seed-completion marker, so a partial
// seed failure only re-seeds the kinds still missing their marker.
func SeededMarkerKey(kind string) string {
	return fmt.Sprintf("seeded:%s", kind)
}

// SeedSnapshotKey holds a small diagnostic record of the last batch the
// seed loader compressed for one entity kind.
func SeedSnapshotKey(kind string) string {
	return fmt.Sprintf("seed:snapshot:%s", kind)
}

func TradeKey(tradeID int64) string {
	return fmt.Sprintf("trade:%d", tradeID)
}

func PairKey(symbol string) string {
	return fmt.Sprintf("pair:%s", symbol)
}
