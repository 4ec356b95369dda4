package matching

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/store"
)

// OrderFields encodes an Order into the flat string-keyed map the
// operational store's order hash holds. Kept free-standing (not a method
// on Lane) so the seed loader and synchroniser can share the same wire
// shape.
func OrderFields(o *domain.Order) map[string]interface{} {
	return map[string]interface{}{
		"id":              o.ID,
		"userId":          o.UserID,
		"tradingPairId":   o.TradingPairID,
		"symbol":          o.Symbol,
		"side":            int8(o.Side),
		"type":            int8(o.Type),
		"quantity":        int64(o.Quantity),
		"price":           int64(o.Price),
		"filledQuantity":  int64(o.FilledQuantity),
		"averagePrice":    int64(o.AveragePrice),
		"status":          int8(o.Status),
		"clientOrderId":   o.ClientOrderID,
		"createdAt":       o.CreatedAt.UnixMilli(),
		"updatedAt":       o.UpdatedAt.UnixMilli(),
		"frozenCurrency":  o.FrozenCurrency,
		"frozenRemaining": int64(o.FrozenRemaining),
	}
}

// DecodeOrder parses HGETALL's string map back into an Order. Used by
// the synchroniser (to read current authoritative state at drain time)
// and by Cancel (to load the order before mutating it).
func DecodeOrder(fields map[string]string) (*domain.Order, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("matchcore: order not found")
	}
	o := &domain.Order{}
	var err error
	if o.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return nil, err
	}
	o.UserID, _ = strconv.ParseInt(fields["userId"], 10, 64)
	o.TradingPairID, _ = strconv.ParseInt(fields["tradingPairId"], 10, 64)
	o.Symbol = fields["symbol"]
	side, _ := strconv.ParseInt(fields["side"], 10, 8)
	o.Side = domain.OrderSide(side)
	typ, _ := strconv.ParseInt(fields["type"], 10, 8)
	o.Type = domain.OrderType(typ)
	qty, _ := strconv.ParseInt(fields["quantity"], 10, 64)
	o.Quantity = domain.Amount(qty)
	price, _ := strconv.ParseInt(fields["price"], 10, 64)
	o.Price = domain.Amount(price)
	filled, _ := strconv.ParseInt(fields["filledQuantity"], 10, 64)
	o.FilledQuantity = domain.Amount(filled)
	avg, _ := strconv.ParseInt(fields["averagePrice"], 10, 64)
	o.AveragePrice = domain.Amount(avg)
	status, _ := strconv.ParseInt(fields["status"], 10, 8)
	o.Status = domain.OrderStatus(status)
	o.ClientOrderID = fields["clientOrderId"]
	if ms, err := strconv.ParseInt(fields["createdAt"], 10, 64); err == nil {
		o.CreatedAt = time.UnixMilli(ms)
	}
	if ms, err := strconv.ParseInt(fields["updatedAt"], 10, 64); err == nil {
		o.UpdatedAt = time.UnixMilli(ms)
	}
	o.FrozenCurrency = fields["frozenCurrency"]
	frozen, _ := strconv.ParseInt(fields["frozenRemaining"], 10, 64)
	o.FrozenRemaining = domain.Amount(frozen)
	return o, nil
}

// PersistOrder writes the full order hash and indexes it under the
// user's order set.
func PersistOrder(ctx context.Context, s *store.Store, o *domain.Order) error {
	if err := s.HSet(ctx, store.OrderKey(o.ID), OrderFields(o)); err != nil {
		return err
	}
	return s.ZAdd(ctx, store.UserOrderIndexKey(o.UserID), float64(o.CreatedAt.UnixMilli()), strconv.FormatInt(o.ID, 10))
}

// LoadOrder reads one order hash back out.
func LoadOrder(ctx context.Context, s *store.Store, orderID int64) (*domain.Order, error) {
	fields, err := s.HGetAll(ctx, store.OrderKey(orderID))
	if err != nil {
		return nil, err
	}
	return DecodeOrder(fields)
}

// TradeFields encodes a Trade into its `trade:{tradeId}` hash
// representation, drained by the trades synchroniser worker.
func TradeFields(t *domain.Trade) map[string]interface{} {
	return map[string]interface{}{
		"id":            t.ID,
		"tradingPairId": t.TradingPairID,
		"symbol":        t.Symbol,
		"buyOrderId":    t.BuyOrderID,
		"sellOrderId":   t.SellOrderID,
		"buyerId":       t.BuyerID,
		"sellerId":      t.SellerID,
		"price":         int64(t.Price),
		"quantity":      int64(t.Quantity),
		"fee":           int64(t.Fee),
		"feeAsset":      t.FeeAsset,
		"takerSide":     int8(t.TakerSide),
		"executedAt":    t.ExecutedAt.UnixMilli(),
	}
}

func DecodeTrade(fields map[string]string) (*domain.Trade, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("matchcore: trade not found")
	}
	t := &domain.Trade{}
	var err error
	if t.ID, err = strconv.ParseInt(fields["id"], 10, 64); err != nil {
		return nil, err
	}
	t.TradingPairID, _ = strconv.ParseInt(fields["tradingPairId"], 10, 64)
	t.Symbol = fields["symbol"]
	t.BuyOrderID, _ = strconv.ParseInt(fields["buyOrderId"], 10, 64)
	t.SellOrderID, _ = strconv.ParseInt(fields["sellOrderId"], 10, 64)
	t.BuyerID, _ = strconv.ParseInt(fields["buyerId"], 10, 64)
	t.SellerID, _ = strconv.ParseInt(fields["sellerId"], 10, 64)
	price, _ := strconv.ParseInt(fields["price"], 10, 64)
	t.Price = domain.Amount(price)
	qty, _ := strconv.ParseInt(fields["quantity"], 10, 64)
	t.Quantity = domain.Amount(qty)
	fee, _ := strconv.ParseInt(fields["fee"], 10, 64)
	t.Fee = domain.Amount(fee)
	t.FeeAsset = fields["feeAsset"]
	side, _ := strconv.ParseInt(fields["takerSide"], 10, 8)
	t.TakerSide = domain.OrderSide(side)
	if ms, err := strconv.ParseInt(fields["executedAt"], 10, 64); err == nil {
		t.ExecutedAt = time.UnixMilli(ms)
	}
	return t, nil
}

func PersistTrade(ctx context.Context, s *store.Store, t *domain.Trade) error {
	return s.HSet(ctx, store.TradeKey(t.ID), TradeFields(t))
}

// LoadTrade reads one trade hash back out, used by the synchroniser to
// re-read current state at drain time.
func LoadTrade(ctx context.Context, s *store.Store, tradeID int64) (*domain.Trade, error) {
	fields, err := s.HGetAll(ctx, store.TradeKey(tradeID))
	if err != nil {
		return nil, err
	}
	return DecodeTrade(fields)
}

// AssetFields encodes an Asset's mutable columns; userId/currency are
// not stored as fields since they are already embedded in the
// `asset:{symbol}:{userId}:{currency}` key, matching the shape the
// settlement scripts themselves write (see internal/store/scripts.go).
func AssetFields(a *domain.Asset) map[string]interface{} {
	return map[string]interface{}{
		"available": int64(a.Available),
		"frozen":    int64(a.Frozen),
		"updatedAt": a.UpdatedAt.UnixMilli(),
	}
}

// DecodeAsset parses an asset hash's fields; callers must fill in UserID
// and Currency themselves from whatever key or index they used to reach
// this hash, since those are not stored as fields.
func DecodeAsset(fields map[string]string) (*domain.Asset, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("matchcore: asset not found")
	}
	a := &domain.Asset{}
	avail, _ := strconv.ParseInt(fields["available"], 10, 64)
	a.Available = domain.Amount(avail)
	frozen, _ := strconv.ParseInt(fields["frozen"], 10, 64)
	a.Frozen = domain.Amount(frozen)
	if ms, err := strconv.ParseInt(fields["updatedAt"], 10, 64); err == nil {
		a.UpdatedAt = time.UnixMilli(ms)
	}
	return a, nil
}

// LoadAsset reads one asset hash and stamps in the (symbol, userId,
// currency) identity the caller already knows from the key it used.
func LoadAsset(ctx context.Context, s *store.Store, symbol string, userID int64, currency string) (*domain.Asset, error) {
	fields, err := s.HGetAll(ctx, store.AssetKey(symbol, userID, currency))
	if err != nil {
		return nil, err
	}
	a, err := DecodeAsset(fields)
	if err != nil {
		return nil, err
	}
	a.Symbol = symbol
	a.UserID = userID
	a.Currency = currency
	return a, nil
}

// AssetEntityID builds the composite id used for change records and the
// relational asset table's natural key: "symbol:userId:currency".
func AssetEntityID(symbol string, userID int64, currency string) string {
	return fmt.Sprintf("%s:%d:%s", symbol, userID, currency)
}

// ParseAssetEntityID reverses AssetEntityID, used by the synchroniser to
// recover the operational-store key it must re-read.
func ParseAssetEntityID(id string) (symbol string, userID int64, currency string, err error) {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			parts = append(parts, id[start:i])
			start = i + 1
			if len(parts) == 2 {
				parts = append(parts, id[start:])
				break
			}
		}
	}
	if len(parts) != 3 {
		return "", 0, "", fmt.Errorf("matchcore: malformed asset entity id %q", id)
	}
	uid, convErr := strconv.ParseInt(parts[1], 10, 64)
	if convErr != nil {
		return "", 0, "", fmt.Errorf("matchcore: malformed asset entity id %q: %w", id, convErr)
	}
	return parts[0], uid, parts[2], nil
}
