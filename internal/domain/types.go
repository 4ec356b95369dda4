package domain

import (
	"math/big"
	"time"
)

// OrderSide is a small integer sum type, persisted as an integer in the
// operational store for compact scripts and serialised as the canonical
// name string at the edge.
type OrderSide int8

const (
	SideBuy OrderSide = iota + 1
	SideSell
)

func (s OrderSide) String() string {
	if s == SideBuy {
		return "Buy"
	}
	return "Sell"
}

// Opposite returns the other side of the book.
func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderType distinguishes Limit (priced) from Market (budget/quantity,
// immediate-or-cancel on any remainder) orders.
type OrderType int8

const (
	TypeLimit OrderType = iota + 1
	TypeMarket
)

func (t OrderType) String() string {
	if t == TypeLimit {
		return "Limit"
	}
	return "Market"
}

// OrderStatus is the order lifecycle state. Pending and Rejected never
// touch the book; Active/PartiallyFilled live in it; Filled/Cancelled are
// terminal and removed from book indices but remain queryable.
type OrderStatus int8

const (
	StatusPending OrderStatus = iota + 1
	StatusActive
	StatusPartiallyFilled
	StatusFilled
	StatusCancelled
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusPartiallyFilled:
		return "PartiallyFilled"
	case StatusFilled:
		return "Filled"
	case StatusCancelled:
		return "Cancelled"
	case StatusRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the order can no longer be mutated.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCancelled || s == StatusRejected
}

// Restable reports whether an order in this status may sit in the book
// and be matched against; only Active and PartiallyFilled makers are
// eligible.
func (s OrderStatus) Restable() bool {
	return s == StatusActive || s == StatusPartiallyFilled
}

// TradingPair is immutable at runtime save its last-price and rolling
// 24h-volume fields.
type TradingPair struct {
	ID                int64
	Symbol            string
	BaseAsset         string
	QuoteAsset        string
	PricePrecision    int
	QuantityPrecision int
	MinQuantity       Amount
	MaxQuantity       Amount
	IsActive          bool
	LastPrice         Amount
	LastTradeAt       time.Time

	// Volume24h/Volume24hWindowStart track a naive rolling 24h traded-base
	// volume for ticker publication: the accumulator resets to the
	// triggering trade's quantity once the window's age exceeds 24h,
	// rather than evicting individual trades past the window edge.
	Volume24h            Amount
	Volume24hWindowStart time.Time
}

// Asset is the per-(symbol, userId, currency) balance row: Symbol is
// the trading pair whose operational-store hash tag colocates this row,
// so a user's same currency is tracked independently per pair rather
// than pooled globally. Mutated only through the settlement primitive.
type Asset struct {
	Symbol    string
	UserID    int64
	Currency  string
	Available Amount
	Frozen    Amount
	UpdatedAt time.Time
}

// Total returns available + frozen holdings.
func (a Asset) Total() Amount { return a.Available + a.Frozen }

// Order is the full order record. Market orders carry Price == 0; when
// Side == SideBuy and Type == TypeMarket, Quantity is interpreted as a
// quote-currency budget, not a base quantity.
type Order struct {
	ID             int64
	UserID         int64
	TradingPairID  int64
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       Amount
	Price          Amount
	FilledQuantity Amount
	AveragePrice   Amount
	Status         OrderStatus
	ClientOrderID  string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// FrozenCurrency/FrozenRemaining track the originating freeze this
	// order still owns: the currency it froze funds in, and how much of
	// that freeze has not yet been consumed by a fill. A buy order's
	// resting price can be better than the price it actually matches at
	// (price-time priority lets the maker set the price), so the freeze
	// placed at submission can exceed the notional ultimately consumed;
	// the difference is released back to available when the order
	// reaches a terminal state. Sell orders freeze exact base quantity,
	// so FrozenRemaining always tracks Remaining() exactly.
	FrozenCurrency  string
	FrozenRemaining Amount
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() Amount {
	return o.Quantity - o.FilledQuantity
}

// IsBuy / IsSell are readability helpers used throughout the matching
// lane.
func (o *Order) IsBuy() bool  { return o.Side == SideBuy }
func (o *Order) IsSell() bool { return o.Side == SideSell }

// ApplyFill updates FilledQuantity and the value-weighted AveragePrice
// for one matched quantity at one price.
func (o *Order) ApplyFill(price, qty Amount) {
	prevNotional := o.AveragePrice.Mul(o.FilledQuantity)
	newNotional := prevNotional + price.Mul(qty)
	o.FilledQuantity += qty
	if o.FilledQuantity > 0 {
		avg := new(big.Int).Mul(big.NewInt(int64(newNotional)), big.NewInt(AmountScale))
		o.AveragePrice = Amount(avg.Quo(avg, big.NewInt(int64(o.FilledQuantity))).Int64())
	}
	if o.FilledQuantity >= o.Quantity {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
}

// Trade is immutable once created.
type Trade struct {
	ID            int64
	TradingPairID int64
	Symbol        string
	BuyOrderID    int64
	SellOrderID   int64
	BuyerID       int64
	SellerID      int64
	Price         Amount
	Quantity      Amount
	Fee           Amount
	FeeAsset      string
	TakerSide     OrderSide
	ExecutedAt    time.Time
}

// Notional returns price * quantity, the amount moved in quote currency.
func (t Trade) Notional() Amount { return t.Price.Mul(t.Quantity) }

// Candle is the current (still-open) bar the Market-Data Publisher's
// kline group carries: live open/high/low/close/volume for one interval
// bucket, maintained incrementally as trades land. Historical bar
// storage and multi-interval aggregation stay out of scope; this is only
// the in-progress bar for whatever interval the lane is tracking.
type Candle struct {
	Interval  string
	OpenTime  int64
	CloseTime int64
	Open      Amount
	High      Amount
	Low       Amount
	Close     Amount
	Volume    Amount
}

// ChangeOperation enumerates the mutation kinds recorded in a ChangeRecord.
type ChangeOperation int8

const (
	OpCreate ChangeOperation = iota + 1
	OpUpdate
	OpDelete
)

func (o ChangeOperation) String() string {
	switch o {
	case OpCreate:
		return "Create"
	case OpUpdate:
		return "Update"
	case OpDelete:
		return "Delete"
	default:
		return "Unknown"
	}
}

// EntityKind names the three durable-synchroniser worker lanes.
type EntityKind string

const (
	KindOrder EntityKind = "orders"
	KindTrade EntityKind = "trades"
	KindAsset EntityKind = "assets"
)

// ChangeRecord is written at the operation's commit point on the
// operational store and enqueued for the durable synchroniser to drain.
type ChangeRecord struct {
	Entity    EntityKind      `json:"entity"`
	Operation ChangeOperation `json:"operation"`
	EntityID  string          `json:"entityId"`
	Timestamp int64           `json:"timestamp"`
}
