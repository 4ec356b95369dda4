package matching

import (
	"github.com/solidusx/matchcore/internal/domain"
	"github.com/solidusx/matchcore/internal/orderbook"
)

// Publisher is the market-data publisher's inbound face, implemented by
// internal/publish.Publisher. Declared here so the matching lane depends
// only on this narrow interface, not on the publisher's transport/
// fan-out machinery.
type Publisher interface {
	TradeTape(symbol string, trade domain.Trade)
	OrderBookDelta(symbol string, side domain.OrderSide, price, newSize domain.Amount)
	SnapshotOrderBook(symbol string, bids, asks []orderbook.Level)
	Ticker(symbol string, last, vol24h domain.Amount)
	Kline(symbol, interval string, candle domain.Candle)
	UserEvent(userID int64, kind string, payload interface{})
}
