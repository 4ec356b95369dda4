package matching

import (
	"time"

	"github.com/solidusx/matchcore/internal/domain"
)

// eventKind distinguishes the lane's two intake operations.
type eventKind int8

const (
	eventPlace eventKind = iota + 1
	eventCancel
)

// laneEvent is one FIFO item on a lane's intake channel. Every event
// carries a processing deadline and a response channel the lane closes
// out exactly once.
type laneEvent struct {
	kind     eventKind
	deadline time.Time

	place  *SubmitOrderRequest
	cancel *CancelOrderRequest
	auto   bool // true for an internally-generated auto-cancel (self-trade prevention)

	respond chan laneResult
}

// laneResult is the union of outcomes a laneEvent's caller can receive.
type laneResult struct {
	submit *SubmitOrderResponse
	cancel *CancelOrderResponse
	err    error
}

// newDeadline returns now+d, the intake event's processing deadline.
func newDeadline(d time.Duration) time.Time {
	return time.Now().Add(d)
}

// buyerSeller reports which side is buyer/seller for a trade between a
// taker and a maker of opposite sides.
func buyerSeller(taker, maker *domain.Order) (buyer, seller *domain.Order) {
	if taker.Side == domain.SideBuy {
		return taker, maker
	}
	return maker, taker
}
