package matching

import (
	"github.com/go-playground/validator/v10"

	"github.com/solidusx/matchcore/internal/domain"
)

var validate = validator.New()

// SubmitOrderRequest is the programmatic order-submission shape.
// Transport/DTO mapping onto this struct lives outside this core;
// callers (tests, an eventual presentation layer) build it directly.
type SubmitOrderRequest struct {
	Symbol        string           `validate:"required"`
	Side          domain.OrderSide `validate:"required,oneof=1 2"`
	Type          domain.OrderType `validate:"required,oneof=1 2"`
	Quantity      domain.Amount    `validate:"required,gt=0"`
	Price         domain.Amount    `validate:"omitempty,gt=0"`
	ClientOrderID string           `validate:"omitempty,max=64"`
	UserID        int64            `validate:"required,gt=0"`
}

func (r *SubmitOrderRequest) validateShape() error {
	return validate.Struct(r)
}

// SubmitOrderResponse reports the submitted order's id, terminal or
// resting status, and any trades the submission produced.
type SubmitOrderResponse struct {
	OrderID          int64
	Status           domain.OrderStatus
	ExecutedQuantity domain.Amount
	Trades           []TradeSummary
}

// TradeSummary is the per-trade line of a SubmitOrderResponse.
type TradeSummary struct {
	ID         int64
	Price      domain.Amount
	Quantity   domain.Amount
	ExecutedAt int64
}

// CancelOrderRequest identifies the order to cancel and the requesting
// user, checked against the order's owner.
type CancelOrderRequest struct {
	OrderID int64 `validate:"required,gt=0"`
	UserID  int64 `validate:"required,gt=0"`
}

func (r *CancelOrderRequest) validateShape() error {
	return validate.Struct(r)
}

// CancelOrderResponse reports whether the cancel took effect; Reason is
// set when it did not.
type CancelOrderResponse struct {
	Success bool
	Reason  string
}

// DepthQuery asks for the top Depth aggregated price levels per side of
// one symbol's book.
type DepthQuery struct {
	Symbol string `validate:"required"`
	Depth  int    `validate:"required,gt=0,lte=100"`
}

// DepthResponse carries both sides sorted best-first, stamped with the
// snapshot time.
type DepthResponse struct {
	Symbol string
	Bids   []LevelView
	Asks   []LevelView
	Ts     int64
}

// LevelView is one (price, qty) pair in a DepthResponse.
type LevelView struct {
	Price domain.Amount
	Qty   domain.Amount
}
