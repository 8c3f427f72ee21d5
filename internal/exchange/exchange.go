// Package exchange defines the boundary to a trading venue. The venue is
// treated as unreliable: any call may time out, rate-limit or reject, and
// every failure is classified as retryable or terminal before it reaches
// the execution layer.
package exchange

import (
	"context"
	"time"

	"hedgepair/internal/types"
)

// OrderRequest describes an order submission. ClientID is caller-assigned
// and stable across retries so a resubmission cannot double-place.
type OrderRequest struct {
	ClientID   string
	Instrument string
	Side       types.OrderSide
	Qty        float64
	Type       types.OrderType
	Price      float64 // limit price, ignored for market orders
}

// OrderAck is the venue's acknowledgement of a submission.
type OrderAck struct {
	ExchangeID string
	SubmitTime time.Time
}

// OrderState is the venue-reported view of an order.
type OrderState struct {
	ExchangeID string
	ClientID   string
	Status     types.OrderStatus
	FilledQty  float64
	AvgFill    float64
	Fills      []types.Fill
	UpdatedAt  time.Time
}

// Quote is the current top of book for an instrument.
type Quote struct {
	Instrument string
	Bid        float64
	Ask        float64
	Last       float64
	At         time.Time
}

// Balance is the account balance snapshot in the quote currency.
type Balance struct {
	Currency  string
	Total     float64
	Available float64
	UpdatedAt time.Time
}

// Exchange is the venue API consumed by the executor and the reconciler.
type Exchange interface {
	Name() string

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder is idempotent: cancelling an already-terminal or unknown
	// order returns nil.
	CancelOrder(ctx context.Context, instrument, exchangeID string) error

	OrderStatus(ctx context.Context, instrument, exchangeID string) (OrderState, error)

	GetQuote(ctx context.Context, instrument string) (Quote, error)

	GetBalance(ctx context.Context) (Balance, error)
}
