// Package types holds the core data model shared across the engine:
// ticks, positions, hedge ratios, trade intents, orders and snapshots.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Tick is a normalized market data update for a single instrument.
// One Tick per feed update; never mutated after construction.
type Tick struct {
	Instrument string    `json:"instrument"`
	Bid        float64   `json:"bid"`
	Ask        float64   `json:"ask"`
	Last       float64   `json:"last"`
	At         time.Time `json:"at"`
}

// Mid returns the bid/ask midpoint, falling back to the last trade price
// when one side of the book is missing.
func (t Tick) Mid() float64 {
	if t.Bid > 0 && t.Ask > 0 {
		return (t.Bid + t.Ask) / 2
	}
	return t.Last
}

// SpreadPct returns the relative bid-ask width. Zero when the book is empty.
func (t Tick) SpreadPct() float64 {
	mid := t.Mid()
	if mid <= 0 || t.Bid <= 0 || t.Ask <= 0 {
		return 0
	}
	return (t.Ask - t.Bid) / mid
}

// PositionRole distinguishes the two legs of a hedged pair.
type PositionRole string

const (
	RolePrimary PositionRole = "primary"
	RoleHedge   PositionRole = "hedge"
)

// Position is one leg of a pair. Owned exclusively by the state store and
// mutated only through applied fills.
type Position struct {
	PairID     string       `json:"pair_id"`
	Instrument string       `json:"instrument"`
	Role       PositionRole `json:"role"`
	Qty        float64      `json:"qty"` // signed: >0 long, <0 short
	AvgEntry   float64      `json:"avg_entry"`
	OpenedAt   time.Time    `json:"opened_at"`
}

// RatioTrigger records what caused the last hedge ratio recomputation.
type RatioTrigger string

const (
	TriggerTime      RatioTrigger = "time"
	TriggerDeviation RatioTrigger = "deviation"
)

// HedgeRatio is the target proportion of primary quantity per unit of hedge
// quantity. Ratio is always > 0 and clamped to the configured band.
type HedgeRatio struct {
	PairID       string       `json:"pair_id"`
	Ratio        float64      `json:"ratio"`
	RecomputedAt time.Time    `json:"recomputed_at"`
	Trigger      RatioTrigger `json:"trigger"`
}

// IntentAction enumerates what the strategy wants done for a pair.
type IntentAction string

const (
	ActionOpen      IntentAction = "open"
	ActionClose     IntentAction = "close"
	ActionRebalance IntentAction = "rebalance"
)

// Reason codes attached to intents and logged with every terminal outcome.
const (
	ReasonEntrySignal     = "entry_signal"
	ReasonHedgeLeg        = "hedge_leg"
	ReasonPartialRemedy   = "partial_remedy"
	ReasonDriftRebalance  = "drift_rebalance"
	ReasonExitSignal      = "exit_signal"
	ReasonRetryExhausted  = "retry_exhausted"
	ReasonOrderTimeout    = "order_timeout"
	ReasonShutdownDrain   = "shutdown_drain"
	ReasonReconcileHalt   = "reconcile_halt"
	ReasonOperatorAck     = "operator_ack"
	ReasonResidualExposed = "residual_exposure"
)

// TradeIntent is produced by the strategy engine and consumed exactly once
// by the executor. Quantities are signed deltas per leg; a zero quantity
// means the leg is untouched.
type TradeIntent struct {
	ID         string       `json:"id"`
	PairID     string       `json:"pair_id"`
	Action     IntentAction `json:"action"`
	PrimaryQty float64      `json:"primary_qty"`
	HedgeQty   float64      `json:"hedge_qty"`
	Reason     string       `json:"reason"`
	CreatedAt  time.Time    `json:"created_at"`
}

// OrderSide is the direction of an exchange order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// SideForQty maps a signed quantity delta onto an order side.
func SideForQty(qty float64) OrderSide {
	if qty < 0 {
		return SideSell
	}
	return SideBuy
}

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// OrderStatus tracks an order through its lifecycle.
type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further status change can occur.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

// Order is owned by the executor until it reaches a terminal status, then
// archived into the state store. ExchangeID is empty until the exchange
// acknowledges the submission.
type Order struct {
	ClientID   string      `json:"client_id"`
	ExchangeID string      `json:"exchange_id,omitempty"`
	PairID     string      `json:"pair_id"`
	Instrument string      `json:"instrument"`
	Role       PositionRole `json:"role"`
	Side       OrderSide   `json:"side"`
	Qty        float64     `json:"qty"`
	FilledQty  float64     `json:"filled_qty"`
	AvgFill    float64     `json:"avg_fill"`
	Type       OrderType   `json:"type"`
	Status     OrderStatus `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Fill is a single (possibly partial) execution of an order. FillID is the
// exchange-assigned identifier used to make replay idempotent.
type Fill struct {
	OrderClientID string    `json:"order_client_id"`
	FillID        string    `json:"fill_id"`
	Instrument    string    `json:"instrument"`
	Qty           float64   `json:"qty"` // signed, same convention as Position.Qty
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	At            time.Time `json:"at"`
}

// PerformanceSnapshot is derived from store history, recomputed on demand
// and kept as an append-only series.
type PerformanceSnapshot struct {
	At            time.Time `json:"at"`
	Trades        int       `json:"trades"`
	TotalValue    float64   `json:"total_value"`
	RealizedPnL   float64   `json:"realized_pnl"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	Fees          float64   `json:"fees"`
	ROE           float64   `json:"roe"`
}

// PairSpec names the two legs of a tracked pair. The pair id is derived and
// stable, e.g. "ETH/USDT~BTC/USDT".
type PairSpec struct {
	Primary          string  `toml:"primary" json:"primary"`
	Hedge            string  `toml:"hedge" json:"hedge"`
	PrimaryIncrement float64 `toml:"primary_increment" json:"primary_increment"`
	HedgeIncrement   float64 `toml:"hedge_increment" json:"hedge_increment"`
}

// ID returns the canonical pair identifier.
func (p PairSpec) ID() string {
	return p.Primary + "~" + p.Hedge
}

// SplitPairID recovers the leg instruments from a pair id.
func SplitPairID(id string) (primary, hedge string, err error) {
	parts := strings.SplitN(id, "~", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid pair id %q", id)
	}
	return parts[0], parts[1], nil
}

// InstrumentForRole maps a role back onto the leg instrument.
func (p PairSpec) InstrumentForRole(role PositionRole) string {
	if role == RoleHedge {
		return p.Hedge
	}
	return p.Primary
}

// IncrementForRole returns the minimum tradable increment for a leg.
func (p PairSpec) IncrementForRole(role PositionRole) float64 {
	if role == RoleHedge {
		return p.HedgeIncrement
	}
	return p.PrimaryIncrement
}
