// Package model defines the persisted representation of positions, orders,
// fills, hedge ratios and snapshots.
package model

import (
	"time"

	"hedgepair/internal/types"

	"gorm.io/datatypes"
)

type PositionModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	PairID     string  `gorm:"column:pair_id;uniqueIndex:idx_position,priority:1"`
	Role       string  `gorm:"column:role;uniqueIndex:idx_position,priority:2"`
	Instrument string  `gorm:"column:instrument"`
	Qty        float64 `gorm:"column:qty"`
	AvgEntry   float64 `gorm:"column:avg_entry"`
	OpenedAt   int64   `gorm:"column:opened_at"`
	UpdatedAt  int64   `gorm:"column:updated_at"`
}

func (PositionModel) TableName() string { return "positions" }

func (m PositionModel) ToDomain() types.Position {
	return types.Position{
		PairID:     m.PairID,
		Instrument: m.Instrument,
		Role:       types.PositionRole(m.Role),
		Qty:        m.Qty,
		AvgEntry:   m.AvgEntry,
		OpenedAt:   time.Unix(m.OpenedAt, 0),
	}
}

type HedgeRatioModel struct {
	ID           int64   `gorm:"column:id;primaryKey"`
	PairID       string  `gorm:"column:pair_id;uniqueIndex"`
	Ratio        float64 `gorm:"column:ratio"`
	Trigger      string  `gorm:"column:trigger"`
	RecomputedAt int64   `gorm:"column:recomputed_at"`
}

func (HedgeRatioModel) TableName() string { return "hedge_ratios" }

func (m HedgeRatioModel) ToDomain() types.HedgeRatio {
	return types.HedgeRatio{
		PairID:       m.PairID,
		Ratio:        m.Ratio,
		Trigger:      types.RatioTrigger(m.Trigger),
		RecomputedAt: time.Unix(m.RecomputedAt, 0),
	}
}

type OrderModel struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	ClientID   string  `gorm:"column:client_id;uniqueIndex"`
	ExchangeID string  `gorm:"column:exchange_id;index"`
	PairID     string  `gorm:"column:pair_id;index"`
	Instrument string  `gorm:"column:instrument"`
	Role       string  `gorm:"column:role"`
	Side       string  `gorm:"column:side"`
	Qty        float64 `gorm:"column:qty"`
	FilledQty  float64 `gorm:"column:filled_qty"`
	AvgFill    float64 `gorm:"column:avg_fill"`
	Type       string  `gorm:"column:order_type"`
	Status     string  `gorm:"column:status"`
	Reason     string  `gorm:"column:reason"`
	CreatedAt  int64   `gorm:"column:created_at"`
	UpdatedAt  int64   `gorm:"column:updated_at"`
}

func (OrderModel) TableName() string { return "orders" }

func (m OrderModel) ToDomain() types.Order {
	return types.Order{
		ClientID:   m.ClientID,
		ExchangeID: m.ExchangeID,
		PairID:     m.PairID,
		Instrument: m.Instrument,
		Role:       types.PositionRole(m.Role),
		Side:       types.OrderSide(m.Side),
		Qty:        m.Qty,
		FilledQty:  m.FilledQty,
		AvgFill:    m.AvgFill,
		Type:       types.OrderType(m.Type),
		Status:     types.OrderStatus(m.Status),
		Reason:     m.Reason,
		CreatedAt:  time.Unix(m.CreatedAt, 0),
		UpdatedAt:  time.Unix(m.UpdatedAt, 0),
	}
}

func OrderFromDomain(o types.Order) OrderModel {
	return OrderModel{
		ClientID:   o.ClientID,
		ExchangeID: o.ExchangeID,
		PairID:     o.PairID,
		Instrument: o.Instrument,
		Role:       string(o.Role),
		Side:       string(o.Side),
		Qty:        o.Qty,
		FilledQty:  o.FilledQty,
		AvgFill:    o.AvgFill,
		Type:       string(o.Type),
		Status:     string(o.Status),
		Reason:     o.Reason,
		CreatedAt:  o.CreatedAt.Unix(),
		UpdatedAt:  o.UpdatedAt.Unix(),
	}
}

// FillModel is the applied-fill journal. The (order, fill) unique key makes
// replaying the same fill event a no-op.
type FillModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	OrderClientID string  `gorm:"column:order_client_id;uniqueIndex:idx_fill,priority:1"`
	FillID        string  `gorm:"column:fill_id;uniqueIndex:idx_fill,priority:2"`
	Instrument    string  `gorm:"column:instrument"`
	Qty           float64 `gorm:"column:qty"`
	Price         float64 `gorm:"column:price"`
	Fee           float64 `gorm:"column:fee"`
	At            int64   `gorm:"column:at"`
}

func (FillModel) TableName() string { return "fills" }

type PairStateModel struct {
	ID             int64          `gorm:"column:id;primaryKey"`
	PairID         string         `gorm:"column:pair_id;uniqueIndex"`
	State          string         `gorm:"column:state"`
	InflightOrder  string         `gorm:"column:inflight_order"` // intent id, empty when none
	InflightIntent datatypes.JSON `gorm:"column:inflight_intent"`
	Halted         bool           `gorm:"column:halted"`
	HaltReason     string         `gorm:"column:halt_reason"`
	UpdatedAt      int64          `gorm:"column:updated_at"`
}

func (PairStateModel) TableName() string { return "pair_states" }

type SnapshotModel struct {
	ID            int64   `gorm:"column:id;primaryKey"`
	At            int64   `gorm:"column:at;index"`
	Trades        int     `gorm:"column:trades"`
	TotalValue    float64 `gorm:"column:total_value"`
	RealizedPnL   float64 `gorm:"column:realized_pnl"`
	UnrealizedPnL float64 `gorm:"column:unrealized_pnl"`
	Fees          float64 `gorm:"column:fees"`
	ROE           float64 `gorm:"column:roe"`
}

func (SnapshotModel) TableName() string { return "snapshots" }

func (m SnapshotModel) ToDomain() types.PerformanceSnapshot {
	return types.PerformanceSnapshot{
		At:            time.Unix(m.At, 0),
		Trades:        m.Trades,
		TotalValue:    m.TotalValue,
		RealizedPnL:   m.RealizedPnL,
		UnrealizedPnL: m.UnrealizedPnL,
		Fees:          m.Fees,
		ROE:           m.ROE,
	}
}
