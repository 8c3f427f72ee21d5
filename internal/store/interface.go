// Package store defines durable state access. The store is the source of
// truth for positions, hedge ratios, orders and snapshot history; every
// mutation for a pair happens inside a transaction so a restart can never
// observe a fill without its position update.
package store

import (
	"context"
	"time"

	"hedgepair/internal/types"
)

// PairStateRecord is the persisted strategy state for one pair. The full
// in-flight intent rides along so an operator can see what was working
// when a process died.
type PairStateRecord struct {
	PairID         string             `json:"pair_id"`
	State          types.PairState    `json:"state"`
	InflightOrder  string             `json:"inflight_order,omitempty"`
	InflightIntent *types.TradeIntent `json:"inflight_intent,omitempty"`
	Halted         bool               `json:"halted"`
	HaltReason     string             `json:"halt_reason,omitempty"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// UnitOfWork is a transaction scope over the trading state.
type UnitOfWork interface {
	Commit() error
	Rollback() error

	Positions() PositionRepository
	Orders() OrderRepository
	Ratios() RatioRepository
	Pairs() PairRepository
}

// Store is the entry point for durable state.
type Store interface {
	// Begin starts a transaction. All writes for a pair go through one.
	Begin(ctx context.Context) (UnitOfWork, error)

	// ApplyFill atomically journals a fill, updates the owning order row
	// and adjusts the pair position. Replaying an already-journaled fill
	// updates the order snapshot but leaves the position untouched.
	ApplyFill(ctx context.Context, order types.Order, fill types.Fill) error

	// Read side; safe concurrently with the live loop.
	Positions(ctx context.Context, pairID string) ([]types.Position, error)
	AllPositions(ctx context.Context) ([]types.Position, error)
	HedgeRatio(ctx context.Context, pairID string) (types.HedgeRatio, bool, error)
	Order(ctx context.Context, clientID string) (types.Order, bool, error)
	InflightOrders(ctx context.Context) ([]types.Order, error)
	RecentOrders(ctx context.Context, limit int) ([]types.Order, error)
	PairState(ctx context.Context, pairID string) (PairStateRecord, bool, error)
	PairStates(ctx context.Context) ([]PairStateRecord, error)
	FeeTotal(ctx context.Context) (float64, error)
	// FillFlowTotal is the signed cash flow of all journaled fills
	// (sells positive, buys negative), used to derive realized P&L.
	FillFlowTotal(ctx context.Context) (float64, error)
	ClosedTradeCount(ctx context.Context) (int, error)

	// Snapshot history is append-only.
	AppendSnapshot(ctx context.Context, snap types.PerformanceSnapshot) error
	Snapshots(ctx context.Context, limit int) ([]types.PerformanceSnapshot, error)

	Close() error
}

// PositionRepository mutates pair legs inside a transaction.
type PositionRepository interface {
	Get(pairID string, role types.PositionRole) (types.Position, bool, error)
	Upsert(pos types.Position) error
	Delete(pairID string, role types.PositionRole) error
}

// OrderRepository archives orders and keeps in-flight references.
type OrderRepository interface {
	Save(order types.Order) error
	Find(clientID string) (types.Order, bool, error)
}

// RatioRepository persists hedge ratio targets.
type RatioRepository interface {
	Save(ratio types.HedgeRatio) error
}

// PairRepository persists the strategy state machine per pair.
type PairRepository interface {
	Save(rec PairStateRecord) error
	Find(pairID string) (PairStateRecord, bool, error)
}
