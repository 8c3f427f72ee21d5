// Package memstore is an in-memory Store used by tests and offline
// tooling. It mirrors the transactional semantics of the SQLite store
// closely enough to exercise callers, minus durability.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"hedgepair/internal/store"
	"hedgepair/internal/types"
)

type fillKey struct {
	OrderClientID string
	FillID        string
}

type posKey struct {
	PairID string
	Role   types.PositionRole
}

// Store keeps everything in maps behind one mutex. Unit-of-work writes
// are applied immediately; Rollback is a no-op, which is fine for the
// sequential callers it serves.
type Store struct {
	mu        sync.Mutex
	positions map[posKey]types.Position
	ratios    map[string]types.HedgeRatio
	orders    map[string]types.Order
	fills     map[fillKey]types.Fill
	pairs     map[string]store.PairStateRecord
	snapshots []types.PerformanceSnapshot
}

func New() *Store {
	return &Store{
		positions: make(map[posKey]types.Position),
		ratios:    make(map[string]types.HedgeRatio),
		orders:    make(map[string]types.Order),
		fills:     make(map[fillKey]types.Fill),
		pairs:     make(map[string]store.PairStateRecord),
	}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Close() error { return nil }

type unitOfWork struct{ s *Store }

func (s *Store) Begin(context.Context) (store.UnitOfWork, error) {
	return &unitOfWork{s: s}, nil
}

func (u *unitOfWork) Commit() error   { return nil }
func (u *unitOfWork) Rollback() error { return nil }

func (u *unitOfWork) Positions() store.PositionRepository { return &positionRepo{s: u.s} }
func (u *unitOfWork) Orders() store.OrderRepository       { return &orderRepo{s: u.s} }
func (u *unitOfWork) Ratios() store.RatioRepository       { return &ratioRepo{s: u.s} }
func (u *unitOfWork) Pairs() store.PairRepository         { return &pairRepo{s: u.s} }

type positionRepo struct{ s *Store }

func (r *positionRepo) Get(pairID string, role types.PositionRole) (types.Position, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	pos, ok := r.s.positions[posKey{pairID, role}]
	return pos, ok, nil
}

func (r *positionRepo) Upsert(pos types.Position) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.positions[posKey{pos.PairID, pos.Role}] = pos
	return nil
}

func (r *positionRepo) Delete(pairID string, role types.PositionRole) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.positions, posKey{pairID, role})
	return nil
}

type orderRepo struct{ s *Store }

func (r *orderRepo) Save(order types.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[order.ClientID] = order
	return nil
}

func (r *orderRepo) Find(clientID string) (types.Order, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[clientID]
	return o, ok, nil
}

type ratioRepo struct{ s *Store }

func (r *ratioRepo) Save(ratio types.HedgeRatio) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.ratios[ratio.PairID] = ratio
	return nil
}

type pairRepo struct{ s *Store }

func (r *pairRepo) Save(rec store.PairStateRecord) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec.UpdatedAt = time.Now()
	r.s.pairs[rec.PairID] = rec
	return nil
}

func (r *pairRepo) Find(pairID string) (store.PairStateRecord, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rec, ok := r.s.pairs[pairID]
	return rec, ok, nil
}

func (s *Store) ApplyFill(_ context.Context, order types.Order, fill types.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ClientID] = order

	key := fillKey{fill.OrderClientID, fill.FillID}
	if _, seen := s.fills[key]; seen {
		return nil
	}
	s.fills[key] = fill

	pk := posKey{order.PairID, order.Role}
	pos, ok := s.positions[pk]
	if !ok {
		s.positions[pk] = types.Position{
			PairID:     order.PairID,
			Instrument: order.Instrument,
			Role:       order.Role,
			Qty:        fill.Qty,
			AvgEntry:   fill.Price,
			OpenedAt:   fill.At,
		}
		return nil
	}
	newQty := pos.Qty + fill.Qty
	switch {
	case newQty == 0:
		delete(s.positions, pk)
		return nil
	case (pos.Qty >= 0) == (fill.Qty >= 0):
		pos.AvgEntry = (pos.AvgEntry*abs(pos.Qty) + fill.Price*abs(fill.Qty)) / (abs(pos.Qty) + abs(fill.Qty))
		pos.Qty = newQty
	default:
		if (pos.Qty >= 0) != (newQty >= 0) {
			pos.AvgEntry = fill.Price
			pos.OpenedAt = fill.At
		}
		pos.Qty = newQty
	}
	s.positions[pk] = pos
	return nil
}

func (s *Store) Positions(_ context.Context, pairID string) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Position
	for k, pos := range s.positions {
		if k.PairID == pairID {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *Store) AllPositions(context.Context) ([]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		out = append(out, pos)
	}
	return out, nil
}

func (s *Store) HedgeRatio(_ context.Context, pairID string) (types.HedgeRatio, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.ratios[pairID]
	return r, ok, nil
}

func (s *Store) Order(_ context.Context, clientID string) (types.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[clientID]
	return o, ok, nil
}

func (s *Store) InflightOrders(context.Context) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Order
	for _, o := range s.orders {
		if !o.Status.Terminal() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (s *Store) RecentOrders(_ context.Context, limit int) ([]types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PairState(_ context.Context, pairID string) (store.PairStateRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pairs[pairID]
	return rec, ok, nil
}

func (s *Store) PairStates(context.Context) ([]store.PairStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.PairStateRecord, 0, len(s.pairs))
	for _, rec := range s.pairs {
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) FeeTotal(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, f := range s.fills {
		total += f.Fee
	}
	return total, nil
}

func (s *Store) FillFlowTotal(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, f := range s.fills {
		total += -f.Qty * f.Price
	}
	return total, nil
}

func (s *Store) ClosedTradeCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orders {
		if o.Status == types.OrderFilled {
			n++
		}
	}
	return n, nil
}

func (s *Store) AppendSnapshot(_ context.Context, snap types.PerformanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *Store) Snapshots(_ context.Context, limit int) ([]types.PerformanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]types.PerformanceSnapshot(nil), s.snapshots...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
