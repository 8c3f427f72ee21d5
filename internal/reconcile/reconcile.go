// Package reconcile replays venue truth over local state at startup.
// Orders that were in flight when the process died are re-polled, missed
// fills are applied through the idempotent journal, and anything the venue
// and the store cannot agree on halts the pair for an operator.
package reconcile

import (
	"context"
	"fmt"

	"hedgepair/internal/exchange"
	"hedgepair/internal/logger"
	"hedgepair/internal/notifier"
	"hedgepair/internal/store"
	"hedgepair/internal/store/oplog"
	"hedgepair/internal/types"
)

// InconsistencyError marks local and venue state that cannot be merged
// mechanically. The owning pair is halted; trading it again without a
// human looking first would compound the damage.
type InconsistencyError struct {
	PairID  string
	OrderID string
	Cause   error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("pair %s order %s: state inconsistent with venue: %v", e.PairID, e.OrderID, e.Cause)
}

func (e *InconsistencyError) Unwrap() error { return e.Cause }

// maxPasses bounds the fixed-point loop. Fills landing between passes are
// normal; needing more passes than this is not.
const maxPasses = 5

type Reconciler struct {
	st     store.Store
	venue  exchange.Exchange
	ops    *oplog.Store
	notify notifier.TextNotifier
}

func New(st store.Store, venue exchange.Exchange, ops *oplog.Store, notify notifier.TextNotifier) *Reconciler {
	return &Reconciler{st: st, venue: venue, ops: ops, notify: notify}
}

// Run drives reconciliation to a fixed point: no order rows left in a
// non-terminal status except those on halted pairs. It returns an error
// only for storage failures; venue inconsistencies halt the pair and let
// the rest of the system start.
func (r *Reconciler) Run(ctx context.Context) error {
	for pass := 1; pass <= maxPasses; pass++ {
		orders, err := r.st.InflightOrders(ctx)
		if err != nil {
			return fmt.Errorf("reconcile: load in-flight orders: %w", err)
		}
		pending := 0
		for _, order := range orders {
			settled, err := r.settleOrder(ctx, order)
			if err != nil {
				return err
			}
			if !settled {
				pending++
			}
		}
		if pending == 0 {
			logger.Infof("reconcile: fixed point after %d pass(es), %d order(s) settled", pass, len(orders))
			return nil
		}
		logger.Infof("reconcile: pass %d, %d order(s) still open", pass, pending)
	}

	// not converging is itself an inconsistency
	orders, err := r.st.InflightOrders(ctx)
	if err != nil {
		return err
	}
	for _, order := range orders {
		if err := r.haltPair(ctx, order, fmt.Errorf("order still open after %d passes", maxPasses)); err != nil {
			return err
		}
	}
	return nil
}

// settleOrder syncs one order row against the venue. Returns true when the
// row reached a terminal status or its pair was halted.
func (r *Reconciler) settleOrder(ctx context.Context, order types.Order) (bool, error) {
	if order.ExchangeID == "" {
		// no ack ever recorded, so the venue never accepted it
		order.Status = types.OrderCancelled
		order.Reason = types.ReasonReconcileHalt
		if err := r.saveOrder(ctx, order); err != nil {
			return false, err
		}
		logger.Warnf("reconcile: order %s had no exchange id, marked cancelled", order.ClientID)
		return true, nil
	}

	state, err := r.venue.OrderStatus(ctx, order.Instrument, order.ExchangeID)
	if err != nil {
		if exchange.Classify(err) == exchange.OutcomeTerminal {
			ierr := &InconsistencyError{PairID: order.PairID, OrderID: order.ClientID, Cause: err}
			return true, r.haltPair(ctx, order, ierr)
		}
		logger.Warnf("reconcile: poll order %s: %v", order.ClientID, err)
		return false, nil
	}

	order.FilledQty = state.FilledQty
	order.AvgFill = state.AvgFill
	order.Status = state.Status
	for _, fill := range state.Fills {
		fill.OrderClientID = order.ClientID
		// replayed fills are no-ops, only missed ones land
		if err := r.st.ApplyFill(ctx, order, fill); err != nil {
			return false, fmt.Errorf("reconcile: apply fill %s/%s: %w", order.ClientID, fill.FillID, err)
		}
	}
	if len(state.Fills) == 0 {
		if err := r.saveOrder(ctx, order); err != nil {
			return false, err
		}
	}
	if order.Status.Terminal() {
		logger.Infof("reconcile: order %s settled as %s (filled %.6f)", order.ClientID, order.Status, order.FilledQty)
		return true, nil
	}

	// still working at the venue: cancel so startup does not inherit an
	// unattended live order
	if err := r.venue.CancelOrder(ctx, order.Instrument, order.ExchangeID); err != nil {
		logger.Warnf("reconcile: cancel order %s: %v", order.ClientID, err)
	}
	return false, nil
}

func (r *Reconciler) haltPair(ctx context.Context, order types.Order, cause error) error {
	uow, err := r.st.Begin(ctx)
	if err != nil {
		return err
	}
	rec := store.PairStateRecord{
		PairID:     order.PairID,
		State:      types.PairIdle,
		Halted:     true,
		HaltReason: types.ReasonReconcileHalt,
	}
	if existing, ok, err := uow.Pairs().Find(order.PairID); err == nil && ok {
		rec.State = existing.State
	}
	if err := uow.Pairs().Save(rec); err != nil {
		uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		return err
	}

	msg := fmt.Sprintf("reconciliation halted pair %s: %v", order.PairID, cause)
	logger.Errorf("%s", msg)
	if r.ops != nil {
		if err := r.ops.Append(ctx, "error", order.PairID, types.ReasonReconcileHalt, msg); err != nil {
			logger.Warnf("reconcile: oplog append: %v", err)
		}
	}
	if r.notify != nil {
		if err := r.notify.SendText(msg); err != nil {
			logger.Warnf("reconcile: notify: %v", err)
		}
	}
	return nil
}

func (r *Reconciler) saveOrder(ctx context.Context, order types.Order) error {
	uow, err := r.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Orders().Save(order); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Commit()
}
