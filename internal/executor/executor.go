// Package executor turns trade intents into venue orders. It owns retries,
// order polling, timeout cancellation and fill persistence; the strategy
// layer above it only ever sees final per-leg results.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"hedgepair/internal/config"
	"hedgepair/internal/exchange"
	"hedgepair/internal/logger"
	"hedgepair/internal/pkg/circuit"
	"hedgepair/internal/store"
	"hedgepair/internal/types"

	"github.com/google/uuid"
)

// LegResult is the final outcome of one order leg.
type LegResult struct {
	Role    types.PositionRole
	Order   types.Order
	Outcome exchange.Outcome
	Err     error
}

// Filled reports whether the leg ended fully filled.
func (r LegResult) Filled() bool {
	return r.Err == nil && r.Order.Status == types.OrderFilled
}

// IntentResult reports how an intent ended. Legs appear in submission
// order; a leg the executor never reached is absent.
type IntentResult struct {
	Intent types.TradeIntent
	Legs   []LegResult
}

// Completed reports whether every submitted leg fully filled.
func (r IntentResult) Completed() bool {
	if len(r.Legs) == 0 {
		return false
	}
	for _, leg := range r.Legs {
		if !leg.Filled() {
			return false
		}
	}
	return true
}

// Executor serializes order flow per pair: one intent in flight per pair,
// legs within an intent strictly sequential.
type Executor struct {
	cfg     config.ExecutorConfig
	venue   exchange.Exchange
	st      store.Store
	breaker *circuit.Breaker
	results chan IntentResult

	mu       sync.Mutex
	inflight map[string]bool
	draining bool
	wg       sync.WaitGroup
}

func New(cfg config.ExecutorConfig, venue exchange.Exchange, st store.Store) *Executor {
	return &Executor{
		cfg:      cfg,
		venue:    venue,
		st:       st,
		breaker:  circuit.NewBreaker("exchange", cfg.BreakerThreshold, cfg.BreakerCooldown()),
		results:  make(chan IntentResult, 64),
		inflight: make(map[string]bool),
	}
}

// Results delivers one IntentResult per accepted intent.
func (e *Executor) Results() <-chan IntentResult { return e.results }

// Breaker exposes the venue circuit breaker for status reporting.
func (e *Executor) Breaker() *circuit.Breaker { return e.breaker }

// Busy reports whether the pair has an intent in flight.
func (e *Executor) Busy(pairID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight[pairID]
}

// Submit accepts an intent for execution. It fails fast when the pair
// already has an intent in flight or the executor is draining; nothing is
// sent to the venue in either case.
func (e *Executor) Submit(ctx context.Context, pair types.PairSpec, intent types.TradeIntent) error {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return fmt.Errorf("executor draining, intent %s refused", intent.ID)
	}
	if e.inflight[intent.PairID] {
		e.mu.Unlock()
		return fmt.Errorf("pair %s already has an intent in flight", intent.PairID)
	}
	e.inflight[intent.PairID] = true
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		res := e.execute(ctx, pair, intent)
		// release the pair before delivering so the consumer can submit a
		// follow-up intent from the result handler
		e.mu.Lock()
		delete(e.inflight, intent.PairID)
		e.mu.Unlock()
		e.results <- res
	}()
	return nil
}

// Drain refuses new intents and waits for in-flight ones to finish, or
// for ctx to expire.
func (e *Executor) Drain(ctx context.Context) error {
	e.mu.Lock()
	e.draining = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain timed out: %w", ctx.Err())
	}
}

func (e *Executor) execute(ctx context.Context, pair types.PairSpec, intent types.TradeIntent) IntentResult {
	res := IntentResult{Intent: intent}

	legs := []struct {
		role types.PositionRole
		qty  float64
	}{
		{types.RolePrimary, intent.PrimaryQty},
		{types.RoleHedge, intent.HedgeQty},
	}
	for _, leg := range legs {
		if leg.qty == 0 {
			continue
		}
		lr := e.runLeg(ctx, pair, intent, leg.role, leg.qty)
		res.Legs = append(res.Legs, lr)
		if !lr.Filled() {
			// a failed or partial leg stops the intent; the strategy layer
			// decides how to remedy the imbalance
			break
		}
	}
	return res
}

// runLeg drives one order from submission to a terminal status. The client
// order id is fixed up front so every retry is the same order to the venue.
func (e *Executor) runLeg(ctx context.Context, pair types.PairSpec, intent types.TradeIntent, role types.PositionRole, qty float64) LegResult {
	order := types.Order{
		ClientID:   uuid.NewString(),
		PairID:     intent.PairID,
		Instrument: pair.InstrumentForRole(role),
		Role:       role,
		Side:       types.SideForQty(qty),
		Qty:        abs(qty),
		Type:       types.OrderMarket,
		Status:     types.OrderPending,
		Reason:     intent.Reason,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	lr := LegResult{Role: role}

	ack, err := e.place(ctx, order)
	if err != nil {
		order.Status = types.OrderRejected
		if exchange.Classify(err) == exchange.OutcomeRetryable {
			order.Status = types.OrderCancelled
			order.Reason = types.ReasonRetryExhausted
		}
		order.UpdatedAt = time.Now()
		if serr := e.saveOrder(ctx, order); serr != nil {
			logger.Errorf("executor: persist failed order %s: %v", order.ClientID, serr)
		}
		lr.Order = order
		lr.Outcome = exchange.Classify(err)
		lr.Err = err
		return lr
	}
	order.ExchangeID = ack.ExchangeID
	if err := e.saveOrder(ctx, order); err != nil {
		logger.Errorf("executor: persist order %s: %v", order.ClientID, err)
	}

	final, err := e.await(ctx, order)
	lr.Order = final
	if err != nil {
		lr.Err = err
		lr.Outcome = exchange.Classify(err)
		return lr
	}
	lr.Outcome = exchange.OutcomeSuccess
	return lr
}

// place submits the order, retrying transient failures with bounded
// backoff. Rejections return immediately without a retry.
func (e *Executor) place(ctx context.Context, order types.Order) (exchange.OrderAck, error) {
	req := exchange.OrderRequest{
		ClientID:   order.ClientID,
		Instrument: order.Instrument,
		Side:       order.Side,
		Qty:        order.Qty,
		Type:       order.Type,
	}
	bo := NewBackoff(e.cfg.BaseDelay(), e.cfg.MaxDelay(), e.cfg.MaxAttempts)
	var lastErr error
	for {
		if !e.breaker.Allow() {
			lastErr = exchange.Transient(fmt.Errorf("circuit %s open", e.breaker.CurrentState()))
		} else {
			ack, err := e.venue.PlaceOrder(ctx, req)
			switch exchange.Classify(err) {
			case exchange.OutcomeSuccess:
				e.breaker.RecordSuccess()
				return ack, nil
			case exchange.OutcomeTerminal:
				// venue understood the request and said no
				return exchange.OrderAck{}, err
			default:
				e.breaker.RecordFailure()
				lastErr = err
			}
		}
		delay, ok := bo.Next()
		if !ok {
			return exchange.OrderAck{}, exchange.Transient(
				fmt.Errorf("order %s: %d attempts exhausted: %w", order.ClientID, bo.Attempt(), lastErr))
		}
		logger.Warnf("executor: order %s attempt %d failed (%v), retrying in %s",
			order.ClientID, bo.Attempt(), lastErr, delay)
		if err := sleep(ctx, delay); err != nil {
			return exchange.OrderAck{}, exchange.Transient(err)
		}
	}
}

// await polls the venue until the order is terminal, persisting each fill
// as it is observed. Past the timeout it cancels and settles with whatever
// filled so far.
func (e *Executor) await(ctx context.Context, order types.Order) (types.Order, error) {
	deadline := order.CreatedAt.Add(e.cfg.OrderTimeout())
	ticker := time.NewTicker(e.cfg.PollInterval())
	defer ticker.Stop()

	applied := make(map[string]bool)
	for {
		state, err := e.venue.OrderStatus(ctx, order.Instrument, order.ExchangeID)
		if err != nil {
			if exchange.Classify(err) == exchange.OutcomeTerminal {
				return order, err
			}
			logger.Warnf("executor: poll order %s: %v", order.ClientID, err)
		} else {
			order = e.absorb(ctx, order, state, applied)
			if order.Status.Terminal() {
				return order, nil
			}
		}

		if time.Now().After(deadline) {
			return e.cancelTimedOut(ctx, order, applied)
		}
		select {
		case <-ctx.Done():
			// the run context died with the order still live at the venue;
			// cancel it before returning so shutdown never orphans an
			// exchange order
			return e.cancelAbandoned(order, applied)
		case <-ticker.C:
		}
	}
}

// absorb copies the venue-reported state into the order snapshot and
// persists any fills not seen before. ApplyFill is idempotent, so a fill
// observed twice across polls or restarts lands once.
func (e *Executor) absorb(ctx context.Context, order types.Order, state exchange.OrderState, applied map[string]bool) types.Order {
	order.FilledQty = state.FilledQty
	order.AvgFill = state.AvgFill
	order.Status = state.Status
	order.UpdatedAt = time.Now()

	for _, fill := range state.Fills {
		if applied[fill.FillID] {
			continue
		}
		fill.OrderClientID = order.ClientID
		if err := e.st.ApplyFill(ctx, order, fill); err != nil {
			logger.Errorf("executor: apply fill %s/%s: %v", order.ClientID, fill.FillID, err)
			continue
		}
		applied[fill.FillID] = true
	}
	if len(state.Fills) == 0 {
		if err := e.saveOrder(ctx, order); err != nil {
			logger.Errorf("executor: persist order %s: %v", order.ClientID, err)
		}
	}
	return order
}

func (e *Executor) cancelTimedOut(ctx context.Context, order types.Order, applied map[string]bool) (types.Order, error) {
	logger.Warnf("executor: order %s timed out after %s, cancelling", order.ClientID, e.cfg.OrderTimeout())
	return e.cancelAndSettle(ctx, order, applied, types.ReasonOrderTimeout)
}

// cancelAbandoned runs when the executor context dies while an order is
// still working at the venue. The run context is already cancelled, so the
// cancel request goes out on its own short-lived context.
func (e *Executor) cancelAbandoned(order types.Order, applied map[string]bool) (types.Order, error) {
	logger.Warnf("executor: order %s abandoned by shutdown, cancelling", order.ClientID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.cancelAndSettle(ctx, order, applied, types.ReasonShutdownDrain)
}

func (e *Executor) cancelAndSettle(ctx context.Context, order types.Order, applied map[string]bool, reason string) (types.Order, error) {
	if err := e.venue.CancelOrder(ctx, order.Instrument, order.ExchangeID); err != nil {
		return order, err
	}
	// one last look: fills that landed before the cancel still count
	if state, err := e.venue.OrderStatus(ctx, order.Instrument, order.ExchangeID); err == nil {
		order = e.absorb(ctx, order, state, applied)
	}
	if !order.Status.Terminal() {
		order.Status = types.OrderCancelled
	}
	order.Reason = reason
	order.UpdatedAt = time.Now()
	if err := e.saveOrder(ctx, order); err != nil {
		logger.Errorf("executor: persist cancelled order %s: %v", order.ClientID, err)
	}
	return order, nil
}

func (e *Executor) saveOrder(ctx context.Context, order types.Order) error {
	uow, err := e.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Orders().Save(order); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Commit()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
