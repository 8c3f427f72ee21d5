package engine

import (
	"context"
	"fmt"
	"math"
	"time"

	"hedgepair/internal/executor"
	"hedgepair/internal/logger"
	"hedgepair/internal/scanner"
	"hedgepair/internal/types"

	"github.com/google/uuid"
)

// onTick routes a quote into the scanner and re-evaluates every pair the
// instrument belongs to.
func (e *Engine) onTick(ctx context.Context, tick types.Tick) {
	e.quotes[tick.Instrument] = tick
	for _, p := range e.byInstr[tick.Instrument] {
		e.scan.Observe(p.spec, tick)
	}
	for _, p := range e.byInstr[tick.Instrument] {
		e.evaluate(ctx, p)
	}
	e.maybeEnter(ctx)
}

// evaluate runs the passive checks for one pair: exit signal, hedge-ratio
// deviation and rebalance drift. Nothing happens while an intent is in
// flight or the pair is halted.
func (e *Engine) evaluate(ctx context.Context, p *pairRuntime) {
	if p.halted || p.pendingIntent != nil {
		return
	}
	cand, scored := e.scan.Score(p.spec)
	if scored {
		p.score = cand
	}
	if p.state != types.PairHedged {
		return
	}

	// the scanner needs a full window after a restart before its score
	// means anything
	if scored && p.score.Score < e.cfg.ExitScore {
		e.logOp(ctx, "info", p.spec.ID(), types.ReasonExitSignal,
			fmt.Sprintf("score %.3f below exit threshold %.3f", p.score.Score, e.cfg.ExitScore))
		e.startExit(ctx, p, types.ReasonExitSignal)
		return
	}

	// deviation-triggered ratio refresh; time-triggered refreshes come
	// from the run loop ticker
	if fresh, ok := e.scan.HedgeRatio(p.spec); ok {
		clamped := clampRatio(fresh, e.cfg.RatioMin, e.cfg.RatioMax)
		if drift(clamped, p.targetRatio.Ratio) > e.cfg.RebalanceThreshold {
			e.setRatio(ctx, p, clamped, types.TriggerDeviation)
		}
	}

	if e.currentDrift(p) > e.cfg.RebalanceThreshold {
		e.startRebalance(ctx, p)
	}
}

// currentDrift compares the realized position ratio against target.
func (e *Engine) currentDrift(p *pairRuntime) float64 {
	if p.primaryPos == nil || p.hedgePos == nil || p.hedgePos.Qty == 0 || p.targetRatio.Ratio == 0 {
		return 0
	}
	current := math.Abs(p.primaryPos.Qty / p.hedgePos.Qty)
	return drift(current, p.targetRatio.Ratio)
}

// maybeEnter opens positions on the best-scoring idle pairs, bounded by
// the concurrent position limit. Throttled to once a second; scoring per
// tick would be waste.
func (e *Engine) maybeEnter(ctx context.Context) {
	if e.lifecycle != types.LifecycleRunning {
		return
	}
	if time.Since(e.lastScan) < time.Second {
		return
	}
	e.lastScan = time.Now()

	slots := e.cfg.MaxPositions
	var idle []types.PairSpec
	for _, spec := range e.cfg.Pairs {
		p := e.pairs[spec.ID()]
		if p.state == types.PairIdle && !p.halted && p.pendingIntent == nil {
			idle = append(idle, spec)
			continue
		}
		if p.state.Active() || !p.flat() {
			slots--
		}
	}
	if slots <= 0 || len(idle) == 0 {
		return
	}

	for _, cand := range e.scan.Rank(idle) {
		if slots <= 0 {
			break
		}
		if cand.Score < e.cfg.EntryScore {
			// ranked descending, the rest score lower still
			break
		}
		if err := e.enter(ctx, e.pairs[cand.Pair.ID()], cand); err != nil {
			logger.Warnf("engine: enter %s: %v", cand.Pair.ID(), err)
			continue
		}
		slots--
	}
}

// enter sizes both legs and hands the open intent to the executor. The
// primary leg trades against the spread direction; the hedge leg offsets
// it at the freshly clamped ratio.
func (e *Engine) enter(ctx context.Context, p *pairRuntime, cand scanner.Candidate) error {
	ratio, ok := e.scan.HedgeRatio(p.spec)
	if !ok {
		return fmt.Errorf("hedge ratio not ready")
	}
	clamped := clampRatio(ratio, e.cfg.RatioMin, e.cfg.RatioMax)

	primaryTick, ok := e.quotes[p.spec.Primary]
	if !ok || primaryTick.Mid() <= 0 {
		return fmt.Errorf("no quote for %s", p.spec.Primary)
	}
	qty := roundToIncrement(e.cfg.MaxPositionUSD/primaryTick.Mid(), p.spec.PrimaryIncrement)
	if qty <= 0 {
		return fmt.Errorf("position size rounds to zero")
	}
	// positive z: primary rich relative to hedge, so short primary
	primaryQty := qty
	if cand.ZScore > 0 {
		primaryQty = -qty
	}
	hedgeQty := roundToIncrement(-primaryQty/clamped, p.spec.HedgeIncrement)
	if hedgeQty == 0 {
		return fmt.Errorf("hedge size rounds to zero")
	}

	e.setRatio(ctx, p, clamped, types.TriggerTime)

	intent := types.TradeIntent{
		ID:         uuid.NewString(),
		PairID:     p.spec.ID(),
		Action:     types.ActionOpen,
		PrimaryQty: primaryQty,
		HedgeQty:   hedgeQty,
		Reason:     types.ReasonEntrySignal,
		CreatedAt:  time.Now(),
	}
	p.remedyCount = 0
	if err := e.dispatch(ctx, p, types.PairEntering, intent); err != nil {
		return err
	}
	e.logOp(ctx, "info", p.spec.ID(), types.ReasonEntrySignal,
		fmt.Sprintf("entering: score=%.3f z=%.3f ratio=%.4f primary=%.6f hedge=%.6f",
			cand.Score, cand.ZScore, clamped, primaryQty, hedgeQty))
	return nil
}

// startRebalance adjusts the hedge leg back onto the target ratio.
func (e *Engine) startRebalance(ctx context.Context, p *pairRuntime) {
	desired := roundToIncrement(-p.primaryPos.Qty/p.targetRatio.Ratio, p.spec.HedgeIncrement)
	delta := desired - p.hedgePos.Qty
	delta = roundToIncrement(delta, p.spec.HedgeIncrement)
	if delta == 0 {
		return
	}
	intent := types.TradeIntent{
		ID:        uuid.NewString(),
		PairID:    p.spec.ID(),
		Action:    types.ActionRebalance,
		HedgeQty:  delta,
		Reason:    types.ReasonDriftRebalance,
		CreatedAt: time.Now(),
	}
	p.remedyCount = 0
	if err := e.dispatch(ctx, p, types.PairRebalancing, intent); err != nil {
		logger.Warnf("engine: rebalance %s: %v", p.spec.ID(), err)
		return
	}
	e.logOp(ctx, "info", p.spec.ID(), types.ReasonDriftRebalance,
		fmt.Sprintf("rebalancing: drift=%.3f hedge delta=%.6f", e.currentDrift(p), delta))
}

// startExit closes whatever both legs hold. Flat pairs go straight back
// to idle.
func (e *Engine) startExit(ctx context.Context, p *pairRuntime, reason string) {
	if p.flat() {
		p.state = types.PairIdle
		if err := e.persistPair(ctx, p); err != nil {
			logger.Errorf("engine: persist %s: %v", p.spec.ID(), err)
		}
		return
	}
	var primaryQty, hedgeQty float64
	if p.primaryPos != nil {
		primaryQty = -p.primaryPos.Qty
	}
	if p.hedgePos != nil {
		hedgeQty = -p.hedgePos.Qty
	}
	intent := types.TradeIntent{
		ID:         uuid.NewString(),
		PairID:     p.spec.ID(),
		Action:     types.ActionClose,
		PrimaryQty: primaryQty,
		HedgeQty:   hedgeQty,
		Reason:     reason,
		CreatedAt:  time.Now(),
	}
	p.remedyCount = 0
	if err := e.dispatch(ctx, p, types.PairExiting, intent); err != nil {
		logger.Warnf("engine: exit %s: %v", p.spec.ID(), err)
	}
}

// dispatch moves the pair into the target state, persists it and submits
// the intent. A refused submission rolls the transition back.
func (e *Engine) dispatch(ctx context.Context, p *pairRuntime, state types.PairState, intent types.TradeIntent) error {
	prev := p.state
	p.state = state
	p.pendingIntent = &intent
	if err := e.persistPair(ctx, p); err != nil {
		p.state = prev
		p.pendingIntent = nil
		return err
	}
	if err := e.exec.Submit(ctx, p.spec, intent); err != nil {
		p.state = prev
		p.pendingIntent = nil
		if perr := e.persistPair(ctx, p); perr != nil {
			logger.Errorf("engine: persist %s: %v", p.spec.ID(), perr)
		}
		return err
	}
	return nil
}

// onResult settles an intent outcome against the pair state machine.
func (e *Engine) onResult(ctx context.Context, res executor.IntentResult) {
	p, ok := e.pairs[res.Intent.PairID]
	if !ok {
		logger.Warnf("engine: result for unknown pair %s", res.Intent.PairID)
		return
	}
	p.pendingIntent = nil
	if err := e.refreshPositions(ctx, p); err != nil {
		logger.Errorf("engine: %v", err)
	}

	switch p.state {
	case types.PairEntering, types.PairRebalancing:
		if res.Completed() {
			e.settle(ctx, p)
			return
		}
		e.remedy(ctx, p, res)
	case types.PairExiting:
		if p.flat() {
			p.state = types.PairIdle
			p.remedyCount = 0
			if err := e.persistPair(ctx, p); err != nil {
				logger.Errorf("engine: persist %s: %v", p.spec.ID(), err)
			}
			e.logOp(ctx, "info", p.spec.ID(), string(res.Intent.Action), "pair closed, back to idle")
			return
		}
		e.remedyExit(ctx, p, res)
	default:
		logger.Warnf("engine: result for pair %s in state %s", p.spec.ID(), p.state)
	}
}

func (e *Engine) settle(ctx context.Context, p *pairRuntime) {
	p.state = types.PairHedged
	p.remedyCount = 0
	if err := e.persistPair(ctx, p); err != nil {
		logger.Errorf("engine: persist %s: %v", p.spec.ID(), err)
	}
	e.logOp(ctx, "info", p.spec.ID(), "hedged", "both legs settled")
}

// remedy patches the gap between what the intent wanted and what actually
// filled. The budget is bounded; exhausting it closes the pair instead of
// chasing the venue forever.
func (e *Engine) remedy(ctx context.Context, p *pairRuntime, res executor.IntentResult) {
	p.remedyCount++
	if p.remedyCount > e.cfg.MaxEntryRetries {
		e.logOp(ctx, "warn", p.spec.ID(), types.ReasonRetryExhausted,
			fmt.Sprintf("remedy budget exhausted after %d attempts, unwinding", p.remedyCount-1))
		e.startExit(ctx, p, types.ReasonRetryExhausted)
		return
	}

	primaryRemaining := roundToIncrement(res.Intent.PrimaryQty-legDelta(res, types.RolePrimary), p.spec.PrimaryIncrement)
	hedgeRemaining := roundToIncrement(res.Intent.HedgeQty-legDelta(res, types.RoleHedge), p.spec.HedgeIncrement)
	if primaryRemaining == 0 && hedgeRemaining == 0 {
		e.settle(ctx, p)
		return
	}

	intent := types.TradeIntent{
		ID:         uuid.NewString(),
		PairID:     p.spec.ID(),
		Action:     res.Intent.Action,
		PrimaryQty: primaryRemaining,
		HedgeQty:   hedgeRemaining,
		Reason:     types.ReasonPartialRemedy,
		CreatedAt:  time.Now(),
	}
	if err := e.dispatch(ctx, p, p.state, intent); err != nil {
		logger.Warnf("engine: remedy %s: %v", p.spec.ID(), err)
		return
	}
	e.logOp(ctx, "warn", p.spec.ID(), types.ReasonPartialRemedy,
		fmt.Sprintf("remedy %d/%d: primary=%.6f hedge=%.6f",
			p.remedyCount, e.cfg.MaxEntryRetries, primaryRemaining, hedgeRemaining))
}

// remedyExit keeps closing residual legs. When the budget runs out the
// pair is halted with a standing alert; only an operator ack resumes it.
func (e *Engine) remedyExit(ctx context.Context, p *pairRuntime, res executor.IntentResult) {
	p.remedyCount++
	if p.remedyCount > e.cfg.MaxEntryRetries {
		p.halted = true
		p.haltReason = types.ReasonResidualExposed
		if err := e.persistPair(ctx, p); err != nil {
			logger.Errorf("engine: persist %s: %v", p.spec.ID(), err)
		}
		msg := fmt.Sprintf("pair %s halted: residual exposure after failed unwind (primary=%.6f hedge=%.6f)",
			p.spec.ID(), posQty(p.primaryPos), posQty(p.hedgePos))
		e.logOp(ctx, "error", p.spec.ID(), types.ReasonResidualExposed, msg)
		if err := e.notify.SendText(msg); err != nil {
			logger.Warnf("engine: notify: %v", err)
		}
		return
	}

	var primaryQty, hedgeQty float64
	if p.primaryPos != nil {
		primaryQty = -p.primaryPos.Qty
	}
	if p.hedgePos != nil {
		hedgeQty = -p.hedgePos.Qty
	}
	intent := types.TradeIntent{
		ID:         uuid.NewString(),
		PairID:     p.spec.ID(),
		Action:     types.ActionClose,
		PrimaryQty: primaryQty,
		HedgeQty:   hedgeQty,
		Reason:     types.ReasonPartialRemedy,
		CreatedAt:  time.Now(),
	}
	if err := e.dispatch(ctx, p, types.PairExiting, intent); err != nil {
		logger.Warnf("engine: exit remedy %s: %v", p.spec.ID(), err)
		return
	}
	e.logOp(ctx, "warn", p.spec.ID(), types.ReasonPartialRemedy,
		fmt.Sprintf("exit remedy %d/%d", p.remedyCount, e.cfg.MaxEntryRetries))
}

// ackPair clears an operator halt. A flat pair returns to idle; residual
// exposure resumes unwinding with a fresh budget.
func (e *Engine) ackPair(ctx context.Context, pairID string) error {
	p, ok := e.pairs[pairID]
	if !ok {
		return fmt.Errorf("unknown pair %s", pairID)
	}
	if !p.halted {
		return fmt.Errorf("pair %s is not halted", pairID)
	}
	p.halted = false
	p.haltReason = ""
	e.logOp(ctx, "info", pairID, types.ReasonOperatorAck, "halt acknowledged by operator")
	if err := e.refreshPositions(ctx, p); err != nil {
		logger.Errorf("engine: %v", err)
	}
	if p.flat() {
		p.state = types.PairIdle
		return e.persistPair(ctx, p)
	}
	if err := e.persistPair(ctx, p); err != nil {
		return err
	}
	e.startExit(ctx, p, types.ReasonOperatorAck)
	return nil
}

// recomputeRatios refreshes targets for pairs with no in-flight order. A
// pair mid-flight keeps its ratio; resizing against a moving target while
// an order works would corrupt the hedge.
func (e *Engine) recomputeRatios(ctx context.Context, trigger types.RatioTrigger) {
	for _, spec := range e.cfg.Pairs {
		p := e.pairs[spec.ID()]
		if p.halted || p.pendingIntent != nil {
			continue
		}
		fresh, ok := e.scan.HedgeRatio(spec)
		if !ok {
			continue
		}
		clamped := clampRatio(fresh, e.cfg.RatioMin, e.cfg.RatioMax)
		if clamped == p.targetRatio.Ratio {
			continue
		}
		e.setRatio(ctx, p, clamped, trigger)
	}
}

func (e *Engine) setRatio(ctx context.Context, p *pairRuntime, ratio float64, trigger types.RatioTrigger) {
	hr := types.HedgeRatio{
		PairID:       p.spec.ID(),
		Ratio:        ratio,
		Trigger:      trigger,
		RecomputedAt: time.Now(),
	}
	uow, err := e.st.Begin(ctx)
	if err != nil {
		logger.Errorf("engine: ratio %s: %v", p.spec.ID(), err)
		return
	}
	if err := uow.Ratios().Save(hr); err != nil {
		uow.Rollback()
		logger.Errorf("engine: ratio %s: %v", p.spec.ID(), err)
		return
	}
	if err := uow.Commit(); err != nil {
		logger.Errorf("engine: ratio %s: %v", p.spec.ID(), err)
		return
	}
	p.targetRatio = hr
}

// legDelta extracts the signed filled quantity of one leg from a result.
func legDelta(res executor.IntentResult, role types.PositionRole) float64 {
	for _, leg := range res.Legs {
		if leg.Role != role {
			continue
		}
		if leg.Order.Side == types.SideSell {
			return -leg.Order.FilledQty
		}
		return leg.Order.FilledQty
	}
	return 0
}

func posQty(pos *types.Position) float64 {
	if pos == nil {
		return 0
	}
	return pos.Qty
}
