// Package engine drives the per-pair trading state machine. Each pair
// walks idle -> entering -> hedged -> rebalancing/exiting -> idle, with
// every transition persisted so a restart resumes where it left off.
package engine

import (
	"context"
	"fmt"
	"time"

	"hedgepair/internal/config"
	"hedgepair/internal/executor"
	"hedgepair/internal/logger"
	"hedgepair/internal/notifier"
	"hedgepair/internal/scanner"
	"hedgepair/internal/store"
	"hedgepair/internal/store/oplog"
	"hedgepair/internal/types"
)

// pairRuntime is the in-memory mirror of one pair's persisted state plus
// the transient bookkeeping the state machine needs between events.
type pairRuntime struct {
	spec       types.PairSpec
	state      types.PairState
	halted     bool
	haltReason string

	targetRatio types.HedgeRatio
	score       scanner.Candidate

	primaryPos *types.Position
	hedgePos   *types.Position

	pendingIntent *types.TradeIntent
	remedyCount   int
}

func (p *pairRuntime) flat() bool {
	return (p.primaryPos == nil || p.primaryPos.Qty == 0) &&
		(p.hedgePos == nil || p.hedgePos.Qty == 0)
}

func (p *pairRuntime) holdsBothLegs() bool {
	return p.primaryPos != nil && p.primaryPos.Qty != 0 &&
		p.hedgePos != nil && p.hedgePos.Qty != 0
}

// PairStatus is the externally visible view of one pair.
type PairStatus struct {
	PairID      string           `json:"pair_id"`
	State       types.PairState  `json:"state"`
	Halted      bool             `json:"halted"`
	HaltReason  string           `json:"halt_reason,omitempty"`
	Score       float64          `json:"score"`
	Correlation float64          `json:"correlation"`
	TargetRatio float64          `json:"target_ratio"`
	Drift       float64          `json:"drift"`
	Positions   []types.Position `json:"positions"`
}

// Status is the engine-wide view served over HTTP.
type Status struct {
	Lifecycle types.LifecycleState `json:"lifecycle"`
	Pairs     []PairStatus         `json:"pairs"`
}

// Engine consumes market ticks and executor results on a single goroutine
// so per-pair decisions never race each other.
type Engine struct {
	cfg    config.TradingConfig
	scan   *scanner.Scanner
	exec   *executor.Executor
	st     store.Store
	ops    *oplog.Store
	notify notifier.TextNotifier

	lifecycle  types.LifecycleState
	pairs      map[string]*pairRuntime
	byInstr    map[string][]*pairRuntime
	quotes     map[string]types.Tick
	lastScan   time.Time
	statusReq  chan chan Status
	controlReq chan controlMsg
}

type controlKind int

const (
	controlStart controlKind = iota
	controlStop
	controlAck
)

type controlMsg struct {
	kind   controlKind
	pairID string
	reply  chan error
}

func New(cfg config.TradingConfig, scan *scanner.Scanner, exec *executor.Executor,
	st store.Store, ops *oplog.Store, notify notifier.TextNotifier) *Engine {
	e := &Engine{
		cfg:        cfg,
		scan:       scan,
		exec:       exec,
		st:         st,
		ops:        ops,
		notify:     notify,
		lifecycle:  types.LifecycleStopped,
		pairs:      make(map[string]*pairRuntime),
		byInstr:    make(map[string][]*pairRuntime),
		quotes:     make(map[string]types.Tick),
		statusReq:  make(chan chan Status),
		controlReq: make(chan controlMsg),
	}
	for _, spec := range cfg.Pairs {
		p := &pairRuntime{spec: spec, state: types.PairIdle}
		e.pairs[spec.ID()] = p
		e.byInstr[spec.Primary] = append(e.byInstr[spec.Primary], p)
		e.byInstr[spec.Hedge] = append(e.byInstr[spec.Hedge], p)
	}
	return e
}

// Bootstrap loads persisted pair state, positions and hedge ratios. Call
// after reconciliation, before Run.
func (e *Engine) Bootstrap(ctx context.Context) error {
	for id, p := range e.pairs {
		rec, ok, err := e.st.PairState(ctx, id)
		if err != nil {
			return fmt.Errorf("load pair state %s: %w", id, err)
		}
		if ok {
			p.state = rec.State
			p.halted = rec.Halted
			p.haltReason = rec.HaltReason
		}
		if err := e.refreshPositions(ctx, p); err != nil {
			return err
		}
		ratio, ok, err := e.st.HedgeRatio(ctx, id)
		if err != nil {
			return fmt.Errorf("load hedge ratio %s: %w", id, err)
		}
		if ok {
			p.targetRatio = ratio
		}
		// an in-flight state with nothing actually in flight collapses back
		// to whatever the positions imply
		if p.state.Active() && p.pendingIntent == nil {
			switch {
			case p.flat():
				p.state = types.PairIdle
				if err := e.persistPair(ctx, p); err != nil {
					return err
				}
			case p.holdsBothLegs():
				p.state = types.PairHedged
				if err := e.persistPair(ctx, p); err != nil {
					return err
				}
			case p.halted:
				// residual exposure under a standing halt waits for the
				// operator ack, which drives the unwind
				if err := e.persistPair(ctx, p); err != nil {
					return err
				}
			default:
				// one leg landed, the other never did. That is directional
				// exposure, not a hedge: unwind it instead of managing it
				// as hedged
				e.logOp(ctx, "warn", id, types.ReasonPartialRemedy,
					"resumed holding a single leg, unwinding")
				e.startExit(ctx, p, types.ReasonPartialRemedy)
			}
		}
	}
	return nil
}

// Run blocks until ctx is cancelled or the tick channel closes, then
// drains in-flight work.
func (e *Engine) Run(ctx context.Context, ticks <-chan types.Tick) error {
	e.lifecycle = types.LifecycleRunning
	e.logOp(ctx, "info", "", "lifecycle", "engine running")

	ratioTicker := time.NewTicker(e.cfg.RatioInterval())
	defer ratioTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown()
		case tick, ok := <-ticks:
			if !ok {
				return e.shutdown()
			}
			e.onTick(ctx, tick)
		case res := <-e.exec.Results():
			e.onResult(ctx, res)
		case <-ratioTicker.C:
			e.recomputeRatios(ctx, types.TriggerTime)
		case reply := <-e.statusReq:
			reply <- e.buildStatus()
		case msg := <-e.controlReq:
			msg.reply <- e.handleControl(ctx, msg)
		}
	}
}

// shutdown drains the executor and flushes terminal state.
func (e *Engine) shutdown() error {
	e.lifecycle = types.LifecycleDraining
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	e.logOp(ctx, "info", "", "lifecycle", "engine draining")
	if err := e.exec.Drain(ctx); err != nil {
		logger.Errorf("engine: drain: %v", err)
	}
	// drained results are not consumed; pending flags reset on next boot
	// from the persisted order rows
	e.lifecycle = types.LifecycleStopped
	e.logOp(ctx, "info", "", "lifecycle", "engine stopped")
	return nil
}

// Status asks the run loop for a consistent snapshot.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	select {
	case e.statusReq <- reply:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Resume re-enables entries after a Pause.
func (e *Engine) Resume(ctx context.Context) error {
	return e.control(ctx, controlMsg{kind: controlStart})
}

// Pause stops the engine from opening new positions. Existing positions
// keep being managed.
func (e *Engine) Pause(ctx context.Context) error {
	return e.control(ctx, controlMsg{kind: controlStop})
}

// Ack clears a pair's standing halt. The pair resumes closing any
// residual exposure, or returns to idle when flat.
func (e *Engine) Ack(ctx context.Context, pairID string) error {
	return e.control(ctx, controlMsg{kind: controlAck, pairID: pairID})
}

func (e *Engine) control(ctx context.Context, msg controlMsg) error {
	msg.reply = make(chan error, 1)
	select {
	case e.controlReq <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) handleControl(ctx context.Context, msg controlMsg) error {
	switch msg.kind {
	case controlStart:
		if e.lifecycle == types.LifecycleDraining {
			return fmt.Errorf("engine is draining")
		}
		e.lifecycle = types.LifecycleRunning
		e.logOp(ctx, "info", "", "control", "entries resumed")
		return nil
	case controlStop:
		if e.lifecycle == types.LifecycleRunning {
			e.lifecycle = types.LifecycleStopped
			e.logOp(ctx, "info", "", "control", "entries paused")
		}
		return nil
	case controlAck:
		return e.ackPair(ctx, msg.pairID)
	default:
		return fmt.Errorf("unknown control %d", msg.kind)
	}
}

func (e *Engine) buildStatus() Status {
	s := Status{Lifecycle: e.lifecycle}
	for _, spec := range e.cfg.Pairs {
		p := e.pairs[spec.ID()]
		ps := PairStatus{
			PairID:      spec.ID(),
			State:       p.state,
			Halted:      p.halted,
			HaltReason:  p.haltReason,
			Score:       p.score.Score,
			Correlation: p.score.Correlation,
			TargetRatio: p.targetRatio.Ratio,
			Drift:       e.currentDrift(p),
		}
		if p.primaryPos != nil {
			ps.Positions = append(ps.Positions, *p.primaryPos)
		}
		if p.hedgePos != nil {
			ps.Positions = append(ps.Positions, *p.hedgePos)
		}
		s.Pairs = append(s.Pairs, ps)
	}
	return s
}

func (e *Engine) refreshPositions(ctx context.Context, p *pairRuntime) error {
	positions, err := e.st.Positions(ctx, p.spec.ID())
	if err != nil {
		return fmt.Errorf("load positions %s: %w", p.spec.ID(), err)
	}
	p.primaryPos, p.hedgePos = nil, nil
	for i := range positions {
		pos := positions[i]
		switch pos.Role {
		case types.RolePrimary:
			p.primaryPos = &pos
		case types.RoleHedge:
			p.hedgePos = &pos
		}
	}
	return nil
}

func (e *Engine) persistPair(ctx context.Context, p *pairRuntime) error {
	rec := store.PairStateRecord{
		PairID:     p.spec.ID(),
		State:      p.state,
		Halted:     p.halted,
		HaltReason: p.haltReason,
	}
	if p.pendingIntent != nil {
		rec.InflightOrder = p.pendingIntent.ID
		rec.InflightIntent = p.pendingIntent
	}
	uow, err := e.st.Begin(ctx)
	if err != nil {
		return err
	}
	if err := uow.Pairs().Save(rec); err != nil {
		uow.Rollback()
		return err
	}
	return uow.Commit()
}

func (e *Engine) logOp(ctx context.Context, level, pairID, code, msg string) {
	logger.Infof("engine: %s %s %s", pairID, code, msg)
	if e.ops == nil {
		return
	}
	if err := e.ops.Append(ctx, level, pairID, code, msg); err != nil {
		logger.Warnf("engine: oplog append: %v", err)
	}
}
