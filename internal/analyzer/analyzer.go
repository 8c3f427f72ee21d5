// Package analyzer derives performance figures from the fill journal and
// open positions: realized and unrealized P&L, fees, an estimated funding
// cost and return on equity. It also records periodic snapshots so the
// equity curve survives restarts.
package analyzer

import (
	"context"
	"fmt"
	"math"
	"time"

	"hedgepair/internal/config"
	"hedgepair/internal/logger"
	"hedgepair/internal/scheduler"
	"hedgepair/internal/store"
	"hedgepair/internal/types"
)

// QuoteFn resolves the current mark price for an instrument. Returns
// false when no quote has been seen yet.
type QuoteFn func(instrument string) (float64, bool)

// Report is a full performance breakdown at one instant.
type Report struct {
	At             time.Time `json:"at"`
	InitialCapital float64   `json:"initial_capital"`
	TotalValue     float64   `json:"total_value"`
	RealizedPnL    float64   `json:"realized_pnl"`
	UnrealizedPnL  float64   `json:"unrealized_pnl"`
	Fees           float64   `json:"fees"`
	FundingCost    float64   `json:"funding_cost"`
	ROE            float64   `json:"roe"`
	ClosedTrades   int       `json:"closed_trades"`
	OpenPositions  int       `json:"open_positions"`
}

type Analyzer struct {
	cfg   config.TradingConfig
	st    store.Store
	quote QuoteFn
}

func New(cfg config.TradingConfig, st store.Store, quote QuoteFn) *Analyzer {
	return &Analyzer{cfg: cfg, st: st, quote: quote}
}

// Build computes a report from the journal and current marks. Positions
// without a quote are valued at entry, which understates nothing worse
// than a stale feed already does.
func (a *Analyzer) Build(ctx context.Context) (Report, error) {
	now := time.Now()
	rep := Report{At: now, InitialCapital: a.cfg.InitialCapital}

	flow, err := a.st.FillFlowTotal(ctx)
	if err != nil {
		return rep, fmt.Errorf("analyzer: fill flow: %w", err)
	}
	fees, err := a.st.FeeTotal(ctx)
	if err != nil {
		return rep, fmt.Errorf("analyzer: fees: %w", err)
	}
	trades, err := a.st.ClosedTradeCount(ctx)
	if err != nil {
		return rep, fmt.Errorf("analyzer: trade count: %w", err)
	}
	positions, err := a.st.AllPositions(ctx)
	if err != nil {
		return rep, fmt.Errorf("analyzer: positions: %w", err)
	}

	var openCost, unrealized, funding float64
	open := 0
	for _, pos := range positions {
		if pos.Qty == 0 {
			continue
		}
		open++
		openCost += -pos.Qty * pos.AvgEntry
		mark := pos.AvgEntry
		if a.quote != nil {
			if m, ok := a.quote(pos.Instrument); ok && m > 0 {
				mark = m
			}
		}
		unrealized += pos.Qty * (mark - pos.AvgEntry)
		funding += a.fundingFor(pos, mark, now)
	}

	// realized = all cash that moved through fills, minus the cost still
	// tied up in open legs
	rep.RealizedPnL = flow - openCost
	rep.UnrealizedPnL = unrealized
	rep.Fees = fees
	rep.FundingCost = funding
	rep.ClosedTrades = trades
	rep.OpenPositions = open
	rep.TotalValue = a.cfg.InitialCapital + rep.RealizedPnL + rep.UnrealizedPnL - fees - funding
	if a.cfg.InitialCapital > 0 {
		rep.ROE = (rep.TotalValue - a.cfg.InitialCapital) / a.cfg.InitialCapital
	}
	return rep, nil
}

// fundingFor estimates carry on one leg from its notional, the configured
// per-8h rate and how long it has been open.
func (a *Analyzer) fundingFor(pos types.Position, mark float64, now time.Time) float64 {
	if a.cfg.FundingRatePer8h == 0 || pos.OpenedAt.IsZero() {
		return 0
	}
	held := now.Sub(pos.OpenedAt)
	if held <= 0 {
		return 0
	}
	periods := held.Hours() / 8
	return math.Abs(pos.Qty*mark) * a.cfg.FundingRatePer8h * periods
}

// Snapshot builds a report and appends it to the snapshot history.
func (a *Analyzer) Snapshot(ctx context.Context) (types.PerformanceSnapshot, error) {
	rep, err := a.Build(ctx)
	if err != nil {
		return types.PerformanceSnapshot{}, err
	}
	snap := types.PerformanceSnapshot{
		At:            rep.At,
		Trades:        rep.ClosedTrades,
		TotalValue:    rep.TotalValue,
		RealizedPnL:   rep.RealizedPnL,
		UnrealizedPnL: rep.UnrealizedPnL,
		Fees:          rep.Fees,
		ROE:           rep.ROE,
	}
	if err := a.st.AppendSnapshot(ctx, snap); err != nil {
		return snap, fmt.Errorf("analyzer: append snapshot: %w", err)
	}
	return snap, nil
}

// Run records snapshots on the configured interval until ctx is done.
// Snapshots land on interval boundaries so restarts keep the series even.
func (a *Analyzer) Run(ctx context.Context) error {
	interval := a.cfg.SnapshotInterval()
	logger.Infof("analyzer: snapshot every %s", interval)
	scheduler.NewInterval(ctx, interval).Start(func() {
		snap, err := a.Snapshot(ctx)
		if err != nil {
			logger.Warnf("analyzer: %v", err)
			return
		}
		logger.Infof("analyzer: snapshot value=%.2f roe=%.4f realized=%.2f unrealized=%.2f",
			snap.TotalValue, snap.ROE, snap.RealizedPnL, snap.UnrealizedPnL)
	})
	return nil
}
