// Package scanner ranks candidate pairs by an opportunity score derived
// from spread deviation, realized correlation and execution cost. The
// ranking is advisory; the strategy engine applies its own risk limits.
package scanner

import (
	"math"
	"sort"
	"sync"

	"hedgepair/internal/config"
	"hedgepair/internal/types"

	"github.com/markcheno/go-talib"
)

// Candidate is one scored pair. Score is comparable across pairs within a
// single Rank call only.
type Candidate struct {
	Pair        types.PairSpec
	Score       float64
	Correlation float64
	ZScore      float64
	SpreadPct   float64
}

type pairWindow struct {
	lastPrimary types.Tick
	lastHedge   types.Tick

	primary []float64 // mid prices, aligned samples
	hedge   []float64
	ratios  []float64 // primary mid / hedge mid
	spreads []float64 // avg relative bid-ask width of both legs
}

// Scanner accumulates tick history per pair and scores pairs on demand.
// Observe and Rank are safe to call concurrently.
type Scanner struct {
	cfg config.ScannerConfig

	mu      sync.RWMutex
	windows map[string]*pairWindow
}

func New(cfg config.ScannerConfig) *Scanner {
	return &Scanner{
		cfg:     cfg,
		windows: make(map[string]*pairWindow),
	}
}

// Observe feeds one tick into the rolling window of every pair the
// instrument participates in.
func (s *Scanner) Observe(pair types.PairSpec, tick types.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[pair.ID()]
	if !ok {
		w = &pairWindow{}
		s.windows[pair.ID()] = w
	}
	switch tick.Instrument {
	case pair.Primary:
		w.lastPrimary = tick
	case pair.Hedge:
		w.lastHedge = tick
	default:
		return
	}
	if w.lastPrimary.Mid() <= 0 || w.lastHedge.Mid() <= 0 {
		return
	}
	// one aligned sample per observation once both legs have quoted
	pm, hm := w.lastPrimary.Mid(), w.lastHedge.Mid()
	w.primary = appendBounded(w.primary, pm, s.cfg.Lookback)
	w.hedge = appendBounded(w.hedge, hm, s.cfg.Lookback)
	w.ratios = appendBounded(w.ratios, pm/hm, s.cfg.Lookback)
	w.spreads = appendBounded(w.spreads, (w.lastPrimary.SpreadPct()+w.lastHedge.SpreadPct())/2, s.cfg.Lookback)
}

// Ready reports whether a pair has accumulated a full lookback window.
func (s *Scanner) Ready(pairID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[pairID]
	return ok && len(w.ratios) >= s.cfg.Lookback
}

// Rank scores the given pairs and returns them in descending score order.
// Pairs below the minimum correlation or above the maximum spread are
// excluded outright. Ties break toward the cheaper (tighter spread) pair.
func (s *Scanner) Rank(pairs []types.PairSpec) []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Candidate, 0, len(pairs))
	for _, pair := range pairs {
		c, ok := s.scoreLocked(pair)
		if !ok {
			continue
		}
		if c.Correlation < s.cfg.MinCorrelation {
			continue
		}
		if c.SpreadPct > s.cfg.MaxSpreadPct {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].SpreadPct < out[j].SpreadPct
	})
	return out
}

// Score computes the current candidate for a single pair, if its window is
// full. Used by the engine for entry/exit threshold checks.
func (s *Scanner) Score(pair types.PairSpec) (Candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scoreLocked(pair)
}

func (s *Scanner) scoreLocked(pair types.PairSpec) (Candidate, bool) {
	w, ok := s.windows[pair.ID()]
	if !ok || len(w.ratios) < s.cfg.Lookback {
		return Candidate{}, false
	}
	n := s.cfg.Lookback

	corrSeries := talib.Correl(w.primary, w.hedge, n)
	corr := corrSeries[len(corrSeries)-1]
	if math.IsNaN(corr) {
		return Candidate{}, false
	}

	mean := talib.Sma(w.ratios, n)[len(w.ratios)-1]
	std := talib.StdDev(w.ratios, n, 1.0)[len(w.ratios)-1]
	z := 0.0
	if std > 0 {
		z = (w.ratios[len(w.ratios)-1] - mean) / std
	}

	spread := talib.Sma(w.spreads, n)[len(w.spreads)-1]

	// score = |z| * corr / (1 + spread * penalty): large deviations from the
	// rolling mean on tightly correlated, cheap-to-trade pairs rank first.
	score := math.Abs(z) * corr / (1 + spread*s.cfg.SpreadPenalty)
	return Candidate{
		Pair:        pair,
		Score:       score,
		Correlation: corr,
		ZScore:      z,
		SpreadPct:   spread,
	}, true
}

// HedgeRatio computes the minimum-variance hedge ratio for a pair from its
// current window: corr * sigma(primary) / sigma(hedge) over log mid prices,
// clamped by the caller. Returns false while the window is not full or the
// ratio is degenerate.
func (s *Scanner) HedgeRatio(pair types.PairSpec) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[pair.ID()]
	if !ok || len(w.primary) < s.cfg.Lookback {
		return 0, false
	}
	n := s.cfg.Lookback

	corr := talib.Correl(w.primary, w.hedge, n)
	logP := logSeries(w.primary)
	logH := logSeries(w.hedge)
	stdP := talib.StdDev(logP, n, 1.0)
	stdH := talib.StdDev(logH, n, 1.0)

	c := corr[len(corr)-1]
	sp := stdP[len(stdP)-1]
	sh := stdH[len(stdH)-1]
	if math.IsNaN(c) || c <= 0 || sp <= 0 || sh <= 0 {
		return 0, false
	}
	return c * sp / sh, true
}

func appendBounded(series []float64, v float64, max int) []float64 {
	series = append(series, v)
	if len(series) > max {
		series = series[len(series)-max:]
	}
	return series
}

func logSeries(in []float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = math.Log(v)
	}
	return out
}
