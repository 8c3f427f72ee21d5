package scanner

import (
	"math"
	"testing"
	"time"

	"hedgepair/internal/config"
	"hedgepair/internal/types"

	"github.com/stretchr/testify/assert"
)

func testScanConfig() config.ScannerConfig {
	return config.ScannerConfig{
		Lookback:       30,
		MinCorrelation: 0.8,
		MaxSpreadPct:   0.01,
		SpreadPenalty:  100,
	}
}

func tickAt(instrument string, mid, spreadPct float64) types.Tick {
	half := mid * spreadPct / 2
	return types.Tick{
		Instrument: instrument,
		Bid:        mid - half,
		Ask:        mid + half,
		Last:       mid,
		At:         time.Now(),
	}
}

// feed pushes n aligned samples where the hedge leg tracks the primary
// leg through priceFn, so correlation stays near 1.
func feed(s *Scanner, pair types.PairSpec, n int, spreadPct float64, priceFn func(i int) (float64, float64)) {
	for i := 0; i < n; i++ {
		p, h := priceFn(i)
		s.Observe(pair, tickAt(pair.Primary, p, spreadPct))
		s.Observe(pair, tickAt(pair.Hedge, h, spreadPct))
	}
}

func TestScoreNotReadyBeforeFullWindow(t *testing.T) {
	s := New(testScanConfig())
	pair := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}

	feed(s, pair, 5, 0.001, func(i int) (float64, float64) {
		return 2000 + float64(i), 60000 + 30*float64(i)
	})
	_, ok := s.Score(pair)
	assert.False(t, ok)
	assert.False(t, s.Ready(pair.ID()))
}

func TestScoreRisesWithRatioDeviation(t *testing.T) {
	s := New(testScanConfig())
	pair := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}

	// correlated walk with a stable ratio, then the primary breaks away
	feed(s, pair, 40, 0.001, func(i int) (float64, float64) {
		base := 1 + 0.001*math.Sin(float64(i)/5)
		return 2000 * base, 60000 * base
	})
	baseline, ok := s.Score(pair)
	assert.True(t, ok)

	s.Observe(pair, tickAt(pair.Primary, 2100, 0.001))
	s.Observe(pair, tickAt(pair.Hedge, 60000, 0.001))
	after, ok := s.Score(pair)
	assert.True(t, ok)
	assert.Greater(t, after.Score, baseline.Score)
	assert.Greater(t, after.ZScore, 0.0, "primary rich means positive z")
}

func TestRankFiltersLowCorrelation(t *testing.T) {
	s := New(testScanConfig())
	good := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}
	bad := types.PairSpec{Primary: "DOGE/USDT", Hedge: "BTC/USDT"}

	feed(s, good, 40, 0.001, func(i int) (float64, float64) {
		base := 1 + 0.002*math.Sin(float64(i)/4)
		return 2000 * base, 60000 * base
	})
	// anti-correlated legs
	feed(s, bad, 40, 0.001, func(i int) (float64, float64) {
		w := 0.002 * math.Sin(float64(i)/4)
		return 0.1 * (1 + w), 60000 * (1 - w)
	})

	ranked := s.Rank([]types.PairSpec{good, bad})
	assert.Len(t, ranked, 1)
	assert.Equal(t, good.ID(), ranked[0].Pair.ID())
	assert.GreaterOrEqual(t, ranked[0].Correlation, 0.8)
}

func TestRankFiltersWideSpread(t *testing.T) {
	s := New(testScanConfig())
	cheap := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}
	wide := types.PairSpec{Primary: "SOL/USDT", Hedge: "BTC/USDT"}

	walk := func(i int) (float64, float64) {
		base := 1 + 0.002*math.Sin(float64(i)/4)
		return 100 * base, 60000 * base
	}
	feed(s, cheap, 40, 0.001, walk)
	feed(s, wide, 40, 0.05, walk) // 5% spread, far over the 1% cap

	ranked := s.Rank([]types.PairSpec{cheap, wide})
	assert.Len(t, ranked, 1)
	assert.Equal(t, cheap.ID(), ranked[0].Pair.ID())
}

func TestRankOrdersByScoreDescending(t *testing.T) {
	s := New(testScanConfig())
	calm := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}
	stretched := types.PairSpec{Primary: "SOL/USDT", Hedge: "BNB/USDT"}

	feed(s, calm, 40, 0.001, func(i int) (float64, float64) {
		base := 1 + 0.002*math.Sin(float64(i)/4)
		return 2000 * base, 60000 * base
	})
	feed(s, stretched, 40, 0.001, func(i int) (float64, float64) {
		base := 1 + 0.002*math.Sin(float64(i)/4)
		return 100 * base, 500 * base
	})
	// stretch the second pair's ratio
	s.Observe(stretched, tickAt(stretched.Primary, 108, 0.001))
	s.Observe(stretched, tickAt(stretched.Hedge, 500, 0.001))

	ranked := s.Rank([]types.PairSpec{calm, stretched})
	assert.Len(t, ranked, 2)
	assert.Equal(t, stretched.ID(), ranked[0].Pair.ID())
	assert.GreaterOrEqual(t, ranked[0].Score, ranked[1].Score)
}

func TestHedgeRatioTracksVolatilityRatio(t *testing.T) {
	s := New(testScanConfig())
	pair := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}

	// primary moves twice as much as the hedge in log terms
	feed(s, pair, 40, 0.001, func(i int) (float64, float64) {
		w := 0.01 * math.Sin(float64(i)/3)
		return 2000 * math.Exp(2*w), 60000 * math.Exp(w)
	})
	ratio, ok := s.HedgeRatio(pair)
	assert.True(t, ok)
	assert.InDelta(t, 2.0, ratio, 0.3)
}

func TestHedgeRatioNotReadyOnShortWindow(t *testing.T) {
	s := New(testScanConfig())
	pair := types.PairSpec{Primary: "ETH/USDT", Hedge: "BTC/USDT"}
	feed(s, pair, 3, 0.001, func(i int) (float64, float64) { return 2000, 60000 })
	_, ok := s.HedgeRatio(pair)
	assert.False(t, ok)
}
