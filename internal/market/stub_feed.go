package market

import (
	"context"
	"math"
	"math/rand"
	"time"

	"hedgepair/internal/types"
)

// StubFeed emits deterministic synthetic ticks: a slow sine drift plus a
// small pseudo-random walk per instrument. Used for paper mode and offline
// work; no network involved.
type StubFeed struct {
	Interval time.Duration
	Seed     int64
	Base     map[string]float64 // starting mid per instrument; default 100
}

func NewStubFeed(interval time.Duration) *StubFeed {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &StubFeed{Interval: interval, Seed: 1}
}

func (f *StubFeed) Subscribe(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	out := make(chan types.Tick, 64)
	rng := rand.New(rand.NewSource(f.Seed))

	mids := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		base := 100.0
		if f.Base != nil && f.Base[inst] > 0 {
			base = f.Base[inst]
		}
		mids[inst] = base
	}

	go func() {
		defer close(out)
		ticker := time.NewTicker(f.Interval)
		defer ticker.Stop()
		step := 0
		for {
			select {
			case <-ctx.Done():
				return
			case ts := <-ticker.C:
				step++
				for _, inst := range instruments {
					mid := mids[inst]
					mid *= 1 + 0.0004*math.Sin(float64(step)/40) + (rng.Float64()-0.5)*0.0006
					mids[inst] = mid
					half := mid * 0.0002
					tick := types.Tick{
						Instrument: inst,
						Bid:        mid - half,
						Ask:        mid + half,
						Last:       mid,
						At:         ts,
					}
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (f *StubFeed) Stats() SourceStats { return SourceStats{} }

func (f *StubFeed) Close() error { return nil }
