package market

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"hedgepair/internal/logger"
	symbolpkg "hedgepair/internal/pkg/symbol"
	"hedgepair/internal/types"

	gobinance "github.com/adshao/go-binance/v2"
)

const reconnectDelay = 3 * time.Second

// BinanceFeed streams book-ticker updates over the binance websocket and
// normalizes them into ticks. It reconnects until the context is cancelled.
type BinanceFeed struct {
	mu     sync.Mutex
	cancel context.CancelFunc

	statsMu sync.Mutex
	stats   SourceStats
}

func NewBinanceFeed() *BinanceFeed {
	return &BinanceFeed{}
}

func (f *BinanceFeed) Subscribe(ctx context.Context, instruments []string) (<-chan types.Tick, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	// canonical name lookup: ETHUSDT -> ETH/USDT
	names := make(map[string]string, len(instruments))
	symbols := make([]string, 0, len(instruments))
	for _, inst := range instruments {
		ex := symbolpkg.ToExchange(inst)
		names[ex] = symbolpkg.Normalize(inst)
		symbols = append(symbols, ex)
	}

	out := make(chan types.Tick, 256)
	go func() {
		defer close(out)
		for {
			if ctx.Err() != nil {
				return
			}
			doneC, stopC, err := gobinance.WsCombinedBookTickerServe(symbols,
				func(event *gobinance.WsBookTickerEvent) {
					tick, ok := f.normalize(event, names)
					if !ok {
						return
					}
					select {
					case out <- tick:
					default:
						// slow consumer: drop rather than stall the ws reader
						logger.Debugf("market: dropping tick for %s", tick.Instrument)
					}
				},
				func(err error) {
					f.recordError(err)
				})
			if err != nil {
				f.recordSubscribeError(err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
				continue
			}
			select {
			case <-ctx.Done():
				close(stopC)
				return
			case <-doneC:
				f.recordReconnect()
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}
			}
		}
	}()
	return out, nil
}

func (f *BinanceFeed) normalize(event *gobinance.WsBookTickerEvent, names map[string]string) (types.Tick, bool) {
	name, ok := names[strings.ToUpper(event.Symbol)]
	if !ok {
		return types.Tick{}, false
	}
	bid, err1 := strconv.ParseFloat(event.BestBidPrice, 64)
	ask, err2 := strconv.ParseFloat(event.BestAskPrice, 64)
	if err1 != nil || err2 != nil || bid <= 0 || ask <= 0 {
		return types.Tick{}, false
	}
	return types.Tick{
		Instrument: name,
		Bid:        bid,
		Ask:        ask,
		Last:       (bid + ask) / 2,
		At:         time.Now(),
	}, true
}

func (f *BinanceFeed) recordError(err error) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	if err != nil {
		f.stats.LastError = err.Error()
	}
}

func (f *BinanceFeed) recordSubscribeError(err error) {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.SubscribeErrors++
	if err != nil {
		f.stats.LastError = err.Error()
	}
	logger.Warnf("market: websocket subscribe failed: %v", err)
}

func (f *BinanceFeed) recordReconnect() {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	f.stats.Reconnects++
	logger.Warnf("market: websocket disconnected, reconnecting in %s", reconnectDelay)
}

func (f *BinanceFeed) Stats() SourceStats {
	f.statsMu.Lock()
	defer f.statsMu.Unlock()
	return f.stats
}

func (f *BinanceFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
	return nil
}
