// Package app wires configuration into running components and owns the
// process lifecycle: reconcile, bootstrap, run, drain.
package app

import (
	"context"
	"fmt"
	"sync"

	"hedgepair/internal/analyzer"
	"hedgepair/internal/config"
	"hedgepair/internal/engine"
	"hedgepair/internal/exchange"
	"hedgepair/internal/exchange/binance"
	"hedgepair/internal/executor"
	"hedgepair/internal/logger"
	"hedgepair/internal/market"
	"hedgepair/internal/notifier"
	"hedgepair/internal/reconcile"
	"hedgepair/internal/scanner"
	"hedgepair/internal/store"
	"hedgepair/internal/store/gormstore"
	"hedgepair/internal/store/oplog"
	httpapi "hedgepair/internal/transport/http"
	"hedgepair/internal/types"

	"golang.org/x/sync/errgroup"
)

// App holds every long-lived component. Build with NewApp, then Run once.
type App struct {
	cfg *config.Config

	st     store.Store
	ops    *oplog.Store
	venue  exchange.Exchange
	paper  *exchange.Paper
	feed   market.Feed
	scan   *scanner.Scanner
	exec   *executor.Executor
	engine *engine.Engine
	anlz   *analyzer.Analyzer
	http   *httpapi.Server
	notify notifier.TextNotifier

	quoteMu sync.RWMutex
	quotes  map[string]float64
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg, quotes: make(map[string]float64)}

	st, err := gormstore.New(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	a.st = st

	ops, err := oplog.New(cfg.Store.OplogPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open oplog: %w", err)
	}
	a.ops = ops

	if cfg.Notify.Telegram.Enabled {
		a.notify = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	} else {
		a.notify = notifier.Noop{}
	}

	if cfg.Exchange.Paper {
		a.paper = exchange.NewPaper(cfg.Trading.InitialCapital)
		a.venue = a.paper
		a.feed = market.NewStubFeed(0)
		logger.Infof("app: paper trading against simulated venue")
	} else {
		a.venue = binance.New(binance.Config{
			APIKey:      cfg.Exchange.APIKey,
			APISecret:   cfg.Exchange.APISecret,
			RESTBaseURL: cfg.Exchange.RESTBaseURL,
			Testnet:     cfg.Exchange.Testnet,
			HTTPTimeout: cfg.Exchange.Timeout(),
		})
		a.feed = market.NewBinanceFeed()
	}

	a.scan = scanner.New(cfg.Scanner)
	a.exec = executor.New(cfg.Executor, a.venue, a.st)
	a.engine = engine.New(cfg.Trading, a.scan, a.exec, a.st, a.ops, a.notify)
	a.anlz = analyzer.New(cfg.Trading, a.st, a.markPrice)

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr: cfg.App.HTTPAddr,
		Router: &httpapi.Router{
			Engine:   a.engine,
			Exec:     a.exec,
			Analyzer: a.anlz,
			Store:    a.st,
			Ops:      a.ops,
			Feed:     a.feed,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build http server: %w", err)
	}
	a.http = srv
	return a, nil
}

// Run reconciles against the venue, bootstraps the engine and then runs
// every component until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	rec := reconcile.New(a.st, a.venue, a.ops, a.notify)
	if err := rec.Run(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	if err := a.engine.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	feedCh, err := a.feed.Subscribe(ctx, a.instruments())
	if err != nil {
		return fmt.Errorf("subscribe market data: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	ticks := make(chan types.Tick, 512)
	group.Go(func() error {
		defer close(ticks)
		a.pump(ctx, feedCh, ticks)
		return nil
	})
	group.Go(func() error {
		return a.engine.Run(ctx, ticks)
	})
	group.Go(func() error {
		return a.anlz.Run(ctx)
	})
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	err = group.Wait()
	a.Close()
	return err
}

// pump fans ticks from the feed into the engine and keeps the mark-price
// cache current. In paper mode it also drives the simulated venue.
func (a *App) pump(ctx context.Context, in <-chan types.Tick, out chan<- types.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-in:
			if !ok {
				return
			}
			a.quoteMu.Lock()
			a.quotes[tick.Instrument] = tick.Mid()
			a.quoteMu.Unlock()
			if a.paper != nil {
				a.paper.SetQuote(exchange.Quote{
					Instrument: tick.Instrument,
					Bid:        tick.Bid,
					Ask:        tick.Ask,
					Last:       tick.Last,
					At:         tick.At,
				})
			}
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (a *App) markPrice(instrument string) (float64, bool) {
	a.quoteMu.RLock()
	defer a.quoteMu.RUnlock()
	v, ok := a.quotes[instrument]
	return v, ok
}

func (a *App) instruments() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pair := range a.cfg.Trading.Pairs {
		for _, instr := range []string{pair.Primary, pair.Hedge} {
			if seen[instr] {
				continue
			}
			seen[instr] = true
			out = append(out, instr)
		}
	}
	return out
}

// Close releases feed and storage handles. Safe to call more than once.
func (a *App) Close() {
	if a.feed != nil {
		if err := a.feed.Close(); err != nil {
			logger.Warnf("app: close feed: %v", err)
		}
		a.feed = nil
	}
	if a.ops != nil {
		if err := a.ops.Close(); err != nil {
			logger.Warnf("app: close oplog: %v", err)
		}
		a.ops = nil
	}
	if a.st != nil {
		if err := a.st.Close(); err != nil {
			logger.Warnf("app: close store: %v", err)
		}
		a.st = nil
	}
}
