package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Exchange.validate(); err != nil {
		return err
	}
	if err := c.Scanner.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Executor.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (e *ExchangeConfig) validate() error {
	if !e.Paper {
		if strings.TrimSpace(e.APIKey) == "" || strings.TrimSpace(e.APISecret) == "" {
			return fmt.Errorf("exchange.api_key and exchange.api_secret are required unless exchange.paper = true")
		}
	}
	return nil
}

func (s *ScannerConfig) validate() error {
	if s.Lookback < 10 {
		return fmt.Errorf("scanner.lookback must be >= 10")
	}
	if s.MinCorrelation < 0 || s.MinCorrelation > 1 {
		return fmt.Errorf("scanner.min_correlation must be within [0, 1]")
	}
	if s.MaxSpreadPct <= 0 {
		return fmt.Errorf("scanner.max_spread_pct must be > 0")
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if len(t.Pairs) == 0 {
		return fmt.Errorf("trading.pairs requires at least one pair")
	}
	seen := make(map[string]struct{}, len(t.Pairs))
	for _, p := range t.Pairs {
		if strings.TrimSpace(p.Primary) == "" || strings.TrimSpace(p.Hedge) == "" {
			return fmt.Errorf("trading.pairs entries need both primary and hedge instruments")
		}
		if p.Primary == p.Hedge {
			return fmt.Errorf("trading.pairs: primary and hedge cannot be the same instrument (%s)", p.Primary)
		}
		if _, dup := seen[p.ID()]; dup {
			return fmt.Errorf("trading.pairs contains duplicate pair %s", p.ID())
		}
		seen[p.ID()] = struct{}{}
	}
	if t.InitialCapital <= 0 {
		return fmt.Errorf("trading.initial_capital must be > 0")
	}
	if t.MaxPositionUSD <= 0 {
		return fmt.Errorf("trading.max_position_usd must be > 0")
	}
	if t.RatioMin <= 0 {
		return fmt.Errorf("trading.ratio_min must be > 0")
	}
	if t.RatioMax <= t.RatioMin {
		return fmt.Errorf("trading.ratio_max must be > trading.ratio_min")
	}
	if t.RebalanceThreshold <= 0 || t.RebalanceThreshold >= 1 {
		return fmt.Errorf("trading.rebalance_threshold must be within (0, 1)")
	}
	if t.EntryScore <= 0 {
		return fmt.Errorf("trading.entry_score must be > 0")
	}
	if t.ExitScore < 0 || t.ExitScore >= t.EntryScore {
		return fmt.Errorf("trading.exit_score must be within [0, entry_score)")
	}
	return nil
}

func (e *ExecutorConfig) validate() error {
	if e.MaxAttempts < 1 {
		return fmt.Errorf("executor.max_attempts must be >= 1")
	}
	if e.MaxDelayMs < e.BaseDelayMs {
		return fmt.Errorf("executor.max_delay_ms must be >= executor.base_delay_ms")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if tg.Enabled && (strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
