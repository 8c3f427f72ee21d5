// Package config loads and validates the static startup configuration.
// Invalid thresholds or limits fail fast here; nothing downstream re-checks.
package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load reads the configuration file at path, applies defaults for unset
// keys and validates the result.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	cfg.applyDefaults()
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9980"
	}
	if c.Exchange.Name == "" {
		c.Exchange.Name = "binance"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Store.Path == "" {
		c.Store.Path = "data/hedgepair.db"
	}
	if c.Store.OplogPath == "" {
		c.Store.OplogPath = "data/oplog.db"
	}
	if c.Scanner.Lookback <= 0 {
		c.Scanner.Lookback = 120
	}
	if c.Scanner.MinCorrelation == 0 {
		c.Scanner.MinCorrelation = 0.8
	}
	if c.Scanner.MaxSpreadPct == 0 {
		c.Scanner.MaxSpreadPct = 0.01
	}
	if c.Scanner.SpreadPenalty == 0 {
		c.Scanner.SpreadPenalty = 100
	}
	if c.Trading.MaxPositions <= 0 {
		c.Trading.MaxPositions = 3
	}
	if c.Trading.EntryScore == 0 {
		c.Trading.EntryScore = 1.5
	}
	// signal scores never go negative, so a zero exit threshold would
	// keep every pair open until a halt; default below the entry bar
	if c.Trading.ExitScore == 0 {
		c.Trading.ExitScore = c.Trading.EntryScore / 3
	}
	if c.Trading.RebalanceThreshold == 0 {
		c.Trading.RebalanceThreshold = 0.2
	}
	if c.Trading.RatioMin == 0 {
		c.Trading.RatioMin = 0.1
	}
	if c.Trading.RatioMax == 0 {
		c.Trading.RatioMax = 10
	}
	if c.Trading.MaxEntryRetries <= 0 {
		c.Trading.MaxEntryRetries = 3
	}
	if c.Trading.RatioIntervalSec <= 0 {
		c.Trading.RatioIntervalSec = 3600
	}
	if c.Trading.SnapshotIntervalSec <= 0 {
		c.Trading.SnapshotIntervalSec = 60
	}
	for i := range c.Trading.Pairs {
		if c.Trading.Pairs[i].PrimaryIncrement <= 0 {
			c.Trading.Pairs[i].PrimaryIncrement = 0.0001
		}
		if c.Trading.Pairs[i].HedgeIncrement <= 0 {
			c.Trading.Pairs[i].HedgeIncrement = 0.0001
		}
	}
	if c.Executor.MaxAttempts <= 0 {
		c.Executor.MaxAttempts = 5
	}
	if c.Executor.BaseDelayMs <= 0 {
		c.Executor.BaseDelayMs = 250
	}
	if c.Executor.MaxDelayMs <= 0 {
		c.Executor.MaxDelayMs = 5000
	}
	if c.Executor.PollIntervalMs <= 0 {
		c.Executor.PollIntervalMs = 500
	}
	if c.Executor.OrderTimeoutSec <= 0 {
		c.Executor.OrderTimeoutSec = 30
	}
	if c.Executor.BreakerThreshold <= 0 {
		c.Executor.BreakerThreshold = 5
	}
	if c.Executor.BreakerCooldownMs <= 0 {
		c.Executor.BreakerCooldownMs = 10000
	}
}
