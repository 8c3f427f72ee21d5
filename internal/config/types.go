package config

import (
	"time"

	"hedgepair/internal/types"
)

// Config is the root configuration object. It is loaded once at startup and
// treated as immutable afterwards; no component reads config sources directly.
type Config struct {
	App      AppConfig      `toml:"app"`
	Exchange ExchangeConfig `toml:"exchange"`
	Store    StoreConfig    `toml:"store"`
	Scanner  ScannerConfig  `toml:"scanner"`
	Trading  TradingConfig  `toml:"trading"`
	Executor ExecutorConfig `toml:"executor"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

// ExchangeConfig describes the venue connection. With Paper=true the engine
// runs against the in-memory simulated exchange instead of a live venue.
type ExchangeConfig struct {
	Name           string `toml:"name"`
	RESTBaseURL    string `toml:"rest_base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	Testnet        bool   `toml:"testnet"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Paper          bool   `toml:"paper"`
}

func (e ExchangeConfig) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutSeconds) * time.Second
}

type StoreConfig struct {
	Path      string `toml:"path"`
	OplogPath string `toml:"oplog_path"`
}

// ScannerConfig tunes opportunity scoring. Pairs failing the hard filters
// are excluded from the ranking entirely.
type ScannerConfig struct {
	Lookback       int     `toml:"lookback"`
	MinCorrelation float64 `toml:"min_correlation"`
	MaxSpreadPct   float64 `toml:"max_spread_pct"`
	SpreadPenalty  float64 `toml:"spread_penalty"`
}

// TradingConfig carries the pair universe and risk limits.
type TradingConfig struct {
	Pairs              []types.PairSpec `toml:"pairs"`
	InitialCapital     float64          `toml:"initial_capital"`
	MaxPositions       int              `toml:"max_positions"`
	MaxPositionUSD     float64          `toml:"max_position_usd"`
	EntryScore         float64          `toml:"entry_score"`
	ExitScore          float64          `toml:"exit_score"`
	RebalanceThreshold float64          `toml:"rebalance_threshold"`
	RatioMin           float64          `toml:"ratio_min"`
	RatioMax           float64          `toml:"ratio_max"`
	MaxEntryRetries    int              `toml:"max_entry_retries"`
	RatioIntervalSec   int              `toml:"ratio_interval_seconds"`
	SnapshotIntervalSec int             `toml:"snapshot_interval_seconds"`
	FundingRatePer8h   float64          `toml:"funding_rate_per_8h"`
}

func (t TradingConfig) RatioInterval() time.Duration {
	if t.RatioIntervalSec <= 0 {
		return time.Hour
	}
	return time.Duration(t.RatioIntervalSec) * time.Second
}

func (t TradingConfig) SnapshotInterval() time.Duration {
	if t.SnapshotIntervalSec <= 0 {
		return time.Minute
	}
	return time.Duration(t.SnapshotIntervalSec) * time.Second
}

// ExecutorConfig bounds the retry machinery.
type ExecutorConfig struct {
	MaxAttempts       int `toml:"max_attempts"`
	BaseDelayMs       int `toml:"base_delay_ms"`
	MaxDelayMs        int `toml:"max_delay_ms"`
	PollIntervalMs    int `toml:"poll_interval_ms"`
	OrderTimeoutSec   int `toml:"order_timeout_seconds"`
	BreakerThreshold  int `toml:"breaker_threshold"`
	BreakerCooldownMs int `toml:"breaker_cooldown_ms"`
}

func (e ExecutorConfig) BaseDelay() time.Duration {
	return time.Duration(e.BaseDelayMs) * time.Millisecond
}

func (e ExecutorConfig) MaxDelay() time.Duration {
	return time.Duration(e.MaxDelayMs) * time.Millisecond
}

func (e ExecutorConfig) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalMs) * time.Millisecond
}

func (e ExecutorConfig) OrderTimeout() time.Duration {
	return time.Duration(e.OrderTimeoutSec) * time.Second
}

func (e ExecutorConfig) BreakerCooldown() time.Duration {
	return time.Duration(e.BreakerCooldownMs) * time.Millisecond
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
