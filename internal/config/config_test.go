package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const minimalConfig = `
[exchange]
paper = true

[trading]
initial_capital = 10000.0
max_position_usd = 500.0

[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	assert.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9980", cfg.App.HTTPAddr)
	assert.Equal(t, "binance", cfg.Exchange.Name)
	assert.Equal(t, 120, cfg.Scanner.Lookback)
	assert.Equal(t, 3, cfg.Trading.MaxPositions)
	assert.InDelta(t, 1.5, cfg.Trading.EntryScore, 1e-9)
	assert.InDelta(t, 0.5, cfg.Trading.ExitScore, 1e-9,
		"exit threshold must default above zero or no pair ever exits on signal")
	assert.Equal(t, 5, cfg.Executor.MaxAttempts)
	assert.Equal(t, 250, cfg.Executor.BaseDelayMs)
	if assert.Len(t, cfg.Trading.Pairs, 1) {
		assert.InDelta(t, 0.0001, cfg.Trading.Pairs[0].PrimaryIncrement, 1e-12)
		assert.Equal(t, "ETH/USDT~BTC/USDT", cfg.Trading.Pairs[0].ID())
	}
}

func TestExitScoreDefaultTracksEntryScore(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[exchange]
paper = true

[trading]
initial_capital = 10000.0
max_position_usd = 500.0
entry_score = 0.9

[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`))
	assert.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.Trading.ExitScore, 1e-9)
	assert.Less(t, cfg.Trading.ExitScore, cfg.Trading.EntryScore)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
[scanner]
lookback = 60
min_correlation = 0.9

[executor]
max_attempts = 2
order_timeout_seconds = 15
`))
	assert.NoError(t, err)
	assert.Equal(t, 60, cfg.Scanner.Lookback)
	assert.InDelta(t, 0.9, cfg.Scanner.MinCorrelation, 1e-9)
	assert.Equal(t, 2, cfg.Executor.MaxAttempts)
	assert.Equal(t, 15, cfg.Executor.OrderTimeoutSec)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load("")
	assert.Error(t, err)
}

func TestValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{
			name: "no pairs",
			body: `
[exchange]
paper = true
[trading]
initial_capital = 10000.0
max_position_usd = 500.0
`,
		},
		{
			name: "live trading without keys",
			body: `
[exchange]
paper = false
[trading]
initial_capital = 10000.0
max_position_usd = 500.0
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`,
		},
		{
			name: "pair hedges itself",
			body: `
[exchange]
paper = true
[trading]
initial_capital = 10000.0
max_position_usd = 500.0
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "ETH/USDT"
`,
		},
		{
			name: "duplicate pair",
			body: minimalConfig + `
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`,
		},
		{
			name: "no capital",
			body: `
[exchange]
paper = true
[trading]
max_position_usd = 500.0
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`,
		},
		{
			name: "exit score above entry score",
			body: `
[exchange]
paper = true
[trading]
initial_capital = 10000.0
max_position_usd = 500.0
entry_score = 1.0
exit_score = 2.0
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`,
		},
		{
			name: "rebalance threshold out of range",
			body: `
[exchange]
paper = true
[trading]
initial_capital = 10000.0
max_position_usd = 500.0
rebalance_threshold = 1.5
[[trading.pairs]]
primary = "ETH/USDT"
hedge = "BTC/USDT"
`,
		},
		{
			name: "telegram enabled without token",
			body: minimalConfig + `
[notify.telegram]
enabled = true
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}
