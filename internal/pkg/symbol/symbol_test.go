package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "ETH/USDT", Normalize(" eth/usdt "))
	assert.Equal(t, "BTC/USDT", Normalize("BTC/USDT"))
}

func TestToExchange(t *testing.T) {
	assert.Equal(t, "ETHUSDT", ToExchange("eth/usdt"))
	assert.Equal(t, "BTCUSDT", ToExchange("BTCUSDT"))
}

func TestBaseAndQuote(t *testing.T) {
	assert.Equal(t, "ETH", Base("eth/usdt"))
	assert.Equal(t, "USDT", Quote("eth/usdt"))
	assert.Equal(t, "ETHUSDT", Base("ETHUSDT"))
	assert.Equal(t, "", Quote("ETHUSDT"))
}
