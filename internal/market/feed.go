// Package market normalizes venue price updates into the engine's Tick type.
package market

import (
	"context"

	"hedgepair/internal/types"
)

// SourceStats tracks feed health for status reporting.
type SourceStats struct {
	Reconnects      int
	SubscribeErrors int
	LastError       string
}

// Feed is a market data source. Subscribe delivers normalized ticks for the
// given instruments until ctx is cancelled; the returned channel is closed
// when the feed shuts down.
type Feed interface {
	Subscribe(ctx context.Context, instruments []string) (<-chan types.Tick, error)

	Stats() SourceStats

	Close() error
}
