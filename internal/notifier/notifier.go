// Package notifier pushes operational alerts (halts, residual exposure,
// reconciliation failures) to a human channel.
package notifier

// TextNotifier delivers a plain-text alert. Implementations retry
// internally; a returned error means the message was dropped.
type TextNotifier interface {
	SendText(text string) error
}

// Noop swallows every message. Used when no channel is configured.
type Noop struct{}

func (Noop) SendText(string) error { return nil }
