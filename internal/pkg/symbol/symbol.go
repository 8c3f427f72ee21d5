// Package symbol converts between canonical instrument names ("ETH/USDT")
// and the compact form exchanges expect ("ETHUSDT").
package symbol

import "strings"

// Normalize upper-cases and trims an instrument name, keeping the slash form.
func Normalize(sym string) string {
	return strings.ToUpper(strings.TrimSpace(sym))
}

// ToExchange strips the slash: "ETH/USDT" -> "ETHUSDT".
func ToExchange(sym string) string {
	return strings.ReplaceAll(Normalize(sym), "/", "")
}

// Base returns the base currency of a slash-form instrument, or the whole
// symbol when there is no slash.
func Base(sym string) string {
	s := Normalize(sym)
	if i := strings.Index(s, "/"); i > 0 {
		return s[:i]
	}
	return s
}

// Quote returns the quote currency of a slash-form instrument, or "" when
// there is no slash.
func Quote(sym string) string {
	s := Normalize(sym)
	if i := strings.Index(s, "/"); i >= 0 && i+1 < len(s) {
		return s[i+1:]
	}
	return ""
}
