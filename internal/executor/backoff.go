package executor

import "time"

// Backoff tracks retry progress for one order submission. It holds plain
// counters instead of timers so the schedule can be inspected and tested
// without sleeping.
type Backoff struct {
	base    time.Duration
	max     time.Duration
	limit   int
	attempt int
}

func NewBackoff(base, max time.Duration, limit int) *Backoff {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	if max < base {
		max = base
	}
	if limit <= 0 {
		limit = 1
	}
	return &Backoff{base: base, max: max, limit: limit}
}

// Next consumes one attempt. It returns the delay to wait before the
// retry and false once the attempt budget is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	b.attempt++
	if b.attempt >= b.limit {
		return 0, false
	}
	d := b.base << (b.attempt - 1)
	if d > b.max || d <= 0 {
		d = b.max
	}
	return d, true
}

// Attempt reports how many attempts have been consumed.
func (b *Backoff) Attempt() int { return b.attempt }

// Exhausted reports whether the budget is spent without consuming one.
func (b *Backoff) Exhausted() bool { return b.attempt >= b.limit }

func (b *Backoff) Reset() { b.attempt = 0 }
