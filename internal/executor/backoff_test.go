package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffSchedule(t *testing.T) {
	bo := NewBackoff(100*time.Millisecond, 1*time.Second, 5)

	d, ok := bo.Next()
	assert.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)

	d, ok = bo.Next()
	assert.True(t, ok)
	assert.Equal(t, 200*time.Millisecond, d)

	d, ok = bo.Next()
	assert.True(t, ok)
	assert.Equal(t, 400*time.Millisecond, d)

	d, ok = bo.Next()
	assert.True(t, ok)
	assert.Equal(t, 800*time.Millisecond, d)

	_, ok = bo.Next()
	assert.False(t, ok, "fifth attempt spends the budget")
	assert.True(t, bo.Exhausted())
}

func TestBackoffCapsAtMax(t *testing.T) {
	bo := NewBackoff(400*time.Millisecond, 1*time.Second, 10)

	delays := []time.Duration{}
	for {
		d, ok := bo.Next()
		if !ok {
			break
		}
		delays = append(delays, d)
	}
	assert.Len(t, delays, 9)
	for _, d := range delays {
		assert.LessOrEqual(t, d, 1*time.Second)
	}
	assert.Equal(t, 1*time.Second, delays[len(delays)-1])
}

func TestBackoffReset(t *testing.T) {
	bo := NewBackoff(50*time.Millisecond, time.Second, 2)
	bo.Next()
	assert.True(t, bo.Exhausted())
	bo.Reset()
	assert.False(t, bo.Exhausted())
	assert.Equal(t, 0, bo.Attempt())
}

func TestBackoffDefaults(t *testing.T) {
	bo := NewBackoff(0, 0, 0)
	_, ok := bo.Next()
	assert.False(t, ok, "limit 1 means no retries")
}
