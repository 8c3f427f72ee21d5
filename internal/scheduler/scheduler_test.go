package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNextRunAfterAlignsToBoundary(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 2, 30, 0, time.UTC)

	next := nextRunAfter(base, 5*time.Minute)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC), next)

	// exactly on a boundary schedules the next one, not the current
	onBoundary := time.Date(2026, 3, 14, 10, 5, 0, 0, time.UTC)
	next = nextRunAfter(onBoundary, 5*time.Minute)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 10, 0, 0, time.UTC), next)

	next = nextRunAfter(base, time.Hour)
	assert.Equal(t, time.Date(2026, 3, 14, 11, 0, 0, 0, time.UTC), next)
}

func TestStartFiresRepeatedlyUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewInterval(ctx, 5*time.Millisecond)

	runs := make(chan struct{}, 16)
	done := make(chan struct{})
	go func() {
		s.Start(func() { runs <- struct{}{} })
		close(done)
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-runs:
		case <-time.After(time.Second):
			t.Fatalf("task run %d never fired", i+1)
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestRunImmediatelyFiresBeforeFirstBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewInterval(ctx, time.Hour)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		s.Start(func() { ran <- struct{}{} })
		close(done)
	}()

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("immediate run never fired")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStartRejectsBadInputs(t *testing.T) {
	s := NewInterval(context.Background(), time.Minute)
	s.Start(nil) // returns without panicking

	s = NewInterval(context.Background(), 0)
	ran := false
	s.Start(func() { ran = true })
	assert.False(t, ran, "zero interval must not run the task")

	var nilSched *Interval
	nilSched.Start(func() { ran = true })
	assert.False(t, ran)
}
