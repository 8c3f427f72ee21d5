// Package scheduler runs periodic tasks aligned to interval boundaries,
// so a 5m snapshot fires at :00, :05, :10 regardless of process start time.
package scheduler

import (
	"context"
	"time"

	"hedgepair/internal/logger"
)

type Interval struct {
	Every          time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewInterval(ctx context.Context, every time.Duration) *Interval {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Interval{
		Every: every,
		ctx:   ctx,
		nowFn: time.Now,
	}
}

// Start blocks, invoking task at each interval boundary until the context
// is done. Task runtime eats into the wait: a task slower than the interval
// fires again immediately at the next boundary already passed.
func (s *Interval) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("scheduler: task is nil, exit")
		return
	}
	if s.Every <= 0 {
		logger.Warnf("scheduler: invalid interval=%s, exit", s.Every)
		return
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	logger.Infof("scheduler: started interval=%s run_immediately=%v", s.Every, s.RunImmediately)

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := nextRunAfter(now, s.Every)
		wait := wakeAt.Sub(now)
		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("scheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}

// nextRunAfter returns the first interval boundary strictly after now.
func nextRunAfter(now time.Time, every time.Duration) time.Time {
	return now.Truncate(every).Add(every)
}
