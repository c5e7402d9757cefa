//go:build linux

// Package schedule implements the fixed-rate tick scheduler: a lazy,
// monotone sequence of tick events anchored to a configured period, with
// coalesce-on-overrun semantics by default.
package schedule

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/ja7ad/energyaudit/pkg/clock"
)

// ErrInvalidPeriod is returned by New when the period is not finite and
// strictly positive.
var ErrInvalidPeriod = errors.New("schedule: invalid_period")

// Policy selects how the scheduler advances its theoretical grid index
// after an overrun.
type Policy int

const (
	// Coalesce skips straight to the next future deadline after an
	// overrun; this is the default.
	Coalesce Policy = iota
	// Burst preserves the grid: after a long tick, subsequent ticks fire
	// back-to-back until caught up.
	Burst
)

// Tick is one scheduler-produced event.
type Tick struct {
	TickID         int64
	ScheduleIndex  int64
	PeriodNanos    int64
	T0Nanos        int64
	DeadlineNanos  int64
	StartNanos     int64
	DTNanos        int64
	LatenessNanos  int64
	SkippedPeriods int64
}

// Scheduler produces Tick events at a fixed period, anchored to t0.
type Scheduler struct {
	clock  clock.Monotonic
	period int64
	t0     int64
	policy Policy

	tickID        int64
	scheduleIndex int64
	prevStart     int64
	started       bool
}

// New validates periodMillis and constructs a Scheduler anchored at the
// clock's current reading. Zero, negative or non-finite periods fail with
// ErrInvalidPeriod (a configuration error).
func New(c clock.Monotonic, periodMillis float64, policy Policy) (*Scheduler, error) {
	if math.IsNaN(periodMillis) || math.IsInf(periodMillis, 0) || periodMillis <= 0 {
		return nil, ErrInvalidPeriod
	}
	t0 := c.NowNanos()
	return &Scheduler{
		clock:  c,
		period: int64(periodMillis * float64(time.Millisecond)),
		t0:     t0,
		policy: policy,
	}, nil
}

// sleeper abstracts the blocking wait until a deadline so tests can inject
// a fake clock without real-time sleeps.
type sleeper func(ctx context.Context, c clock.Monotonic, deadlineNanos int64) error

var defaultSleeper sleeper = func(ctx context.Context, c clock.Monotonic, deadlineNanos int64) error {
	for {
		now := c.NowNanos()
		if now >= deadlineNanos {
			return nil
		}
		remaining := time.Duration(deadlineNanos - now)
		if remaining > 5*time.Millisecond {
			remaining = 5 * time.Millisecond
		}
		t := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Next awaits the next deadline and returns the resulting tick. It returns
// false when ctx is cancelled during the wait, terminating the sequence
// cleanly without yielding a further tick.
func (s *Scheduler) Next(ctx context.Context) (Tick, bool) {
	return s.next(ctx, defaultSleeper)
}

func (s *Scheduler) next(ctx context.Context, sleep sleeper) (Tick, bool) {
	if !s.started {
		s.started = true
		s.scheduleIndex = 0
		s.prevStart = s.t0
	}

	deadline := s.t0 + s.scheduleIndex*s.period
	if err := sleep(ctx, s.clock, deadline); err != nil {
		return Tick{}, false
	}

	start := s.clock.NowNanos()
	dt := int64(0)
	if s.tickID > 0 {
		dt = start - s.prevStart
	}
	lateness := start - deadline
	if lateness < 0 {
		lateness = 0
	}

	nextIndex := s.nextScheduleIndex(start)
	skipped := nextIndex - s.scheduleIndex - 1
	if skipped < 0 {
		skipped = 0
	}

	tick := Tick{
		TickID:         s.tickID,
		ScheduleIndex:  s.scheduleIndex,
		PeriodNanos:    s.period,
		T0Nanos:        s.t0,
		DeadlineNanos:  deadline,
		StartNanos:     start,
		DTNanos:        dt,
		LatenessNanos:  lateness,
		SkippedPeriods: skipped,
	}

	s.tickID++
	s.scheduleIndex = nextIndex
	s.prevStart = start

	return tick, true
}

func (s *Scheduler) nextScheduleIndex(startNanos int64) int64 {
	switch s.policy {
	case Burst:
		return s.scheduleIndex + 1
	default: // Coalesce
		grid := (startNanos-s.t0)/s.period + 1
		next := s.scheduleIndex + 1
		if grid > next {
			return grid
		}
		return next
	}
}
