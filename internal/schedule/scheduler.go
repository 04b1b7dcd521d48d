package schedule

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

const (
	// DefaultIdleInterval is how long the scheduler sleeps when nothing is
	// left to fire today. A sleep never runs past local midnight.
	DefaultIdleInterval = 10 * time.Minute

	// DefaultPollInterval caps a single sleep so wall-clock adjustments are
	// noticed.
	DefaultPollInterval = time.Minute
)

// NextObserver is told which check will fire next. Called from the
// scheduler goroutine.
type NextObserver interface {
	SetNextCheck(zone string, at time.Time)
}

// Scheduler emits a ConditionalIrrigateEvent for every due check.
type Scheduler struct {
	schedule *Schedule
	observer NextObserver

	IdleInterval time.Duration
	PollInterval time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewScheduler creates a Scheduler on the real clock. observer may be nil.
func NewScheduler(s *Schedule, observer NextObserver) *Scheduler {
	return &Scheduler{
		schedule:     s,
		observer:     observer,
		IdleInterval: DefaultIdleInterval,
		PollInterval: DefaultPollInterval,
		now:          time.Now,
		after:        time.After,
	}
}

// Run alternates between computing today's pending checks and dispatching
// them in time order. It returns nil when ctx is cancelled; an event that can
// no longer be delivered is dropped on the way out.
func (s *Scheduler) Run(ctx context.Context, events chan<- event.Event) error {
	for {
		pending := s.schedule.AllPending(s.now())
		if len(pending) == 0 {
			s.setNext(Pending{})
			if !s.sleep(ctx, s.idleFor(s.now())) {
				return nil
			}
			continue
		}

		log.Printf("scheduler: %d check(s) pending, next %s at %s",
			len(pending), pending[0].Zone, pending[0].DueAt.Format(time.RFC3339))

		for _, p := range pending {
			s.setNext(p)
			if !s.waitUntil(ctx, p.DueAt) {
				return nil
			}

			log.Printf("scheduler: check due for zone %s", p.Zone)
			ev := event.ConditionalIrrigateEvent{Time: s.now(), Zone: p.Zone}
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// waitUntil sleeps until the wall clock reaches due, re-reading it at least
// every PollInterval.
func (s *Scheduler) waitUntil(ctx context.Context, due time.Time) bool {
	for {
		d := due.Sub(s.now())
		if d <= 0 {
			return true
		}
		if s.PollInterval > 0 && d > s.PollInterval {
			d = s.PollInterval
		}
		if !s.sleep(ctx, d) {
			return false
		}
	}
}

// idleFor is IdleInterval, cut short at the next local midnight so the
// first checks of a new day are not slept through.
func (s *Scheduler) idleFor(now time.Time) time.Duration {
	d := now.In(s.schedule.tz)
	midnight := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, s.schedule.tz)
	return min(s.IdleInterval, midnight.Sub(now))
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.after(d):
		return true
	}
}

func (s *Scheduler) setNext(p Pending) {
	if s.observer != nil {
		s.observer.SetNextCheck(p.Zone, p.DueAt)
	}
}
