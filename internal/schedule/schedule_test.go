package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
)

func mergeSchedule(t *testing.T) *Schedule {
	t.Helper()
	return New([]Rule{
		mustRule(t, "foo", "08:00", "30", "65"),
		mustRule(t, "bar", "08:12", "20", "65"),
	}, scotland, time.UTC)
}

func equalPending(t *testing.T, got, want []Pending) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d pending, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Zone != want[i].Zone || !got[i].DueAt.Equal(want[i].DueAt) {
			t.Errorf("pending %d: got %s@%s, want %s@%s", i,
				got[i].Zone, got[i].DueAt.Format("15:04"), want[i].Zone, want[i].DueAt.Format("15:04"))
		}
	}
}

func TestScheduleMergesEvents(t *testing.T) {
	s := mergeSchedule(t)

	equalPending(t, s.AllPending(at(0, 0)), []Pending{
		{"foo", at(8, 0)},
		{"bar", at(8, 12)},
		{"foo", at(8, 30)},
		{"bar", at(8, 32)},
		{"bar", at(8, 52)},
		{"foo", at(9, 0)},
		{"bar", at(9, 12)},
	})
}

func TestScheduleFiltersPastEvents(t *testing.T) {
	s := mergeSchedule(t)

	equalPending(t, s.AllPending(at(9, 1)), []Pending{
		{"bar", at(9, 12)},
	})
}

func TestScheduleExcludesInstantEqualToNow(t *testing.T) {
	s := mergeSchedule(t)

	got := s.AllPending(at(9, 12))
	if len(got) != 0 {
		t.Errorf("expected nothing strictly after 09:12, got %v", got)
	}
}

func TestScheduleTiesKeepConfigOrder(t *testing.T) {
	s := New([]Rule{
		mustRule(t, "b", "07:00", "30", "30"),
		mustRule(t, "a", "07:00", "30", "30"),
		mustRule(t, "c", "06:00", "30", "30"),
	}, origin, time.UTC)

	equalPending(t, s.AllPending(at(0, 0)), []Pending{
		{"c", at(6, 0)},
		{"b", at(7, 0)},
		{"a", at(7, 0)},
	})
}

func TestScheduleEmpty(t *testing.T) {
	s := New(nil, origin, time.UTC)
	if got := s.AllPending(at(0, 0)); len(got) != 0 {
		t.Errorf("expected no pending, got %v", got)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.ControllerConfig{
		Location: config.Location{Latitude: 55.9, Longitude: 3.297},
		Zones: []config.Zone{
			{Name: "foo", Checks: []config.Check{{Start: "08:00", Every: "30", For: "65"}}},
			{Name: "bar", Checks: []config.Check{{Start: "08:12", Every: "20m", For: "65m"}}},
		},
	}

	s, err := FromConfig(cfg, time.UTC)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if len(s.Rules()) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(s.Rules()))
	}
	equalPending(t, s.AllPending(at(9, 1)), []Pending{{"bar", at(9, 12)}})
}

func TestFromConfigRejectsZeroEvery(t *testing.T) {
	cfg := config.ControllerConfig{
		Zones: []config.Zone{
			{Name: "foo", Checks: []config.Check{{Start: "08:00", Every: "0", For: "65"}}},
		},
	}

	_, err := FromConfig(cfg, time.UTC)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

// fakeClock advances instantly: every After call moves the clock forward by
// the requested duration. Only used from the scheduler goroutine.
type fakeClock struct {
	t      time.Time
	sleeps int
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.t = c.t.Add(d)
	c.sleeps++
	ch := make(chan time.Time, 1)
	ch <- c.t
	return ch
}

type recordingObserver struct {
	zones []string
}

func (r *recordingObserver) SetNextCheck(zone string, _ time.Time) {
	r.zones = append(r.zones, zone)
}

func runScheduler(t *testing.T, s *Scheduler, n int) []event.ConditionalIrrigateEvent {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan event.Event)
	done := make(chan struct{})
	go func() {
		s.Run(ctx, events)
		close(done)
	}()

	var got []event.ConditionalIrrigateEvent
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case ev := <-events:
			ci, ok := ev.(event.ConditionalIrrigateEvent)
			if !ok {
				t.Fatalf("unexpected event %T", ev)
			}
			got = append(got, ci)
		case <-timeout:
			t.Fatalf("timed out after %d events", len(got))
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
	return got
}

func TestSchedulerDispatchesInOrder(t *testing.T) {
	clock := &fakeClock{t: at(0, 0)}
	obs := &recordingObserver{}
	s := NewScheduler(mergeSchedule(t), obs)
	s.now = clock.Now
	s.after = clock.After

	got := runScheduler(t, s, 7)

	want := []Pending{
		{"foo", at(8, 0)},
		{"bar", at(8, 12)},
		{"foo", at(8, 30)},
		{"bar", at(8, 32)},
		{"bar", at(8, 52)},
		{"foo", at(9, 0)},
		{"bar", at(9, 12)},
	}
	for i, w := range want {
		if got[i].Zone != w.Zone {
			t.Errorf("event %d: zone got %q, want %q", i, got[i].Zone, w.Zone)
		}
		if !got[i].Time.Equal(w.DueAt) {
			t.Errorf("event %d: fired at %v, want %v", i, got[i].Time, w.DueAt)
		}
	}
	if len(obs.zones) < 7 || obs.zones[0] != "foo" || obs.zones[1] != "bar" {
		t.Errorf("observer not told about next checks: %v", obs.zones)
	}
}

func TestSchedulerSleepsNoLongerThanPollInterval(t *testing.T) {
	clock := &fakeClock{t: at(0, 0)}
	s := NewScheduler(mergeSchedule(t), nil)
	s.now = clock.Now
	s.after = clock.After

	runScheduler(t, s, 1)

	// 00:00 -> 08:00 in one-minute steps.
	if clock.sleeps < 480 {
		t.Errorf("expected at least 480 bounded sleeps, got %d", clock.sleeps)
	}
}

func TestSchedulerRollsOverToNextDay(t *testing.T) {
	clock := &fakeClock{t: at(0, 0)}
	s := NewScheduler(mergeSchedule(t), nil)
	s.now = clock.Now
	s.after = clock.After

	got := runScheduler(t, s, 8)

	// No duplicate of the last check; the next event is tomorrow's first.
	next := got[7]
	if next.Zone != "foo" {
		t.Errorf("zone: got %q, want foo", next.Zone)
	}
	if want := at(8, 0).AddDate(0, 0, 1); !next.Time.Equal(want) {
		t.Errorf("fired at %v, want %v", next.Time, want)
	}
}

func TestSchedulerWakesAtMidnight(t *testing.T) {
	clock := &fakeClock{t: time.Date(2019, 5, 19, 23, 55, 1, 0, time.UTC)}
	s := NewScheduler(New([]Rule{
		mustRule(t, "late", "23:55", "30", "1"),
		mustRule(t, "early", "00:05", "30", "1"),
	}, origin, time.UTC), nil)
	s.now = clock.Now
	s.after = clock.After

	got := runScheduler(t, s, 1)

	if got[0].Zone != "early" {
		t.Errorf("zone: got %q, want early", got[0].Zone)
	}
	if want := time.Date(2019, 5, 20, 0, 5, 0, 0, time.UTC); !got[0].Time.Equal(want) {
		t.Errorf("fired at %v, want %v", got[0].Time, want)
	}
}

func TestIdleForStopsAtMidnight(t *testing.T) {
	tz := time.FixedZone("CEST", 2*3600)
	s := NewScheduler(New(nil, origin, tz), nil)

	// 23:57 local.
	now := time.Date(2019, 5, 19, 21, 57, 0, 0, time.UTC)
	if got := s.idleFor(now); got != 3*time.Minute {
		t.Errorf("near midnight: got %v, want 3m", got)
	}
	if got := s.idleFor(now.Add(-time.Hour)); got != DefaultIdleInterval {
		t.Errorf("mid evening: got %v, want %v", got, DefaultIdleInterval)
	}
}

func TestSchedulerStopsWhenIdle(t *testing.T) {
	s := NewScheduler(New(nil, origin, time.UTC), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, make(chan event.Event))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop while idle")
	}
}

func TestSchedulerStopsWhenReceiverGone(t *testing.T) {
	clock := &fakeClock{t: at(7, 59)}
	s := NewScheduler(mergeSchedule(t), nil)
	s.now = clock.Now
	s.after = clock.After

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	// Nobody reads this channel.
	go func() {
		s.Run(ctx, make(chan event.Event))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler blocked on send after cancel")
	}
}
