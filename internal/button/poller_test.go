package button

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/gpio"
)

// steppingNow yields start, start+step, start+2*step, ... on successive
// calls. Only called from the poller goroutine.
func steppingNow(step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func TestPollerEmitsDebouncedPress(t *testing.T) {
	// 3 released samples to baseline, then pressed.
	in := gpio.NewFakeInput(false, false, false, false, true, true, true, true)
	p := NewPoller([]Line{{Name: "check", Input: in}}, 100*time.Millisecond, 250*time.Millisecond)
	p.now = steppingNow(100 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tick := make(chan time.Time)
	events := make(chan event.Event, 4)
	done := make(chan error, 1)
	go func() { done <- p.run(ctx, tick, events) }()

	for i := 0; i < 8; i++ {
		tick <- time.Time{}
	}

	select {
	case ev := <-events:
		b, ok := ev.(event.ButtonEvent)
		if !ok || b.Name != "check" || b.State != event.Pressed {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no button event")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
}

func TestPollerSkipsFailedSamples(t *testing.T) {
	in := gpio.NewFakeInput(true)
	in.ReadError = errors.New("line gone")
	p := NewPoller([]Line{{Name: "check", Input: in}}, 100*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	tick := make(chan time.Time)
	events := make(chan event.Event, 1)
	done := make(chan error, 1)
	go func() { done <- p.run(ctx, tick, events) }()

	tick <- time.Time{}
	tick <- time.Time{}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("run: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events from failed reads, got %d", len(events))
	}
	if p.detector.IsBaselined() {
		t.Error("failed samples should not reach the detector")
	}
}

func TestPollerClose(t *testing.T) {
	a, b := gpio.NewFakeInput(false), gpio.NewFakeInput(false)
	p := NewPoller([]Line{{Name: "a", Input: a}, {Name: "b", Input: b}}, time.Second, 0)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.Closed || !b.Closed {
		t.Error("all lines should be closed")
	}
}
