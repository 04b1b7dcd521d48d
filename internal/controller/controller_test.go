package controller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/persistence"
)

var now = time.Date(2026, 5, 19, 8, 0, 0, 0, time.UTC)

func testConfig() config.ControllerConfig {
	return config.ControllerConfig{
		Zones: []config.Zone{
			{Name: "lawn", Valve: "front", Sensors: []string{"lawn-1", "lawn-2"}, Threshold: 30, IrrigateSeconds: 300},
			{Name: "beds", Valve: "back", Sensors: []string{"beds-1"}, Threshold: 40, IrrigateSeconds: 120},
		},
	}
}

type recorder struct {
	events    []event.Event
	decisions map[string]bool
}

func (r *recorder) Observe(ev event.Event) { r.events = append(r.events, ev) }

func (r *recorder) Decided(zone string, irrigate bool) {
	if r.decisions == nil {
		r.decisions = make(map[string]bool)
	}
	r.decisions[zone] = irrigate
}

type harness struct {
	ctrl  *Controller
	store *persistence.FakeStore
	irr   *FakeIrrigator
	obs   *recorder
}

func newHarness() *harness {
	h := &harness{
		store: persistence.NewFakeStore(now, time.Hour),
		irr:   &FakeIrrigator{},
		obs:   &recorder{},
	}
	h.ctrl = New(testConfig(), h.store, h.irr, h.obs)
	return h
}

func (h *harness) readings(t *testing.T, values map[string]event.Measurement) {
	t.Helper()
	for sensor, v := range values {
		ev := event.MoistureEvent{Time: now.Add(-5 * time.Minute), Sensor: sensor, Value: v}
		if err := h.store.StoreEvent(context.Background(), ev); err != nil {
			t.Fatal(err)
		}
	}
}

func (h *harness) handle(t *testing.T, ev event.Event) {
	t.Helper()
	if err := h.ctrl.Handle(context.Background(), ev); err != nil {
		t.Fatalf("Handle(%s): %v", ev.Kind(), err)
	}
}

func TestConditionalIrrigatesWhenAnySensorIsDry(t *testing.T) {
	h := newHarness()
	h.readings(t, map[string]event.Measurement{"lawn-1": 50, "lawn-2": 20})

	h.handle(t, event.ConditionalIrrigateEvent{Time: now, Zone: "lawn"})

	calls := h.irr.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 irrigation, got %v", calls)
	}
	want := Call{Zone: "lawn", Valve: "front", Duration: 5 * time.Minute}
	if calls[0] != want {
		t.Errorf("call: got %+v, want %+v", calls[0], want)
	}
	if !h.obs.decisions["lawn"] {
		t.Error("decision observer should see lawn=irrigate")
	}
}

func TestConditionalSkipsWhenAllSensorsWet(t *testing.T) {
	h := newHarness()
	h.readings(t, map[string]event.Measurement{"lawn-1": 50, "lawn-2": 30})

	h.handle(t, event.ConditionalIrrigateEvent{Time: now, Zone: "lawn"})

	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Errorf("threshold is strict; expected no irrigation, got %v", calls)
	}
	if d, ok := h.obs.decisions["lawn"]; !ok || d {
		t.Errorf("decision: got %v (seen %v), want false", d, ok)
	}
}

func TestConditionalWithoutReadingsIsNotDry(t *testing.T) {
	h := newHarness()

	h.handle(t, event.ConditionalIrrigateEvent{Time: now, Zone: "lawn"})

	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Errorf("expected no irrigation without readings, got %v", calls)
	}
	if len(h.store.Queries) != 2 {
		t.Errorf("expected both sensors queried, got %v", h.store.Queries)
	}
}

func TestUnknownZoneIsDropped(t *testing.T) {
	h := newHarness()

	h.handle(t, event.ConditionalIrrigateEvent{Time: now, Zone: "orchard"})
	h.handle(t, event.IrrigateEvent{Time: now, Zone: "orchard"})

	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Errorf("unknown zone should not irrigate, got %v", calls)
	}
	if got := len(h.store.Events()); got != 2 {
		t.Errorf("events should still be stored, got %d", got)
	}
	if len(h.obs.events) != 2 {
		t.Errorf("observers should still see the events, got %d", len(h.obs.events))
	}
}

func TestIrrigateIsUnconditional(t *testing.T) {
	h := newHarness()
	h.readings(t, map[string]event.Measurement{"beds-1": 90})

	h.handle(t, event.IrrigateEvent{Time: now, Zone: "beds"})

	calls := h.irr.Calls()
	want := Call{Zone: "beds", Valve: "back", Duration: 2 * time.Minute}
	if len(calls) != 1 || calls[0] != want {
		t.Errorf("calls: got %v, want [%+v]", calls, want)
	}
	if len(h.store.Queries) != 0 {
		t.Errorf("unconditional irrigation should not query moisture, got %v", h.store.Queries)
	}
}

func TestButtonReleaseChecksEveryZone(t *testing.T) {
	h := newHarness()
	h.readings(t, map[string]event.Measurement{"lawn-1": 80, "lawn-2": 80, "beds-1": 10})

	h.handle(t, event.ButtonEvent{Time: now, Name: "check", State: event.Pressed})
	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Fatalf("press should not irrigate, got %v", calls)
	}

	h.handle(t, event.ButtonEvent{Time: now, Name: "check", State: event.Released})

	calls := h.irr.Calls()
	if len(calls) != 1 || calls[0].Zone != "beds" {
		t.Errorf("only the dry zone should be irrigated, got %v", calls)
	}
	if _, ok := h.obs.decisions["lawn"]; !ok {
		t.Error("lawn should have been checked")
	}
}

func TestIrrigateAllUsesDefaultDuration(t *testing.T) {
	h := newHarness()
	h.ctrl.IrrigateAllDuration = 90 * time.Second

	h.handle(t, event.IrrigateAllEvent{Time: now})
	h.handle(t, event.IrrigateAllEvent{Time: now, Duration: 10 * time.Second})

	calls := h.irr.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %v", calls)
	}
	if !calls[0].All || calls[0].Duration != 90*time.Second {
		t.Errorf("default duration: got %+v", calls[0])
	}
	if calls[1].Duration != 10*time.Second {
		t.Errorf("explicit duration: got %+v", calls[1])
	}
}

func TestRecordOnlyEvents(t *testing.T) {
	h := newHarness()

	h.handle(t, event.WeatherEvent{Time: now, Temperature: 21})
	h.handle(t, event.MoistureEvent{Time: now, Sensor: "lawn-1", Value: 1})
	h.handle(t, event.IrrigatedEvent{Zone: "lawn", Valve: "front", StartedAt: now, Duration: time.Minute})

	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Errorf("record-only events should not irrigate, got %v", calls)
	}
	if got := len(h.store.Events()); got != 3 {
		t.Errorf("stored events: got %d, want 3", got)
	}
}

func TestIrrigatorErrorIsNotFatal(t *testing.T) {
	h := newHarness()
	h.irr.Err = errors.New("queue full")

	h.handle(t, event.IrrigateEvent{Time: now, Zone: "lawn"})
	h.handle(t, event.IrrigateAllEvent{Time: now})
}

func TestStoreFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.store.StoreError = errors.New("disk full")

	events := make(chan event.Event, 1)
	events <- event.IrrigateEvent{Time: now, Zone: "lawn"}

	err := h.ctrl.Run(context.Background(), events)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error: got %v", err)
	}
	if calls := h.irr.Calls(); len(calls) != 0 {
		t.Errorf("nothing should be dispatched after a failed store, got %v", calls)
	}
}

func TestQueryFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.store.QueryError = errors.New("influx down")

	err := h.ctrl.Handle(context.Background(), event.ConditionalIrrigateEvent{Time: now, Zone: "lawn"})
	if err == nil || !strings.Contains(err.Error(), "influx down") {
		t.Errorf("expected query error, got %v", err)
	}
}

func TestRunReturnsWhenChannelClosed(t *testing.T) {
	h := newHarness()
	events := make(chan event.Event, 2)
	events <- event.IrrigateEvent{Time: now, Zone: "lawn"}
	events <- event.WeatherEvent{Time: now}
	close(events)

	if err := h.ctrl.Run(context.Background(), events); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.obs.events) != 2 {
		t.Errorf("observed events: got %d, want 2", len(h.obs.events))
	}
}

func TestRunReturnsWhenCancelled(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx, make(chan event.Event)) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
