package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestKinds(t *testing.T) {
	now := time.Date(2026, 5, 19, 8, 0, 0, 0, time.UTC)
	events := []Event{
		ButtonEvent{Time: now},
		WeatherEvent{Time: now},
		MoistureEvent{Time: now},
		IrrigateEvent{Time: now},
		ConditionalIrrigateEvent{Time: now},
		IrrigateAllEvent{Time: now},
		IrrigatedEvent{StartedAt: now},
	}

	if len(events) != len(Kinds) {
		t.Fatalf("expected %d kinds, got %d events", len(Kinds), len(events))
	}
	for i, e := range events {
		if e.Kind() != Kinds[i] {
			t.Errorf("event %d: got kind %q, want %q", i, e.Kind(), Kinds[i])
		}
	}
}

func TestIrrigatedEventAtIsCompletion(t *testing.T) {
	start := time.Date(2026, 5, 19, 8, 0, 0, 0, time.UTC)
	e := IrrigatedEvent{Valve: "front", StartedAt: start, Duration: 90 * time.Second}

	if want := start.Add(90 * time.Second); !e.At().Equal(want) {
		t.Errorf("At: got %v, want %v", e.At(), want)
	}
}

func TestFormatJSONMoisture(t *testing.T) {
	e := MoistureEvent{
		Time:   time.Date(2026, 5, 19, 8, 0, 0, 0, time.FixedZone("CEST", 2*3600)),
		Sensor: "bed-1",
		Value:  42,
	}

	data, err := FormatJSON(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if p.Event.Kind != "moisture" {
		t.Errorf("kind: got %q", p.Event.Kind)
	}
	if p.Event.Timestamp != "2026-05-19T06:00:00Z" {
		t.Errorf("timestamp not converted to UTC: %s", p.Event.Timestamp)
	}
	if p.Event.Sensor != "bed-1" {
		t.Errorf("sensor: got %q", p.Event.Sensor)
	}
	if p.Event.Value == nil || *p.Event.Value != 42 {
		t.Errorf("value: got %v", p.Event.Value)
	}
}

func TestFormatJSONIrrigatedExact(t *testing.T) {
	e := IrrigatedEvent{
		Zone:      "lawn",
		Valve:     "v1",
		StartedAt: time.Date(2026, 5, 19, 8, 0, 0, 0, time.UTC),
		Duration:  2 * time.Minute,
	}

	data, err := FormatJSON(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"event":{"kind":"irrigated","timestamp":"2026-05-19T08:02:00Z","zone":"lawn","valve":"v1","started_at":"2026-05-19T08:00:00Z","duration_seconds":120}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}

func TestFormatJSONButtonOmitsUnrelatedFields(t *testing.T) {
	e := ButtonEvent{Time: time.Date(2026, 5, 19, 8, 0, 0, 0, time.UTC), Name: "check", State: Released}

	data, err := FormatJSON(e)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `{"event":{"kind":"button","timestamp":"2026-05-19T08:00:00Z","name":"check","state":"RELEASED"}}`
	if string(data) != want {
		t.Errorf("got  %s\nwant %s", data, want)
	}
}
