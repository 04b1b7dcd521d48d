package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload is the JSON envelope used when events leave the process.
type Payload struct {
	Event EventJSON `json:"event"`
}

// EventJSON carries the union of all event fields; only those relevant to
// Kind are set.
type EventJSON struct {
	Kind        string   `json:"kind"`
	Timestamp   string   `json:"timestamp"`
	Name        string   `json:"name,omitempty"`
	State       string   `json:"state,omitempty"`
	Sensor      string   `json:"sensor,omitempty"`
	Value       *uint16  `json:"value,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Zone        string   `json:"zone,omitempty"`
	Valve       string   `json:"valve,omitempty"`
	StartedAt   string   `json:"started_at,omitempty"`
	DurationS   *int64   `json:"duration_seconds,omitempty"`
}

// FormatJSON renders an event as the JSON payload published over MQTT.
func FormatJSON(e Event) ([]byte, error) {
	inner := EventJSON{
		Kind:      string(e.Kind()),
		Timestamp: e.At().UTC().Format(time.RFC3339),
	}

	switch ev := e.(type) {
	case ButtonEvent:
		inner.Name = ev.Name
		inner.State = string(ev.State)
	case WeatherEvent:
		inner.Temperature = &ev.Temperature
		inner.Humidity = &ev.Humidity
		inner.Pressure = &ev.Pressure
	case MoistureEvent:
		v := uint16(ev.Value)
		inner.Sensor = ev.Sensor
		inner.Value = &v
	case IrrigateEvent:
		inner.Zone = ev.Zone
	case ConditionalIrrigateEvent:
		inner.Zone = ev.Zone
	case IrrigateAllEvent:
		s := int64(ev.Duration / time.Second)
		inner.DurationS = &s
	case IrrigatedEvent:
		s := int64(ev.Duration / time.Second)
		inner.Zone = ev.Zone
		inner.Valve = ev.Valve
		inner.StartedAt = ev.StartedAt.UTC().Format(time.RFC3339)
		inner.DurationS = &s
	default:
		return nil, fmt.Errorf("unknown event type %T", e)
	}

	return json.Marshal(Payload{Event: inner})
}
