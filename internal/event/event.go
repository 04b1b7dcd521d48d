// Package event defines everything that can happen in the irrigation system.
// Events are immutable values produced by sensors, the scheduler, the valve
// executor and remote commands, and consumed by the controller.
package event

import "time"

// Measurement is a calibrated soil-moisture reading: 0 = dry, 100 = wet.
type Measurement uint16

// Kind identifies the concrete type of an Event.
type Kind string

const (
	KindButton              Kind = "button"
	KindWeather             Kind = "weather"
	KindMoisture            Kind = "moisture"
	KindIrrigate            Kind = "irrigate"
	KindConditionalIrrigate Kind = "conditional_irrigate"
	KindIrrigateAll         Kind = "irrigate_all"
	KindIrrigated           Kind = "irrigated"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{
	KindButton,
	KindWeather,
	KindMoisture,
	KindIrrigate,
	KindConditionalIrrigate,
	KindIrrigateAll,
	KindIrrigated,
}

// Event is the closed set of event types. Only types in this package
// implement it.
type Event interface {
	Kind() Kind
	At() time.Time
	sealed()
}

// ButtonState is the debounced contact state of a physical button.
type ButtonState string

const (
	Pressed  ButtonState = "PRESSED"
	Released ButtonState = "RELEASED"
)

// ButtonEvent is a button transition.
type ButtonEvent struct {
	Time  time.Time
	Name  string
	State ButtonState
}

// WeatherEvent is a weather sensor reading.
type WeatherEvent struct {
	Time        time.Time
	Temperature float64 // degrees Celsius
	Humidity    float64 // percent
	Pressure    float64 // hPa
}

// MoistureEvent is a soil-moisture reading from one sensor.
type MoistureEvent struct {
	Time   time.Time
	Sensor string
	Value  Measurement
}

// IrrigateEvent requests unconditional irrigation of a zone.
type IrrigateEvent struct {
	Time time.Time
	Zone string
}

// ConditionalIrrigateEvent requests irrigation of a zone only if it is dry.
type ConditionalIrrigateEvent struct {
	Time time.Time
	Zone string
}

// IrrigateAllEvent requests every valve to be watered in turn. A zero
// Duration means the configured default.
type IrrigateAllEvent struct {
	Time     time.Time
	Duration time.Duration
}

// IrrigatedEvent records a completed irrigation cycle. Zone is empty when the
// cycle was part of an irrigate-all command.
type IrrigatedEvent struct {
	Zone      string
	Valve     string
	StartedAt time.Time
	Duration  time.Duration
}

func (e ButtonEvent) Kind() Kind              { return KindButton }
func (e WeatherEvent) Kind() Kind             { return KindWeather }
func (e MoistureEvent) Kind() Kind            { return KindMoisture }
func (e IrrigateEvent) Kind() Kind            { return KindIrrigate }
func (e ConditionalIrrigateEvent) Kind() Kind { return KindConditionalIrrigate }
func (e IrrigateAllEvent) Kind() Kind         { return KindIrrigateAll }
func (e IrrigatedEvent) Kind() Kind           { return KindIrrigated }

func (e ButtonEvent) At() time.Time              { return e.Time }
func (e WeatherEvent) At() time.Time             { return e.Time }
func (e MoistureEvent) At() time.Time            { return e.Time }
func (e IrrigateEvent) At() time.Time            { return e.Time }
func (e ConditionalIrrigateEvent) At() time.Time { return e.Time }
func (e IrrigateAllEvent) At() time.Time         { return e.Time }

// At returns the time the cycle finished.
func (e IrrigatedEvent) At() time.Time { return e.StartedAt.Add(e.Duration) }

func (ButtonEvent) sealed()              {}
func (WeatherEvent) sealed()             {}
func (MoistureEvent) sealed()            {}
func (IrrigateEvent) sealed()            {}
func (ConditionalIrrigateEvent) sealed() {}
func (IrrigateAllEvent) sealed()         {}
func (IrrigatedEvent) sealed()           {}
