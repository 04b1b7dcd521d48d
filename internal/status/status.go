// Package status provides a thread-safe status tracker for the irrigator
// daemon. It is fed by the controller, the valve executor and the scheduler,
// and read when system messages are published.
package status

import (
	"sort"
	"sync"
	"time"

	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/valve"
)

// Config contains daemon configuration for display.
type Config struct {
	Timezone    string
	Backend     string
	Broker      string
	Zones       []string
	HeartbeatMs int64
}

// Irrigation is the most recent completed cycle of one valve.
type Irrigation struct {
	Zone      string
	StartedAt time.Time
	Duration  time.Duration
}

// Reading is the most recent value of one moisture sensor.
type Reading struct {
	Value event.Measurement
	At    time.Time
}

// Weather is the most recent weather reading.
type Weather struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
	At          time.Time
}

// NextCheck is the next scheduled moisture check. Zero when idle.
type NextCheck struct {
	Zone string
	At   time.Time
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type: the maps are copies and safe to use after the lock
// is released.
type Snapshot struct {
	Valves         map[string]valve.State
	LastIrrigation map[string]Irrigation
	Moisture       map[string]Reading
	Weather        *Weather
	Counts         map[event.Kind]int
	NextCheck      NextCheck
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	MQTTBuffered   int
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// ValveNames returns the names of all known valves, sorted.
func (s Snapshot) ValveNames() []string {
	names := make([]string, 0, len(s.Valves))
	for n := range s.Valves {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config. Every
// valve in valves starts out closed.
func NewTracker(startTime time.Time, cfg Config, valves ...string) *Tracker {
	t := &Tracker{
		snap: Snapshot{
			Valves:         make(map[string]valve.State, len(valves)),
			LastIrrigation: make(map[string]Irrigation),
			Moisture:       make(map[string]Reading),
			Counts:         make(map[event.Kind]int),
			StartTime:      startTime,
			Config:         cfg,
		},
		now: time.Now,
	}
	for _, v := range valves {
		t.snap.Valves[v] = valve.Closed
	}
	return t
}

// Observe records an event the controller has handled.
func (t *Tracker) Observe(ev event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.snap.Counts[ev.Kind()]++
	switch e := ev.(type) {
	case event.MoistureEvent:
		t.snap.Moisture[e.Sensor] = Reading{Value: e.Value, At: e.Time}
	case event.WeatherEvent:
		t.snap.Weather = &Weather{
			Temperature: e.Temperature,
			Humidity:    e.Humidity,
			Pressure:    e.Pressure,
			At:          e.Time,
		}
	case event.IrrigatedEvent:
		t.snap.LastIrrigation[e.Valve] = Irrigation{Zone: e.Zone, StartedAt: e.StartedAt, Duration: e.Duration}
	}
}

// ValveChanged records a valve transition. Called from the executor.
func (t *Tracker) ValveChanged(name string, s valve.State) {
	t.mu.Lock()
	t.snap.Valves[name] = s
	t.mu.Unlock()
}

// SetNextCheck records the next scheduled check. Called from the scheduler.
func (t *Tracker) SetNextCheck(zone string, at time.Time) {
	t.mu.Lock()
	t.snap.NextCheck = NextCheck{Zone: zone, At: at}
	t.mu.Unlock()
}

// SetMQTT sets the MQTT connection status and the number of messages
// waiting for the broker.
func (t *Tracker) SetMQTT(connected bool, buffered int) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.snap.MQTTBuffered = buffered
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Valves = copyMap(t.snap.Valves)
	s.LastIrrigation = copyMap(t.snap.LastIrrigation)
	s.Moisture = copyMap(t.snap.Moisture)
	s.Counts = copyMap(t.snap.Counts)
	if t.snap.Weather != nil {
		w := *t.snap.Weather
		s.Weather = &w
	}
	s.Config.Zones = append([]string(nil), t.snap.Config.Zones...)
	t.mu.RUnlock()

	s.Now = t.now()
	return s
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
