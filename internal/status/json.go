package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event          string                    `json:"event,omitempty"`
	Reason         string                    `json:"reason,omitempty"`
	Valves         map[string]string         `json:"valves"`
	LastIrrigation map[string]IrrigationJSON `json:"last_irrigation"`
	Moisture       map[string]ReadingJSON    `json:"moisture"`
	Weather        *WeatherJSON              `json:"weather,omitempty"`
	NextCheck      *NextCheckJSON            `json:"next_check,omitempty"`
	UptimeSeconds  int64                     `json:"uptime_seconds"`
	StartTime      string                    `json:"start_time"`
	Timestamp      string                    `json:"timestamp"`
	MQTT           MQTTStatus                `json:"mqtt"`
	Counts         map[string]int            `json:"event_counts"`
	Config         ConfigJSON                `json:"config"`
}

// IrrigationJSON is the JSON representation of a completed cycle.
type IrrigationJSON struct {
	Zone            string `json:"zone,omitempty"`
	StartedAt       string `json:"started_at"`
	DurationSeconds int64  `json:"duration_seconds"`
}

// ReadingJSON is the JSON representation of a moisture reading.
type ReadingJSON struct {
	Value     uint16 `json:"value"`
	Timestamp string `json:"timestamp"`
}

// WeatherJSON is the JSON representation of a weather reading.
type WeatherJSON struct {
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
	Timestamp   string  `json:"timestamp"`
}

// NextCheckJSON is the JSON representation of the next scheduled check.
type NextCheckJSON struct {
	Zone string `json:"zone"`
	At   string `json:"at"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
	Buffered  int    `json:"buffered"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Timezone    string   `json:"timezone"`
	Backend     string   `json:"backend"`
	Broker      string   `json:"broker"`
	Zones       []string `json:"zones"`
	HeartbeatMs int64    `json:"heartbeat_ms"`
}

func rfc3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		Valves:         make(map[string]string, len(snap.Valves)),
		LastIrrigation: make(map[string]IrrigationJSON, len(snap.LastIrrigation)),
		Moisture:       make(map[string]ReadingJSON, len(snap.Moisture)),
		Counts:         make(map[string]int, len(event.Kinds)),
		UptimeSeconds:  int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:      rfc3339(snap.StartTime),
		Timestamp:      rfc3339(snap.Now),
		MQTT: MQTTStatus{
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
			Buffered:  snap.MQTTBuffered,
		},
		Config: ConfigJSON{
			Timezone:    snap.Config.Timezone,
			Backend:     snap.Config.Backend,
			Broker:      snap.Config.Broker,
			Zones:       snap.Config.Zones,
			HeartbeatMs: snap.Config.HeartbeatMs,
		},
	}
	if inner.Config.Zones == nil {
		inner.Config.Zones = []string{}
	}

	for name, s := range snap.Valves {
		inner.Valves[name] = string(s)
	}
	for name, irr := range snap.LastIrrigation {
		inner.LastIrrigation[name] = IrrigationJSON{
			Zone:            irr.Zone,
			StartedAt:       rfc3339(irr.StartedAt),
			DurationSeconds: int64(irr.Duration / time.Second),
		}
	}
	for sensor, r := range snap.Moisture {
		inner.Moisture[sensor] = ReadingJSON{Value: uint16(r.Value), Timestamp: rfc3339(r.At)}
	}
	// Every kind is reported, including those not seen yet.
	for _, k := range event.Kinds {
		inner.Counts[string(k)] = snap.Counts[k]
	}
	if w := snap.Weather; w != nil {
		inner.Weather = &WeatherJSON{
			Temperature: w.Temperature,
			Humidity:    w.Humidity,
			Pressure:    w.Pressure,
			Timestamp:   rfc3339(w.At),
		}
	}
	if !snap.NextCheck.At.IsZero() {
		inner.NextCheck = &NextCheckJSON{Zone: snap.NextCheck.Zone, At: rfc3339(snap.NextCheck.At)}
	}
	return inner
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, name, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = name
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
