// Package mqtt bridges the irrigator to an MQTT broker in both directions:
// events and lifecycle messages are published, and sensor readings and
// remote commands are received as events.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends an event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(ev event.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(ev SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics holds the topic names derived from a prefix.
type Topics struct {
	prefix string
}

// NewTopics derives topic names from prefix, e.g. "garden/irrigator".
func NewTopics(prefix string) Topics {
	return Topics{prefix: prefix}
}

// Event returns the topic for events of kind k.
func (t Topics) Event(k event.Kind) string { return t.prefix + "/events/" + string(k) }

// System returns the topic for lifecycle messages.
func (t Topics) System() string { return t.prefix + "/system" }

// Moisture returns the topic filter for sensor readings.
func (t Topics) Moisture() string { return t.prefix + "/moisture/+" }

// Weather returns the topic for weather readings.
func (t Topics) Weather() string { return t.prefix + "/weather" }

// ZoneIrrigate returns the topic filter for unconditional zone commands.
func (t Topics) ZoneIrrigate() string { return t.prefix + "/zone/+/irrigate" }

// ZoneCheck returns the topic filter for conditional zone commands.
func (t Topics) ZoneCheck() string { return t.prefix + "/zone/+/check" }

// IrrigateAll returns the topic for irrigate-all commands.
func (t Topics) IrrigateAll() string { return t.prefix + "/irrigate-all" }

// Subscriptions lists every topic filter the ingest side subscribes to.
func (t Topics) Subscriptions() []string {
	return []string{t.Moisture(), t.Weather(), t.ZoneIrrigate(), t.ZoneCheck(), t.IrrigateAll()}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If ev.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(ev SystemEvent) ([]byte, error) {
	if ev.RawPayload != nil {
		return ev.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: ev.Timestamp.UTC().Format(time.RFC3339),
			Event:     ev.Event,
			Reason:    ev.Reason,
		},
	}
	return json.Marshal(payload)
}

// willEvent is published by the broker if the connection drops uncleanly.
func willEvent(now time.Time) SystemEvent {
	return SystemEvent{Timestamp: now, Event: "SHUTDOWN", Reason: "MQTT_DISCONNECT", Retained: true}
}
