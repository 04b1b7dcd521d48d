package mqtt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// ErrUnknownTopic is returned by Decode for topics outside the ingest set.
var ErrUnknownTopic = errors.New("mqtt: unknown topic")

// readingPayload is the body of moisture and weather messages. A bare
// number is also accepted for moisture.
type readingPayload struct {
	Timestamp   string   `json:"timestamp,omitempty"`
	Value       *float64 `json:"value,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
}

// commandPayload is the optional body of zone and irrigate-all commands.
type commandPayload struct {
	Timestamp string `json:"timestamp,omitempty"`
	Seconds   int    `json:"seconds,omitempty"`
}

// Decode turns an incoming message into an event. now stamps messages that
// carry no timestamp.
func (t Topics) Decode(topic string, payload []byte, now time.Time) (event.Event, error) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	parts := strings.Split(rest, "/")

	switch {
	case len(parts) == 2 && parts[0] == "moisture" && parts[1] != "":
		return decodeMoisture(parts[1], payload, now)

	case len(parts) == 1 && parts[0] == "weather":
		return decodeWeather(payload, now)

	case len(parts) == 3 && parts[0] == "zone" && parts[1] != "":
		cmd, err := decodeCommand(payload)
		if err != nil {
			return nil, err
		}
		at, err := timestamp(cmd.Timestamp, now)
		if err != nil {
			return nil, err
		}
		switch parts[2] {
		case "irrigate":
			return event.IrrigateEvent{Time: at, Zone: parts[1]}, nil
		case "check":
			return event.ConditionalIrrigateEvent{Time: at, Zone: parts[1]}, nil
		}

	case len(parts) == 1 && parts[0] == "irrigate-all":
		cmd, err := decodeCommand(payload)
		if err != nil {
			return nil, err
		}
		if cmd.Seconds < 0 {
			return nil, fmt.Errorf("irrigate-all: negative seconds %d", cmd.Seconds)
		}
		at, err := timestamp(cmd.Timestamp, now)
		if err != nil {
			return nil, err
		}
		return event.IrrigateAllEvent{Time: at, Duration: time.Duration(cmd.Seconds) * time.Second}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
}

func decodeMoisture(sensor string, payload []byte, now time.Time) (event.Event, error) {
	var p readingPayload
	trimmed := bytes.TrimSpace(payload)
	if f, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		p.Value = &f
	} else if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("moisture %s: %w", sensor, err)
	}

	if p.Value == nil {
		return nil, fmt.Errorf("moisture %s: missing value", sensor)
	}
	if math.IsNaN(*p.Value) || math.IsInf(*p.Value, 0) {
		return nil, fmt.Errorf("moisture %s: value %v is not a reading", sensor, *p.Value)
	}
	v := math.Round(*p.Value)
	if v < 0 || v > math.MaxUint16 {
		return nil, fmt.Errorf("moisture %s: value %v out of range", sensor, *p.Value)
	}

	at, err := timestamp(p.Timestamp, now)
	if err != nil {
		return nil, err
	}
	return event.MoistureEvent{Time: at, Sensor: sensor, Value: event.Measurement(v)}, nil
}

func decodeWeather(payload []byte, now time.Time) (event.Event, error) {
	var p readingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("weather: %w", err)
	}
	if p.Temperature == nil || p.Humidity == nil || p.Pressure == nil {
		return nil, errors.New("weather: temperature, humidity and pressure are required")
	}
	at, err := timestamp(p.Timestamp, now)
	if err != nil {
		return nil, err
	}
	return event.WeatherEvent{
		Time:        at,
		Temperature: *p.Temperature,
		Humidity:    *p.Humidity,
		Pressure:    *p.Pressure,
	}, nil
}

func decodeCommand(payload []byte) (commandPayload, error) {
	var cmd commandPayload
	if len(bytes.TrimSpace(payload)) == 0 {
		return cmd, nil
	}
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return cmd, fmt.Errorf("command: %w", err)
	}
	return cmd, nil
}

func timestamp(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}
