// Package button turns sampled push-button lines into debounced
// ButtonEvents. The Detector is pure: time is always passed in.
package button

import (
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// channel tracks debounce state for a single button.
type channel struct {
	// Current stable (debounced) state
	stable event.ButtonState
	// Pending state during debounce
	pending event.ButtonState
	// Time when pending state was first observed
	pendingSince time.Time
	// Whether we have established a baseline
	baselined bool
}

// Detector tracks named buttons and detects debounced transitions.
type Detector struct {
	debounce  time.Duration
	names     []string
	channels  map[string]*channel
	baselined bool
	presses   int
}

// NewDetector creates a detector for the named buttons.
func NewDetector(debounce time.Duration, names ...string) *Detector {
	channels := make(map[string]*channel, len(names))
	for _, n := range names {
		channels[n] = &channel{}
	}
	return &Detector{
		debounce: debounce,
		names:    append([]string(nil), names...),
		channels: channels,
	}
}

// Process takes one sample of every button (true = pressed) and returns the
// transitions it completes, in button order. Nothing is returned until every
// button has held a steady state for the debounce period, so a button held
// at startup does not fire. Buttons missing from pressed are treated as
// released.
func (d *Detector) Process(at time.Time, pressed map[string]bool) []event.ButtonEvent {
	var events []event.ButtonEvent
	for _, name := range d.names {
		if state, ok := d.processChannel(d.channels[name], toState(pressed[name]), at); ok {
			events = append(events, event.ButtonEvent{Time: at, Name: name, State: state})
		}
	}

	if !d.baselined {
		for _, ch := range d.channels {
			if !ch.baselined {
				return nil
			}
		}
		d.baselined = true
		return nil
	}

	for _, e := range events {
		if e.State == event.Pressed {
			d.presses++
		}
	}
	return events
}

// processChannel handles debounce logic for a single button. It reports the
// new stable state when a transition completes.
func (d *Detector) processChannel(ch *channel, state event.ButtonState, now time.Time) (event.ButtonState, bool) {
	if !ch.baselined {
		if ch.pending != state {
			ch.pending = state
			ch.pendingSince = now
			return "", false
		}
		if now.Sub(ch.pendingSince) >= d.debounce {
			ch.stable = state
			ch.baselined = true
			ch.pending = ""
		}
		return "", false
	}

	if state == ch.stable {
		ch.pending = ""
		return "", false
	}

	if ch.pending != state {
		ch.pending = state
		ch.pendingSince = now
		return "", false
	}

	if now.Sub(ch.pendingSince) >= d.debounce {
		ch.stable = state
		ch.pending = ""
		return state, true
	}
	return "", false
}

func toState(pressed bool) event.ButtonState {
	if pressed {
		return event.Pressed
	}
	return event.Released
}

// IsBaselined returns whether the detector has established a baseline.
func (d *Detector) IsBaselined() bool {
	return d.baselined
}

// State returns the stable state of a button, or "" before its baseline.
func (d *Detector) State(name string) event.ButtonState {
	if ch, ok := d.channels[name]; ok {
		return ch.stable
	}
	return ""
}

// Presses returns the number of debounced presses since startup.
func (d *Detector) Presses() int {
	return d.presses
}
