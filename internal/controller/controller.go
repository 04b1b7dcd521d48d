// Package controller turns events into irrigation decisions. It is the single
// consumer of the event channel: every event is persisted, acted on and then
// handed to observers.
package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/persistence"
)

// Irrigator accepts irrigation commands. Calls return once the command is
// queued, not when the water stops.
type Irrigator interface {
	Irrigate(ctx context.Context, zone, valve string, d time.Duration) error
	IrrigateAll(ctx context.Context, d time.Duration) error
}

// Observer is handed every event after it has been stored and acted on.
// Called from the controller goroutine; must not block for long.
type Observer interface {
	Observe(ev event.Event)
}

// DecisionObserver is an Observer that also wants the outcome of every
// moisture check.
type DecisionObserver interface {
	Decided(zone string, irrigate bool)
}

// Controller applies the irrigation policy to incoming events.
type Controller struct {
	zones     []config.Zone
	byName    map[string]config.Zone
	store     persistence.Store
	irrigator Irrigator
	observers []Observer

	// IrrigateAllDuration is used for irrigate-all requests without a
	// duration of their own.
	IrrigateAllDuration time.Duration
}

// New creates a Controller for the configured zones.
func New(cfg config.ControllerConfig, store persistence.Store, irrigator Irrigator, observers ...Observer) *Controller {
	byName := make(map[string]config.Zone, len(cfg.Zones))
	for _, z := range cfg.Zones {
		byName[z.Name] = z
	}
	return &Controller{
		zones:               cfg.Zones,
		byName:              byName,
		store:               store,
		irrigator:           irrigator,
		observers:           observers,
		IrrigateAllDuration: time.Minute,
	}
}

// Run handles events until ctx is cancelled or events is closed, both of
// which return nil. A persistence failure is returned.
func (c *Controller) Run(ctx context.Context, events <-chan event.Event) error {
	log.Printf("controller: started with %d zone(s)", len(c.zones))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := c.Handle(ctx, ev); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Handle stores ev, then acts on it.
func (c *Controller) Handle(ctx context.Context, ev event.Event) error {
	if err := c.store.StoreEvent(ctx, ev); err != nil {
		return fmt.Errorf("store %s event: %w", ev.Kind(), err)
	}

	if err := c.dispatch(ctx, ev); err != nil {
		return err
	}

	for _, o := range c.observers {
		o.Observe(ev)
	}
	return nil
}

func (c *Controller) dispatch(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.ButtonEvent:
		if e.State != event.Released {
			return nil
		}
		log.Printf("controller: button %s released, checking all zones", e.Name)
		for _, z := range c.zones {
			if err := c.irrigateIfBelowThreshold(ctx, z); err != nil {
				return err
			}
		}

	case event.ConditionalIrrigateEvent:
		z, ok := c.byName[e.Zone]
		if !ok {
			log.Printf("controller: warning: check for unknown zone %q ignored", e.Zone)
			return nil
		}
		return c.irrigateIfBelowThreshold(ctx, z)

	case event.IrrigateEvent:
		z, ok := c.byName[e.Zone]
		if !ok {
			log.Printf("controller: warning: irrigation of unknown zone %q ignored", e.Zone)
			return nil
		}
		c.irrigate(ctx, z)

	case event.IrrigateAllEvent:
		d := e.Duration
		if d <= 0 {
			d = c.IrrigateAllDuration
		}
		log.Printf("controller: irrigating all valves for %s each", d)
		if err := c.irrigator.IrrigateAll(ctx, d); err != nil {
			log.Printf("controller: irrigate all not queued: %v", err)
		}

	case event.WeatherEvent, event.MoistureEvent, event.IrrigatedEvent:
		// Recorded only.

	default:
		log.Printf("controller: unhandled event %T", ev)
	}
	return nil
}

// irrigateIfBelowThreshold irrigates z when any of its sensors has read
// below the zone threshold since the valve last ran.
func (c *Controller) irrigateIfBelowThreshold(ctx context.Context, z config.Zone) error {
	dry, err := c.isDry(ctx, z)
	if err != nil {
		return err
	}
	c.decided(z.Name, dry)
	if !dry {
		log.Printf("controller: zone %s is wet enough, not irrigating", z.Name)
		return nil
	}
	c.irrigate(ctx, z)
	return nil
}

func (c *Controller) isDry(ctx context.Context, z config.Zone) (bool, error) {
	threshold := event.Measurement(z.Threshold)
	for _, sensor := range z.Sensors {
		r, err := c.store.MoistureRangeSinceLastIrrigation(ctx, sensor, z.Valve)
		if err != nil {
			return false, fmt.Errorf("moisture range of %s: %w", sensor, err)
		}
		if r.Count == 0 {
			log.Printf("controller: no readings from %s since %s", sensor, r.Since.Format(time.RFC3339))
			continue
		}
		if r.Min < threshold {
			log.Printf("controller: zone %s is dry: %s read %d, threshold %d", z.Name, sensor, r.Min, threshold)
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) irrigate(ctx context.Context, z config.Zone) {
	d := z.IrrigateDuration()
	log.Printf("controller: irrigating zone %s with valve %s for %s", z.Name, z.Valve, d)
	if err := c.irrigator.Irrigate(ctx, z.Name, z.Valve, d); err != nil {
		log.Printf("controller: irrigation of zone %s not queued: %v", z.Name, err)
	}
}

func (c *Controller) decided(zone string, irrigate bool) {
	for _, o := range c.observers {
		if d, ok := o.(DecisionObserver); ok {
			d.Decided(zone, irrigate)
		}
	}
}
