// Package persistence records every event and answers the moisture question
// the controller asks before irrigating.
package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
)

// MoistureRange summarises the readings of one sensor since a point in time.
// Min and Max are zero when Count is zero.
type MoistureRange struct {
	Min   event.Measurement
	Max   event.Measurement
	Count int
	Since time.Time
}

// Store persists events. Implementations are safe for concurrent use.
type Store interface {
	// StoreEvent records ev. Events of every kind are accepted.
	StoreEvent(ctx context.Context, ev event.Event) error

	// MoistureRangeSinceLastIrrigation summarises the readings of sensor
	// taken since valve last finished irrigating. With no recorded
	// irrigation the range starts a configured lookback before now.
	MoistureRangeSinceLastIrrigation(ctx context.Context, sensor, valve string) (MoistureRange, error)

	// Close releases the backend.
	Close() error
}

// Open creates the Store selected by cfg.Backend.
func Open(ctx context.Context, cfg config.Database) (Store, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(cfg.Lookback.D()), nil
	case "influx":
		return NewInfluxStore(ctx, cfg)
	}
	return nil, fmt.Errorf("unknown database backend %q", cfg.Backend)
}

// summarise folds values into a range starting at since.
func summarise(since time.Time, values []event.Measurement) MoistureRange {
	r := MoistureRange{Since: since, Count: len(values)}
	for i, v := range values {
		if i == 0 || v < r.Min {
			r.Min = v
		}
		if i == 0 || v > r.Max {
			r.Max = v
		}
	}
	return r
}
