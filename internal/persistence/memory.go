package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

type reading struct {
	at     time.Time
	sensor string
	value  event.Measurement
}

// MemoryStore keeps events in process memory. It backs tests and dry runs
// without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	events        []event.Event
	readings      []reading
	lastIrrigated map[string]time.Time
	lookback      time.Duration
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(lookback time.Duration) *MemoryStore {
	return &MemoryStore{
		lastIrrigated: make(map[string]time.Time),
		lookback:      lookback,
		now:           time.Now,
	}
}

// StoreEvent records ev.
func (m *MemoryStore) StoreEvent(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.events = append(m.events, ev)
	switch e := ev.(type) {
	case event.MoistureEvent:
		m.readings = append(m.readings, reading{at: e.Time, sensor: e.Sensor, value: e.Value})
	case event.IrrigatedEvent:
		if end := e.At(); end.After(m.lastIrrigated[e.Valve]) {
			m.lastIrrigated[e.Valve] = end
		}
	}
	return nil
}

// MoistureRangeSinceLastIrrigation implements Store.
func (m *MemoryStore) MoistureRangeSinceLastIrrigation(ctx context.Context, sensor, valve string) (MoistureRange, error) {
	if err := ctx.Err(); err != nil {
		return MoistureRange{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	since, ok := m.lastIrrigated[valve]
	if !ok {
		since = m.now().Add(-m.lookback)
	}

	var values []event.Measurement
	for _, r := range m.readings {
		if r.sensor == sensor && !r.at.Before(since) {
			values = append(values, r.value)
		}
	}
	return summarise(since, values), nil
}

// Events returns every stored event in arrival order.
func (m *MemoryStore) Events() []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]event.Event(nil), m.events...)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
