package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// FakeStore is a MemoryStore whose calls can be made to fail.
type FakeStore struct {
	*MemoryStore

	mu sync.Mutex

	// StoreError, if set, will be returned by StoreEvent.
	StoreError error

	// QueryError, if set, will be returned by MoistureRangeSinceLastIrrigation.
	QueryError error

	// Queries records the sensor of every range query.
	Queries []string

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeStore creates a FakeStore with a fixed clock.
func NewFakeStore(now time.Time, lookback time.Duration) *FakeStore {
	m := NewMemoryStore(lookback)
	m.now = func() time.Time { return now }
	return &FakeStore{MemoryStore: m}
}

// StoreEvent records ev unless StoreError is set.
func (f *FakeStore) StoreEvent(ctx context.Context, ev event.Event) error {
	f.mu.Lock()
	err := f.StoreError
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryStore.StoreEvent(ctx, ev)
}

// MoistureRangeSinceLastIrrigation answers from memory unless QueryError is set.
func (f *FakeStore) MoistureRangeSinceLastIrrigation(ctx context.Context, sensor, valve string) (MoistureRange, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, sensor)
	err := f.QueryError
	f.mu.Unlock()
	if err != nil {
		return MoistureRange{}, err
	}
	return f.MemoryStore.MoistureRangeSinceLastIrrigation(ctx, sensor, valve)
}

// Close marks the store as closed.
func (f *FakeStore) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}
