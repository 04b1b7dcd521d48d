package controller

import (
	"context"
	"sync"
	"time"
)

// Call is one recorded Irrigator call. Valve is empty for IrrigateAll.
type Call struct {
	Zone     string
	Valve    string
	Duration time.Duration
	All      bool
}

// FakeIrrigator records irrigation commands for test assertions.
type FakeIrrigator struct {
	mu    sync.Mutex
	calls []Call

	// Err, if set, will be returned by both methods.
	Err error
}

// Irrigate records the call.
func (f *FakeIrrigator) Irrigate(_ context.Context, zone, valve string, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Zone: zone, Valve: valve, Duration: d})
	return f.Err
}

// IrrigateAll records the call.
func (f *FakeIrrigator) IrrigateAll(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Call{Duration: d, All: true})
	return f.Err
}

// Calls returns a copy of the recorded calls.
func (f *FakeIrrigator) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
