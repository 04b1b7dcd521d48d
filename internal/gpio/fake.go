package gpio

import (
	"errors"
	"sync"
)

// FakeOutput is a test double that records every level written to it.
// Safe for concurrent use.
type FakeOutput struct {
	mu sync.Mutex

	// Writes contains every level passed to Set, in order.
	Writes []bool

	// SetError, if set, will be returned by Set (nothing is recorded).
	SetError error

	// OnSet, if set, is called with each successful write while the
	// lock is not held.
	OnSet func(active bool)

	closed bool
}

// NewFakeOutput creates a FakeOutput.
func NewFakeOutput() *FakeOutput {
	return &FakeOutput{}
}

// Set records the level.
func (f *FakeOutput) Set(active bool) error {
	f.mu.Lock()
	if f.SetError != nil {
		err := f.SetError
		f.mu.Unlock()
		return err
	}
	f.Writes = append(f.Writes, active)
	hook := f.OnSet
	f.mu.Unlock()

	if hook != nil {
		hook(active)
	}
	return nil
}

// SetErr changes the error returned by Set.
func (f *FakeOutput) SetErr(err error) {
	f.mu.Lock()
	f.SetError = err
	f.mu.Unlock()
}

// WriteLog returns a copy of the recorded writes.
func (f *FakeOutput) WriteLog() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.Writes...)
}

// Close marks the output as closed.
func (f *FakeOutput) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (f *FakeOutput) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// FakeInput is a test double that returns scripted levels.
type FakeInput struct {
	// Samples contains scripted levels to return.
	// Each call to Active() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// Closed tracks if Close was called
	Closed bool

	// ReadError, if set, will be returned by Active()
	ReadError error
}

// NewFakeInput creates a FakeInput with the given samples.
func NewFakeInput(samples ...bool) *FakeInput {
	return &FakeInput{Samples: samples}
}

// Active returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeInput) Active() (bool, error) {
	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}
	return sample, nil
}

// Close marks the input as closed.
func (f *FakeInput) Close() error {
	f.Closed = true
	return nil
}
