// Package valve drives the irrigation valves. A single Executor goroutine
// owns every valve, so at most one valve is ever open.
package valve

import (
	"fmt"

	"github.com/sweeney/irrigator/internal/gpio"
)

// State is the position of a valve.
type State string

const (
	Closed State = "CLOSED"
	Open   State = "OPEN"
)

// Valve is a named GPIO output with a known state. Not safe for concurrent
// use; the Executor is its only user.
type Valve struct {
	name  string
	out   gpio.Output
	state State
}

// New wraps out as a closed valve. The line must already be inactive.
func New(name string, out gpio.Output) *Valve {
	return &Valve{name: name, out: out, state: Closed}
}

// Name returns the configured valve name.
func (v *Valve) Name() string { return v.name }

// State returns the last state successfully written.
func (v *Valve) State() State { return v.state }

// Open energises the valve. It writes to the line only when the valve is
// closed.
func (v *Valve) Open() error {
	return v.set(Open)
}

// Close de-energises the valve. It writes to the line only when the valve is
// open.
func (v *Valve) Close() error {
	return v.set(Closed)
}

func (v *Valve) set(s State) error {
	if v.state == s {
		return nil
	}
	if err := v.out.Set(s == Open); err != nil {
		return fmt.Errorf("%s valve %s: %w", verb(s), v.name, err)
	}
	v.state = s
	return nil
}

// Release closes the valve and frees its line.
func (v *Valve) Release() error {
	cerr := v.Close()
	if err := v.out.Close(); err != nil {
		return fmt.Errorf("release valve %s: %w", v.name, err)
	}
	return cerr
}

func verb(s State) string {
	if s == Open {
		return "open"
	}
	return "close"
}
