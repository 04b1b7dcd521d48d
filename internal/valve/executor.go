package valve

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/sweeney/irrigator/internal/event"
)

// DefaultCooldown is the pause after each irrigation cycle, giving the
// water supply time to recover before the next valve opens.
const DefaultCooldown = 5 * time.Second

// QueueSize is the number of commands that can wait behind the running one.
const QueueSize = 32

var (
	// ErrStopped is returned when a command is submitted after Stop.
	ErrStopped = errors.New("valve: executor stopped")

	// ErrQueueFull is returned when QueueSize commands are already waiting.
	ErrQueueFull = errors.New("valve: command queue full")
)

// Command is one unit of work for the Executor.
type Command struct {
	Zone     string
	Valve    string
	Duration time.Duration

	// All waters every valve in turn for Duration each. Zone and Valve are
	// ignored.
	All bool
}

// Observer is told about every valve state change. Called from the executor
// goroutine.
type Observer interface {
	ValveChanged(name string, state State)
}

// DropObserver is an Observer that also wants to know about commands the
// Executor refused to queue.
type DropObserver interface {
	CommandDropped(c Command, err error)
}

// Executor runs irrigation commands strictly one at a time, in the order
// they were submitted.
type Executor struct {
	valves    []*Valve
	byName    map[string]*Valve
	commands  chan Command
	stopped   chan struct{}
	stopOnce  sync.Once
	events    chan<- event.Event
	observers []Observer

	// Cooldown is the pause after each cycle.
	Cooldown time.Duration

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewExecutor creates an Executor owning valves. Completed cycles are sent
// to events as IrrigatedEvent; events may be nil.
func NewExecutor(valves []*Valve, events chan<- event.Event, observers ...Observer) *Executor {
	byName := make(map[string]*Valve, len(valves))
	for _, v := range valves {
		byName[v.Name()] = v
	}
	return &Executor{
		valves:    valves,
		byName:    byName,
		commands:  make(chan Command, QueueSize),
		stopped:   make(chan struct{}),
		events:    events,
		observers: observers,
		Cooldown:  DefaultCooldown,
		now:       time.Now,
		after:     time.After,
	}
}

// Irrigate queues a cycle of valve for d and returns without waiting for it.
func (e *Executor) Irrigate(ctx context.Context, zone, valve string, d time.Duration) error {
	return e.submit(ctx, Command{Zone: zone, Valve: valve, Duration: d})
}

// IrrigateAll queues a cycle of every valve, each for d.
func (e *Executor) IrrigateAll(ctx context.Context, d time.Duration) error {
	return e.submit(ctx, Command{Duration: d, All: true})
}

func (e *Executor) submit(ctx context.Context, c Command) error {
	select {
	case <-e.stopped:
		e.dropped(c, ErrStopped)
		return ErrStopped
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case e.commands <- c:
		return nil
	default:
		e.dropped(c, ErrQueueFull)
		return ErrQueueFull
	}
}

func (e *Executor) dropped(c Command, err error) {
	for _, o := range e.observers {
		if d, ok := o.(DropObserver); ok {
			d.CommandDropped(c, err)
		}
	}
}

// Stop stops accepting commands. Commands already queued still run before
// Run returns unless ctx is cancelled first. The daemon calls it on a
// shutdown signal so that commands arriving during shutdown are refused
// with ErrStopped.
func (e *Executor) Stop() {
	e.stopOnce.Do(func() { close(e.stopped) })
}

// Run executes commands until ctx is cancelled or Stop is called and the
// queue is empty. Cancelling ctx aborts the running cycle. Every valve is
// closed before Run returns. A failed hardware write is returned.
func (e *Executor) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := e.closeAll(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-e.commands:
			if err := e.execute(ctx, c); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		case <-e.stopped:
			return e.drain(ctx)
		}
	}
}

func (e *Executor) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		select {
		case c := <-e.commands:
			if err := e.execute(ctx, c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (e *Executor) execute(ctx context.Context, c Command) error {
	if !c.All {
		v, ok := e.byName[c.Valve]
		if !ok {
			log.Printf("valve: zone %s references unknown valve %q, skipping", c.Zone, c.Valve)
			return nil
		}
		return e.cycle(ctx, c.Zone, v, c.Duration)
	}

	log.Printf("valve: irrigating all %d valve(s) for %s each", len(e.valves), c.Duration)
	for _, v := range e.valves {
		if ctx.Err() != nil {
			return nil
		}
		if err := e.cycle(ctx, "", v, c.Duration); err != nil {
			return err
		}
	}
	return nil
}

// cycle opens v, holds it for d, closes it, reports the cycle and cools
// down. A cancelled hold leaves the valve open for closeAll.
func (e *Executor) cycle(ctx context.Context, zone string, v *Valve, d time.Duration) error {
	if ctx.Err() != nil {
		return nil
	}
	start := e.now()
	log.Printf("valve: opening %s for %s", v.Name(), d)
	if err := e.set(v, Open); err != nil {
		return err
	}

	if !e.sleep(ctx, d) {
		log.Printf("valve: %s aborted after %s", v.Name(), e.now().Sub(start).Round(time.Second))
		return nil
	}

	if err := e.set(v, Closed); err != nil {
		return err
	}
	log.Printf("valve: closed %s", v.Name())

	e.emit(ctx, event.IrrigatedEvent{Zone: zone, Valve: v.Name(), StartedAt: start, Duration: d})
	e.sleep(ctx, e.Cooldown)
	return nil
}

func (e *Executor) set(v *Valve, s State) error {
	if v.State() == s {
		return nil
	}
	var err error
	if s == Open {
		err = v.Open()
	} else {
		err = v.Close()
	}
	if err != nil {
		return err
	}
	for _, o := range e.observers {
		o.ValveChanged(v.Name(), s)
	}
	return nil
}

func (e *Executor) emit(ctx context.Context, ev event.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- ev:
	case <-ctx.Done():
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-e.after(d):
		return true
	}
}

// closeAll closes every open valve, trying all of them even if one fails.
func (e *Executor) closeAll() error {
	var errs []error
	for _, v := range e.valves {
		if v.State() != Open {
			continue
		}
		log.Printf("valve: forcing %s closed", v.Name())
		if err := e.set(v, Closed); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Release frees every valve line. Call after Run has returned.
func (e *Executor) Release() error {
	var errs []error
	for _, v := range e.valves {
		if err := v.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
