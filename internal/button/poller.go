package button

import (
	"context"
	"log"
	"time"

	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/gpio"
)

// Line is a named button input.
type Line struct {
	Name  string
	Input gpio.Input
}

// Poller samples button lines on a fixed interval and sends debounced
// ButtonEvents.
type Poller struct {
	lines    []Line
	detector *Detector
	interval time.Duration
	now      func() time.Time
}

// NewPoller creates a Poller sampling lines every interval.
func NewPoller(lines []Line, interval, debounce time.Duration) *Poller {
	names := make([]string, len(lines))
	for i, l := range lines {
		names[i] = l.Name
	}
	return &Poller{
		lines:    lines,
		detector: NewDetector(debounce, names...),
		interval: interval,
		now:      time.Now,
	}
}

// Run polls until ctx is cancelled. Read errors are logged and the sample is
// skipped.
func (p *Poller) Run(ctx context.Context, events chan<- event.Event) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	return p.run(ctx, ticker.C, events)
}

func (p *Poller) run(ctx context.Context, tick <-chan time.Time, events chan<- event.Event) error {
	log.Printf("button: polling %d button(s)", len(p.lines))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			sample, ok := p.sample()
			if !ok {
				continue
			}
			for _, ev := range p.detector.Process(p.now(), sample) {
				log.Printf("button: %s %s", ev.Name, ev.State)
				select {
				case events <- ev:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}

func (p *Poller) sample() (map[string]bool, bool) {
	sample := make(map[string]bool, len(p.lines))
	for _, l := range p.lines {
		active, err := l.Input.Active()
		if err != nil {
			log.Printf("button: read %s: %v", l.Name, err)
			return nil, false
		}
		sample[l.Name] = active
	}
	return sample, true
}

// Close releases every line.
func (p *Poller) Close() error {
	var first error
	for _, l := range p.lines {
		if err := l.Input.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
