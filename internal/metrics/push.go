package metrics

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultPushInterval is used when no interval is configured.
const DefaultPushInterval = time.Minute

// Pusher periodically pushes a registry to a Pushgateway.
type Pusher struct {
	pusher   *push.Pusher
	url      string
	interval time.Duration
}

// NewPusher creates a Pusher for the given gateway URL and job name.
func NewPusher(url, job string, g prometheus.Gatherer, interval time.Duration) *Pusher {
	if interval <= 0 {
		interval = DefaultPushInterval
	}
	return &Pusher{
		pusher:   push.New(url, job).Gatherer(g),
		url:      url,
		interval: interval,
	}
}

// Run pushes every interval until ctx is cancelled, then pushes once more
// so the final counts reach the gateway. Push failures are logged and
// never fatal.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := p.Push(final); err != nil {
				log.Printf("metrics: %v", err)
			}
			return nil
		case <-ticker.C:
			if err := p.Push(ctx); err != nil {
				log.Printf("metrics: %v", err)
			}
		}
	}
}

// Push sends the current values once.
func (p *Pusher) Push(ctx context.Context) error {
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push to %s: %w", p.url, err)
	}
	return nil
}
