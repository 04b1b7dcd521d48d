// Package metrics exposes irrigation activity as Prometheus collectors and
// optionally pushes them to a Pushgateway.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/valve"
)

const (
	metricPrefix = "irrigator_"

	resultIrrigate = "irrigate"
	resultSkip     = "skip"

	reasonQueueFull = "queue_full"
	reasonStopped   = "stopped"

	allValves = "all"
)

// Metrics holds the collectors on a private registry. It is a controller
// observer and a valve observer.
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	irrigations     *prometheus.CounterVec
	irrigationSecs  *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	valveOpen       *prometheus.GaugeVec
	moisture        *prometheus.GaugeVec
	lastIrrigatedAt *prometheus.GaugeVec
	dropped         *prometheus.CounterVec
}

// New creates and registers the collectors. Every valve in valves is
// reported as closed until told otherwise.
func New(valves ...string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "events_total",
				Help: "Total events handled by kind",
			},
			[]string{"kind"},
		),
		irrigations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "irrigations_total",
				Help: "Total completed irrigation cycles by valve",
			},
			[]string{"valve"},
		),
		irrigationSecs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "irrigation_seconds_total",
				Help: "Total seconds valves were held open",
			},
			[]string{"valve"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "decisions_total",
				Help: "Moisture check outcomes by zone and result",
			},
			[]string{"zone", "result"},
		),
		valveOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "valve_open",
				Help: "1 while the valve is open",
			},
			[]string{"valve"},
		),
		moisture: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "moisture",
				Help: "Last moisture reading by sensor",
			},
			[]string{"sensor"},
		),
		lastIrrigatedAt: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "last_irrigated_timestamp_seconds",
				Help: "Unix time the valve last finished a cycle",
			},
			[]string{"valve"},
		),
		dropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "commands_dropped_total",
				Help: "Irrigation commands refused by the executor by valve and reason",
			},
			[]string{"valve", "reason"},
		),
	}

	m.registry.MustRegister(
		m.events,
		m.irrigations,
		m.irrigationSecs,
		m.decisions,
		m.valveOpen,
		m.moisture,
		m.lastIrrigatedAt,
		m.dropped,
	)

	for _, k := range event.Kinds {
		m.events.WithLabelValues(string(k))
	}
	for _, v := range valves {
		m.valveOpen.WithLabelValues(v).Set(0)
		m.irrigations.WithLabelValues(v)
		m.irrigationSecs.WithLabelValues(v)
	}
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe counts an event the controller has handled.
func (m *Metrics) Observe(ev event.Event) {
	m.events.WithLabelValues(string(ev.Kind())).Inc()

	switch e := ev.(type) {
	case event.MoistureEvent:
		m.moisture.WithLabelValues(e.Sensor).Set(float64(e.Value))
	case event.IrrigatedEvent:
		m.irrigations.WithLabelValues(e.Valve).Inc()
		m.irrigationSecs.WithLabelValues(e.Valve).Add(e.Duration.Seconds())
		m.lastIrrigatedAt.WithLabelValues(e.Valve).Set(float64(e.At().Unix()))
	}
}

// Decided counts the outcome of a moisture check.
func (m *Metrics) Decided(zone string, irrigate bool) {
	result := resultSkip
	if irrigate {
		result = resultIrrigate
	}
	m.decisions.WithLabelValues(zone, result).Inc()
}

// ValveChanged tracks the open/closed gauge.
func (m *Metrics) ValveChanged(name string, s valve.State) {
	v := 0.0
	if s == valve.Open {
		v = 1
	}
	m.valveOpen.WithLabelValues(name).Set(v)
}

// CommandDropped counts an irrigation command the executor refused.
func (m *Metrics) CommandDropped(c valve.Command, err error) {
	name := c.Valve
	if c.All {
		name = allValves
	}
	reason := reasonQueueFull
	if errors.Is(err, valve.ErrStopped) {
		reason = reasonStopped
	}
	m.dropped.WithLabelValues(name, reason).Inc()
}
