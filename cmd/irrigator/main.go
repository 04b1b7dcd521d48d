// Command irrigator waters garden zones when their soil gets dry, on a
// sunrise/sunset or clock schedule, on button presses and on MQTT commands.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sweeney/irrigator/internal/button"
	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/controller"
	"github.com/sweeney/irrigator/internal/event"
	"github.com/sweeney/irrigator/internal/gpio"
	"github.com/sweeney/irrigator/internal/metrics"
	"github.com/sweeney/irrigator/internal/mqtt"
	"github.com/sweeney/irrigator/internal/persistence"
	"github.com/sweeney/irrigator/internal/schedule"
	"github.com/sweeney/irrigator/internal/status"
	"github.com/sweeney/irrigator/internal/valve"
)

// eventQueue is the capacity of the shared event channel.
const eventQueue = 64

func main() {
	configPath := flag.String("config", "/etc/irrigator.yaml", "Settings file")
	heartbeat := flag.Duration("heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	printSchedule := flag.Bool("print-schedule", false, "Print today's pending checks and exit")

	flag.Parse()

	if err := run(*configPath, *heartbeat, *printSchedule); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(configPath string, heartbeat time.Duration, printOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	tz, err := cfg.TimeLocation()
	if err != nil {
		return err
	}
	sched, err := schedule.FromConfig(cfg.Controller, tz)
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}

	// Print schedule mode
	if printOnly {
		printSchedule(os.Stdout, sched, time.Now().In(tz))
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := persistence.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	// Initialize GPIO
	chip, err := gpio.OpenChip(cfg.GPIO.Chip)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer chip.Close()

	valves := make([]*valve.Valve, 0, len(cfg.Valves))
	valveNames := make([]string, 0, len(cfg.Valves))
	for _, v := range cfg.Valves {
		out, err := chip.Output(v.GPIO, v.ActiveLow)
		if err != nil {
			return fmt.Errorf("valve %s: %w", v.Name, err)
		}
		valves = append(valves, valve.New(v.Name, out))
		valveNames = append(valveNames, v.Name)
	}

	lines := make([]button.Line, 0, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		in, err := chip.Input(b.GPIO, b.ActiveLow, b.PullUp)
		if err != nil {
			return fmt.Errorf("button %s: %w", b.Name, err)
		}
		lines = append(lines, button.Line{Name: b.Name, Input: in})
	}
	poller := button.NewPoller(lines, cfg.GPIO.Poll.D(), cfg.GPIO.Debounce.D())
	defer poller.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	zones := make([]string, len(cfg.Controller.Zones))
	for i, z := range cfg.Controller.Zones {
		zones[i] = z.Name
	}
	tracker := status.NewTracker(time.Now(), status.Config{
		Timezone:    tz.String(),
		Backend:     cfg.Database.Backend,
		Broker:      cfg.MQTT.Broker,
		Zones:       zones,
		HeartbeatMs: heartbeat.Milliseconds(),
	}, valveNames...)
	stats := metrics.New(valveNames...)

	events := make(chan event.Event, eventQueue)
	executor := valve.NewExecutor(valves, events, tracker, stats)
	executor.Cooldown = cfg.Executor.Cooldown.D()
	defer func() {
		if err := executor.Release(); err != nil {
			log.Printf("valve: release: %v", err)
		}
	}()

	observers := []controller.Observer{tracker, stats}

	var (
		publisher mqtt.Publisher
		link      mqtt.ConnectionStatus
		client    *mqtt.Client
	)
	if cfg.MQTT.Broker != "" {
		client, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		defer client.Close()
		publisher, link = client, client
		observers = append(observers, client)
	} else {
		log.Printf("mqtt: no broker configured, running without MQTT")
	}

	ctrl := controller.New(cfg.Controller, store, executor, observers...)
	ctrl.IrrigateAllDuration = cfg.Executor.IrrigateAllDuration()
	scheduler := schedule.NewScheduler(sched, tracker)

	// Publish startup event with full status snapshot
	announce(publisher, tracker, link, "STARTUP", "", true)

	log.Printf("started: zones=%d valves=%d buttons=%d backend=%s broker=%q heartbeat=%v",
		len(zones), len(valves), len(lines), cfg.Database.Backend, cfg.MQTT.Broker, heartbeat)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	g, gctx := errgroup.WithContext(ctx)
	reason := "ERROR"

	g.Go(func() error {
		select {
		case s := <-sigCh:
			log.Printf("received %v, shutting down", s)
			reason = signalName(s)
			executor.Stop()
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error { return ctrl.Run(gctx, events) })
	g.Go(func() error { return executor.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx, events) })
	if len(lines) > 0 {
		g.Go(func() error { return poller.Run(gctx, events) })
	}
	if client != nil {
		if err := client.Subscribe(gctx, events); err != nil {
			log.Printf("mqtt: %v", err)
		}
	}
	if cfg.Metrics.Pushgateway != "" {
		pusher := metrics.NewPusher(cfg.Metrics.Pushgateway, cfg.Metrics.Job, stats.Registry(), cfg.Metrics.Interval.D())
		g.Go(func() error { return pusher.Run(gctx) })
	}
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		g.Go(func() error { return runHeartbeat(gctx, publisher, tracker, link, ticker.C) })
	}

	err = g.Wait()
	if err != nil && errors.Is(err, context.Canceled) {
		err = nil
	}

	announce(publisher, tracker, link, "SHUTDOWN", reason, true)
	return err
}

// runHeartbeat publishes a status snapshot on every tick until ctx is done.
func runHeartbeat(ctx context.Context, publisher mqtt.Publisher, tracker *status.Tracker, link mqtt.ConnectionStatus, tick <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			snap := announce(publisher, tracker, link, "HEARTBEAT", "", false)
			log.Printf("heartbeat: uptime=%v mqtt=%v buffered=%d irrigations=%d",
				snap.Uptime().Truncate(time.Second), snap.MQTTConnected, snap.MQTTBuffered,
				snap.Counts[event.KindIrrigated])
		}
	}
}

// announce publishes a system event carrying the current status snapshot.
// A nil publisher only refreshes the tracker.
func announce(publisher mqtt.Publisher, tracker *status.Tracker, link mqtt.ConnectionStatus, name, reason string, retained bool) status.Snapshot {
	refreshMQTT(tracker, link)
	snap := tracker.Snapshot()
	if publisher == nil {
		return snap
	}

	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      name,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, name, reason),
	}
	if err := publisher.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", name, err)
	} else {
		log.Printf("published %s event", name)
	}
	return snap
}

func refreshMQTT(tracker *status.Tracker, link mqtt.ConnectionStatus) {
	if link == nil {
		return
	}
	buffered := 0
	if b, ok := link.(interface{ Buffered() int }); ok {
		buffered = b.Buffered()
	}
	tracker.SetMQTT(link.IsConnected(), buffered)
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// printSchedule writes the checks still due today, one per line.
func printSchedule(w io.Writer, s *schedule.Schedule, now time.Time) {
	pending := s.AllPending(now)
	if len(pending) == 0 {
		fmt.Fprintln(w, "no checks pending today")
		return
	}
	for _, p := range pending {
		fmt.Fprintf(w, "%s %s\n", p.DueAt.In(now.Location()).Format("15:04"), p.Zone)
	}
}
