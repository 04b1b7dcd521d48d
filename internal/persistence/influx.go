package persistence

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/irrigator/internal/config"
	"github.com/sweeney/irrigator/internal/event"
)

// epoch is the start of every "since forever" Flux range.
const epoch = "1970-01-01T00:00:00Z"

// InfluxStore writes events to an InfluxDB 2 bucket, one measurement per
// event kind.
type InfluxStore struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	bucket   string
	lookback time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// NewInfluxStore connects to InfluxDB and waits, with exponential backoff,
// until the server answers a ping.
func NewInfluxStore(ctx context.Context, cfg config.Database) (*InfluxStore, error) {
	if cfg.URL == "" || cfg.Org == "" || cfg.Bucket == "" {
		return nil, errors.New("influx config incomplete")
	}

	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = time.Minute
	err := backoff.RetryNotify(func() error {
		ok, err := client.Ping(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("not ready")
		}
		return nil
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		log.Printf("persistence: influx at %s unavailable (%v), retrying in %s", cfg.URL, err, wait.Round(time.Millisecond))
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to influx %s: %w", cfg.URL, err)
	}
	log.Printf("persistence: connected to influx at %s, bucket %s", cfg.URL, cfg.Bucket)

	return &InfluxStore{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		lookback: cfg.Lookback.D(),
		timeout:  cfg.Timeout.D(),
		now:      time.Now,
	}, nil
}

// StoreEvent writes ev as a single point.
func (s *InfluxStore) StoreEvent(ctx context.Context, ev event.Event) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.writeAPI.WritePoint(ctx, eventPoint(ev)); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Kind(), err)
	}
	return nil
}

// MoistureRangeSinceLastIrrigation implements Store.
func (s *InfluxStore) MoistureRangeSinceLastIrrigation(ctx context.Context, sensor, valve string) (MoistureRange, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	since, found, err := s.lastIrrigation(ctx, valve)
	if err != nil {
		return MoistureRange{}, err
	}
	if !found {
		since = s.now().Add(-s.lookback)
	}

	res, err := s.queryAPI.Query(ctx, buildMoistureFlux(s.bucket, sensor, since))
	if err != nil {
		return MoistureRange{}, fmt.Errorf("query moisture of %s: %w", sensor, err)
	}
	defer res.Close()

	var values []event.Measurement
	for res.Next() {
		v, ok := toInt64(res.Record().Value())
		if !ok || v < 0 {
			continue
		}
		values = append(values, event.Measurement(v))
	}
	if err := res.Err(); err != nil {
		return MoistureRange{}, fmt.Errorf("read moisture of %s: %w", sensor, err)
	}
	return summarise(since, values), nil
}

// lastIrrigation returns when valve last finished irrigating.
func (s *InfluxStore) lastIrrigation(ctx context.Context, valve string) (time.Time, bool, error) {
	res, err := s.queryAPI.Query(ctx, buildLastIrrigationFlux(s.bucket, valve))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last irrigation of %s: %w", valve, err)
	}
	defer res.Close()

	var last time.Time
	found := false
	for res.Next() {
		if t := res.Record().Time(); !found || t.After(last) {
			last, found = t, true
		}
	}
	if err := res.Err(); err != nil {
		return time.Time{}, false, fmt.Errorf("read last irrigation of %s: %w", valve, err)
	}
	return last, found, nil
}

// Close implements Store.
func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

func (s *InfluxStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// eventPoint maps an event to its point. The measurement is the event kind.
func eventPoint(ev event.Event) *write.Point {
	tags := map[string]string{}
	fields := map[string]interface{}{}

	switch e := ev.(type) {
	case event.ButtonEvent:
		tags["button"] = e.Name
		fields["state"] = string(e.State)
		fields["pressed"] = e.State == event.Pressed
	case event.WeatherEvent:
		fields["temperature"] = e.Temperature
		fields["humidity"] = e.Humidity
		fields["pressure"] = e.Pressure
	case event.MoistureEvent:
		tags["sensor"] = e.Sensor
		fields["value"] = int64(e.Value)
	case event.IrrigateEvent:
		tags["zone"] = e.Zone
		fields["requested"] = true
	case event.ConditionalIrrigateEvent:
		tags["zone"] = e.Zone
		fields["requested"] = true
	case event.IrrigateAllEvent:
		fields["seconds"] = e.Duration.Seconds()
	case event.IrrigatedEvent:
		tags["valve"] = e.Valve
		if e.Zone != "" {
			tags["zone"] = e.Zone
		}
		fields["seconds"] = e.Duration.Seconds()
		fields["started_at"] = e.StartedAt.Unix()
	}

	return influxdb2.NewPoint(string(ev.Kind()), tags, fields, ev.At())
}

func buildLastIrrigationFlux(bucket, valve string) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == "irrigated" and r.valve == %q)
  |> filter(fn: (r) => r._field == "seconds")
  |> keep(columns: ["_time","_value"])
  |> last()
`, bucket, epoch, valve)
}

func buildMoistureFlux(bucket, sensor string, since time.Time) string {
	return fmt.Sprintf(`
from(bucket: %q)
  |> range(start: %s)
  |> filter(fn: (r) => r._measurement == "moisture" and r.sensor == %q)
  |> filter(fn: (r) => r._field == "value")
  |> keep(columns: ["_time","_value"])
`, bucket, since.UTC().Format(time.RFC3339Nano), sensor)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
