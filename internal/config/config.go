// Package config loads the irrigator settings file.
//
// Settings are resolved in three layers: built-in defaults, the YAML file,
// then IRRIGATOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete daemon configuration.
type Config struct {
	Timezone   string           `yaml:"timezone"`
	Controller ControllerConfig `yaml:"controller"`
	Valves     []Valve          `yaml:"valves"`
	Buttons    []Button         `yaml:"buttons"`
	GPIO       GPIO             `yaml:"gpio"`
	Executor   Executor         `yaml:"executor"`
	Database   Database         `yaml:"database"`
	MQTT       MQTT             `yaml:"mqtt"`
	Metrics    Metrics          `yaml:"metrics"`
}

// ControllerConfig holds the irrigation policy.
type ControllerConfig struct {
	Location Location `yaml:"location"`
	Zones    []Zone   `yaml:"zones"`
}

// Location is the garden's position, used for sunrise and sunset.
type Location struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Zone is a named watering area.
type Zone struct {
	Name            string   `yaml:"name"`
	Valve           string   `yaml:"valve"`
	Sensors         []string `yaml:"sensors"`
	Threshold       uint16   `yaml:"threshold"`
	Checks          []Check  `yaml:"check"`
	IrrigateSeconds int      `yaml:"irrigate_seconds"`
}

// IrrigateDuration is how long the zone's valve stays open per irrigation.
func (z Zone) IrrigateDuration() time.Duration {
	return time.Duration(z.IrrigateSeconds) * time.Second
}

// Check is an unparsed schedule rule. Every and For are minutes or Go
// duration strings; Start is "sunrise", "sunset" or "HH:MM".
type Check struct {
	Start string `yaml:"start"`
	Every string `yaml:"every"`
	For   string `yaml:"for"`
}

// Valve maps a valve name to its GPIO output line.
type Valve struct {
	Name      string `yaml:"name"`
	GPIO      int    `yaml:"gpio"`
	ActiveLow bool   `yaml:"active_low"`
}

// Button maps a button name to its GPIO input line.
type Button struct {
	Name      string `yaml:"name"`
	GPIO      int    `yaml:"gpio"`
	ActiveLow bool   `yaml:"active_low"`
	PullUp    bool   `yaml:"pull_up"`
}

// GPIO selects the character device and button sampling.
type GPIO struct {
	Chip     string   `yaml:"chip"`
	Poll     Duration `yaml:"poll"`
	Debounce Duration `yaml:"debounce"`
}

// Executor tunes the valve executor.
type Executor struct {
	Cooldown           Duration `yaml:"cooldown"`
	IrrigateAllSeconds int      `yaml:"irrigate_all_seconds"`
}

// IrrigateAllDuration is the per-valve time used when an irrigate-all
// request does not carry its own duration.
func (e Executor) IrrigateAllDuration() time.Duration {
	return time.Duration(e.IrrigateAllSeconds) * time.Second
}

// Database selects and configures the persistence backend.
type Database struct {
	Backend  string   `yaml:"backend"` // "influx" | "memory"
	URL      string   `yaml:"url"`
	Token    string   `yaml:"token"`
	Org      string   `yaml:"org"`
	Bucket   string   `yaml:"bucket"`
	Lookback Duration `yaml:"lookback"`
	Timeout  Duration `yaml:"timeout"`
}

// MQTT configures the broker connection. An empty Broker disables MQTT.
type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Metrics configures the Prometheus Pushgateway. An empty Pushgateway
// disables pushing.
type Metrics struct {
	Pushgateway string   `yaml:"pushgateway"`
	Job         string   `yaml:"job"`
	Interval    Duration `yaml:"interval"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Timezone: "Local",
		GPIO: GPIO{
			Chip:     "gpiochip0",
			Poll:     Duration(100 * time.Millisecond),
			Debounce: Duration(250 * time.Millisecond),
		},
		Executor: Executor{
			Cooldown:           Duration(5 * time.Second),
			IrrigateAllSeconds: 60,
		},
		Database: Database{
			Backend:  "influx",
			URL:      "http://localhost:8086",
			Org:      "garden",
			Bucket:   "irrigator",
			Lookback: Duration(time.Hour),
			Timeout:  Duration(10 * time.Second),
		},
		MQTT: MQTT{
			ClientID: "irrigator",
			Prefix:   "garden/irrigator",
		},
		Metrics: Metrics{
			Job:      "irrigator",
			Interval: Duration(time.Minute),
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Environment variable names for secrets and deployment-specific values.
const (
	envTimezone     = "IRRIGATOR_TIMEZONE"
	envInfluxURL    = "IRRIGATOR_INFLUX_URL"
	envInfluxToken  = "IRRIGATOR_INFLUX_TOKEN"
	envInfluxOrg    = "IRRIGATOR_INFLUX_ORG"
	envInfluxBucket = "IRRIGATOR_INFLUX_BUCKET"
	envMQTTBroker   = "IRRIGATOR_MQTT_BROKER"
	envMQTTUsername = "IRRIGATOR_MQTT_USERNAME"
	envMQTTPassword = "IRRIGATOR_MQTT_PASSWORD"
	envPushgateway  = "IRRIGATOR_PUSHGATEWAY"
	envCooldown     = "IRRIGATOR_COOLDOWN_SECONDS"
)

func applyEnv(cfg *Config) {
	setString(&cfg.Timezone, envTimezone)
	setString(&cfg.Database.URL, envInfluxURL)
	setString(&cfg.Database.Token, envInfluxToken)
	setString(&cfg.Database.Org, envInfluxOrg)
	setString(&cfg.Database.Bucket, envInfluxBucket)
	setString(&cfg.MQTT.Broker, envMQTTBroker)
	setString(&cfg.MQTT.Username, envMQTTUsername)
	setString(&cfg.MQTT.Password, envMQTTPassword)
	setString(&cfg.Metrics.Pushgateway, envPushgateway)

	if v := strings.TrimSpace(os.Getenv(envCooldown)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Executor.Cooldown = Duration(time.Duration(n) * time.Second)
		}
	}
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// TimeLocation resolves the configured time zone.
func (c Config) TimeLocation() (*time.Location, error) {
	switch c.Timezone {
	case "", "Local":
		return time.Local, nil
	case "UTC":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err)
	}
	return loc, nil
}

// ZoneByName returns the zone with the given name.
func (c ControllerConfig) ZoneByName(name string) (Zone, bool) {
	for _, z := range c.Zones {
		if z.Name == name {
			return z, true
		}
	}
	return Zone{}, false
}

// Validate checks cross-references and value ranges. Schedule rules are
// parsed separately by the schedule package.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if _, err := c.TimeLocation(); err != nil {
		errs = append(errs, err)
	}

	loc := c.Controller.Location
	if loc.Latitude < -90 || loc.Latitude > 90 {
		add("latitude %v out of range", loc.Latitude)
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		add("longitude %v out of range", loc.Longitude)
	}

	valves := make(map[string]bool, len(c.Valves))
	for _, v := range c.Valves {
		if v.Name == "" {
			add("valve on gpio %d has no name", v.GPIO)
			continue
		}
		if valves[v.Name] {
			add("duplicate valve %q", v.Name)
		}
		valves[v.Name] = true
	}

	zones := make(map[string]bool, len(c.Controller.Zones))
	for _, z := range c.Controller.Zones {
		if z.Name == "" {
			add("zone with valve %q has no name", z.Valve)
			continue
		}
		if zones[z.Name] {
			add("duplicate zone %q", z.Name)
		}
		zones[z.Name] = true
		if !valves[z.Valve] {
			add("zone %q references unknown valve %q", z.Name, z.Valve)
		}
		if z.IrrigateSeconds <= 0 {
			add("zone %q: irrigate_seconds must be greater than zero", z.Name)
		}
	}

	buttons := make(map[string]bool, len(c.Buttons))
	for _, b := range c.Buttons {
		if b.Name == "" || buttons[b.Name] {
			add("button on gpio %d needs a unique name", b.GPIO)
		}
		buttons[b.Name] = true
	}

	switch c.Database.Backend {
	case "influx":
		if c.Database.URL == "" || c.Database.Org == "" || c.Database.Bucket == "" {
			add("influx database needs url, org and bucket")
		}
	case "memory":
	default:
		add("unknown database backend %q", c.Database.Backend)
	}

	if c.Executor.Cooldown < 0 {
		add("executor cooldown must not be negative")
	}
	if c.Executor.IrrigateAllSeconds <= 0 {
		add("executor irrigate_all_seconds must be greater than zero")
	}

	return errors.Join(errs...)
}
