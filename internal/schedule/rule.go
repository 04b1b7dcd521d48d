// Package schedule turns per-zone check rules into a time-ordered stream of
// moisture-conditional irrigation requests.
//
// Rule expansion and merging are pure functions of a supplied time; only
// Scheduler.Run waits on a clock.
package schedule

import (
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// ParseError reports a malformed schedule rule in the configuration.
type ParseError struct {
	Zone string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Zone == "" {
		return "schedule: " + e.Msg
	}
	return fmt.Sprintf("schedule: zone %s: %s", e.Zone, e.Msg)
}

// TimeKind selects how the start of a rule is resolved.
type TimeKind int

const (
	Fixed TimeKind = iota
	Sunrise
	Sunset
)

// Time is the start of a rule: a fixed clock time or sunrise/sunset.
type Time struct {
	Kind   TimeKind
	Hour   int
	Minute int
}

func (t Time) String() string {
	switch t.Kind {
	case Sunrise:
		return "sunrise"
	case Sunset:
		return "sunset"
	default:
		return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
	}
}

// ParseTime parses "sunrise", "sunset" (any case) or "HH:MM".
func ParseTime(s string) (Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunrise":
		return Time{Kind: Sunrise}, nil
	case "sunset":
		return Time{Kind: Sunset}, nil
	}

	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Time{}, &ParseError{Msg: fmt.Sprintf("unable to parse time %q", s)}
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Time{}, &ParseError{Msg: fmt.Sprintf("invalid hour in time %q", s)}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Time{}, &ParseError{Msg: fmt.Sprintf("invalid minute in time %q", s)}
	}
	return Time{Kind: Fixed, Hour: hour, Minute: minute}, nil
}

// ParseInterval parses a whole number of minutes ("30") or a Go duration
// string ("1h30m").
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParseError{Msg: fmt.Sprintf("unable to parse interval %q", s)}
	}
	return d, nil
}

// Location is a point on the earth used for sunrise/sunset.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Rule is one check rule of a zone: starting at Start, fire every Every
// while the offset from Start is less than For.
type Rule struct {
	Zone  string
	Start Time
	Every time.Duration
	For   time.Duration
}

const (
	// MinEvery is the shortest repeat interval a rule may use.
	MinEvery = time.Minute

	// MaxWindow is the longest window a rule may span. A rule is expanded
	// once per calendar day.
	MaxWindow = 24 * time.Hour
)

// NewRule validates and builds a Rule.
func NewRule(zone string, start Time, every, window time.Duration) (Rule, error) {
	if every <= 0 {
		return Rule{}, &ParseError{Zone: zone, Msg: "'every' must be greater than zero"}
	}
	if window <= 0 {
		return Rule{}, &ParseError{Zone: zone, Msg: "'for' must be greater than zero"}
	}
	if every < MinEvery {
		return Rule{}, &ParseError{Zone: zone, Msg: fmt.Sprintf("'every' must be at least %s", MinEvery)}
	}
	if window > MaxWindow {
		return Rule{}, &ParseError{Zone: zone, Msg: fmt.Sprintf("'for' must be at most %s", MaxWindow)}
	}
	return Rule{Zone: zone, Start: start, Every: every, For: window}, nil
}

// ParseRule builds a Rule from its configuration strings.
func ParseRule(zone, start, every, window string) (Rule, error) {
	t, err := ParseTime(start)
	if err != nil {
		return Rule{}, withZone(err, zone)
	}
	e, err := ParseInterval(every)
	if err != nil {
		return Rule{}, withZone(err, zone)
	}
	w, err := ParseInterval(window)
	if err != nil {
		return Rule{}, withZone(err, zone)
	}
	return NewRule(zone, t, e, w)
}

func withZone(err error, zone string) error {
	if pe, ok := err.(*ParseError); ok {
		return &ParseError{Zone: zone, Msg: pe.Msg}
	}
	return err
}

// Times expands the rule for the calendar date of day in tz. The window is
// half-open: an instant exactly For after Start is not included. A Rule not
// built by NewRule with a non-positive Every or For yields nothing.
func (r Rule) Times(loc Location, day time.Time, tz *time.Location) []time.Time {
	if r.Every <= 0 || r.For <= 0 {
		return nil
	}
	start, ok := r.startOn(loc, day, tz)
	if !ok {
		log.Printf("scheduler: no %s at (%.3f, %.3f) on %s, skipping zone %s",
			r.Start, loc.Latitude, loc.Longitude, day.Format("2006-01-02"), r.Zone)
		return nil
	}

	var times []time.Time
	for offset := time.Duration(0); offset < r.For; offset += r.Every {
		times = append(times, start.Add(offset))
	}
	return times
}

func (r Rule) startOn(loc Location, day time.Time, tz *time.Location) (time.Time, bool) {
	d := day.In(tz)
	switch r.Start.Kind {
	case Sunrise, Sunset:
		rise, set := sunrise.SunriseSunset(loc.Latitude, loc.Longitude, d.Year(), d.Month(), d.Day())
		t := rise
		if r.Start.Kind == Sunset {
			t = set
		}
		if t.IsZero() {
			return time.Time{}, false
		}
		return t.In(tz), true
	default:
		return time.Date(d.Year(), d.Month(), d.Day(), r.Start.Hour, r.Start.Minute, 0, 0, tz), true
	}
}
