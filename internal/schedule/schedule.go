package schedule

import (
	"sort"
	"time"

	"github.com/sweeney/irrigator/internal/config"
)

// Pending is a not-yet-fired check of a zone.
type Pending struct {
	Zone  string
	DueAt time.Time
}

// Schedule is the set of rules of every zone at one location.
type Schedule struct {
	rules    []Rule
	location Location
	tz       *time.Location
}

// New builds a Schedule. Fixed rule times are interpreted in tz.
func New(rules []Rule, loc Location, tz *time.Location) *Schedule {
	if tz == nil {
		tz = time.UTC
	}
	return &Schedule{
		rules:    append([]Rule(nil), rules...),
		location: loc,
		tz:       tz,
	}
}

// FromConfig parses the check rules of every zone.
func FromConfig(cfg config.ControllerConfig, tz *time.Location) (*Schedule, error) {
	var rules []Rule
	for _, z := range cfg.Zones {
		for _, c := range z.Checks {
			r, err := ParseRule(z.Name, c.Start, c.Every, c.For)
			if err != nil {
				return nil, err
			}
			rules = append(rules, r)
		}
	}
	loc := Location{Latitude: cfg.Location.Latitude, Longitude: cfg.Location.Longitude}
	return New(rules, loc, tz), nil
}

// Rules returns the parsed rules in configuration order.
func (s *Schedule) Rules() []Rule {
	return append([]Rule(nil), s.rules...)
}

// AllPending expands every rule for the calendar date of now and returns the
// instants strictly after now, ordered by time. Instants that tie keep
// configuration order.
func (s *Schedule) AllPending(now time.Time) []Pending {
	var pending []Pending
	for _, r := range s.rules {
		for _, t := range r.Times(s.location, now, s.tz) {
			if t.After(now) {
				pending = append(pending, Pending{Zone: r.Zone, DueAt: t})
			}
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].DueAt.Before(pending[j].DueAt)
	})
	return pending
}
