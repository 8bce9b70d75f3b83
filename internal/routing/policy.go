package routing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"callqueue/internal/calls"

	"gopkg.in/yaml.v3"
)

// Policy is the routing policy file.
//
//	timezone: America/New_York
//	hours:
//	  monday: {open: "09:00", close: "17:00"}
//	closed_dates: ["2026-12-25"]
//	blocked: ["+15551234567"]
//	force_closed: false
//
// A policy without hours is always open. Once any hours are listed, days that
// are not listed are closed.
type Policy struct {
	Timezone    string               `yaml:"timezone"`
	Hours       map[string]OpenHours `yaml:"hours"`
	ClosedDates []string             `yaml:"closed_dates"`
	Blocked     []string             `yaml:"blocked"`
	ForceClosed bool                 `yaml:"force_closed"`

	loc     *time.Location
	blocked map[string]struct{}
	closed  map[string]struct{}
	days    map[time.Weekday]window
}

type OpenHours struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// window is [open, close) in minutes after midnight.
type window struct {
	open, close int
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// LoadPolicyFile reads and validates a YAML policy.
func LoadPolicyFile(path string) (*Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("routing policy: %w", err)
	}
	return ParsePolicy(b)
}

func ParsePolicy(b []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("routing policy: %w", err)
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Policy) compile() error {
	var errs []error

	p.loc = time.UTC
	if p.Timezone != "" {
		loc, err := time.LoadLocation(p.Timezone)
		if err != nil {
			errs = append(errs, fmt.Errorf("timezone %q: %w", p.Timezone, err))
		} else {
			p.loc = loc
		}
	}

	p.days = map[time.Weekday]window{}
	for name, h := range p.Hours {
		day, ok := weekdays[strings.ToLower(name)]
		if !ok {
			errs = append(errs, fmt.Errorf("hours: unknown day %q", name))
			continue
		}
		open, err1 := parseClock(h.Open)
		closeAt, err2 := parseClock(h.Close)
		if err1 != nil || err2 != nil {
			errs = append(errs, fmt.Errorf("hours.%s: times must be HH:MM", name))
			continue
		}
		if closeAt <= open {
			errs = append(errs, fmt.Errorf("hours.%s: close must be after open", name))
			continue
		}
		p.days[day] = window{open: open, close: closeAt}
	}

	p.closed = map[string]struct{}{}
	for _, d := range p.ClosedDates {
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			errs = append(errs, fmt.Errorf("closed_dates: %q is not YYYY-MM-DD", d))
			continue
		}
		p.closed[d] = struct{}{}
	}

	p.blocked = map[string]struct{}{}
	for _, n := range p.Blocked {
		if s := calls.SanitizeNumber(n); s != "" {
			p.blocked[s] = struct{}{}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("routing policy: %w", errors.Join(errs...))
	}
	return nil
}

// Blocks reports whether calls from number are refused.
func (p *Policy) Blocks(number string) bool {
	s := calls.SanitizeNumber(number)
	if s == "" {
		return false
	}
	_, ok := p.blocked[s]
	return ok
}

// OpenAt reports whether the line is open at t, with a reason for logs.
func (p *Policy) OpenAt(t time.Time) (bool, string) {
	if len(p.Hours) == 0 && len(p.ClosedDates) == 0 {
		return true, "always_open"
	}
	local := t.In(p.loc)
	if _, ok := p.closed[local.Format(time.DateOnly)]; ok {
		return false, "closed_date"
	}
	if len(p.Hours) == 0 {
		return true, "always_open"
	}
	w, ok := p.days[local.Weekday()]
	if !ok {
		return false, "closed_day"
	}
	m := local.Hour()*60 + local.Minute()
	if m < w.open || m >= w.close {
		return false, "outside_hours"
	}
	return true, "open_hours"
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
