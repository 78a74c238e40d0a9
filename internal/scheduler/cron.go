package scheduler

import (
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser accepts the standard five fields and descriptors such as "@daily"
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Matcher decides whether a cron schedule is due in a one-minute tick.
// Parsed expressions and loaded locations are cached.
type Matcher struct {
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	locationsMu sync.RWMutex
	locations   map[string]*time.Location
}

// NewMatcher creates an empty matcher
func NewMatcher() *Matcher {
	return &Matcher{
		parsed:    make(map[string]cronlib.Schedule),
		locations: make(map[string]*time.Location),
	}
}

// IsDue reports whether expr, evaluated in timezone, fires in the tick that
// starts at tick. The reference instant is one minute before the tick; the
// schedule is due when the next fire time after it and the start of the
// following minute are the same calendar minute in the schedule's zone.
func (m *Matcher) IsDue(expr, timezone string, tick time.Time) (bool, error) {
	sched, err := m.schedule(expr)
	if err != nil {
		return false, err
	}

	loc, err := m.location(timezone)
	if err != nil {
		return false, err
	}

	ref := tick.Add(-time.Minute).In(loc)
	next := sched.Next(ref)
	if next.IsZero() {
		return false, nil
	}

	current := ref.Truncate(time.Minute).Add(time.Minute)
	return sameMinute(current, next.In(loc)), nil
}

func (m *Matcher) schedule(expr string) (cronlib.Schedule, error) {
	m.parsedMu.RLock()
	sched, ok := m.parsed[expr]
	m.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	m.parsedMu.Lock()
	m.parsed[expr] = sched
	m.parsedMu.Unlock()

	return sched, nil
}

func (m *Matcher) location(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}

	m.locationsMu.RLock()
	loc, ok := m.locations[name]
	m.locationsMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
	}

	m.locationsMu.Lock()
	m.locations[name] = loc
	m.locationsMu.Unlock()

	return loc, nil
}

func sameMinute(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd && a.Hour() == b.Hour() && a.Minute() == b.Minute()
}
