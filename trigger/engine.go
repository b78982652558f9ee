package trigger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cadence"
)

const (
	// cronHorizonDays bounds the cron scan; an expression with no match in
	// that span (e.g. "0 0 30 2 *") never fires.
	cronHorizonDays = 5 * 366

	// calendarHorizonDays bounds the calendar scan before the schedule is
	// reported unsatisfiable.
	calendarHorizonDays = 3 * 366
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCalendarHorizon overrides how many days a calendar schedule is
// scanned before it is reported unsatisfiable.
func WithCalendarHorizon(days int) EngineOption {
	return func(e *Engine) { e.calendarHorizon = days }
}

// Engine computes fire times. It caches parsed cron expressions and loaded
// timezones and is safe for concurrent use.
type Engine struct {
	calendarHorizon int

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	locsMu sync.RWMutex
	locs   map[string]*time.Location
}

// NewEngine creates an Engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		calendarHorizon: calendarHorizonDays,
		parsed:          make(map[string]cronlib.Schedule),
		locs:            map[string]*time.Location{"": time.UTC, "UTC": time.UTC},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var defaultEngine = NewEngine()

// Next returns the first fire time strictly after `after` using a shared
// default Engine.
func Next(s Schedule, tz string, after time.Time) (time.Time, bool, error) {
	return defaultEngine.Next(s, tz, after)
}

// Location resolves an IANA timezone name. The empty string means UTC.
func (e *Engine) Location(tz string) (*time.Location, error) {
	e.locsMu.RLock()
	loc, ok := e.locs[tz]
	e.locsMu.RUnlock()
	if ok {
		return loc, nil
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", cadence.ErrInvalidTimezone, tz, err)
	}

	e.locsMu.Lock()
	e.locs[tz] = loc
	e.locsMu.Unlock()
	return loc, nil
}

// Next returns the first fire time strictly after `after`. The boolean is
// false when the schedule has no further occurrence (a date schedule that
// already fired). A calendar or cron schedule with no occurrence inside the
// scan horizon returns cadence.ErrScheduleUnsatisfiable.
func (e *Engine) Next(s Schedule, tz string, after time.Time) (time.Time, bool, error) {
	if err := s.check(); err != nil {
		return time.Time{}, false, err
	}
	loc, err := e.Location(tz)
	if err != nil {
		return time.Time{}, false, err
	}

	switch s.Kind {
	case KindDate:
		if s.At.After(after) {
			return s.At.In(loc), true, nil
		}
		return time.Time{}, false, nil

	case KindInterval:
		return nextInterval(s.Interval, s.Anchor, after).In(loc), true, nil

	case KindCron:
		sched, err := e.getOrParseCron(s.Expr)
		if err != nil {
			return time.Time{}, false, err
		}
		switch cs := sched.(type) {
		case *cronlib.SpecSchedule:
			t, ok := newCronFrequency(cs).next(after, loc, cronHorizonDays)
			if !ok {
				return time.Time{}, false, fmt.Errorf("%w: %s", cadence.ErrScheduleUnsatisfiable, s)
			}
			return t, true, nil
		case cronlib.ConstantDelaySchedule:
			return nextInterval(cs.Delay, time.Time{}, after).In(loc), true, nil
		default:
			return time.Time{}, false, fmt.Errorf("%w: unsupported cron form %q", cadence.ErrInvalidSchedule, s.Expr)
		}

	case KindCalendar:
		return e.nextCalendar(s.Calendar, loc, after)
	}
	return time.Time{}, false, fmt.Errorf("%w: unknown kind %q", cadence.ErrInvalidSchedule, s.Kind)
}

// Preview returns up to n fire times after `after`. When horizon is non-zero
// only fire times at or before it are returned.
func (e *Engine) Preview(s Schedule, tz string, after time.Time, n int, horizon time.Time) ([]time.Time, error) {
	var out []time.Time
	cursor := after
	for len(out) < n {
		t, ok, err := e.Next(s, tz, cursor)
		if err != nil {
			if len(out) > 0 && isUnsatisfiable(err) {
				return out, nil
			}
			return out, err
		}
		if !ok || (!horizon.IsZero() && t.After(horizon)) {
			break
		}
		out = append(out, t)
		cursor = t
	}
	return out, nil
}

// Between returns the fire times in (from, to], at most limit of them when
// limit is positive. The boolean reports whether more occurrences exist in
// the range beyond the limit.
func (e *Engine) Between(s Schedule, tz string, from, to time.Time, limit int) ([]time.Time, bool, error) {
	var out []time.Time
	cursor := from
	for {
		t, ok, err := e.Next(s, tz, cursor)
		if err != nil {
			if isUnsatisfiable(err) {
				return out, false, nil
			}
			return out, false, err
		}
		if !ok || t.After(to) {
			return out, false, nil
		}
		if limit > 0 && len(out) == limit {
			return out, true, nil
		}
		out = append(out, t)
		cursor = t
	}
}

// Latest returns the last fire time in (from, to] without materializing
// every occurrence, along with how many occurrences precede it in the range.
func (e *Engine) Latest(s Schedule, tz string, from, to time.Time) (time.Time, int, bool, error) {
	var (
		last  time.Time
		count int
	)
	cursor := from
	for {
		t, ok, err := e.Next(s, tz, cursor)
		if err != nil && !isUnsatisfiable(err) {
			return time.Time{}, 0, false, err
		}
		if err != nil || !ok || t.After(to) {
			if last.IsZero() {
				return time.Time{}, 0, false, nil
			}
			return last, count - 1, true, nil
		}
		last = t
		count++
		cursor = t
	}
}

// Validate checks that s is well formed, tz is a known timezone, and the
// schedule has at least one fire time after now.
func (e *Engine) Validate(s Schedule, tz string, now time.Time) error {
	if err := s.check(); err != nil {
		return err
	}
	if s.Kind == KindCron {
		if _, err := e.getOrParseCron(s.Expr); err != nil {
			return err
		}
	}
	_, ok, err := e.Next(s, tz, now)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is in the past", cadence.ErrScheduleUnsatisfiable, s)
	}
	return nil
}

func (e *Engine) getOrParseCron(expr string) (cronlib.Schedule, error) {
	e.parsedMu.RLock()
	sched, ok := e.parsed[expr]
	e.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", cadence.ErrInvalidSchedule, expr, err)
	}

	e.parsedMu.Lock()
	e.parsed[expr] = sched
	e.parsedMu.Unlock()
	return sched, nil
}

func (e *Engine) nextCalendar(c *Calendar, loc *time.Location, after time.Time) (time.Time, bool, error) {
	times, err := c.clock()
	if err != nil {
		return time.Time{}, false, err
	}

	local := after.In(loc)
	y, m, d := local.Date()
	for i := 0; i <= e.calendarHorizon; i++ {
		dd := dayOf(time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC))
		if !c.accepts(dd) {
			continue
		}
		for _, hm := range times {
			t := resolveLocal(dd.year, dd.month, dd.dom, hm[0], hm[1], loc)
			if t.After(after) {
				return t, true, nil
			}
		}
	}
	return time.Time{}, false, fmt.Errorf("%w: no accepted day within %d days", cadence.ErrScheduleUnsatisfiable, e.calendarHorizon)
}

// nextInterval returns anchor + k*every for the smallest k with a result
// strictly after `after`.
func nextInterval(every time.Duration, anchor, after time.Time) time.Time {
	if anchor.IsZero() {
		anchor = time.Unix(0, 0).UTC()
	}
	if after.Before(anchor) {
		return anchor
	}
	k := after.Sub(anchor)/every + 1
	return anchor.Add(k * every)
}

func isUnsatisfiable(err error) bool {
	return errors.Is(err, cadence.ErrScheduleUnsatisfiable)
}
