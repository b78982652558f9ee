package trigger

import (
	"fmt"
	"slices"
	"time"

	"github.com/xraph/cadence"
)

// Action says what a matching Rule does to a candidate day.
type Action string

const (
	Include Action = "include"
	Exclude Action = "exclude"
)

// Match selects the predicate a Rule applies.
type Match string

const (
	MatchWeekdays    Match = "weekdays"     // Monday through Friday
	MatchWeekends    Match = "weekends"     // Saturday and Sunday
	MatchDaysOfWeek  Match = "days_of_week" // Rule.Weekdays
	MatchDaysOfMonth Match = "days_of_month"
	MatchMonths      Match = "months"
	MatchDates       Match = "dates"
	MatchNthWeekday  Match = "nth_weekday"
	MatchDateRange   Match = "date_range"
)

const dateLayout = "2006-01-02"

// Rule is one include or exclude predicate over calendar days.
type Rule struct {
	Action Action `json:"action"`
	Match  Match  `json:"match"`

	// Weekdays is used by days_of_week and nth_weekday (first element).
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// Days is used by days_of_month. Negative values count from the end of
	// the month; -1 is the last day.
	Days []int `json:"days,omitempty"`

	// Months is used by months.
	Months []time.Month `json:"months,omitempty"`

	// Dates is used by dates, formatted as YYYY-MM-DD.
	Dates []string `json:"dates,omitempty"`

	// Nth is used by nth_weekday: 1 through 5, or -1 for the last
	// occurrence of the weekday in the month.
	Nth int `json:"nth,omitempty"`

	// From and To bound date_range inclusively, formatted as YYYY-MM-DD.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Calendar fires at each of Times on every accepted day.
//
// Rules are applied in order to each candidate day and the last matching
// rule decides. When at least one include rule exists, a day matched by no
// rule is rejected; otherwise it is accepted.
type Calendar struct {
	// Times are local times of day formatted as HH:MM. Empty means
	// midnight.
	Times []string `json:"times,omitempty"`
	Rules []Rule   `json:"rules,omitempty"`
}

// day is a calendar date without a location.
type day struct {
	year  int
	month time.Month
	dom   int
	wd    time.Weekday
}

func dayOf(t time.Time) day {
	y, m, d := t.Date()
	return day{year: y, month: m, dom: d, wd: t.Weekday()}
}

func (d day) key() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.year, d.month, d.dom)
}

func (d day) daysInMonth() int {
	return time.Date(d.year, d.month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (c *Calendar) check() error {
	if _, err := c.clock(); err != nil {
		return err
	}
	for i, r := range c.Rules {
		if r.Action != Include && r.Action != Exclude {
			return fmt.Errorf("%w: rule %d: unknown action %q", cadence.ErrInvalidSchedule, i, r.Action)
		}
		if err := r.check(); err != nil {
			return fmt.Errorf("%w: rule %d: %v", cadence.ErrInvalidSchedule, i, err)
		}
	}
	return nil
}

// clock parses Times into sorted (hour, minute) pairs.
func (c *Calendar) clock() ([][2]int, error) {
	if len(c.Times) == 0 {
		return [][2]int{{0, 0}}, nil
	}
	out := make([][2]int, 0, len(c.Times))
	for _, s := range c.Times {
		t, err := time.Parse("15:04", s)
		if err != nil {
			return nil, fmt.Errorf("%w: time of day %q", cadence.ErrInvalidSchedule, s)
		}
		out = append(out, [2]int{t.Hour(), t.Minute()})
	}
	slices.SortFunc(out, func(a, b [2]int) int {
		if a[0] != b[0] {
			return a[0] - b[0]
		}
		return a[1] - b[1]
	})
	return slices.Compact(out), nil
}

func (r Rule) check() error {
	switch r.Match {
	case MatchWeekdays, MatchWeekends:
	case MatchDaysOfWeek:
		if len(r.Weekdays) == 0 {
			return fmt.Errorf("days_of_week needs weekdays")
		}
	case MatchDaysOfMonth:
		if len(r.Days) == 0 {
			return fmt.Errorf("days_of_month needs days")
		}
		for _, d := range r.Days {
			if d == 0 || d > 31 || d < -31 {
				return fmt.Errorf("day of month %d out of range", d)
			}
		}
	case MatchMonths:
		if len(r.Months) == 0 {
			return fmt.Errorf("months needs months")
		}
	case MatchDates:
		if len(r.Dates) == 0 {
			return fmt.Errorf("dates needs dates")
		}
		for _, s := range r.Dates {
			if _, err := time.Parse(dateLayout, s); err != nil {
				return fmt.Errorf("date %q: %w", s, err)
			}
		}
	case MatchNthWeekday:
		if len(r.Weekdays) != 1 {
			return fmt.Errorf("nth_weekday needs exactly one weekday")
		}
		if r.Nth == 0 || r.Nth > 5 || r.Nth < -1 {
			return fmt.Errorf("nth %d out of range", r.Nth)
		}
	case MatchDateRange:
		from, err := time.Parse(dateLayout, r.From)
		if err != nil {
			return fmt.Errorf("from %q: %w", r.From, err)
		}
		to, err := time.Parse(dateLayout, r.To)
		if err != nil {
			return fmt.Errorf("to %q: %w", r.To, err)
		}
		if to.Before(from) {
			return fmt.Errorf("range ends before it starts")
		}
	default:
		return fmt.Errorf("unknown match %q", r.Match)
	}
	return nil
}

func (r Rule) matches(d day) bool {
	switch r.Match {
	case MatchWeekdays:
		return d.wd >= time.Monday && d.wd <= time.Friday
	case MatchWeekends:
		return d.wd == time.Saturday || d.wd == time.Sunday
	case MatchDaysOfWeek:
		return slices.Contains(r.Weekdays, d.wd)
	case MatchDaysOfMonth:
		last := d.daysInMonth()
		for _, n := range r.Days {
			if n == d.dom || (n < 0 && last+n+1 == d.dom) {
				return true
			}
		}
		return false
	case MatchMonths:
		return slices.Contains(r.Months, d.month)
	case MatchDates:
		return slices.Contains(r.Dates, d.key())
	case MatchNthWeekday:
		if d.wd != r.Weekdays[0] {
			return false
		}
		if r.Nth == -1 {
			return d.dom+7 > d.daysInMonth()
		}
		return (d.dom-1)/7+1 == r.Nth
	case MatchDateRange:
		k := d.key()
		return k >= r.From && k <= r.To
	}
	return false
}

// accepts applies the ordered rules to d.
func (c *Calendar) accepts(d day) bool {
	accepted := true
	for _, r := range c.Rules {
		if r.Action == Include {
			accepted = false
			break
		}
	}
	for _, r := range c.Rules {
		if r.matches(d) {
			accepted = r.Action == Include
		}
	}
	return accepted
}
