package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/xraph/cadence"
)

// Kind identifies a schedule type.
type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindDate     Kind = "date"
	KindCalendar Kind = "calendar"
)

// Schedule describes when a job becomes due. Exactly one of the
// kind-specific fields is meaningful, selected by Kind.
type Schedule struct {
	Kind Kind `json:"kind"`

	// Expr is the cron expression (KindCron).
	Expr string `json:"expr,omitempty"`

	// Interval is the period between fires (KindInterval). Anchor is the
	// instant the period is measured from; the zero value means the Unix
	// epoch.
	Interval time.Duration `json:"interval,omitempty"`
	Anchor   time.Time     `json:"anchor,omitzero"`

	// At is the single fire time (KindDate).
	At time.Time `json:"at,omitzero"`

	// Calendar holds the day rules and times of day (KindCalendar).
	Calendar *Calendar `json:"calendar,omitempty"`
}

// Cron returns a cron schedule.
func Cron(expr string) Schedule { return Schedule{Kind: KindCron, Expr: expr} }

// Every returns an interval schedule anchored at the Unix epoch.
func Every(d time.Duration) Schedule { return Schedule{Kind: KindInterval, Interval: d} }

// EveryFrom returns an interval schedule anchored at anchor.
func EveryFrom(d time.Duration, anchor time.Time) Schedule {
	return Schedule{Kind: KindInterval, Interval: d, Anchor: anchor}
}

// Once returns a date schedule firing at t.
func Once(t time.Time) Schedule { return Schedule{Kind: KindDate, At: t} }

// OnCalendar returns a calendar schedule.
func OnCalendar(c Calendar) Schedule { return Schedule{Kind: KindCalendar, Calendar: &c} }

// String renders the schedule for logs.
func (s Schedule) String() string {
	switch s.Kind {
	case KindCron:
		return "cron(" + s.Expr + ")"
	case KindInterval:
		return "every(" + s.Interval.String() + ")"
	case KindDate:
		return "once(" + s.At.UTC().Format(time.RFC3339) + ")"
	case KindCalendar:
		if s.Calendar == nil {
			return "calendar()"
		}
		return fmt.Sprintf("calendar(%s, %d rules)", strings.Join(s.Calendar.Times, ","), len(s.Calendar.Rules))
	default:
		return string(s.Kind)
	}
}

// check validates the schedule's structure without evaluating it.
func (s Schedule) check() error {
	switch s.Kind {
	case KindCron:
		if strings.TrimSpace(s.Expr) == "" {
			return fmt.Errorf("%w: empty cron expression", cadence.ErrInvalidSchedule)
		}
		if strings.HasPrefix(s.Expr, "TZ=") || strings.HasPrefix(s.Expr, "CRON_TZ=") {
			return fmt.Errorf("%w: timezone belongs on the job, not the expression", cadence.ErrInvalidSchedule)
		}
	case KindInterval:
		if s.Interval < time.Second {
			return fmt.Errorf("%w: interval must be at least one second", cadence.ErrInvalidSchedule)
		}
	case KindDate:
		if s.At.IsZero() {
			return fmt.Errorf("%w: date schedule without a time", cadence.ErrInvalidSchedule)
		}
	case KindCalendar:
		if s.Calendar == nil {
			return fmt.Errorf("%w: calendar schedule without rules", cadence.ErrInvalidSchedule)
		}
		return s.Calendar.check()
	default:
		return fmt.Errorf("%w: unknown kind %q", cadence.ErrInvalidSchedule, s.Kind)
	}
	return nil
}
