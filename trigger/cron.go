package trigger

import (
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser supports standard 5-field cron and descriptors like "@daily".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// starBit marks a field written as "*" or "?" in robfig's bitsets.
const starBit = 1 << 63

// cronFrequency is the wall-clock form of a parsed cron expression.
type cronFrequency struct {
	minute, hour, dom, month, dow uint64
}

func newCronFrequency(s *cronlib.SpecSchedule) cronFrequency {
	return cronFrequency{
		minute: s.Minute,
		hour:   s.Hour,
		dom:    s.Dom,
		month:  s.Month,
		dow:    s.Dow,
	}
}

func (c cronFrequency) dayMatches(d day) bool {
	if c.month&(1<<uint(d.month)) == 0 {
		return false
	}
	domMatch := c.dom&(1<<uint(d.dom)) != 0
	dowMatch := c.dow&(1<<uint(d.wd)) != 0
	if c.dom&starBit != 0 || c.dow&starBit != 0 {
		return domMatch && dowMatch
	}
	return domMatch || dowMatch
}

// next returns the first fire time strictly after `after`, scanning at most
// maxDays calendar days.
func (c cronFrequency) next(after time.Time, loc *time.Location, maxDays int) (time.Time, bool) {
	local := after.In(loc)
	y, m, d := local.Date()
	// Wall hours earlier than this on the first day cannot map past
	// `after`, whatever the DST shift.
	floorHour := local.Hour() - 3

	for i := 0; i <= maxDays; i++ {
		dd := dayOf(time.Date(y, m, d+i, 12, 0, 0, 0, time.UTC))
		if !c.dayMatches(dd) {
			continue
		}
		for h := 0; h < 24; h++ {
			if c.hour&(1<<uint(h)) == 0 || (i == 0 && h < floorHour) {
				continue
			}
			for mi := 0; mi < 60; mi++ {
				if c.minute&(1<<uint(mi)) == 0 {
					continue
				}
				t := resolveLocal(dd.year, dd.month, dd.dom, h, mi, loc)
				if t.After(after) {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}
