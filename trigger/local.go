package trigger

import "time"

// resolveLocal maps a wall-clock time in loc to an instant. A wall time
// inside a spring-forward gap maps to the first instant after the gap; a
// wall time inside a fall-back overlap maps to the earlier instant.
func resolveLocal(y int, mo time.Month, d, h, mi int, loc *time.Location) time.Time {
	naive := time.Date(y, mo, d, h, mi, 0, 0, time.UTC)

	_, before := naive.Add(-48 * time.Hour).In(loc).Zone()
	_, after := naive.Add(48 * time.Hour).In(loc).Zone()

	var best time.Time
	for _, off := range [2]int{before, after} {
		c := naive.Add(-time.Duration(off) * time.Second).In(loc)
		if !sameWall(c, y, mo, d, h, mi) {
			continue
		}
		if best.IsZero() || c.Before(best) {
			best = c
		}
	}
	if !best.IsZero() {
		return best
	}

	// Gap: interpreted with the pre-transition offset the instant lies past
	// the transition, whose zone starts at the first valid local time.
	c := naive.Add(-time.Duration(before) * time.Second).In(loc)
	start, _ := c.ZoneBounds()
	if start.IsZero() {
		return c
	}
	return start.In(loc)
}

func sameWall(t time.Time, y int, mo time.Month, d, h, mi int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == mo && td == d && t.Hour() == h && t.Minute() == mi
}
