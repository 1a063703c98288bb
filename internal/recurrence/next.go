package recurrence

import (
	"github.com/newmanjulien/overbase/internal/dates"
)

// NextOccurrence returns the first occurrence of r on or after from. The
// cadence starts at the anchor, so a from before the anchor yields the first
// occurrence at or after the anchor. It reports false for rules that do not
// repeat.
func NextOccurrence(r Rule, from dates.Date) (dates.Date, bool) {
	r = r.Normalize()
	if !r.Repeats() {
		return dates.Date{}, false
	}
	anchor := *r.Anchor
	start := dates.Max(from, anchor)

	switch r.Type {
	case Daily:
		return start, true
	case Weekly:
		return nextWeekday(start, anchor), true
	case Monthly:
		return nextDayOfMonth(start, anchor.Day), true
	case Custom:
		switch r.Meta.Unit {
		case UnitWeek:
			return stepDays(anchor, start, 7*r.Meta.Interval), true
		case UnitMonth:
			return stepMonths(anchor, start, r.Meta.Interval), true
		default:
			return stepDays(anchor, start, r.Meta.Interval), true
		}
	}
	return dates.Date{}, false
}

// Occurrences returns up to n consecutive occurrences starting at from.
func Occurrences(r Rule, from dates.Date, n int) []dates.Date {
	var out []dates.Date
	cur := from
	for len(out) < n {
		d, ok := NextOccurrence(r, cur)
		if !ok {
			break
		}
		out = append(out, d)
		cur = d.AddDays(1)
	}
	return out
}

func nextWeekday(start, anchor dates.Date) dates.Date {
	delta := (int(anchor.Weekday()) - int(start.Weekday()) + 7) % 7
	return start.AddDays(delta)
}

func nextDayOfMonth(start dates.Date, day int) dates.Date {
	c := dates.ClampDay(start.Year, start.Month, day)
	if !c.Before(start) {
		return c
	}
	next := dates.New(start.Year, start.Month+1, 1)
	return dates.ClampDay(next.Year, next.Month, day)
}

func stepDays(anchor, start dates.Date, step int) dates.Date {
	if step < 1 {
		step = 1
	}
	diff := anchor.DaysUntil(start)
	k := (diff + step - 1) / step
	return anchor.AddDays(k * step)
}

func stepMonths(anchor, start dates.Date, interval int) dates.Date {
	if interval < 1 {
		interval = 1
	}
	months := (start.Year-anchor.Year)*12 + int(start.Month) - int(anchor.Month)
	k := months / interval
	if k < 0 {
		k = 0
	}
	c := anchor.AddMonths(k * interval)
	for c.Before(start) {
		k++
		c = anchor.AddMonths(k * interval)
	}
	return c
}
