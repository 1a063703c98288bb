package recurrence

import (
	"fmt"
	"time"

	"github.com/newmanjulien/overbase/internal/dates"
)

// Option is a cadence choice with its picker label.
type Option struct {
	Type  Type   `json:"type"`
	Label string `json:"label"`
}

// Describe returns a human-readable label for r. It depends only on r.
func Describe(r Rule) string {
	r = r.Normalize()
	if !r.Repeats() {
		return "Does not repeat"
	}
	a := *r.Anchor

	switch r.Type {
	case Daily:
		return "Every day"
	case Weekly:
		return "Every week on " + plural(a.Weekday())
	case Monthly:
		return "Every month on " + dayOfMonth(a.Day)
	case Custom:
		n := r.Meta.Interval
		switch r.Meta.Unit {
		case UnitWeek:
			if n == 1 {
				return "Every week on " + plural(a.Weekday())
			}
			return fmt.Sprintf("Every %d weeks on %s", n, plural(a.Weekday()))
		case UnitMonth:
			if n == 1 {
				return "Every month on " + dayOfMonth(a.Day)
			}
			return fmt.Sprintf("Every %d months on %s", n, dayOfMonth(a.Day))
		default:
			if n == 1 {
				return "Every day"
			}
			return fmt.Sprintf("Every %d days", n)
		}
	}
	return "Does not repeat"
}

// Options returns the picker entries for the cadences available at anchor.
func Options(anchor *dates.Date) []Option {
	types := AvailableCadences(anchor)
	out := make([]Option, 0, len(types))
	for _, t := range types {
		out = append(out, Option{Type: t, Label: optionLabel(t, anchor)})
	}
	return out
}

func optionLabel(t Type, anchor *dates.Date) string {
	switch t {
	case Daily:
		return "Daily"
	case Weekly:
		return "Weekly on " + anchor.Weekday().String()
	case Monthly:
		return "Monthly on " + dayOfMonth(anchor.Day)
	case Custom:
		return "Custom"
	}
	return "Does not repeat"
}

func plural(w time.Weekday) string {
	return w.String() + "s"
}

func dayOfMonth(day int) string {
	s := "the " + ordinal(day)
	if day > 28 {
		s += " (or the last day of the month)"
	}
	return s
}

func ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
