// Package recurrence builds, labels and evaluates repeat rules for scheduled
// requests. A Rule is stored structurally next to the request; labels are
// always derived from it, never parsed back.
package recurrence

import (
	"github.com/newmanjulien/overbase/internal/dates"
)

// Type is the cadence of a repeat rule.
type Type string

const (
	None    Type = "none"
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
	Custom  Type = "custom"
)

// Valid reports whether t is a known cadence.
func (t Type) Valid() bool {
	switch t {
	case None, Daily, Weekly, Monthly, Custom:
		return true
	}
	return false
}

// Unit is the step unit of a custom rule.
type Unit string

const (
	UnitDay   Unit = "day"
	UnitWeek  Unit = "week"
	UnitMonth Unit = "month"
)

// Meta holds the derived and custom parameters of a rule. Weekday and
// DayOfMonth are computed from the anchor when the rule is built.
type Meta struct {
	Weekday    int  `json:"weekday"`
	DayOfMonth int  `json:"dayOfMonth"`
	Interval   int  `json:"interval,omitempty"`
	Unit       Unit `json:"unit,omitempty"`
}

// Rule is a structured repeat rule.
type Rule struct {
	Type   Type        `json:"type"`
	Anchor *dates.Date `json:"anchor"`
	Meta   Meta        `json:"meta"`
}

// NoRepeat is the default rule.
func NoRepeat() Rule {
	return Rule{Type: None}
}

// MakeRule builds the rule for cadence t anchored at anchor. A missing anchor
// or an unknown cadence degrades to NoRepeat. Custom rules built here step
// one week at a time; use MakeCustomRule for other intervals.
func MakeRule(t Type, anchor *dates.Date) Rule {
	if t == Custom {
		return MakeCustomRule(anchor, 1, UnitWeek)
	}
	if t == None || !t.Valid() || anchor == nil || anchor.IsZero() {
		return NoRepeat()
	}
	a := *anchor
	return Rule{
		Type:   t,
		Anchor: &a,
		Meta: Meta{
			Weekday:    int(a.Weekday()),
			DayOfMonth: a.Day,
		},
	}
}

// MakeCustomRule builds an "every interval units" rule anchored at anchor.
// Intervals below one are raised to one and unknown units fall back to days.
func MakeCustomRule(anchor *dates.Date, interval int, unit Unit) Rule {
	if anchor == nil || anchor.IsZero() {
		return NoRepeat()
	}
	if interval < 1 {
		interval = 1
	}
	switch unit {
	case UnitDay, UnitWeek, UnitMonth:
	default:
		unit = UnitDay
	}
	a := *anchor
	return Rule{
		Type:   Custom,
		Anchor: &a,
		Meta: Meta{
			Weekday:    int(a.Weekday()),
			DayOfMonth: a.Day,
			Interval:   interval,
			Unit:       unit,
		},
	}
}

// Normalize rebuilds r from its type, anchor and custom parameters, so that
// rules read from storage satisfy the same guarantees as freshly built ones.
func (r Rule) Normalize() Rule {
	if r.Type == Custom {
		return MakeCustomRule(r.Anchor, r.Meta.Interval, r.Meta.Unit)
	}
	return MakeRule(r.Type, r.Anchor)
}

// Repeats reports whether the rule produces occurrences.
func (r Rule) Repeats() bool {
	return r.Type != None && r.Type.Valid() && r.Anchor != nil
}

// Equal reports whether two rules describe the same recurrence.
func (r Rule) Equal(o Rule) bool {
	a, b := r.Normalize(), o.Normalize()
	if a.Type != b.Type || a.Meta != b.Meta {
		return false
	}
	if a.Anchor == nil || b.Anchor == nil {
		return a.Anchor == nil && b.Anchor == nil
	}
	return *a.Anchor == *b.Anchor
}

// AvailableCadences lists the cadences a picker should offer. Without an
// anchor date only None is meaningful.
func AvailableCadences(anchor *dates.Date) []Type {
	if anchor == nil || anchor.IsZero() {
		return []Type{None}
	}
	return []Type{None, Daily, Weekly, Monthly, Custom}
}
