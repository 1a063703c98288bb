// Package dates provides day-granularity calendar dates and the helpers the
// scheduling engine builds on: date keys, minimum lead time, comparison and
// calendar bucketing.
//
// A Date never carries a time or zone. Conversions from time.Time always read
// the wall-clock fields in the value's own location, so a request scheduled
// "2024-07-04" stays in the 2024-07-04 bucket regardless of when or where it
// was created.
package dates

import (
	"fmt"
	"sort"
	"time"
)

// KeyLayout is the ISO calendar-date layout used for keys and persistence.
const KeyLayout = "2006-01-02"

// DefaultLeadDays is the default minimum lead time for new requests.
const DefaultLeadDays = 2

// Date is a calendar date with no time-of-day component.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the normalized date for y-m-d (out-of-range days roll over the
// same way time.Date does).
func New(y int, m time.Month, d int) Date {
	return Of(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

// Of returns the calendar date of t in t's own location.
func Of(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current date in loc. A nil loc means time.Local.
func Today(now time.Time, loc *time.Location) Date {
	if loc == nil {
		loc = time.Local
	}
	return Of(now.In(loc))
}

// Parse parses a YYYY-MM-DD key.
func Parse(s string) (Date, error) {
	t, err := time.Parse(KeyLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Of(t), nil
}

// MustParse is Parse for literals; it panics on malformed input.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Key returns the YYYY-MM-DD bucket key for d.
func (d Date) Key() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) String() string { return d.Key() }

// Time returns midnight of d in loc (UTC when loc is nil).
func (d Date) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date {
	return Of(d.Time(time.UTC).AddDate(0, 0, n))
}

// AddMonths returns d shifted by n months, clamping the day to the last
// valid day of the target month (Jan 31 + 1 month = Feb 28/29).
func (d Date) AddMonths(n int) Date {
	first := time.Date(d.Year, d.Month+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	y, m, _ := first.Date()
	return ClampDay(y, m, d.Day)
}

// Weekday returns the day of the week of d.
func (d Date) Weekday() time.Weekday {
	return d.Time(time.UTC).Weekday()
}

// Compare returns -1, 0 or +1 when d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return sign(d.Year - o.Year)
	case d.Month != o.Month:
		return sign(int(d.Month) - int(o.Month))
	default:
		return sign(d.Day - o.Day)
	}
}

// Before reports whether d is strictly before o.
func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }

// After reports whether d is strictly after o.
func (d Date) After(o Date) bool { return d.Compare(o) > 0 }

// DaysUntil returns the number of days from d to o (negative if o is earlier).
func (d Date) DaysUntil(o Date) int {
	return int(o.Time(time.UTC).Sub(d.Time(time.UTC)).Hours() / 24)
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.Key()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysIn returns the number of days in month m of year y.
func DaysIn(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDay returns y-m-day, with day clamped to the month's last valid day.
func ClampDay(y int, m time.Month, day int) Date {
	if last := DaysIn(y, m); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return Date{Year: y, Month: m, Day: day}
}

// MinScheduleDate returns the earliest date a new request may be scheduled
// for, given today and a lead time in days.
func MinScheduleDate(today Date, leadDays int) Date {
	if leadDays < 0 {
		leadDays = 0
	}
	return today.AddDays(leadDays)
}

// MeetsLeadTime reports whether d is at least leadDays after today.
func MeetsLeadTime(d, today Date, leadDays int) bool {
	return !d.Before(MinScheduleDate(today, leadDays))
}

// Min returns the earlier of a and b.
func Min(a, b Date) Date {
	if a.Before(b) {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b Date) Date {
	if a.After(b) {
		return a
	}
	return b
}

// Bucket groups items by the date key returned by dateOf. Items for which
// dateOf reports false are left out. Items keep their input order within a
// bucket.
func Bucket[T any](items []T, dateOf func(T) (Date, bool)) map[string][]T {
	out := make(map[string][]T)
	for _, it := range items {
		d, ok := dateOf(it)
		if !ok {
			continue
		}
		k := d.Key()
		out[k] = append(out[k], it)
	}
	return out
}

// SortedKeys returns the keys of a bucket map in calendar order.
func SortedKeys[T any](buckets map[string][]T) []string {
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
