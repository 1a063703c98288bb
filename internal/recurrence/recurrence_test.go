package recurrence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmanjulien/overbase/internal/dates"
)

func datePtr(s string) *dates.Date {
	d := dates.MustParse(s)
	return &d
}

func TestMakeRule_DegradesWithoutAnchor(t *testing.T) {
	for _, typ := range []Type{Daily, Weekly, Monthly, Custom} {
		r := MakeRule(typ, nil)
		assert.Equal(t, None, r.Type, "type %s", typ)
		assert.Nil(t, r.Anchor)
	}
	assert.Equal(t, None, MakeRule("fortnightly", datePtr("2024-06-12")).Type)
}

func TestMakeRule_ComputesMeta(t *testing.T) {
	r := MakeRule(Weekly, datePtr("2024-06-12"))
	require.NotNil(t, r.Anchor)
	assert.Equal(t, int(time.Wednesday), r.Meta.Weekday)
	assert.Equal(t, 12, r.Meta.DayOfMonth)

	c := MakeRule(Custom, datePtr("2024-06-12"))
	assert.Equal(t, 1, c.Meta.Interval)
	assert.Equal(t, UnitWeek, c.Meta.Unit)
}

func TestNextOccurrence_Weekly(t *testing.T) {
	wednesday := dates.MustParse("2024-06-12")
	require.Equal(t, time.Wednesday, wednesday.Weekday())
	r := MakeRule(Weekly, &wednesday)

	next, ok := NextOccurrence(r, wednesday.AddDays(1))
	require.True(t, ok)
	assert.Equal(t, dates.MustParse("2024-06-19"), next)

	next, ok = NextOccurrence(r, wednesday)
	require.True(t, ok)
	assert.Equal(t, wednesday, next)
}

func TestNextOccurrence_Daily(t *testing.T) {
	r := MakeRule(Daily, datePtr("2024-06-12"))

	next, _ := NextOccurrence(r, dates.MustParse("2024-06-20"))
	assert.Equal(t, dates.MustParse("2024-06-20"), next)

	next, _ = NextOccurrence(r, dates.MustParse("2024-06-01"))
	assert.Equal(t, dates.MustParse("2024-06-12"), next, "cadence starts at the anchor")
}

func TestNextOccurrence_MonthlyClampsShortMonths(t *testing.T) {
	r := MakeRule(Monthly, datePtr("2024-01-31"))

	tests := []struct {
		from string
		want string
	}{
		{"2024-02-01", "2024-02-29"},
		{"2024-03-01", "2024-03-31"},
		{"2024-04-01", "2024-04-30"},
		{"2024-04-30", "2024-04-30"},
		{"2024-12-31", "2024-12-31"},
		{"2025-02-01", "2025-02-28"},
	}
	for _, tc := range tests {
		got, ok := NextOccurrence(r, dates.MustParse(tc.from))
		require.True(t, ok)
		assert.Equal(t, tc.want, got.Key(), "from %s", tc.from)
	}

	r = MakeRule(Monthly, datePtr("2024-01-15"))
	got, _ := NextOccurrence(r, dates.MustParse("2024-12-16"))
	assert.Equal(t, "2025-01-15", got.Key())
}

func TestNextOccurrence_None(t *testing.T) {
	_, ok := NextOccurrence(NoRepeat(), dates.MustParse("2024-06-12"))
	assert.False(t, ok)

	// an anchor on a none rule is ignored
	_, ok = NextOccurrence(Rule{Type: None, Anchor: datePtr("2024-06-12")}, dates.MustParse("2024-06-12"))
	assert.False(t, ok)
}

func TestNextOccurrence_Custom(t *testing.T) {
	anchor := datePtr("2024-06-12")

	everyThreeDays := MakeCustomRule(anchor, 3, UnitDay)
	got, _ := NextOccurrence(everyThreeDays, dates.MustParse("2024-06-13"))
	assert.Equal(t, "2024-06-15", got.Key())

	fortnightly := MakeCustomRule(anchor, 2, UnitWeek)
	got, _ = NextOccurrence(fortnightly, dates.MustParse("2024-06-13"))
	assert.Equal(t, "2024-06-26", got.Key())

	quarterly := MakeCustomRule(datePtr("2024-01-31"), 3, UnitMonth)
	got, _ = NextOccurrence(quarterly, dates.MustParse("2024-02-01"))
	assert.Equal(t, "2024-04-30", got.Key())
	got, _ = NextOccurrence(quarterly, dates.MustParse("2024-05-01"))
	assert.Equal(t, "2024-07-31", got.Key())
}

func TestOccurrences(t *testing.T) {
	r := MakeRule(Weekly, datePtr("2024-06-12"))
	got := Occurrences(r, dates.MustParse("2024-06-12"), 3)
	require.Len(t, got, 3)
	assert.Equal(t, "2024-06-26", got[2].Key())

	assert.Empty(t, Occurrences(NoRepeat(), dates.MustParse("2024-06-12"), 3))
}

func TestDescribe(t *testing.T) {
	tuesday := datePtr("2024-06-11")

	tests := []struct {
		rule Rule
		want string
	}{
		{NoRepeat(), "Does not repeat"},
		{MakeRule(Daily, tuesday), "Every day"},
		{MakeRule(Weekly, tuesday), "Every week on Tuesdays"},
		{MakeRule(Monthly, tuesday), "Every month on the 11th"},
		{MakeRule(Monthly, datePtr("2024-06-01")), "Every month on the 1st"},
		{MakeRule(Monthly, datePtr("2024-06-22")), "Every month on the 22nd"},
		{MakeRule(Monthly, datePtr("2024-05-31")), "Every month on the 31st (or the last day of the month)"},
		{MakeCustomRule(tuesday, 2, UnitWeek), "Every 2 weeks on Tuesdays"},
		{MakeCustomRule(tuesday, 5, UnitDay), "Every 5 days"},
		{MakeCustomRule(tuesday, 3, UnitMonth), "Every 3 months on the 11th"},
		{Rule{Type: Weekly}, "Does not repeat"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Describe(tc.rule))
		assert.Equal(t, Describe(tc.rule), Describe(tc.rule))
	}
}

func TestAvailableCadences(t *testing.T) {
	assert.Equal(t, []Type{None}, AvailableCadences(nil))
	assert.Equal(t, []Type{None, Daily, Weekly, Monthly, Custom}, AvailableCadences(datePtr("2024-06-12")))

	opts := Options(datePtr("2024-06-12"))
	require.Len(t, opts, 5)
	assert.Equal(t, "Weekly on Wednesday", opts[2].Label)
	assert.Equal(t, "Monthly on the 12th", opts[3].Label)
}

func TestRule_JSONRoundTripKeepsStructure(t *testing.T) {
	r := MakeCustomRule(datePtr("2024-06-12"), 2, UnitWeek)
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"custom","anchor":"2024-06-12","meta":{"weekday":3,"dayOfMonth":12,"interval":2,"unit":"week"}}`, string(raw))

	var back Rule
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, r.Equal(back))
}
