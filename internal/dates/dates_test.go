package dates

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndKey(t *testing.T) {
	d, err := Parse("2024-07-04")
	require.NoError(t, err)
	assert.Equal(t, New(2024, time.July, 4), d)
	assert.Equal(t, "2024-07-04", d.Key())

	_, err = Parse("2024-13-01")
	assert.Error(t, err)
	_, err = Parse("07/04/2024")
	assert.Error(t, err)
}

func TestOf_UsesLocalWallClock(t *testing.T) {
	// 23:30 in New York on July 4th is already July 5th in UTC.
	ny := time.FixedZone("EDT", -4*60*60)
	late := time.Date(2024, time.July, 4, 23, 30, 0, 0, ny)

	assert.Equal(t, "2024-07-04", Of(late).Key())
	assert.Equal(t, "2024-07-05", Of(late.UTC()).Key())
	assert.Equal(t, "2024-07-04", Today(late.UTC(), ny).Key())
}

func TestAddDaysAndMonths(t *testing.T) {
	assert.Equal(t, MustParse("2024-03-01"), MustParse("2024-02-28").AddDays(2))
	assert.Equal(t, MustParse("2023-12-31"), MustParse("2024-01-01").AddDays(-1))

	assert.Equal(t, MustParse("2024-02-29"), MustParse("2024-01-31").AddMonths(1))
	assert.Equal(t, MustParse("2023-02-28"), MustParse("2023-01-31").AddMonths(1))
	assert.Equal(t, MustParse("2025-01-15"), MustParse("2024-12-15").AddMonths(1))
}

func TestCompare(t *testing.T) {
	a := MustParse("2024-06-10")
	b := MustParse("2024-06-12")

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(MustParse("2024-06-10")))
	assert.Equal(t, 2, a.DaysUntil(b))
	assert.Equal(t, -2, b.DaysUntil(a))
	assert.Equal(t, a, Min(a, b))
	assert.Equal(t, b, Max(a, b))
}

func TestLeadTime(t *testing.T) {
	today := MustParse("2024-06-10")

	assert.Equal(t, MustParse("2024-06-12"), MinScheduleDate(today, DefaultLeadDays))
	assert.False(t, MeetsLeadTime(MustParse("2024-06-11"), today, 2))
	assert.True(t, MeetsLeadTime(MustParse("2024-06-12"), today, 2))
	assert.True(t, MeetsLeadTime(today, today, 0))
}

func TestDaysInAndClamp(t *testing.T) {
	assert.Equal(t, 29, DaysIn(2024, time.February))
	assert.Equal(t, 28, DaysIn(2023, time.February))
	assert.Equal(t, 30, DaysIn(2024, time.April))
	assert.Equal(t, MustParse("2024-04-30"), ClampDay(2024, time.April, 31))
}

func TestBucket_SameDayShareKey(t *testing.T) {
	type item struct {
		name string
		date *Date
	}
	july4 := MustParse("2024-07-04")
	items := []item{
		{"morning", &july4},
		{"unscheduled", nil},
		{"evening", &july4},
	}

	buckets := Bucket(items, func(it item) (Date, bool) {
		if it.date == nil {
			return Date{}, false
		}
		return *it.date, true
	})

	require.Len(t, buckets, 1)
	require.Len(t, buckets["2024-07-04"], 2)
	assert.Equal(t, "morning", buckets["2024-07-04"][0].name)
	assert.Equal(t, []string{"2024-07-04"}, SortedKeys(buckets))
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		When Date `json:"when"`
	}
	raw, err := json.Marshal(wrapper{When: MustParse("2024-07-04")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"when":"2024-07-04"}`, string(raw))

	var w wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"when":"2024-12-25"}`), &w))
	assert.Equal(t, MustParse("2024-12-25"), w.When)
}
