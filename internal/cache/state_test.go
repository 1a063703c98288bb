package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/models"
)

var base = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func req(id, prompt, date string, createdOffset time.Duration) models.Request {
	r := models.NewDraft(id, "u1", base.Add(createdOffset))
	r.Prompt = prompt
	if date != "" {
		d := dates.MustParse(date)
		r.ScheduledDate = &d
	}
	return r
}

func TestState_SnapshotReplacesEverything(t *testing.T) {
	s := NewState().ApplySnapshot([]models.Request{req("a", "one", "", 0), req("b", "two", "", time.Minute)})
	require.Equal(t, 2, s.Len())
	assert.True(t, s.Loaded())

	s = s.ApplySnapshot([]models.Request{req("c", "three", "", 0)})
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestState_RemoteWinsOverOptimisticPatch(t *testing.T) {
	s := NewState().ApplySnapshot([]models.Request{req("a", "remote", "", 0)})

	s, prev, ok := s.ApplyPatch("a", models.Patch{Prompt: models.Ptr("local")})
	require.True(t, ok)
	assert.Equal(t, "remote", prev.Prompt)
	got, _ := s.Get("a")
	assert.Equal(t, "local", got.Prompt)

	s = s.ApplySnapshot([]models.Request{req("a", "remote v2", "", 0)})
	got, _ = s.Get("a")
	assert.Equal(t, "remote v2", got.Prompt)
}

func TestState_PatchForUnknownIDIsDropped(t *testing.T) {
	s := NewState().ApplySnapshot(nil)
	next, _, ok := s.ApplyPatch("missing", models.Patch{Prompt: models.Ptr("x")})
	assert.False(t, ok)
	assert.Equal(t, 0, next.Len())
}

func TestState_PatchDoesNotMutatePreviousState(t *testing.T) {
	s1 := NewState().ApplySnapshot([]models.Request{req("a", "one", "", 0)})
	s2, _, _ := s1.ApplyPatch("a", models.Patch{Prompt: models.Ptr("two")})

	r1, _ := s1.Get("a")
	r2, _ := s2.Get("a")
	assert.Equal(t, "one", r1.Prompt)
	assert.Equal(t, "two", r2.Prompt)
}

func TestState_RestoreSkipsRemovedIDs(t *testing.T) {
	s := NewState().ApplySnapshot([]models.Request{req("a", "one", "", 0)})
	s, prev, _ := s.ApplyPatch("a", models.Patch{Prompt: models.Ptr("two")})

	restored := s.Restore(prev)
	got, _ := restored.Get("a")
	assert.Equal(t, "one", got.Prompt)

	gone := s.ApplySnapshot(nil).Restore(prev)
	assert.Equal(t, 0, gone.Len())
}

func TestState_DateBucketsUseCalendarKey(t *testing.T) {
	s := NewState().ApplySnapshot([]models.Request{
		req("late", "b", "2024-07-04", 23*time.Hour),
		req("early", "a", "2024-07-04", 0),
		req("other", "c", "2024-07-05", 0),
		req("undated", "d", "", 0),
	})

	july4 := s.ByDate("2024-07-04")
	require.Len(t, july4, 2)
	assert.Equal(t, "early", july4[0].ID)
	assert.Equal(t, "late", july4[1].ID)
	assert.Equal(t, []string{"2024-07-04", "2024-07-05"}, s.DateKeys())
	assert.NotContains(t, s.Buckets(), "")
}

func TestState_PatchMovesRequestBetweenBuckets(t *testing.T) {
	s := NewState().ApplySnapshot([]models.Request{req("a", "x", "2024-07-04", 0)})
	d := dates.MustParse("2024-07-09")
	s, _, _ = s.ApplyPatch("a", models.Patch{ScheduledDate: &d})

	assert.Empty(t, s.ByDate("2024-07-04"))
	assert.Len(t, s.ByDate("2024-07-09"), 1)
}

func TestState_FilterAndAllAreOrdered(t *testing.T) {
	a := req("a", "x", "", time.Hour)
	b := req("b", "y", "", 0)
	b.Status = models.StatusActive
	s := NewState().ApplySnapshot([]models.Request{a, b})

	all := s.All()
	assert.Equal(t, "b", all[0].ID)
	assert.Equal(t, "a", all[1].ID)

	active := s.Filter(models.Request.IsActive)
	require.Len(t, active, 1)
	assert.Equal(t, "b", active[0].ID)
}
