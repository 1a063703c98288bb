package models

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/docstore"
	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/richtext"
)

func TestSummaryStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to SummaryStatus
		ok       bool
	}{
		{SummaryIdle, SummaryPending, true},
		{SummaryIdle, SummaryReady, false},
		{SummaryPending, SummaryReady, true},
		{SummaryPending, SummaryFailed, true},
		{SummaryReady, SummaryPending, true},
		{SummaryFailed, SummaryPending, true},
		{SummaryReady, SummaryIdle, false},
		{SummaryFailed, SummaryIdle, false},
		{SummaryPending, SummaryIdle, false},
		{SummaryReady, SummaryReady, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNewDraft_Defaults(t *testing.T) {
	now := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	r := NewDraft("r1", "u1", now)

	assert.Equal(t, StatusDraft, r.Status)
	assert.Equal(t, SummaryIdle, r.SummaryStatus)
	assert.True(t, r.Ephemeral)
	assert.Equal(t, recurrence.None, r.Repeat.Type)
	assert.True(t, r.IsUnusedEphemeral())
}

func TestRequest_IsUnusedEphemeral(t *testing.T) {
	r := NewDraft("r1", "u1", time.Now())
	r.Prompt = "weekly churn numbers"
	assert.False(t, r.IsUnusedEphemeral())

	r = NewDraft("r1", "u1", time.Now())
	d := dates.New(2024, 7, 4)
	r.ScheduledDate = &d
	assert.False(t, r.IsUnusedEphemeral())

	r = NewDraft("r1", "u1", time.Now())
	r.Status = StatusActive
	assert.False(t, r.IsUnusedEphemeral())
}

func TestPatch_DeriveFromRichText(t *testing.T) {
	doc := richtext.Doc("Revenue by region", "for Q3")
	p := Patch{PromptRich: doc}.Derive()

	require.NotNil(t, p.Prompt)
	assert.Equal(t, "Revenue by region\nfor Q3", *p.Prompt)
	assert.False(t, p.ClearPromptRich)
}

func TestPatch_DerivePlainPromptClearsRich(t *testing.T) {
	p := Patch{Prompt: Ptr("plain")}.Derive()
	assert.True(t, p.ClearPromptRich)

	r := NewDraft("r1", "u1", time.Now())
	r.PromptRich = richtext.Doc("old")
	r.Prompt = "old"

	out := p.Apply(r)
	assert.Equal(t, "plain", out.Prompt)
	assert.Nil(t, out.PromptRich)
}

func TestPatch_ApplyDoesNotMutateInput(t *testing.T) {
	d := dates.New(2024, 7, 4)
	r := NewDraft("r1", "u1", time.Now())
	r.ScheduledDate = &d

	out := Patch{ClearScheduledDate: true, Status: Ptr(StatusActive)}.Apply(r)

	assert.Nil(t, out.ScheduledDate)
	assert.Equal(t, StatusActive, out.Status)
	require.NotNil(t, r.ScheduledDate)
	assert.Equal(t, StatusDraft, r.Status)
}

func TestPatch_MergeLaterWins(t *testing.T) {
	d := dates.New(2024, 7, 4)
	p := Patch{Prompt: Ptr("a"), ScheduledDate: &d}
	p = p.Merge(Patch{Prompt: Ptr("b"), ClearScheduledDate: true})

	assert.Equal(t, "b", *p.Prompt)
	assert.Nil(t, p.ScheduledDate)
	assert.True(t, p.ClearScheduledDate)
}

func TestPatch_IsEmpty(t *testing.T) {
	assert.True(t, Patch{}.IsEmpty())
	assert.False(t, Patch{ClearPromptRich: true}.IsEmpty())
	assert.False(t, Patch{Customer: Ptr("Acme")}.IsEmpty())
}

func TestDecodePatch(t *testing.T) {
	p, err := DecodePatch([]byte(`{"prompt":"hi","scheduledDate":"2024-07-04","repeat":{"type":"weekly","anchor":"2024-07-04"}}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", *p.Prompt)
	assert.Equal(t, "2024-07-04", p.ScheduledDate.Key())
	assert.Equal(t, recurrence.Weekly, p.Repeat.Type)

	p, err = DecodePatch([]byte(`{"scheduledDate":null,"promptRich":null}`))
	require.NoError(t, err)
	assert.True(t, p.ClearScheduledDate)
	assert.True(t, p.ClearPromptRich)
}

func TestDecodePatch_Rejects(t *testing.T) {
	cases := []string{
		`[]`,
		`{"id":"x"}`,
		`{"status":"deleted"}`,
		`{"summaryStatus":"done"}`,
		`{"scheduledDate":"07/04/2024"}`,
		`{"prompt":null}`,
	}
	for _, c := range cases {
		_, err := DecodePatch([]byte(c))
		assert.ErrorIs(t, err, perrors.ErrValidation, c)
	}
}

func TestDocument_RoundTripThroughStore(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	defer store.Close()

	d := dates.New(2024, 7, 4)
	rule := recurrence.MakeRule(recurrence.Weekly, &d)
	submitted := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	r := Request{
		ID:            "r1",
		OwnerID:       "u1",
		PromptRich:    richtext.Doc("Churn by cohort"),
		ScheduledDate: &d,
		Repeat:        rule,
		Status:        StatusActive,
		Summary:       "churn",
		SummaryStatus: SummaryReady,
		Customer:      "Acme",
		SubmittedAt:   &submitted,
	}

	doc, err := ToDocument(r)
	require.NoError(t, err)
	assert.Equal(t, "2024-07-04", doc[FieldScheduledDate])
	assert.True(t, docstore.IsServerTimestamp(doc[FieldCreatedAt]))

	ctx := t.Context()
	require.NoError(t, store.Set(ctx, "u1", "r1", doc))
	stored, err := store.Get(ctx, "u1", "r1")
	require.NoError(t, err)

	got, err := FromDocument("u1", "r1", stored)
	require.NoError(t, err)
	assert.Equal(t, "Churn by cohort", got.Prompt)
	assert.Equal(t, d, *got.ScheduledDate)
	assert.True(t, rule.Equal(got.Repeat))
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, SummaryReady, got.SummaryStatus)
	assert.Equal(t, "Acme", got.Customer)
	assert.False(t, got.CreatedAt.IsZero())
	require.NotNil(t, got.SubmittedAt)
	assert.True(t, submitted.Equal(*got.SubmittedAt))
}

func TestFromDocument_Defaults(t *testing.T) {
	got, err := FromDocument("u1", "r1", docstore.Document{})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
	assert.Equal(t, SummaryIdle, got.SummaryStatus)
	assert.Equal(t, recurrence.None, got.Repeat.Type)
	assert.Nil(t, got.ScheduledDate)
}

func TestFromDocument_BadDate(t *testing.T) {
	_, err := FromDocument("u1", "r1", docstore.Document{FieldScheduledDate: "soon"})
	assert.Error(t, err)
}

func TestPatchDocument_ClearsAndStamps(t *testing.T) {
	now := time.Now()
	doc, err := PatchDocument(Patch{ClearScheduledDate: true, ClearPromptRich: true, UpdatedAt: &now})
	require.NoError(t, err)

	v, ok := doc[FieldScheduledDate]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Contains(t, doc, FieldPromptRich)
	assert.True(t, docstore.IsServerTimestamp(doc[FieldUpdatedAt]))
}
