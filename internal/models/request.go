// Package models defines the request entity and the patches applied to it.
package models

import (
	"time"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/richtext"
)

// Status is the lifecycle state of a request.
type Status string

const (
	StatusDraft  Status = "draft"
	StatusActive Status = "active"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusActive
}

// SummaryStatus tracks the background summarization of a request.
type SummaryStatus string

const (
	SummaryIdle    SummaryStatus = "idle"
	SummaryPending SummaryStatus = "pending"
	SummaryReady   SummaryStatus = "ready"
	SummaryFailed  SummaryStatus = "failed"
)

// Valid reports whether s is a known summary status.
func (s SummaryStatus) Valid() bool {
	switch s {
	case SummaryIdle, SummaryPending, SummaryReady, SummaryFailed:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next follows the
// summarization state machine: idle -> pending -> ready|failed, and
// ready|failed -> pending. Staying put is always allowed. Once a request
// leaves idle it never returns there.
func (s SummaryStatus) CanTransition(next SummaryStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case SummaryIdle:
		return next == SummaryPending
	case SummaryPending:
		return next == SummaryReady || next == SummaryFailed
	case SummaryReady, SummaryFailed:
		return next == SummaryPending
	}
	return false
}

// Request is a data request owned by one user. Drafts are editable work in
// progress; active requests have been submitted and are scheduled.
type Request struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"ownerId"`
	Prompt        string          `json:"prompt"`
	PromptRich    *richtext.Node  `json:"promptRich,omitempty"`
	ScheduledDate *dates.Date     `json:"scheduledDate"`
	Repeat        recurrence.Rule `json:"repeat"`
	Status        Status          `json:"status"`
	Ephemeral     bool            `json:"ephemeral"`
	Summary       string          `json:"summary"`
	SummaryStatus SummaryStatus   `json:"summaryStatus"`
	Customer      string          `json:"customer,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	SubmittedAt   *time.Time      `json:"submittedAt,omitempty"`
}

// NewDraft returns an empty ephemeral draft.
func NewDraft(id, owner string, now time.Time) Request {
	return Request{
		ID:            id,
		OwnerID:       owner,
		Repeat:        recurrence.NoRepeat(),
		Status:        StatusDraft,
		Ephemeral:     true,
		SummaryStatus: SummaryIdle,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy of r.
func (r Request) Clone() Request {
	c := r
	c.PromptRich = r.PromptRich.Clone()
	if r.ScheduledDate != nil {
		d := *r.ScheduledDate
		c.ScheduledDate = &d
	}
	if r.Repeat.Anchor != nil {
		a := *r.Repeat.Anchor
		c.Repeat.Anchor = &a
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	return c
}

// DateKey returns the bucket key of the scheduled date.
func (r Request) DateKey() (string, bool) {
	if r.ScheduledDate == nil || r.ScheduledDate.IsZero() {
		return "", false
	}
	return r.ScheduledDate.Key(), true
}

// HasContent reports whether the user has typed a prompt or picked a date.
func (r Request) HasContent() bool {
	return r.Prompt != "" || (r.ScheduledDate != nil && !r.ScheduledDate.IsZero())
}

// IsUnusedEphemeral reports whether r is an ephemeral draft the user never
// touched.
func (r Request) IsUnusedEphemeral() bool {
	return r.Status == StatusDraft && r.Ephemeral && !r.HasContent()
}

// WasSubmitted reports whether r has ever been promoted.
func (r Request) WasSubmitted() bool {
	return r.SubmittedAt != nil
}

// IsDraft reports whether r is a draft.
func (r Request) IsDraft() bool { return r.Status == StatusDraft }

// IsActive reports whether r is active.
func (r Request) IsActive() bool { return r.Status == StatusActive }
