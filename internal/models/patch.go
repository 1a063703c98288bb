package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/newmanjulien/overbase/internal/dates"
	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/richtext"
)

// Patch is a partial update. Nil fields are left alone; the Clear flags
// remove optional fields.
type Patch struct {
	Prompt             *string
	PromptRich         *richtext.Node
	ClearPromptRich    bool
	ScheduledDate      *dates.Date
	ClearScheduledDate bool
	Repeat             *recurrence.Rule
	Status             *Status
	Ephemeral          *bool
	Summary            *string
	SummaryStatus      *SummaryStatus
	Customer           *string
	SubmittedAt        *time.Time
	UpdatedAt          *time.Time
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.Prompt == nil && p.PromptRich == nil && !p.ClearPromptRich &&
		p.ScheduledDate == nil && !p.ClearScheduledDate && p.Repeat == nil &&
		p.Status == nil && p.Ephemeral == nil && p.Summary == nil &&
		p.SummaryStatus == nil && p.Customer == nil && p.SubmittedAt == nil &&
		p.UpdatedAt == nil
}

// TouchesPrompt reports whether the patch writes prompt or promptRich.
func (p Patch) TouchesPrompt() bool {
	return p.Prompt != nil || p.PromptRich != nil || p.ClearPromptRich
}

// TouchesSchedule reports whether the patch writes the scheduled date.
func (p Patch) TouchesSchedule() bool {
	return p.ScheduledDate != nil || p.ClearScheduledDate
}

// Derive fills in the plain-text prompt from promptRich. A plain prompt
// written without rich content clears promptRich so the two never disagree.
func (p Patch) Derive() Patch {
	switch {
	case p.PromptRich != nil:
		text := richtext.PlainText(p.PromptRich)
		p.Prompt = &text
		p.ClearPromptRich = false
	case p.Prompt != nil:
		p.ClearPromptRich = true
	}
	return p
}

// Merge returns p with every field set in next layered on top.
func (p Patch) Merge(next Patch) Patch {
	if next.Prompt != nil {
		p.Prompt = next.Prompt
	}
	if next.PromptRich != nil {
		p.PromptRich = next.PromptRich
		p.ClearPromptRich = false
	}
	if next.ClearPromptRich {
		p.PromptRich = nil
		p.ClearPromptRich = true
	}
	if next.ScheduledDate != nil {
		p.ScheduledDate = next.ScheduledDate
		p.ClearScheduledDate = false
	}
	if next.ClearScheduledDate {
		p.ScheduledDate = nil
		p.ClearScheduledDate = true
	}
	if next.Repeat != nil {
		p.Repeat = next.Repeat
	}
	if next.Status != nil {
		p.Status = next.Status
	}
	if next.Ephemeral != nil {
		p.Ephemeral = next.Ephemeral
	}
	if next.Summary != nil {
		p.Summary = next.Summary
	}
	if next.SummaryStatus != nil {
		p.SummaryStatus = next.SummaryStatus
	}
	if next.Customer != nil {
		p.Customer = next.Customer
	}
	if next.SubmittedAt != nil {
		p.SubmittedAt = next.SubmittedAt
	}
	if next.UpdatedAt != nil {
		p.UpdatedAt = next.UpdatedAt
	}
	return p
}

// Apply returns a copy of r with the patch merged in.
func (p Patch) Apply(r Request) Request {
	out := r.Clone()
	if p.Prompt != nil {
		out.Prompt = *p.Prompt
	}
	if p.PromptRich != nil {
		out.PromptRich = p.PromptRich.Clone()
	} else if p.ClearPromptRich {
		out.PromptRich = nil
	}
	if p.ScheduledDate != nil {
		d := *p.ScheduledDate
		out.ScheduledDate = &d
	} else if p.ClearScheduledDate {
		out.ScheduledDate = nil
	}
	if p.Repeat != nil {
		out.Repeat = p.Repeat.Normalize()
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.Ephemeral != nil {
		out.Ephemeral = *p.Ephemeral
	}
	if p.Summary != nil {
		out.Summary = *p.Summary
	}
	if p.SummaryStatus != nil {
		out.SummaryStatus = *p.SummaryStatus
	}
	if p.Customer != nil {
		out.Customer = *p.Customer
	}
	if p.SubmittedAt != nil {
		t := *p.SubmittedAt
		out.SubmittedAt = &t
	}
	if p.UpdatedAt != nil {
		out.UpdatedAt = *p.UpdatedAt
	}
	return out
}

// Validate checks enumerated fields.
func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return perrors.NewValidation("status", fmt.Sprintf("unknown status %q", *p.Status))
	}
	if p.SummaryStatus != nil && !p.SummaryStatus.Valid() {
		return perrors.NewValidation("summaryStatus", fmt.Sprintf("unknown summary status %q", *p.SummaryStatus))
	}
	if p.Repeat != nil && !p.Repeat.Type.Valid() {
		return perrors.NewValidation("repeat", fmt.Sprintf("unknown repeat type %q", p.Repeat.Type))
	}
	if p.ScheduledDate != nil && p.ScheduledDate.IsZero() {
		return perrors.NewValidation("scheduledDate", "zero date")
	}
	return nil
}

// Fields lists the names of the fields the patch writes, for logging.
func (p Patch) Fields() []string {
	var f []string
	add := func(set bool, name string) {
		if set {
			f = append(f, name)
		}
	}
	add(p.Prompt != nil, "prompt")
	add(p.PromptRich != nil || p.ClearPromptRich, "promptRich")
	add(p.TouchesSchedule(), "scheduledDate")
	add(p.Repeat != nil, "repeat")
	add(p.Status != nil, "status")
	add(p.Ephemeral != nil, "ephemeral")
	add(p.Summary != nil, "summary")
	add(p.SummaryStatus != nil, "summaryStatus")
	add(p.Customer != nil, "customer")
	add(p.SubmittedAt != nil, "submittedAt")
	add(p.UpdatedAt != nil, "updatedAt")
	return f
}

// DecodePatch parses a JSON merge patch. An explicit null clears
// promptRich and scheduledDate; unknown fields are rejected.
func DecodePatch(raw []byte) (Patch, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Patch{}, perrors.NewValidation("", "body must be a JSON object")
	}

	var p Patch
	for name, value := range fields {
		isNull := strings.TrimSpace(string(value)) == "null"
		var err error
		switch name {
		case "prompt":
			p.Prompt, err = decodeField[string](value)
		case "promptRich":
			if isNull {
				p.ClearPromptRich = true
				continue
			}
			p.PromptRich, err = richtext.Parse(value)
		case "scheduledDate":
			if isNull {
				p.ClearScheduledDate = true
				continue
			}
			p.ScheduledDate, err = decodeField[dates.Date](value)
		case "repeat":
			p.Repeat, err = decodeField[recurrence.Rule](value)
		case "summary":
			p.Summary, err = decodeField[string](value)
		case "summaryStatus":
			p.SummaryStatus, err = decodeField[SummaryStatus](value)
		case "customer":
			p.Customer, err = decodeField[string](value)
		default:
			return Patch{}, perrors.NewValidation(name, "unknown or read-only field")
		}
		if err != nil {
			return Patch{}, perrors.NewValidation(name, err.Error())
		}
	}
	return p, p.Validate()
}

func decodeField[T any](raw json.RawMessage) (*T, error) {
	if strings.TrimSpace(string(raw)) == "null" {
		return nil, fmt.Errorf("must not be null")
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// Ptr returns a pointer to v, for building patches.
func Ptr[T any](v T) *T {
	return &v
}
