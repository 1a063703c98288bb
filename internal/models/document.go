package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/richtext"
)

// Stored field names.
const (
	FieldPrompt        = "prompt"
	FieldPromptRich    = "promptRich"
	FieldScheduledDate = "scheduledDate"
	FieldRepeat        = "repeat"
	FieldStatus        = "status"
	FieldEphemeral     = "ephemeral"
	FieldSummary       = "summary"
	FieldSummaryStatus = "summaryStatus"
	FieldCustomer      = "customer"
	FieldCreatedAt     = "createdAt"
	FieldUpdatedAt     = "updatedAt"
	FieldSubmittedAt   = "submittedAt"
)

// ToDocument converts r into its stored form. Zero CreatedAt and UpdatedAt
// become server timestamps.
func ToDocument(r Request) (docstore.Document, error) {
	doc := docstore.Document{
		FieldPrompt:        r.Prompt,
		FieldStatus:        string(r.Status),
		FieldEphemeral:     r.Ephemeral,
		FieldSummary:       r.Summary,
		FieldSummaryStatus: string(r.SummaryStatus),
		FieldCustomer:      r.Customer,
		FieldCreatedAt:     timestampValue(r.CreatedAt),
		FieldUpdatedAt:     timestampValue(r.UpdatedAt),
	}
	if r.PromptRich != nil {
		rich, err := r.PromptRich.Value()
		if err != nil {
			return nil, fmt.Errorf("encode promptRich: %w", err)
		}
		doc[FieldPromptRich] = rich
		doc[FieldPrompt] = richtext.PlainText(r.PromptRich)
	}
	if r.ScheduledDate != nil && !r.ScheduledDate.IsZero() {
		doc[FieldScheduledDate] = r.ScheduledDate.Key()
	}
	repeat, err := ruleValue(r.Repeat)
	if err != nil {
		return nil, err
	}
	doc[FieldRepeat] = repeat
	if r.SubmittedAt != nil {
		doc[FieldSubmittedAt] = r.SubmittedAt.UTC().Format(time.RFC3339Nano)
	}
	return doc, nil
}

// PatchDocument converts p into a field merge. Cleared fields map to nil;
// UpdatedAt and SubmittedAt always become server timestamps.
func PatchDocument(p Patch) (docstore.Document, error) {
	doc := docstore.Document{}
	if p.Prompt != nil {
		doc[FieldPrompt] = *p.Prompt
	}
	if p.PromptRich != nil {
		rich, err := p.PromptRich.Value()
		if err != nil {
			return nil, fmt.Errorf("encode promptRich: %w", err)
		}
		doc[FieldPromptRich] = rich
	} else if p.ClearPromptRich {
		doc[FieldPromptRich] = nil
	}
	if p.ScheduledDate != nil {
		doc[FieldScheduledDate] = p.ScheduledDate.Key()
	} else if p.ClearScheduledDate {
		doc[FieldScheduledDate] = nil
	}
	if p.Repeat != nil {
		repeat, err := ruleValue(*p.Repeat)
		if err != nil {
			return nil, err
		}
		doc[FieldRepeat] = repeat
	}
	if p.Status != nil {
		doc[FieldStatus] = string(*p.Status)
	}
	if p.Ephemeral != nil {
		doc[FieldEphemeral] = *p.Ephemeral
	}
	if p.Summary != nil {
		doc[FieldSummary] = *p.Summary
	}
	if p.SummaryStatus != nil {
		doc[FieldSummaryStatus] = string(*p.SummaryStatus)
	}
	if p.Customer != nil {
		doc[FieldCustomer] = *p.Customer
	}
	if p.SubmittedAt != nil {
		doc[FieldSubmittedAt] = docstore.ServerTimestamp
	}
	if p.UpdatedAt != nil {
		doc[FieldUpdatedAt] = docstore.ServerTimestamp
	}
	return doc, nil
}

// FromDocument reads a stored document. Missing fields take their defaults
// and prompt is recomputed from promptRich when both are present.
func FromDocument(owner, id string, doc docstore.Document) (Request, error) {
	r := Request{
		ID:            id,
		OwnerID:       owner,
		Prompt:        stringField(doc, FieldPrompt),
		Status:        Status(stringField(doc, FieldStatus)),
		Summary:       stringField(doc, FieldSummary),
		SummaryStatus: SummaryStatus(stringField(doc, FieldSummaryStatus)),
		Customer:      stringField(doc, FieldCustomer),
		Repeat:        recurrence.NoRepeat(),
	}
	if !r.Status.Valid() {
		r.Status = StatusDraft
	}
	if !r.SummaryStatus.Valid() {
		r.SummaryStatus = SummaryIdle
	}
	if b, ok := doc[FieldEphemeral].(bool); ok {
		r.Ephemeral = b
	}

	if v, ok := doc[FieldPromptRich]; ok && v != nil {
		rich, err := richtext.FromValue(v)
		if err != nil {
			return Request{}, fmt.Errorf("request %s: %w", id, err)
		}
		r.PromptRich = rich
		r.Prompt = richtext.PlainText(rich)
	}

	if s := stringField(doc, FieldScheduledDate); s != "" {
		d, err := dates.Parse(s)
		if err != nil {
			return Request{}, fmt.Errorf("request %s: scheduledDate: %w", id, err)
		}
		r.ScheduledDate = &d
	}

	if v, ok := doc[FieldRepeat]; ok && v != nil {
		rule, err := ruleFromValue(v)
		if err != nil {
			return Request{}, fmt.Errorf("request %s: repeat: %w", id, err)
		}
		r.Repeat = rule
	}

	r.CreatedAt = timeField(doc, FieldCreatedAt)
	r.UpdatedAt = timeField(doc, FieldUpdatedAt)
	if t := timeField(doc, FieldSubmittedAt); !t.IsZero() {
		r.SubmittedAt = &t
	}
	return r, nil
}

func timestampValue(t time.Time) any {
	if t.IsZero() {
		return docstore.ServerTimestamp
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func ruleValue(r recurrence.Rule) (map[string]any, error) {
	raw, err := json.Marshal(r.Normalize())
	if err != nil {
		return nil, fmt.Errorf("encode repeat: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("encode repeat: %w", err)
	}
	return out, nil
}

func ruleFromValue(v any) (recurrence.Rule, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return recurrence.Rule{}, err
	}
	var rule recurrence.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return recurrence.Rule{}, err
	}
	return rule.Normalize(), nil
}

func stringField(doc docstore.Document, key string) string {
	s, _ := doc[key].(string)
	return s
}

func timeField(doc docstore.Document, key string) time.Time {
	switch v := doc[key].(type) {
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}
		}
		return t
	case time.Time:
		return v
	}
	return time.Time{}
}
