package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/newmanjulien/overbase/internal/dates"
	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/models"
	"github.com/newmanjulien/overbase/internal/recurrence"
)

// Draft holds the optional initial values of a new draft.
type Draft struct {
	// ID is allocated when empty.
	ID        string
	Ephemeral bool
	Fields    models.Patch
}

// CreateDraft writes a fully populated draft and returns the stored shape.
// A given ID must not exist yet.
func (ctl *Controller) CreateDraft(ctx context.Context, owner string, init Draft) (r models.Request, err error) {
	defer func() { ctl.record("create_draft", err) }()

	if err := init.Fields.Validate(); err != nil {
		return models.Request{}, err
	}
	fields := init.Fields.Derive()
	fields.Status = nil
	fields.SummaryStatus = nil
	fields.SubmittedAt = nil
	fields.UpdatedAt = nil
	fields.Ephemeral = nil

	if fields.ScheduledDate != nil {
		if err := ctl.validateLeadTime(*fields.ScheduledDate); err != nil {
			return models.Request{}, err
		}
	}

	id := init.ID
	if id == "" {
		id = ctl.newID()
	} else {
		_, err := ctl.store.Get(ctx, owner, id)
		switch {
		case err == nil:
			return models.Request{}, fmt.Errorf("%w: request %q", perrors.ErrConflict, id)
		case !errors.Is(err, perrors.ErrNotFound):
			return models.Request{}, err
		}
	}
	now := ctl.clock()
	r = models.NewDraft(id, owner, now)
	r.Ephemeral = init.Ephemeral
	if fields.Repeat != nil {
		anchored := anchorRepeat(*fields.Repeat, fields.ScheduledDate)
		fields.Repeat = &anchored
	}
	r = fields.Apply(r)

	stored := r
	stored.CreatedAt, stored.UpdatedAt = time.Time{}, time.Time{}
	doc, err := models.ToDocument(stored)
	if err != nil {
		return models.Request{}, err
	}

	if c := ctl.cacheFor(owner); c != nil {
		c.Insert(r)
	}
	if err := ctl.store.Set(ctx, owner, id, doc); err != nil {
		return r, perrors.RemoteWrite("create", id, err)
	}

	ctl.logger.Info().Str("owner_id", owner).Str("request_id", id).Bool("ephemeral", r.Ephemeral).Msg("Draft created")

	if raw, err := ctl.store.Get(ctx, owner, id); err == nil {
		if fresh, err := models.FromDocument(owner, id, raw); err == nil {
			return fresh, nil
		}
	}
	return r, nil
}

// EnsureDraft returns the id of the owner's unused ephemeral draft, creating
// one when none exists. Concurrent calls for one owner share a single
// lookup, and surplus ephemeral drafts left by other sessions are removed.
func (ctl *Controller) EnsureDraft(ctx context.Context, owner string) (string, error) {
	v, err, _ := ctl.drafts.Do(owner, func() (any, error) {
		// one caller's cancellation does not reach the shared lookup
		return ctl.ensureDraft(context.WithoutCancel(ctx), owner)
	})
	if err != nil {
		ctl.record("ensure_draft", err)
		return "", err
	}
	ctl.record("ensure_draft", nil)
	return v.(string), nil
}

func (ctl *Controller) ensureDraft(ctx context.Context, owner string) (string, error) {
	reqs, err := ctl.List(ctx, owner)
	if err != nil {
		return "", err
	}

	var unused []models.Request
	for _, r := range reqs {
		if !r.IsDraft() || !r.Ephemeral {
			continue
		}
		if r.HasContent() {
			// an ephemeral draft with content should have graduated already
			if err := ctl.write(ctx, owner, r.ID, models.Patch{Ephemeral: models.Ptr(false)}); err != nil {
				ctl.logger.Warn().Err(err).Str("owner_id", owner).Str("request_id", r.ID).Msg("Failed to graduate ephemeral draft")
			}
			continue
		}
		unused = append(unused, r)
	}

	if len(unused) == 0 {
		r, err := ctl.CreateDraft(ctx, owner, Draft{Ephemeral: true})
		if err != nil {
			return "", err
		}
		return r.ID, nil
	}

	// List is oldest first; keep the oldest.
	for _, extra := range unused[1:] {
		if _, err := ctl.cleanup(ctx, owner, extra.ID, "surplus"); err != nil {
			ctl.logger.Warn().Err(err).Str("owner_id", owner).Str("request_id", extra.ID).Msg("Failed to remove surplus ephemeral draft")
		}
	}
	return unused[0].ID, nil
}

// UpdateActive applies a field patch. It always bumps updatedAt, derives the
// plain-text prompt from promptRich, keeps the repeat rule anchored to the
// scheduled date, and graduates an ephemeral draft once it has content.
func (ctl *Controller) UpdateActive(ctx context.Context, owner, id string, p models.Patch) (err error) {
	defer func() { ctl.record("update", err) }()

	if err := p.Validate(); err != nil {
		return err
	}
	p = p.Derive()

	current, err := ctl.Get(ctx, owner, id)
	if err != nil {
		return err
	}

	if p.Status != nil && *p.Status != current.Status {
		return fmt.Errorf("%w: status changes go through promote and demote", perrors.ErrInvalidTransition)
	}
	if p.SummaryStatus != nil && !current.SummaryStatus.CanTransition(*p.SummaryStatus) {
		return fmt.Errorf("%w: summaryStatus %s -> %s", perrors.ErrInvalidTransition, current.SummaryStatus, *p.SummaryStatus)
	}

	if p.ScheduledDate != nil && !current.WasSubmitted() {
		changed := current.ScheduledDate == nil || *current.ScheduledDate != *p.ScheduledDate
		if changed {
			if err := ctl.validateLeadTime(*p.ScheduledDate); err != nil {
				return err
			}
		}
	}

	if p.TouchesSchedule() || p.Repeat != nil {
		p = withAnchoredRepeat(p, current)
	}

	if current.IsDraft() && current.Ephemeral && p.Ephemeral == nil && graduates(p) {
		p.Ephemeral = models.Ptr(false)
	}

	return ctl.write(ctx, owner, id, p)
}

// PromoteToActive submits a request. The prompt must already be saved. A
// request that has never been submitted must still meet the lead time.
func (ctl *Controller) PromoteToActive(ctx context.Context, owner, id string) (err error) {
	defer func() { ctl.record("promote", err) }()

	current, err := ctl.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if current.IsActive() {
		return nil
	}
	if current.Prompt == "" {
		return perrors.NewValidation(models.FieldPrompt, "a request needs a prompt before it is submitted")
	}
	if !current.WasSubmitted() && current.ScheduledDate != nil {
		if err := ctl.validateLeadTime(*current.ScheduledDate); err != nil {
			return err
		}
	}

	now := ctl.clock()
	p := models.Patch{
		Status:      models.Ptr(models.StatusActive),
		SubmittedAt: &now,
	}
	if current.Ephemeral {
		p.Ephemeral = models.Ptr(false)
	}
	if err := ctl.write(ctx, owner, id, p); err != nil {
		return err
	}
	ctl.logger.Info().Str("owner_id", owner).Str("request_id", id).Msg("Request submitted")
	return nil
}

// DemoteToDraft moves an active request back to draft. submittedAt is kept.
func (ctl *Controller) DemoteToDraft(ctx context.Context, owner, id string) (err error) {
	defer func() { ctl.record("demote", err) }()

	current, err := ctl.Get(ctx, owner, id)
	if err != nil {
		return err
	}
	if current.IsDraft() {
		return nil
	}
	if err := ctl.write(ctx, owner, id, models.Patch{Status: models.Ptr(models.StatusDraft)}); err != nil {
		return err
	}
	ctl.logger.Info().Str("owner_id", owner).Str("request_id", id).Msg("Request moved back to draft")
	return nil
}

// DeleteRequest permanently removes a request.
func (ctl *Controller) DeleteRequest(ctx context.Context, owner, id string) (err error) {
	defer func() { ctl.record("delete", err) }()
	return ctl.remove(ctx, owner, id)
}

// CleanupEphemeralIfUnused deletes id if it is still an ephemeral draft with
// neither a prompt nor a scheduled date. A missing request is not an error.
func (ctl *Controller) CleanupEphemeralIfUnused(ctx context.Context, owner, id string) (bool, error) {
	return ctl.cleanup(ctx, owner, id, "explicit")
}

// SweepEphemeral is CleanupEphemeralIfUnused as run by the background
// sweeper; it differs only in how the result is counted.
func (ctl *Controller) SweepEphemeral(ctx context.Context, owner, id string) (bool, error) {
	return ctl.cleanup(ctx, owner, id, "sweeper")
}

func (ctl *Controller) cleanup(ctx context.Context, owner, id, trigger string) (deleted bool, err error) {
	defer func() {
		result := "kept"
		switch {
		case err != nil:
			result = "error"
		case deleted:
			result = "deleted"
		}
		ctl.metrics.RecordCleanup(trigger, result)
	}()

	if c := ctl.cacheFor(owner); c != nil {
		if local, ok := c.Get(id); ok && !local.IsUnusedEphemeral() {
			return false, nil
		}
	}

	raw, err := ctl.store.Get(ctx, owner, id)
	if errors.Is(err, perrors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	current, err := models.FromDocument(owner, id, raw)
	if err != nil {
		return false, err
	}
	if !current.IsUnusedEphemeral() {
		return false, nil
	}

	if err := ctl.remove(ctx, owner, id); err != nil {
		if errors.Is(err, perrors.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	ctl.logger.Debug().Str("owner_id", owner).Str("request_id", id).Msg("Unused ephemeral draft removed")
	return true, nil
}

// write bumps updatedAt, patches the cache optimistically and sends the
// field merge. NotFound rolls the optimistic patch back; other failures
// leave it in place.
func (ctl *Controller) write(ctx context.Context, owner, id string, p models.Patch) error {
	now := ctl.clock()
	p.UpdatedAt = &now

	doc, err := models.PatchDocument(p)
	if err != nil {
		return err
	}

	var (
		prev    models.Request
		applied bool
	)
	c := ctl.cacheFor(owner)
	if c != nil {
		prev, applied = c.ApplyOptimistic(id, p)
	}

	err = ctl.store.Update(ctx, owner, id, doc)
	if err == nil {
		ctl.logger.Debug().Str("owner_id", owner).Str("request_id", id).Strs("fields", p.Fields()).Msg("Request updated")
		return nil
	}
	if errors.Is(err, perrors.ErrNotFound) {
		if applied {
			c.Rollback(prev)
		}
		return err
	}
	ctl.logger.Warn().Err(err).Str("owner_id", owner).Str("request_id", id).Msg("Remote write failed")
	return perrors.RemoteWrite("update", id, err)
}

func (ctl *Controller) remove(ctx context.Context, owner, id string) error {
	c := ctl.cacheFor(owner)
	if c != nil {
		c.Evict(id)
	}
	err := ctl.store.Delete(ctx, owner, id)
	if err == nil {
		ctl.logger.Info().Str("owner_id", owner).Str("request_id", id).Msg("Request deleted")
		return nil
	}
	if errors.Is(err, perrors.ErrNotFound) {
		return err
	}
	return perrors.RemoteWrite("delete", id, err)
}

// graduates reports whether a patch gives an ephemeral draft real content.
func graduates(p models.Patch) bool {
	return (p.Prompt != nil && *p.Prompt != "") || p.ScheduledDate != nil
}

// withAnchoredRepeat makes the patch carry a repeat rule anchored to the
// request's resulting scheduled date. An explicit anchor survives only while
// that date still falls on its cadence.
func withAnchoredRepeat(p models.Patch, current models.Request) models.Patch {
	date := current.ScheduledDate
	switch {
	case p.ScheduledDate != nil:
		date = p.ScheduledDate
	case p.ClearScheduledDate:
		date = nil
	}

	if p.Repeat != nil && onCadence(*p.Repeat, date) {
		rule := p.Repeat.Normalize()
		p.Repeat = &rule
		return p
	}

	rule := current.Repeat
	if p.Repeat != nil {
		rule = *p.Repeat
	}
	anchored := anchorRepeat(rule, date)
	if p.Repeat == nil && anchored.Equal(current.Repeat) {
		return p
	}
	p.Repeat = &anchored
	return p
}

// onCadence reports whether date is on or after rule's own anchor and is one
// of its occurrences.
func onCadence(rule recurrence.Rule, date *dates.Date) bool {
	if date == nil || rule.Anchor == nil || date.Before(*rule.Anchor) {
		return false
	}
	next, ok := recurrence.NextOccurrence(rule.Normalize(), *date)
	return ok && next.Compare(*date) == 0
}

// anchorRepeat rebuilds rule around date. Without a date nothing repeats.
func anchorRepeat(rule recurrence.Rule, date *dates.Date) recurrence.Rule {
	if date == nil || rule.Type == recurrence.None {
		return recurrence.NoRepeat()
	}
	if rule.Type == recurrence.Custom {
		return recurrence.MakeCustomRule(date, rule.Meta.Interval, rule.Meta.Unit)
	}
	return recurrence.MakeRule(rule.Type, date)
}
