package api

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/cache"
	"github.com/newmanjulien/overbase/internal/dates"
	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/models"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/requestid"
	"github.com/newmanjulien/overbase/internal/summarize"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	ctl     *lifecycle.Controller
	tracker *summarize.Tracker
	logger  zerolog.Logger
}

func newHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	return &Handlers{
		ctl:     deps.Controller,
		tracker: deps.Tracker,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// RequestView is a request as the API returns it.
type RequestView struct {
	models.Request
	RepeatLabel string `json:"repeatLabel"`
}

func view(r models.Request) RequestView {
	return RequestView{Request: r, RepeatLabel: recurrence.Describe(r.Repeat)}
}

func views(reqs []models.Request) []RequestView {
	out := make([]RequestView, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, view(r))
	}
	return out
}

// CalendarDay is one date bucket.
type CalendarDay struct {
	Date     string        `json:"date"`
	Requests []RequestView `json:"requests"`
}

// Cadences handles GET /api/v1/cadences.
func (h *Handlers) Cadences(c *fiber.Ctx) error {
	var anchor *dates.Date
	if raw := c.Query("anchor"); raw != "" {
		d, err := dates.Parse(raw)
		if err != nil {
			return perrors.NewValidation("anchor", err.Error())
		}
		anchor = &d
	}
	return c.JSON(fiber.Map{
		"options":         recurrence.Options(anchor),
		"minScheduleDate": h.ctl.MinScheduleDate().Key(),
		"leadDays":        h.ctl.LeadDays(),
	})
}

// CreateDraft handles POST /api/v1/owners/:owner/requests.
func (h *Handlers) CreateDraft(c *fiber.Ctx) error {
	draft, err := decodeDraft(c.Body())
	if err != nil {
		return err
	}
	r, err := h.ctl.CreateDraft(c.UserContext(), c.Params("owner"), draft)
	if err != nil {
		return err
	}
	c.Location(c.Path() + "/" + r.ID)
	return c.Status(fiber.StatusCreated).JSON(view(r))
}

// decodeDraft reads the creation body: the patchable fields plus an
// optional id and ephemeral flag.
func decodeDraft(body []byte) (lifecycle.Draft, error) {
	var d lifecycle.Draft
	if len(strings.TrimSpace(string(body))) == 0 {
		return d, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return d, perrors.NewValidation("", "body must be a JSON object")
	}
	if raw, ok := fields["id"]; ok {
		if err := json.Unmarshal(raw, &d.ID); err != nil {
			return d, perrors.NewValidation("id", err.Error())
		}
		delete(fields, "id")
	}
	if raw, ok := fields["ephemeral"]; ok {
		if err := json.Unmarshal(raw, &d.Ephemeral); err != nil {
			return d, perrors.NewValidation("ephemeral", err.Error())
		}
		delete(fields, "ephemeral")
	}
	rest, err := json.Marshal(fields)
	if err != nil {
		return d, err
	}
	d.Fields, err = models.DecodePatch(rest)
	return d, err
}

// EnsureDraft handles POST /api/v1/owners/:owner/requests/ensure-draft.
func (h *Handlers) EnsureDraft(c *fiber.Ctx) error {
	id, err := h.ctl.EnsureDraft(c.UserContext(), c.Params("owner"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"id": id})
}

// ListRequests handles GET /api/v1/owners/:owner/requests.
func (h *Handlers) ListRequests(c *fiber.Ctx) error {
	keep, err := statusFilter(c.Query("status"))
	if err != nil {
		return err
	}
	reqs, err := h.ctl.List(c.UserContext(), c.Params("owner"))
	if err != nil {
		return err
	}
	out := make([]models.Request, 0, len(reqs))
	for _, r := range reqs {
		if keep(r) {
			out = append(out, r)
		}
	}
	return c.JSON(fiber.Map{"requests": views(out), "count": len(out)})
}

func statusFilter(raw string) (func(models.Request) bool, error) {
	if raw == "" {
		return func(models.Request) bool { return true }, nil
	}
	s := models.Status(raw)
	if !s.Valid() {
		return nil, perrors.NewValidation("status", "must be draft or active")
	}
	return func(r models.Request) bool { return r.Status == s }, nil
}

// Calendar handles GET /api/v1/owners/:owner/calendar. Days come in
// calendar order; requests within a day oldest first.
func (h *Handlers) Calendar(c *fiber.Ctx) error {
	keep, err := statusFilter(c.Query("status"))
	if err != nil {
		return err
	}
	reqs, err := h.ctl.List(c.UserContext(), c.Params("owner"))
	if err != nil {
		return err
	}
	var filtered []models.Request
	for _, r := range reqs {
		if keep(r) {
			filtered = append(filtered, r)
		}
	}
	state := cache.NewState().ApplySnapshot(filtered)
	days := make([]CalendarDay, 0)
	for _, key := range state.DateKeys() {
		days = append(days, CalendarDay{Date: key, Requests: views(state.ByDate(key))})
	}
	return c.JSON(fiber.Map{"days": days})
}

// GetRequest handles GET /api/v1/owners/:owner/requests/:id.
func (h *Handlers) GetRequest(c *fiber.Ctx) error {
	r, err := h.ctl.Get(c.UserContext(), c.Params("owner"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(view(r))
}

// Occurrences handles GET /api/v1/owners/:owner/requests/:id/occurrences.
func (h *Handlers) Occurrences(c *fiber.Ctx) error {
	n := c.QueryInt("n", 5)
	if n < 1 || n > 100 {
		return perrors.NewValidation("n", "must be between 1 and 100")
	}
	r, err := h.ctl.Get(c.UserContext(), c.Params("owner"), c.Params("id"))
	if err != nil {
		return err
	}
	from := h.ctl.Today()
	if r.ScheduledDate != nil {
		from = dates.Max(from, *r.ScheduledDate)
	}
	keys := make([]string, 0, n)
	if r.Repeat.Repeats() {
		for _, d := range recurrence.Occurrences(r.Repeat, from, n) {
			keys = append(keys, d.Key())
		}
	} else if r.ScheduledDate != nil {
		keys = append(keys, r.ScheduledDate.Key())
	}
	return c.JSON(fiber.Map{"occurrences": keys, "repeatLabel": recurrence.Describe(r.Repeat)})
}

// UpdateRequest handles PATCH /api/v1/owners/:owner/requests/:id.
func (h *Handlers) UpdateRequest(c *fiber.Ctx) error {
	p, err := models.DecodePatch(c.Body())
	if err != nil {
		return err
	}
	if err := h.ctl.UpdateActive(c.UserContext(), c.Params("owner"), c.Params("id"), p); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Submit handles POST /api/v1/owners/:owner/requests/:id/submit.
func (h *Handlers) Submit(c *fiber.Ctx) error {
	owner, id := c.Params("owner"), c.Params("id")
	if err := h.ctl.PromoteToActive(c.UserContext(), owner, id); err != nil {
		return err
	}
	if h.tracker != nil && c.QueryBool("summarize", true) {
		h.tracker.Start(c.UserContext(), owner, id, "")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unsubmit handles POST /api/v1/owners/:owner/requests/:id/unsubmit.
func (h *Handlers) Unsubmit(c *fiber.Ctx) error {
	if err := h.ctl.DemoteToDraft(c.UserContext(), c.Params("owner"), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// DeleteRequest handles DELETE /api/v1/owners/:owner/requests/:id.
func (h *Handlers) DeleteRequest(c *fiber.Ctx) error {
	if err := h.ctl.DeleteRequest(c.UserContext(), c.Params("owner"), c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Cleanup handles POST /api/v1/owners/:owner/requests/:id/cleanup.
func (h *Handlers) Cleanup(c *fiber.Ctx) error {
	deleted, err := h.ctl.CleanupEphemeralIfUnused(c.UserContext(), c.Params("owner"), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}

type summarizeBody struct {
	Text string `json:"text"`
}

// Summarize handles POST /api/v1/owners/:owner/requests/:id/summarize. The
// summary is produced in the background; clients watch summaryStatus.
func (h *Handlers) Summarize(c *fiber.Ctx) error {
	if h.tracker == nil {
		return problemResponse(c, fiber.StatusServiceUnavailable,
			"summarizer_disabled", "Service Unavailable", "No summarizer configured")
	}
	var body summarizeBody
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return perrors.NewValidation("", "body must be a JSON object")
		}
	}

	owner, id := c.Params("owner"), c.Params("id")
	r, err := h.ctl.Get(c.UserContext(), owner, id)
	if err != nil {
		return err
	}
	text := body.Text
	if text == "" {
		text = r.Prompt
	}
	if strings.TrimSpace(text) == "" {
		return perrors.NewValidation(models.FieldPrompt, "nothing to summarize")
	}

	h.tracker.Start(c.UserContext(), owner, id, text)
	requestid.Logger(c.UserContext(), h.logger).Debug().
		Str("owner_id", owner).
		Str("request_id", id).
		Msg("Summarization started")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id":            id,
		"summaryStatus": models.SummaryPending,
	})
}
