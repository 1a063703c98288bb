// Package lifecycle owns every write to a request: creation, edits,
// promotion, demotion, deletion and ephemeral cleanup.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/newmanjulien/overbase/internal/cache"
	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/docstore"
	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
)

// Controller writes requests through an optional session cache to the
// document store.
type Controller struct {
	store    docstore.Store
	cache    *cache.Cache
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
	loc      *time.Location
	leadDays int
	newID    func() string

	drafts singleflight.Group
}

// Option configures a Controller.
type Option func(*Controller)

// WithCache routes reads and optimistic patches for the cache's owner
// through c.
func WithCache(c *cache.Cache) Option {
	return func(ctl *Controller) { ctl.cache = c }
}

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(ctl *Controller) { ctl.clock = clock }
}

// WithLocation sets the zone used to decide what "today" is.
func WithLocation(loc *time.Location) Option {
	return func(ctl *Controller) {
		if loc != nil {
			ctl.loc = loc
		}
	}
}

// WithLeadDays sets the minimum lead time for new scheduled dates.
func WithLeadDays(days int) Option {
	return func(ctl *Controller) {
		if days >= 0 {
			ctl.leadDays = days
		}
	}
}

// WithMetrics records operation counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ctl *Controller) { ctl.metrics = m }
}

// WithIDGenerator overrides the id allocator.
func WithIDGenerator(fn func() string) Option {
	return func(ctl *Controller) { ctl.newID = fn }
}

// New creates a controller.
func New(store docstore.Store, logger zerolog.Logger, opts ...Option) *Controller {
	ctl := &Controller{
		store:    store,
		logger:   logger.With().Str("component", "lifecycle").Logger(),
		clock:    time.Now,
		loc:      time.Local,
		leadDays: dates.DefaultLeadDays,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(ctl)
	}
	return ctl
}

// Today returns the current calendar date in the controller's location.
func (ctl *Controller) Today() dates.Date {
	return dates.Today(ctl.clock(), ctl.loc)
}

// LeadDays returns the configured minimum lead time.
func (ctl *Controller) LeadDays() int { return ctl.leadDays }

// MinScheduleDate returns the earliest date a new request may be scheduled on.
func (ctl *Controller) MinScheduleDate() dates.Date {
	return dates.MinScheduleDate(ctl.Today(), ctl.leadDays)
}

// Get returns one request, preferring the session cache.
func (ctl *Controller) Get(ctx context.Context, owner, id string) (models.Request, error) {
	if c := ctl.cacheFor(owner); c != nil {
		return c.LoadOne(ctx, id)
	}
	doc, err := ctl.store.Get(ctx, owner, id)
	if err != nil {
		return models.Request{}, err
	}
	return models.FromDocument(owner, id, doc)
}

// List returns every request of owner, oldest first.
func (ctl *Controller) List(ctx context.Context, owner string) ([]models.Request, error) {
	if c := ctl.cacheFor(owner); c != nil && c.State().Loaded() {
		return c.All(), nil
	}
	docs, err := ctl.store.List(ctx, owner)
	if err != nil {
		return nil, err
	}
	reqs := make([]models.Request, 0, len(docs))
	for id, doc := range docs {
		r, err := models.FromDocument(owner, id, doc)
		if err != nil {
			ctl.logger.Warn().Err(err).Str("owner_id", owner).Str("request_id", id).Msg("Skipping unreadable request")
			continue
		}
		reqs = append(reqs, r)
	}
	return cache.NewState().ApplySnapshot(reqs).All(), nil
}

func (ctl *Controller) cacheFor(owner string) *cache.Cache {
	if ctl.cache != nil && ctl.cache.Owner() == owner {
		return ctl.cache
	}
	return nil
}

func (ctl *Controller) validateLeadTime(d dates.Date) error {
	today := ctl.Today()
	if dates.MeetsLeadTime(d, today, ctl.leadDays) {
		return nil
	}
	earliest := dates.MinScheduleDate(today, ctl.leadDays)
	return perrors.NewValidation(models.FieldScheduledDate,
		fmt.Sprintf("%s is too soon, earliest allowed date is %s", d.Key(), earliest.Key()))
}

func (ctl *Controller) record(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, perrors.ErrValidation):
		result = "invalid"
	case errors.Is(err, perrors.ErrNotFound):
		result = "not_found"
	case errors.Is(err, perrors.ErrInvalidTransition):
		result = "conflict"
	default:
		result = "error"
	}
	ctl.metrics.RecordLifecycle(op, result)
}
