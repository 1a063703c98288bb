// Package scheduler delivers active requests when their scheduled date comes
// up and rolls recurring requests forward to their next occurrence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/lru"
)

// Delivery is one due occurrence of a request.
type Delivery struct {
	Request    models.Request
	Occurrence dates.Date
}

// Key identifies the occurrence across ticks.
func (d Delivery) Key() string {
	return d.Request.ID + "@" + d.Occurrence.Key()
}

// Dispatcher hands a due request to whatever fulfils it.
type Dispatcher interface {
	Dispatch(ctx context.Context, d Delivery) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, d Delivery) error

func (f DispatcherFunc) Dispatch(ctx context.Context, d Delivery) error { return f(ctx, d) }

// LogDispatcher records deliveries in the log only.
type LogDispatcher struct {
	Logger zerolog.Logger
}

func (l LogDispatcher) Dispatch(_ context.Context, d Delivery) error {
	l.Logger.Info().
		Str("owner_id", d.Request.OwnerID).
		Str("request_id", d.Request.ID).
		Str("occurrence", d.Occurrence.Key()).
		Str("repeat", recurrence.Describe(d.Request.Repeat)).
		Msg("Request due")
	return nil
}

// DeliveryLog durably claims an occurrence. MarkDelivered reports false when
// the occurrence was already claimed, possibly by another process.
type DeliveryLog interface {
	MarkDelivered(ctx context.Context, owner, requestID, occurrence string) (bool, error)
}

// Config controls the scheduler loop.
type Config struct {
	Interval time.Duration
	// SeenCapacity bounds the in-memory set of handled occurrences.
	SeenCapacity int
	// SeenTTL is how long a handled occurrence is remembered in memory.
	SeenTTL time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		SeenCapacity: 4096,
		SeenTTL:      48 * time.Hour,
	}
}

// Report summarizes one tick.
type Report struct {
	Owners     int
	Due        int
	Dispatched int
	Duplicates int
	Rolled     int
}

// Scheduler scans every owner's active requests on an interval.
type Scheduler struct {
	cfg        Config
	store      docstore.Store
	ctl        *lifecycle.Controller
	dispatcher Dispatcher
	log        DeliveryLog
	metrics    *metrics.Metrics
	seen       *lru.Cache[string, struct{}]
	logger     zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDispatcher replaces the log dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) { s.dispatcher = d }
}

// WithDeliveryLog enables durable de-duplication.
func WithDeliveryLog(l DeliveryLog) Option {
	return func(s *Scheduler) { s.log = l }
}

// WithMetrics counts deliveries.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// New creates a scheduler. The controller decides what "today" is and
// performs the roll-forward writes.
func New(cfg Config, store docstore.Store, ctl *lifecycle.Controller, logger zerolog.Logger, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.SeenCapacity < 1 {
		cfg.SeenCapacity = def.SeenCapacity
	}
	if cfg.SeenTTL <= 0 {
		cfg.SeenTTL = def.SeenTTL
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		cfg:        cfg,
		store:      store,
		ctl:        ctl,
		dispatcher: LogDispatcher{Logger: logger},
		seen:       lru.New[string, struct{}](cfg.SeenCapacity, lru.WithTTL[string, struct{}](cfg.SeenTTL)),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled. The first scan happens immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("Scheduler started")
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("Scheduler tick incomplete")
		}
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Scheduler stopped")
			return
		case <-ticker.C:
		}
	}
}

// Tick scans every owner once. Failures for one owner do not stop the scan
// of the others; they are joined into the returned error.
func (s *Scheduler) Tick(ctx context.Context) (Report, error) {
	var rep Report
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return rep, fmt.Errorf("list owners: %w", err)
	}

	today := s.ctl.Today()
	var errs []error
	for _, owner := range owners {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		rep.Owners++
		if err := s.scanOwner(ctx, owner, today, &rep); err != nil {
			errs = append(errs, fmt.Errorf("owner %s: %w", owner, err))
		}
	}
	if purged := s.seen.Purge(); purged > 0 {
		s.logger.Debug().Int("purged", purged).Msg("Forgot expired occurrences")
	}
	if rep.Due > 0 {
		s.logger.Debug().
			Float64("seen_hit_rate", s.seen.Stats().HitRate()).
			Int("owners", rep.Owners).
			Int("due", rep.Due).
			Int("dispatched", rep.Dispatched).
			Int("rolled", rep.Rolled).
			Msg("Scheduler tick")
	}
	return rep, errors.Join(errs...)
}

func (s *Scheduler) scanOwner(ctx context.Context, owner string, today dates.Date, rep *Report) error {
	reqs, err := s.ctl.List(ctx, owner)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range reqs {
		if !due(r, today) {
			continue
		}
		rep.Due++
		if err := s.deliver(ctx, Delivery{Request: r, Occurrence: *r.ScheduledDate}, today, rep); err != nil {
			errs = append(errs, fmt.Errorf("request %s: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}

// due reports whether r is active with a scheduled date on or before today.
func due(r models.Request, today dates.Date) bool {
	if !r.IsActive() || r.ScheduledDate == nil || r.ScheduledDate.IsZero() {
		return false
	}
	return !r.ScheduledDate.After(today)
}

// deliver dispatches one occurrence at most once. The durable claim is taken
// before dispatching, so a failed dispatch is not retried.
func (s *Scheduler) deliver(ctx context.Context, d Delivery, today dates.Date, rep *Report) error {
	key := d.Key()
	if _, ok := s.seen.Get(key); ok {
		rep.Duplicates++
		return nil
	}
	log := s.logger.With().
		Str("owner_id", d.Request.OwnerID).
		Str("request_id", d.Request.ID).
		Str("occurrence", d.Occurrence.Key()).
		Logger()

	fresh := true
	if s.log != nil {
		var err error
		fresh, err = s.log.MarkDelivered(ctx, d.Request.OwnerID, d.Request.ID, d.Occurrence.Key())
		if err != nil {
			s.metrics.RecordDelivery("error")
			return fmt.Errorf("claim delivery: %w", err)
		}
	}

	if fresh {
		if err := s.dispatcher.Dispatch(ctx, d); err != nil {
			s.metrics.RecordDelivery("failed")
			log.Warn().Err(err).Msg("Dispatch failed")
		} else {
			s.metrics.RecordDelivery("dispatched")
			rep.Dispatched++
		}
	} else {
		s.metrics.RecordDelivery("duplicate")
		rep.Duplicates++
	}

	if d.Request.Repeat.Repeats() {
		next, ok := recurrence.NextOccurrence(d.Request.Repeat, today.AddDays(1))
		if ok {
			rule := d.Request.Repeat.Normalize()
			p := models.Patch{ScheduledDate: &next, Repeat: &rule}
			if err := s.ctl.UpdateActive(ctx, d.Request.OwnerID, d.Request.ID, p); err != nil {
				return fmt.Errorf("roll forward: %w", err)
			}
			rep.Rolled++
			log.Info().Str("next", next.Key()).Msg("Recurring request rolled forward")
		}
	}

	s.seen.Put(key, struct{}{})
	return nil
}
