// Package sweeper removes ephemeral drafts that were abandoned without ever
// receiving content, and prunes old delivery records.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/models"
)

// Config holds the sweeper schedule.
type Config struct {
	Interval time.Duration // default 15m
	// TTL is how long an untouched ephemeral draft may live. A user still
	// composing keeps their draft alive by giving it content.
	TTL time.Duration // default 24h
	// DeliveryRetention bounds the delivery log. Zero keeps everything.
	DeliveryRetention time.Duration // default 90 days
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          15 * time.Minute,
		TTL:               24 * time.Hour,
		DeliveryRetention: 90 * 24 * time.Hour,
	}
}

// DeliveryPruner drops delivery records older than a cutoff.
type DeliveryPruner interface {
	PruneDeliveries(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper finds stale ephemeral drafts across every owner.
type Sweeper struct {
	cfg    Config
	store  docstore.Store
	ctl    *lifecycle.Controller
	pruner DeliveryPruner
	clock  func() time.Time
	logger zerolog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithClock overrides time.Now.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) { s.clock = clock }
}

// WithPruner enables delivery log pruning.
func WithPruner(p DeliveryPruner) Option {
	return func(s *Sweeper) { s.pruner = p }
}

// New creates a Sweeper.
func New(cfg Config, store docstore.Store, ctl *lifecycle.Controller, logger zerolog.Logger, opts ...Option) *Sweeper {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	s := &Sweeper{
		cfg:    cfg,
		store:  store,
		ctl:    ctl,
		clock:  time.Now,
		logger: logger.With().Str("component", "sweeper").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.cfg.Interval).Dur("ttl", s.cfg.TTL).Msg("Sweeper started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("Sweep incomplete")
			}
		}
	}
}

// FindStale returns the ephemeral drafts of owner created before the TTL
// cutoff. Drafts with content are skipped here and again at deletion time.
func (s *Sweeper) FindStale(ctx context.Context, owner string) ([]models.Request, error) {
	reqs, err := s.ctl.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	cutoff := s.clock().Add(-s.cfg.TTL)
	var stale []models.Request
	for _, r := range reqs {
		if r.IsUnusedEphemeral() && r.CreatedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	return stale, nil
}

// Sweep deletes stale drafts for every owner and returns how many were
// removed. A failure for one request is logged and the sweep continues.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list owners: %w", err)
	}

	removed := 0
	for _, owner := range owners {
		stale, err := s.FindStale(ctx, owner)
		if err != nil {
			s.logger.Warn().Err(err).Str("owner_id", owner).Msg("Failed to scan owner")
			continue
		}
		for _, r := range stale {
			select {
			case <-ctx.Done():
				return removed, ctx.Err()
			default:
			}
			deleted, err := s.ctl.SweepEphemeral(ctx, owner, r.ID)
			if err != nil {
				s.logger.Error().Err(err).Str("owner_id", owner).Str("request_id", r.ID).Msg("Failed to sweep draft")
				continue
			}
			if deleted {
				removed++
			}
		}
	}
	if removed > 0 {
		s.logger.Info().Int("count", removed).Msg("Stale ephemeral drafts removed")
	}

	if s.pruner != nil && s.cfg.DeliveryRetention > 0 {
		n, err := s.pruner.PruneDeliveries(ctx, s.clock().Add(-s.cfg.DeliveryRetention))
		if err != nil {
			return removed, fmt.Errorf("failed to prune deliveries: %w", err)
		}
		if n > 0 {
			s.logger.Info().Int64("count", n).Msg("Delivery records pruned")
		}
	}
	return removed, nil
}
