// Command overbase serves the data-request API and runs the delivery
// scheduler and the ephemeral draft sweeper.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newmanjulien/overbase/internal/api"
	"github.com/newmanjulien/overbase/internal/bootstrap"
	"github.com/newmanjulien/overbase/internal/config"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/health"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/scheduler"
	"github.com/newmanjulien/overbase/internal/summarize"
	"github.com/newmanjulien/overbase/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := bootstrap.Logger(cfg, os.Stdout)
	log.Logger = logger

	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid location")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("addr", cfg.ListenAddr).
		Str("store", cfg.StoreBackend).
		Str("location", loc.String()).
		Bool("summarizer_enabled", cfg.SummarizerEnabled()).
		Msg("Starting overbase")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	store, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open document store")
	}
	defer store.Close()

	m := metrics.New()
	checker := health.NewChecker(logger)
	checker.Register("store", health.PingCheck(store, logger))

	ctl := lifecycle.New(store, logger,
		lifecycle.WithLocation(loc),
		lifecycle.WithLeadDays(cfg.LeadDays),
		lifecycle.WithMetrics(m),
	)
	tracker := summarize.NewTracker(ctl, bootstrap.Summarizer(cfg, logger), logger,
		summarize.WithTimeout(cfg.SummarizerTimeout),
		summarize.WithMetrics(m),
	)

	schedOpts := []scheduler.Option{scheduler.WithMetrics(m)}
	sweepOpts := []sweeper.Option{}
	if sq, ok := store.(*docstore.SQLiteStore); ok {
		schedOpts = append(schedOpts, scheduler.WithDeliveryLog(sq))
		sweepOpts = append(sweepOpts, sweeper.WithPruner(sq))
	} else {
		logger.Warn().Str("store", cfg.StoreBackend).Msg("No durable delivery log, deliveries are de-duplicated in memory only")
	}
	sched := scheduler.New(scheduler.Config{Interval: cfg.SchedulerInterval}, store, ctl, logger, schedOpts...)
	sweep := sweeper.New(sweeper.Config{
		Interval:          cfg.SweepInterval,
		TTL:               cfg.EphemeralTTL,
		DeliveryRetention: cfg.DeliveryRetention,
	}, store, ctl, logger, sweepOpts...)

	server := api.NewServer(api.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: api.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
			JWTIssuer: cfg.JWTIssuer,
		},
		RateLimit: api.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOriginList(),
	}, api.Deps{
		Controller: ctl,
		Tracker:    tracker,
		Checker:    checker,
		Metrics:    m,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sweep.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case <-ctx.Done():
		logger.Warn().Msg("Shutting down after server failure")
	}
	cancel()

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("API server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		tracker.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("All goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("Forced shutdown after timeout")
	}

	logger.Info().Msg("Overbase stopped")
}
