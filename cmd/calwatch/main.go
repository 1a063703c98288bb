// Command calwatch follows one owner's requests live and prints the calendar
// every time it changes.
//
// Usage:
//
//	OVERBASE_STORE_BACKEND=redis OVERBASE_REDIS_URL=redis://localhost:6379 calwatch -owner u1
//	calwatch -owner u1 -draft "Weekly churn by cohort"
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/newmanjulien/overbase/internal/bootstrap"
	"github.com/newmanjulien/overbase/internal/cache"
	"github.com/newmanjulien/overbase/internal/config"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
	"github.com/newmanjulien/overbase/internal/recurrence"
	"github.com/newmanjulien/overbase/internal/session"
)

func main() {
	owner := flag.String("owner", "", "owner whose requests to watch")
	draft := flag.String("draft", "", "start an ephemeral draft with this prompt")
	flag.Parse()
	if *owner == "" {
		fmt.Fprintln(os.Stderr, "calwatch: -owner is required")
		os.Exit(2)
	}

	cfg, err := config.LoadTool()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := bootstrap.Logger(cfg, os.Stderr)
	loc, err := cfg.TimeLocation()
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid location")
	}

	store, err := bootstrap.OpenStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open document store")
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, err := session.Open(ctx, *owner, session.Deps{
		Store:            store,
		Summarizer:       bootstrap.Summarizer(cfg, logger),
		Logger:           logger,
		Metrics:          metrics.New(),
		Location:         loc,
		LeadDays:         cfg.LeadDays,
		SaveDelay:        cfg.SaveDelay,
		ResummarizeDelay: cfg.ResummarizeDelay,
		SummarizeTimeout: cfg.SummarizerTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to open session")
	}

	off := sess.Cache().OnChange(func(s cache.State) {
		if s.Loaded() {
			printCalendar(os.Stdout, s)
		}
	})
	defer off()

	if err := sess.Cache().WaitReady(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Initial snapshot not received")
	}

	var draftID string
	if *draft != "" {
		ed, err := sess.NewDraft(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to start draft")
		}
		draftID = ed.ID()
		ed.Edit(models.Patch{Prompt: draft})
		logger.Info().Str("request_id", draftID).Msg("Draft started")
	}

	<-ctx.Done()
	logger.Info().Msg("Stopping calwatch")

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if draftID != "" {
		if err := sess.Leave(closeCtx, draftID); err != nil {
			logger.Error().Err(err).Str("request_id", draftID).Msg("Failed to leave draft")
		}
	}
	if err := sess.Close(closeCtx); err != nil {
		logger.Error().Err(err).Msg("Session close error")
	}
}

func printCalendar(w io.Writer, s cache.State) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "DATE\tSTATUS\tREPEAT\tSUMMARY\tID\n")
	for _, key := range s.DateKeys() {
		for _, r := range s.ByDate(key) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", key, r.Status, recurrence.Describe(r.Repeat), label(r), r.ID)
		}
	}
	tw.Flush()
	fmt.Fprintf(w, "%d requests\n\n", s.Len())
}

func label(r models.Request) string {
	if r.Summary != "" {
		return r.Summary
	}
	if len(r.Prompt) > 40 {
		return r.Prompt[:40] + "..."
	}
	return r.Prompt
}
