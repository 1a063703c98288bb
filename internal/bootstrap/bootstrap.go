// Package bootstrap builds the shared runtime pieces of the binaries from a
// loaded configuration.
package bootstrap

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/config"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/retry"
	"github.com/newmanjulien/overbase/internal/summarize"
)

// Logger returns the process logger: JSON on out, or a console writer in
// development.
func Logger(cfg *config.Config, out io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(out).With().Timestamp().Caller().Logger()
	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger
}

// OpenStore opens the configured document store backend.
func OpenStore(cfg *config.Config, logger zerolog.Logger) (docstore.Store, error) {
	var dsn string
	switch cfg.StoreBackend {
	case "sqlite":
		dsn = cfg.SQLitePath
	case "redis":
		dsn = cfg.RedisURL
	}
	store, err := docstore.Open(cfg.StoreBackend, dsn, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	if rs, ok := store.(*docstore.RedisStore); ok {
		rs.SetKeyPrefix(cfg.RedisKeyPrefix)
	}
	return store, nil
}

// Summarizer returns the HTTP collaborator when one is configured and the
// local stub otherwise.
func Summarizer(cfg *config.Config, logger zerolog.Logger) summarize.Summarizer {
	if !cfg.SummarizerEnabled() {
		logger.Info().Msg("Summarizer not configured, using local stub")
		return summarize.Stub{}
	}
	rc := retry.DefaultConfig()
	if cfg.SummarizerAttempts > 0 {
		rc.MaxAttempts = cfg.SummarizerAttempts
	}
	return summarize.NewClient(cfg.SummarizerURL,
		summarize.WithSecret(cfg.SummarizerSecret),
		summarize.WithRetry(rc),
		summarize.WithLogger(logger),
	)
}
