package summarize

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/newmanjulien/overbase/internal/errors"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
)

// Writer is the part of the lifecycle controller the tracker writes through.
type Writer interface {
	Get(ctx context.Context, owner, id string) (models.Request, error)
	UpdateActive(ctx context.Context, owner, id string, p models.Patch) error
}

// Tracker drives a request through idle -> pending -> ready|failed. It does
// not detect stale results: a slow call for an older prompt still writes
// its result, and callers re-trigger summarization once edits settle.
type Tracker struct {
	writer     Writer
	summarizer Summarizer
	timeout    time.Duration
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	wg sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithTimeout bounds each collaborator call. A timeout counts as a failure.
func WithTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithMetrics records outcomes and latency.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a tracker.
func NewTracker(w Writer, s Summarizer, logger zerolog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		writer:     w,
		summarizer: s,
		timeout:    20 * time.Second,
		logger:     logger.With().Str("component", "summarize").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// BeginSummarization marks the request pending, calls the collaborator and
// records the outcome. Collaborator failures are recorded as
// summaryStatus=failed and are not returned; only storage errors are.
// An empty promptText summarizes the stored prompt.
func (t *Tracker) BeginSummarization(ctx context.Context, owner, id, promptText string) (models.SummaryStatus, error) {
	current, err := t.writer.Get(ctx, owner, id)
	if err != nil {
		return "", err
	}
	if promptText == "" {
		promptText = current.Prompt
	}
	if promptText == "" {
		return current.SummaryStatus, perrors.NewValidation(models.FieldPrompt, "nothing to summarize")
	}
	prior := current.Summary

	if err := t.writer.UpdateActive(ctx, owner, id, models.Patch{
		SummaryStatus: models.Ptr(models.SummaryPending),
		Summary:       models.Ptr(""),
	}); err != nil {
		return current.SummaryStatus, err
	}

	log := t.logger.With().Str("owner_id", owner).Str("request_id", id).Logger()
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, t.timeout)
	res, err := t.summarizer.Summarize(callCtx, Input{Text: promptText, RequestID: id, OwnerID: owner})
	cancel()
	elapsed := time.Since(start).Seconds()

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Join(perrors.ErrTimeout, err)
		}
		log.Warn().Err(errors.Join(perrors.ErrSummarization, err)).Msg("Summarization failed")
		t.metrics.RecordSummarization("failed", elapsed)

		failed := models.Patch{SummaryStatus: models.Ptr(models.SummaryFailed)}
		if prior != "" {
			failed.Summary = models.Ptr(prior)
		}
		if werr := t.writer.UpdateActive(ctx, owner, id, failed); werr != nil {
			return models.SummaryPending, werr
		}
		return models.SummaryFailed, nil
	}

	if res.ServerUpdated {
		log.Debug().Msg("Summary stored by collaborator")
		t.metrics.RecordSummarization("server_updated", elapsed)
		return models.SummaryReady, nil
	}

	if err := t.writer.UpdateActive(ctx, owner, id, models.Patch{
		Summary:       models.Ptr(res.Text()),
		SummaryStatus: models.Ptr(models.SummaryReady),
	}); err != nil {
		return models.SummaryPending, err
	}
	t.metrics.RecordSummarization("ready", elapsed)
	log.Info().Float64("seconds", elapsed).Msg("Summary ready")
	return models.SummaryReady, nil
}

// Start runs BeginSummarization in the background. The work outlives ctx's
// cancellation but keeps its values.
func (t *Tracker) Start(ctx context.Context, owner, id, promptText string) {
	ctx = context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if _, err := t.BeginSummarization(ctx, owner, id, promptText); err != nil {
			t.logger.Error().Err(err).Str("owner_id", owner).Str("request_id", id).Msg("Summarization aborted")
		}
	}()
}

// Wait blocks until every summarization started with Start has finished.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
