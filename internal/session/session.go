// Package session composes the per-owner client view: a live cache, a
// controller writing through it, debounced editors and the summarization
// tracker.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/autosave"
	"github.com/newmanjulien/overbase/internal/cache"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/summarize"
)

// Deps are the collaborators and settings of a session.
type Deps struct {
	Store      docstore.Store
	Summarizer summarize.Summarizer
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	Clock            func() time.Time
	Location         *time.Location
	LeadDays         int
	SaveDelay        time.Duration
	ResummarizeDelay time.Duration
	SummarizeTimeout time.Duration
}

// Session is one owner's live view. It is created by Open and must be
// closed with Close.
type Session struct {
	owner   string
	cache   *cache.Cache
	ctl     *lifecycle.Controller
	tracker *summarize.Tracker
	deps    Deps
	logger  zerolog.Logger
	unsub   docstore.Unsubscribe

	mu      sync.Mutex
	editors map[string]*Editor
	closed  bool
}

// Open subscribes a fresh cache to owner's requests and wires a controller
// and tracker that write through it.
func Open(ctx context.Context, owner string, deps Deps) (*Session, error) {
	if deps.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if deps.Summarizer == nil {
		deps.Summarizer = summarize.Stub{}
	}
	if deps.ResummarizeDelay <= 0 {
		deps.ResummarizeDelay = 2 * time.Second
	}

	logger := deps.Logger.With().Str("component", "session").Str("owner_id", owner).Logger()
	c := cache.New(owner, deps.Store, deps.Logger, cache.WithMetrics(deps.Metrics))

	opts := []lifecycle.Option{
		lifecycle.WithCache(c),
		lifecycle.WithMetrics(deps.Metrics),
		lifecycle.WithLocation(deps.Location),
	}
	if deps.Clock != nil {
		opts = append(opts, lifecycle.WithClock(deps.Clock))
	}
	if deps.LeadDays > 0 {
		opts = append(opts, lifecycle.WithLeadDays(deps.LeadDays))
	}
	ctl := lifecycle.New(deps.Store, deps.Logger, opts...)

	tracker := summarize.NewTracker(ctl, deps.Summarizer, deps.Logger,
		summarize.WithTimeout(deps.SummarizeTimeout),
		summarize.WithMetrics(deps.Metrics),
	)

	unsub, err := c.Subscribe(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", owner, err)
	}

	logger.Info().Msg("Session opened")
	return &Session{
		owner:   owner,
		cache:   c,
		ctl:     ctl,
		tracker: tracker,
		deps:    deps,
		logger:  logger,
		unsub:   unsub,
		editors: make(map[string]*Editor),
	}, nil
}

// Owner returns the session's owner.
func (s *Session) Owner() string { return s.owner }

// Cache returns the session cache.
func (s *Session) Cache() *cache.Cache { return s.cache }

// Controller returns the controller bound to the session cache.
func (s *Session) Controller() *lifecycle.Controller { return s.ctl }

// Tracker returns the summarization tracker.
func (s *Session) Tracker() *summarize.Tracker { return s.tracker }

// Editor returns the editor for id, creating it on first use.
func (s *Session) Editor(id string) *Editor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.editors[id]; ok {
		return e
	}
	e := newEditor(s, id)
	s.editors[id] = e
	return e
}

// NewDraft returns an editor on the owner's ephemeral draft.
func (s *Session) NewDraft(ctx context.Context) (*Editor, error) {
	id, err := s.ctl.EnsureDraft(ctx, s.owner)
	if err != nil {
		return nil, err
	}
	if _, err := s.cache.LoadOne(ctx, id); err != nil {
		return nil, err
	}
	return s.Editor(id), nil
}

// Submit saves pending edits, promotes the request and starts its
// summarization in the background.
func (s *Session) Submit(ctx context.Context, id string) error {
	if err := s.Editor(id).Flush(ctx); err != nil {
		return err
	}
	if err := s.ctl.PromoteToActive(ctx, s.owner, id); err != nil {
		return err
	}
	s.tracker.Start(ctx, s.owner, id, "")
	return nil
}

// Leave saves pending edits for id and removes the request if it is an
// ephemeral draft the user never engaged.
func (s *Session) Leave(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.editors[id]
	delete(s.editors, id)
	s.mu.Unlock()

	if ok {
		if err := e.close(ctx); err != nil {
			return err
		}
	}
	_, err := s.ctl.CleanupEphemeralIfUnused(ctx, s.owner, id)
	return err
}

// Close flushes every editor, waits for background summarizations and
// unsubscribes. Flush errors are joined and returned.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	editors := make([]*Editor, 0, len(s.editors))
	for _, e := range s.editors {
		editors = append(editors, e)
	}
	s.editors = map[string]*Editor{}
	s.mu.Unlock()

	var errs []error
	for _, e := range editors {
		if err := e.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", e.id, err))
		}
	}
	s.tracker.Wait()
	s.unsub()

	s.logger.Info().Int("editors", len(editors)).Msg("Session closed")
	return errors.Join(errs...)
}

func (s *Session) saveDelay() []autosave.Option {
	if s.deps.SaveDelay > 0 {
		return []autosave.Option{autosave.WithDelay(s.deps.SaveDelay)}
	}
	return nil
}
