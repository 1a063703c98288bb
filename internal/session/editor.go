package session

import (
	"context"
	"sync"
	"time"

	"github.com/newmanjulien/overbase/internal/autosave"
	"github.com/newmanjulien/overbase/internal/models"
)

// Editor edits one request: changes show up in the cache at once and are
// written after a quiet period.
type Editor struct {
	session *Session
	id      string
	save    *autosave.Debouncer

	mu          sync.Mutex
	resummarize *time.Timer
}

func newEditor(s *Session, id string) *Editor {
	e := &Editor{session: s, id: id}
	opts := append(s.saveDelay(), autosave.OnSaved(e.saved))
	e.save = autosave.New(e.write, s.logger, opts...)
	return e
}

// ID returns the request id.
func (e *Editor) ID() string { return e.id }

// Edit applies p optimistically and schedules the debounced write.
func (e *Editor) Edit(p models.Patch) {
	p = p.Derive()
	e.session.cache.ApplyOptimistic(e.id, p)
	e.save.Schedule(p)
}

// Flush writes pending edits now.
func (e *Editor) Flush(ctx context.Context) error {
	return e.save.Flush(ctx)
}

// Pending reports whether edits are waiting to be written.
func (e *Editor) Pending() bool {
	_, ok := e.save.Pending()
	return ok
}

func (e *Editor) write(ctx context.Context, p models.Patch) error {
	return e.session.ctl.UpdateActive(ctx, e.session.owner, e.id, p)
}

// saved schedules a re-summarization once prompt edits have settled, for
// requests that have been summarized before or are live.
func (e *Editor) saved(p models.Patch, err error) {
	if err != nil || !p.TouchesPrompt() {
		return
	}
	r, ok := e.session.cache.Get(e.id)
	if !ok || (r.SummaryStatus == models.SummaryIdle && !r.IsActive()) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.resummarize != nil {
		e.resummarize.Stop()
	}
	e.resummarize = time.AfterFunc(e.session.deps.ResummarizeDelay, func() {
		e.session.tracker.Start(context.Background(), e.session.owner, e.id, "")
	})
}

func (e *Editor) close(ctx context.Context) error {
	err := e.save.Close(ctx)
	e.mu.Lock()
	if e.resummarize != nil {
		e.resummarize.Stop()
		e.resummarize = nil
	}
	e.mu.Unlock()
	return err
}
