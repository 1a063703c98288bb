// Package autosave coalesces rapid edits into a single write after a quiet
// period. The pending write is an explicit value that callers can flush
// synchronously on teardown.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/models"
)

// DefaultDelay is the quiet period before a scheduled write runs.
const DefaultDelay = 800 * time.Millisecond

// SaveFunc persists a merged patch.
type SaveFunc func(ctx context.Context, p models.Patch) error

// Debouncer holds at most one pending patch and one armed timer.
type Debouncer struct {
	delay   time.Duration
	save    SaveFunc
	logger  zerolog.Logger
	onSaved func(models.Patch, error)

	mu      sync.Mutex
	pending models.Patch
	has     bool
	timer   *time.Timer
	gen     uint64
	closed  bool

	// saveMu keeps writes in the order they were taken.
	saveMu sync.Mutex
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithDelay overrides DefaultDelay.
func WithDelay(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.delay = d
		}
	}
}

// OnSaved is called after every write attempt, from the goroutine that ran
// the write.
func OnSaved(fn func(models.Patch, error)) Option {
	return func(db *Debouncer) { db.onSaved = fn }
}

// New creates a debouncer writing through save.
func New(save SaveFunc, logger zerolog.Logger, opts ...Option) *Debouncer {
	db := &Debouncer{
		delay:  DefaultDelay,
		save:   save,
		logger: logger.With().Str("component", "autosave").Logger(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Schedule merges p into the pending patch and restarts the quiet period.
func (db *Debouncer) Schedule(p models.Patch) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return
	}

	if db.has {
		db.pending = db.pending.Merge(p)
	} else {
		db.pending = p
		db.has = true
	}

	db.gen++
	gen := db.gen
	if db.timer != nil {
		db.timer.Stop()
	}
	db.timer = time.AfterFunc(db.delay, func() { db.fire(gen) })
}

func (db *Debouncer) fire(gen uint64) {
	// saveMu is held before the patch is taken, so a Flush that finds nothing
	// pending still waits for this write.
	db.saveMu.Lock()
	defer db.saveMu.Unlock()

	db.mu.Lock()
	if gen != db.gen || !db.has {
		db.mu.Unlock()
		return
	}
	p := db.take()
	db.mu.Unlock()

	if err := db.runLocked(context.Background(), p); err != nil {
		db.logger.Warn().Err(err).Strs("fields", p.Fields()).Msg("Debounced save failed")
	}
}

// Flush writes the pending patch now. It returns nil when nothing is pending.
func (db *Debouncer) Flush(ctx context.Context) error {
	db.mu.Lock()
	if !db.has {
		db.mu.Unlock()
		// wait for a write already taken by the timer
		db.saveMu.Lock()
		db.saveMu.Unlock()
		return nil
	}
	p := db.take()
	db.mu.Unlock()

	return db.run(ctx, p)
}

// Cancel drops the pending patch without writing it.
func (db *Debouncer) Cancel() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.take()
}

// Pending returns the patch waiting to be written.
func (db *Debouncer) Pending() (models.Patch, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.pending, db.has
}

// Close flushes and stops accepting new patches.
func (db *Debouncer) Close(ctx context.Context) error {
	err := db.Flush(ctx)
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()
	return err
}

// take clears the pending state. Callers hold mu.
func (db *Debouncer) take() models.Patch {
	p := db.pending
	db.pending = models.Patch{}
	db.has = false
	db.gen++
	if db.timer != nil {
		db.timer.Stop()
		db.timer = nil
	}
	return p
}

func (db *Debouncer) run(ctx context.Context, p models.Patch) error {
	db.saveMu.Lock()
	defer db.saveMu.Unlock()
	return db.runLocked(ctx, p)
}

// runLocked writes p. Callers hold saveMu.
func (db *Debouncer) runLocked(ctx context.Context, p models.Patch) error {
	err := db.save(ctx, p)
	if db.onSaved != nil {
		db.onSaved(p, err)
	}
	return err
}
