// Package cache keeps a per-owner, optimistically patched view of the
// owner's requests. State transitions live in a pure reducer (State); Cache
// is the I/O shell that feeds it remote snapshots and local patches.
package cache

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
)

// Cache is constructed once per session and passed to its consumers.
type Cache struct {
	owner   string
	store   docstore.Store
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu        sync.RWMutex
	state     State
	listeners map[int]func(State)
	nextID    int

	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records snapshot and patch counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates an empty cache for owner.
func New(owner string, store docstore.Store, logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		owner:     owner,
		store:     store,
		logger:    logger.With().Str("component", "cache").Str("owner_id", owner).Logger(),
		state:     NewState(),
		listeners: make(map[int]func(State)),
		ready:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Owner returns the owner whose requests the cache holds.
func (c *Cache) Owner() string { return c.owner }

// Subscribe opens the live subscription. Every snapshot replaces the whole
// local map.
func (c *Cache) Subscribe(ctx context.Context) (docstore.Unsubscribe, error) {
	return c.store.Subscribe(ctx, c.owner, c.onSnapshot)
}

func (c *Cache) onSnapshot(snap docstore.Snapshot) {
	reqs := make([]models.Request, 0, len(snap.Docs))
	for id, doc := range snap.Docs {
		r, err := models.FromDocument(c.owner, id, doc)
		if err != nil {
			c.logger.Warn().Err(err).Str("request_id", id).Msg("Skipping unreadable request")
			continue
		}
		reqs = append(reqs, r)
	}

	c.update(func(s State) State { return s.ApplySnapshot(reqs) })
	c.metrics.RecordSnapshot(c.owner, len(reqs))
	c.readyOnce.Do(func() { close(c.ready) })
	c.logger.Debug().Int("count", len(reqs)).Msg("Snapshot applied")
}

// ApplyOptimistic merges p into the local copy of id before the remote
// write completes. It returns the previous value for Rollback. Patches for
// unknown ids are dropped.
func (c *Cache) ApplyOptimistic(id string, p models.Patch) (models.Request, bool) {
	var (
		prev models.Request
		ok   bool
	)
	c.update(func(s State) State {
		var next State
		next, prev, ok = s.ApplyPatch(id, p)
		return next
	})
	if ok {
		c.metrics.RecordOptimistic("applied")
	} else {
		c.metrics.RecordOptimistic("dropped")
	}
	return prev, ok
}

// Rollback restores prev, undoing an optimistic patch.
func (c *Cache) Rollback(prev models.Request) {
	c.update(func(s State) State { return s.Restore(prev) })
	c.metrics.RecordOptimistic("rolled_back")
}

// Insert adds a request ahead of the snapshot that will contain it.
func (c *Cache) Insert(r models.Request) {
	c.update(func(s State) State { return s.Put(r) })
}

// Evict removes id ahead of the snapshot that will drop it.
func (c *Cache) Evict(id string) (models.Request, bool) {
	var (
		prev models.Request
		ok   bool
	)
	c.update(func(s State) State {
		prev, ok = s.Get(id)
		return s.Remove(id)
	})
	return prev, ok
}

// Get returns the cached copy of id.
func (c *Cache) Get(id string) (models.Request, bool) {
	return c.State().Get(id)
}

// All returns every cached request, oldest first.
func (c *Cache) All() []models.Request {
	return c.State().All()
}

// ByDate returns the requests scheduled on the day with key.
func (c *Cache) ByDate(key string) []models.Request {
	return c.State().ByDate(key)
}

// Buckets returns the date-bucket index.
func (c *Cache) Buckets() map[string][]models.Request {
	return c.State().Buckets()
}

// State returns the current immutable state.
func (c *Cache) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Ready is closed once the first snapshot has been applied.
func (c *Cache) Ready() <-chan struct{} {
	return c.ready
}

// WaitReady blocks until the first snapshot or ctx is done.
func (c *Cache) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadOne fetches id directly from the store when no snapshot has delivered
// it yet, e.g. when an edit link is opened before the subscription starts.
func (c *Cache) LoadOne(ctx context.Context, id string) (models.Request, error) {
	if r, ok := c.Get(id); ok {
		return r, nil
	}
	doc, err := c.store.Get(ctx, c.owner, id)
	if err != nil {
		return models.Request{}, err
	}
	r, err := models.FromDocument(c.owner, id, doc)
	if err != nil {
		return models.Request{}, err
	}
	c.update(func(s State) State {
		if _, ok := s.Get(id); ok {
			return s
		}
		return s.Put(r)
	})
	if cached, ok := c.Get(id); ok {
		return cached, nil
	}
	return r, nil
}

// OnChange registers fn to be called with the new state after every change.
// The returned function removes the listener.
func (c *Cache) OnChange(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Cache) update(fn func(State) State) {
	c.mu.Lock()
	c.state = fn(c.state)
	state := c.state
	listeners := make([]func(State), 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
}
