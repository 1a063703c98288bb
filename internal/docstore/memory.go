package docstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/newmanjulien/overbase/internal/errors"
)

// MemoryStore keeps documents in process. Values go through the same JSON
// normalization as the durable backends.
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]map[string]Document
	hub    *hub
	now    func() time.Time
	closed bool
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(logger zerolog.Logger) *MemoryStore {
	s := &MemoryStore{
		docs: make(map[string]map[string]Document),
		now:  time.Now,
	}
	s.hub = newHub(s.List, func() time.Time { return s.now() }, logger.With().Str("component", "docstore.memory").Logger())
	return s
}

// SetClock overrides the clock used for server timestamps.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *MemoryStore) Get(ctx context.Context, owner, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[owner][id]
	if !ok {
		return nil, perrors.NotFound("document", id)
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, owner string) (map[string]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Document, len(s.docs[owner]))
	for id, doc := range s.docs[owner] {
		out[id] = doc.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, owner, id string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	resolved, err := resolve(doc, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.docs[owner] == nil {
		s.docs[owner] = make(map[string]Document)
	}
	s.docs[owner][id] = dropNils(resolved)
	s.mu.Unlock()

	s.hub.notify(owner)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, owner, id string, fields Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	current, ok := s.docs[owner][id]
	if !ok {
		s.mu.Unlock()
		return perrors.NotFound("document", id)
	}
	resolved, err := resolve(fields, s.now())
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.docs[owner][id] = merge(current.Clone(), resolved)
	s.mu.Unlock()

	s.hub.notify(owner)
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, owner, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	_, existed := s.docs[owner][id]
	delete(s.docs[owner], id)
	if len(s.docs[owner]) == 0 {
		delete(s.docs, owner)
	}
	s.mu.Unlock()

	if !existed {
		return perrors.NotFound("document", id)
	}
	s.hub.notify(owner)
	return nil
}

func (s *MemoryStore) Owners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make([]string, 0, len(s.docs))
	for owner := range s.docs {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, owner string, fn Listener) (Unsubscribe, error) {
	return s.hub.add(ctx, owner, fn), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return perrors.ErrUnavailable
	}
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.hub.closeAll()
	return nil
}
