package docstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type loadFunc func(ctx context.Context, owner string) (map[string]Document, error)

// hub fans change notifications out to per-owner subscriptions. Each
// subscription owns a goroutine and a one-slot signal channel, so bursts of
// writes coalesce into a single reload and deliveries never overlap.
type hub struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]*subscription
	next   uint64
	load   loadFunc
	now    func() time.Time
	logger zerolog.Logger
}

type subscription struct {
	owner  string
	fn     Listener
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newHub(load loadFunc, now func() time.Time, logger zerolog.Logger) *hub {
	return &hub{
		subs:   make(map[string]map[uint64]*subscription),
		load:   load,
		now:    now,
		logger: logger,
	}
}

func (h *hub) add(ctx context.Context, owner string, fn Listener) Unsubscribe {
	sub := &subscription{
		owner:  owner,
		fn:     fn,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	// first snapshot goes out immediately
	sub.signal <- struct{}{}

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[owner] == nil {
		h.subs[owner] = make(map[uint64]*subscription)
	}
	h.subs[owner][id] = sub
	h.mu.Unlock()

	go h.run(ctx, sub)

	return func() {
		sub.once.Do(func() {
			close(sub.done)
			h.mu.Lock()
			delete(h.subs[owner], id)
			if len(h.subs[owner]) == 0 {
				delete(h.subs, owner)
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) run(ctx context.Context, sub *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-sub.signal:
		}

		docs, err := h.load(ctx, sub.owner)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Warn().Err(err).Str("owner", sub.owner).Msg("Snapshot reload failed")
			continue
		}

		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(Snapshot{Owner: sub.owner, Docs: docs, At: h.now()})
	}
}

func (h *hub) notify(owner string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs[owner] {
		select {
		case sub.signal <- struct{}{}:
		default:
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]map[uint64]*subscription)
	h.mu.Unlock()
	for _, byID := range subs {
		for _, sub := range byID {
			sub.once.Do(func() { close(sub.done) })
		}
	}
}

func (h *hub) count(owner string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[owner])
}
