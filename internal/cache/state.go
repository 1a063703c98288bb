package cache

import (
	"sort"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/models"
)

// State is the immutable view held by a Cache. Every transition returns a
// new State; the receiver is never modified.
type State struct {
	byID    map[string]models.Request
	buckets map[string][]string
	loaded  bool
}

// NewState returns an empty state that has not seen a snapshot yet.
func NewState() State {
	return State{
		byID:    map[string]models.Request{},
		buckets: map[string][]string{},
	}
}

// ApplySnapshot replaces the whole state with a remote snapshot. Remote
// always wins over any optimistic patch.
func (s State) ApplySnapshot(reqs []models.Request) State {
	next := State{
		byID:   make(map[string]models.Request, len(reqs)),
		loaded: true,
	}
	for _, r := range reqs {
		next.byID[r.ID] = r
	}
	next.buckets = index(next.byID)
	return next
}

// ApplyPatch merges p into the local copy of id. Patches for ids that are
// not present are dropped and ok is false.
func (s State) ApplyPatch(id string, p models.Patch) (next State, prev models.Request, ok bool) {
	prev, ok = s.byID[id]
	if !ok {
		return s, models.Request{}, false
	}
	return s.Put(p.Apply(prev)), prev, true
}

// Put inserts or replaces one request.
func (s State) Put(r models.Request) State {
	byID := s.copyMap()
	byID[r.ID] = r
	return State{byID: byID, buckets: index(byID), loaded: s.loaded}
}

// Restore puts prev back if its id is still present. A request removed by a
// newer snapshot stays removed.
func (s State) Restore(prev models.Request) State {
	if _, ok := s.byID[prev.ID]; !ok {
		return s
	}
	return s.Put(prev)
}

// Remove drops id.
func (s State) Remove(id string) State {
	if _, ok := s.byID[id]; !ok {
		return s
	}
	byID := s.copyMap()
	delete(byID, id)
	return State{byID: byID, buckets: index(byID), loaded: s.loaded}
}

// Loaded reports whether at least one snapshot has been applied.
func (s State) Loaded() bool { return s.loaded }

// Len returns the number of requests.
func (s State) Len() int { return len(s.byID) }

// Get returns the request with id.
func (s State) Get(id string) (models.Request, bool) {
	r, ok := s.byID[id]
	return r, ok
}

// All returns every request, oldest first.
func (s State) All() []models.Request {
	out := make([]models.Request, 0, len(s.byID))
	for _, r := range s.byID {
		out = append(out, r)
	}
	sortRequests(out)
	return out
}

// Filter returns the requests matching keep, oldest first.
func (s State) Filter(keep func(models.Request) bool) []models.Request {
	var out []models.Request
	for _, r := range s.byID {
		if keep(r) {
			out = append(out, r)
		}
	}
	sortRequests(out)
	return out
}

// ByDate returns the requests scheduled on the day with the given key.
func (s State) ByDate(key string) []models.Request {
	ids := s.buckets[key]
	out := make([]models.Request, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id])
	}
	return out
}

// Buckets returns the date index: date key to requests, oldest first.
func (s State) Buckets() map[string][]models.Request {
	out := make(map[string][]models.Request, len(s.buckets))
	for key := range s.buckets {
		out[key] = s.ByDate(key)
	}
	return out
}

// DateKeys returns the bucket keys in calendar order.
func (s State) DateKeys() []string {
	return dates.SortedKeys(s.buckets)
}

func (s State) copyMap() map[string]models.Request {
	byID := make(map[string]models.Request, len(s.byID)+1)
	for k, v := range s.byID {
		byID[k] = v
	}
	return byID
}

func index(byID map[string]models.Request) map[string][]string {
	all := make([]models.Request, 0, len(byID))
	for _, r := range byID {
		all = append(all, r)
	}
	sortRequests(all)

	grouped := dates.Bucket(all, func(r models.Request) (dates.Date, bool) {
		if r.ScheduledDate == nil || r.ScheduledDate.IsZero() {
			return dates.Date{}, false
		}
		return *r.ScheduledDate, true
	})
	out := make(map[string][]string, len(grouped))
	for key, reqs := range grouped {
		ids := make([]string, len(reqs))
		for i, r := range reqs {
			ids[i] = r.ID
		}
		out[key] = ids
	}
	return out
}

func sortRequests(reqs []models.Request) {
	sort.SliceStable(reqs, func(i, j int) bool {
		if !reqs[i].CreatedAt.Equal(reqs[j].CreatedAt) {
			return reqs[i].CreatedAt.Before(reqs[j].CreatedAt)
		}
		return reqs[i].ID < reqs[j].ID
	})
}
