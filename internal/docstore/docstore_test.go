package docstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/newmanjulien/overbase/internal/errors"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	logger := zerolog.Nop()

	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	rs, err := NewRedisStore("redis://"+mr.Addr(), logger)
	require.NoError(t, err)
	t.Cleanup(func() { rs.Close() })

	mem := NewMemoryStore(logger)
	t.Cleanup(func() { mem.Close() })

	return map[string]Store{"sqlite": sqlite, "redis": rs, "memory": mem}
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) listen(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) last() (Snapshot, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return Snapshot{}, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestStore_SetGetList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "u1", "a", Document{"prompt": "hello", "n": 2}))
			require.NoError(t, s.Set(ctx, "u2", "b", Document{"prompt": "other"}))

			doc, err := s.Get(ctx, "u1", "a")
			require.NoError(t, err)
			assert.Equal(t, "hello", doc["prompt"])
			assert.Equal(t, float64(2), doc["n"])

			docs, err := s.List(ctx, "u1")
			require.NoError(t, err)
			assert.Len(t, docs, 1)
			assert.Contains(t, docs, "a")

			owners, err := s.Owners(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"u1", "u2"}, owners)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "u1", "nope")
			assert.ErrorIs(t, err, perrors.ErrNotFound)
		})
	}
}

func TestStore_UpdateMergesAndDeletesNilFields(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "u1", "a", Document{"prompt": "x", "scheduledDate": "2026-03-10"}))
			require.NoError(t, s.Update(ctx, "u1", "a", Document{"prompt": "y", "scheduledDate": nil}))

			doc, err := s.Get(ctx, "u1", "a")
			require.NoError(t, err)
			assert.Equal(t, "y", doc["prompt"])
			assert.NotContains(t, doc, "scheduledDate")
		})
	}
}

func TestStore_UpdateMissingIsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := s.Update(context.Background(), "u1", "gone", Document{"prompt": "y"})
			assert.ErrorIs(t, err, perrors.ErrNotFound)
		})
	}
}

func TestStore_ServerTimestampResolved(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			before := time.Now().UTC().Add(-time.Second)
			require.NoError(t, s.Set(ctx, "u1", "a", Document{"createdAt": ServerTimestamp}))

			doc, err := s.Get(ctx, "u1", "a")
			require.NoError(t, err)
			raw, ok := doc["createdAt"].(string)
			require.True(t, ok)
			ts, err := time.Parse(time.RFC3339Nano, raw)
			require.NoError(t, err)
			assert.True(t, ts.After(before))
		})
	}
}

func TestStore_DeleteMissingIsNotFound(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "u1", "a", Document{"prompt": "x"}))
			require.NoError(t, s.Delete(ctx, "u1", "a"))
			assert.ErrorIs(t, s.Delete(ctx, "u1", "a"), perrors.ErrNotFound)

			_, err := s.Get(ctx, "u1", "a")
			assert.ErrorIs(t, err, perrors.ErrNotFound)
		})
	}
}

func TestStore_SubscribeDeliversInitialAndChanges(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Set(ctx, "u1", "a", Document{"prompt": "x"}))

			rec := &recorder{}
			unsub, err := s.Subscribe(ctx, "u1", rec.listen)
			require.NoError(t, err)
			defer unsub()

			require.Eventually(t, func() bool {
				snap, n := rec.last()
				return n >= 1 && len(snap.Docs) == 1
			}, 2*time.Second, 10*time.Millisecond)

			require.NoError(t, s.Set(ctx, "u1", "b", Document{"prompt": "y"}))

			require.Eventually(t, func() bool {
				snap, _ := rec.last()
				return len(snap.Docs) == 2
			}, 2*time.Second, 10*time.Millisecond)

			snap, _ := rec.last()
			assert.Equal(t, "u1", snap.Owner)
		})
	}
}

func TestStore_UnsubscribeStopsDeliveries(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := &recorder{}
			unsub, err := s.Subscribe(ctx, "u1", rec.listen)
			require.NoError(t, err)

			require.Eventually(t, func() bool {
				_, n := rec.last()
				return n >= 1
			}, 2*time.Second, 10*time.Millisecond)

			unsub()
			unsub()
			_, before := rec.last()

			require.NoError(t, s.Set(ctx, "u1", "a", Document{"prompt": "x"}))
			time.Sleep(50 * time.Millisecond)

			_, after := rec.last()
			assert.Equal(t, before, after)
		})
	}
}

func TestRedisStore_SeesWritesFromOtherClients(t *testing.T) {
	mr := miniredis.RunT(t)
	reader, err := NewRedisStore("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	defer reader.Close()
	writer, err := NewRedisStore("redis://"+mr.Addr(), zerolog.Nop())
	require.NoError(t, err)
	defer writer.Close()

	ctx := context.Background()
	rec := &recorder{}
	unsub, err := reader.Subscribe(ctx, "u1", rec.listen)
	require.NoError(t, err)
	defer unsub()

	require.NoError(t, writer.Set(ctx, "u1", "a", Document{"prompt": "remote"}))

	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap.Docs) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSQLiteStore_MarkDelivered(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	first, err := s.MarkDelivered(ctx, "u1", "r1", "2026-03-10")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkDelivered(ctx, "u1", "r1", "2026-03-10")
	require.NoError(t, err)
	assert.False(t, again)

	n, err := s.PruneDeliveries(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_Migrations(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "docs.db"), zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	var version string
	require.NoError(t, s.DB().QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version))
	assert.Equal(t, "2", version)
}

func TestDocument_CloneIsDeep(t *testing.T) {
	d := Document{"repeat": map[string]any{"type": "weekly"}}
	c := d.Clone()
	c["repeat"].(map[string]any)["type"] = "daily"
	assert.Equal(t, "weekly", d["repeat"].(map[string]any)["type"])
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("postgres", "", zerolog.Nop())
	assert.Error(t, err)
}
