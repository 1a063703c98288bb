package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newmanjulien/overbase/internal/dates"
	"github.com/newmanjulien/overbase/internal/docstore"
	"github.com/newmanjulien/overbase/internal/lifecycle"
	"github.com/newmanjulien/overbase/internal/metrics"
	"github.com/newmanjulien/overbase/internal/models"
	"github.com/newmanjulien/overbase/internal/recurrence"
)

// Monday.
var now = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

type recorder struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (r *recorder) Dispatch(_ context.Context, d Delivery) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, d.Key())
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]string(nil), r.keys...)
	sort.Strings(out)
	return out
}

func controller(store docstore.Store) *lifecycle.Controller {
	return lifecycle.New(store, zerolog.Nop(),
		lifecycle.WithClock(clock),
		lifecycle.WithLocation(time.UTC),
		lifecycle.WithLeadDays(2),
	)
}

func seed(t *testing.T, store docstore.Store, owner, id string, status models.Status, date string, rule recurrence.Rule) {
	t.Helper()
	r := models.NewDraft(id, owner, now.Add(-72*time.Hour))
	r.Status = status
	r.Ephemeral = false
	r.Prompt = "Pipeline by region"
	r.Repeat = rule
	if date != "" {
		d := dates.MustParse(date)
		r.ScheduledDate = &d
	}
	if status == models.StatusActive {
		submitted := now.Add(-48 * time.Hour)
		r.SubmittedAt = &submitted
	}
	doc, err := models.ToDocument(r)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), owner, id, doc))
}

func weeklyFrom(s string) recurrence.Rule {
	d := dates.MustParse(s)
	return recurrence.MakeRule(recurrence.Weekly, &d)
}

func seedFixtures(t *testing.T, store docstore.Store) {
	seed(t, store, "u1", "once", models.StatusActive, "2024-06-09", recurrence.NoRepeat())
	seed(t, store, "u1", "weekly", models.StatusActive, "2024-06-10", weeklyFrom("2024-06-03"))
	seed(t, store, "u1", "future", models.StatusActive, "2024-06-20", recurrence.NoRepeat())
	seed(t, store, "u2", "draft", models.StatusDraft, "2024-06-08", recurrence.NoRepeat())
}

func TestTick_DispatchesDueActiveRequests(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seedFixtures(t, store)
	rec := &recorder{}
	s := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(rec))

	rep, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"once@2024-06-09", "weekly@2024-06-10"}, rec.got())
	assert.Equal(t, 2, rep.Owners)
	assert.Equal(t, 2, rep.Due)
	assert.Equal(t, 2, rep.Dispatched)
	assert.Equal(t, 1, rep.Rolled)
}

func TestTick_RollsRecurringRequestForward(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seedFixtures(t, store)
	ctl := controller(store)
	s := New(DefaultConfig(), store, ctl, zerolog.Nop(), WithDispatcher(&recorder{}))

	_, err := s.Tick(context.Background())
	require.NoError(t, err)

	r, err := ctl.Get(context.Background(), "u1", "weekly")
	require.NoError(t, err)
	require.NotNil(t, r.ScheduledDate)
	assert.Equal(t, "2024-06-17", r.ScheduledDate.Key())
	require.NotNil(t, r.Repeat.Anchor)
	assert.Equal(t, "2024-06-03", r.Repeat.Anchor.Key(), "anchor survives the roll")
	assert.Equal(t, models.StatusActive, r.Status)

	once, err := ctl.Get(context.Background(), "u1", "once")
	require.NoError(t, err)
	assert.Equal(t, "2024-06-09", once.ScheduledDate.Key())
}

func TestTick_SkipsOccurrencesAlreadyHandled(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seedFixtures(t, store)
	rec := &recorder{}
	s := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(rec))

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	rep, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Len(t, rec.got(), 2)
	assert.Equal(t, 1, rep.Due)
	assert.Equal(t, 1, rep.Duplicates)
	assert.Zero(t, rep.Dispatched)
}

func TestTick_DeliveryLogDeduplicatesAcrossSchedulers(t *testing.T) {
	store, err := docstore.NewSQLiteStore(filepath.Join(t.TempDir(), "overbase.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	seed(t, store, "u1", "once", models.StatusActive, "2024-06-09", recurrence.NoRepeat())

	first, second := &recorder{}, &recorder{}
	a := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(first), WithDeliveryLog(store))
	b := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(second), WithDeliveryLog(store))

	_, err = a.Tick(context.Background())
	require.NoError(t, err)
	rep, err := b.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"once@2024-06-09"}, first.got())
	assert.Empty(t, second.got())
	assert.Equal(t, 1, rep.Duplicates)
}

func TestTick_FailedDispatchStillRolls(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seed(t, store, "u1", "weekly", models.StatusActive, "2024-06-10", weeklyFrom("2024-06-03"))
	m := metrics.New()
	rec := &recorder{err: errors.New("webhook down")}
	s := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(rec), WithMetrics(m))

	rep, err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Zero(t, rep.Dispatched)
	assert.Equal(t, 1, rep.Rolled)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var failed float64
	for _, f := range families {
		if f.GetName() != "overbase_scheduler_deliveries_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetValue() == "failed" {
					failed = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, float64(1), failed)
}

type failingLog struct{}

func (failingLog) MarkDelivered(context.Context, string, string, string) (bool, error) {
	return false, errors.New("disk full")
}

func TestTick_ClaimErrorIsReportedAndRetried(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seed(t, store, "u1", "once", models.StatusActive, "2024-06-09", recurrence.NoRepeat())
	rec := &recorder{}
	s := New(DefaultConfig(), store, controller(store), zerolog.Nop(), WithDispatcher(rec), WithDeliveryLog(failingLog{}))

	_, err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, rec.got())

	s.log = nil
	_, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"once@2024-06-09"}, rec.got())
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := docstore.NewMemoryStore(zerolog.Nop())
	seed(t, store, "u1", "once", models.StatusActive, "2024-06-09", recurrence.NoRepeat())
	rec := &recorder{}
	s := New(Config{Interval: 10 * time.Millisecond}, store, controller(store), zerolog.Nop(), WithDispatcher(rec))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(rec.got()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Len(t, rec.got(), 1)
}
