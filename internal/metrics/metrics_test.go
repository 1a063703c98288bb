package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_New(t *testing.T) {
	m := New()
	assert.NotNil(t, m.LifecycleTotal)
	assert.NotNil(t, m.DeliveriesTotal)
	assert.NotNil(t, m.HTTPRequestDuration)
	assert.NotNil(t, m.Registry())
}

func TestMetrics_RecordLifecycle(t *testing.T) {
	m := New()
	m.RecordLifecycle("promote", "ok")
	m.RecordLifecycle("promote", "ok")
	m.RecordLifecycle("demote", "invalid")

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `overbase_lifecycle_operations_total{op="promote",result="ok"} 2`)
	assert.Contains(t, body, `overbase_lifecycle_operations_total{op="demote",result="invalid"} 1`)
}

func TestMetrics_RecordSummarization(t *testing.T) {
	m := New()
	m.RecordSummarization("ready", 0.4)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `overbase_summarizations_total{outcome="ready"} 1`)
	assert.Contains(t, body, "overbase_summarize_duration_seconds_count 1")
}

func TestMetrics_RecordSnapshot(t *testing.T) {
	m := New()
	m.RecordSnapshot("u1", 3)
	m.RecordSnapshot("u1", 5)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `overbase_cache_snapshots_total{owner="u1"} 2`)
	assert.Contains(t, body, `overbase_cache_requests{owner="u1"} 5`)
}

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordOptimistic("rolled_back")
	m.RecordCleanup("sweep", "deleted")
	m.RecordDelivery("dispatched")
	m.ObserveHTTP("/api/v1/owners/:owner/requests", "200", 0.01)

	body := getMetricsBody(t, m)
	assert.Contains(t, body, `overbase_cache_optimistic_patches_total{result="rolled_back"} 1`)
	assert.Contains(t, body, `overbase_ephemeral_cleanups_total{result="deleted",trigger="sweep"} 1`)
	assert.Contains(t, body, `overbase_scheduler_deliveries_total{result="dispatched"} 1`)
	assert.Contains(t, body, `overbase_http_requests_total{code="200",route="/api/v1/owners/:owner/requests"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLifecycle("promote", "ok")
		m.RecordSummarization("ready", 1)
		m.RecordSnapshot("u1", 1)
		m.RecordOptimistic("applied")
		m.RecordCleanup("leave", "kept")
		m.RecordDelivery("failed")
		m.ObserveHTTP("/", "200", 0)
	})
}

func getMetricsBody(t *testing.T, m *Metrics) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)
	return string(body)
}
