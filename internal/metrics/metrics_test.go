package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RebuildCompleted("Acme")
	m.RebuildCompleted("Acme")
	m.LoadFailed("TransientFileLock")
	m.SetProjects(3)
	m.RequestAnswered("Ping", "Success")
	m.ObserveQuery(200 * time.Microsecond)
	m.CacheHits(4)
	m.CacheHits(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RebuildsTotal.WithLabelValues("Acme")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LoadFailuresTotal.WithLabelValues("TransientFileLock")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Projects))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("Ping", "Success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.CacheHitsTotal))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RebuildCompleted("x")
		m.LoadFailed("x")
		m.SetProjects(1)
		m.RequestAnswered("x", "y")
		m.ObserveQuery(time.Second)
		m.CacheHits(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.SetProjects(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "autousing_projects 2"))
}
