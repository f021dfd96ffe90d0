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

func newTestCollector() *Collector {
	reg := prometheus.NewRegistry()
	return NewCollectorWith(reg, reg)
}

func TestNewCollector(t *testing.T) {
	// Reset Prometheus registry to avoid duplicate registration
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.replicas, "replicas gauge should be initialized")
	assert.NotNil(t, collector.failures, "failures counter should be initialized")
}

func TestSinkTracksGauge(t *testing.T) {
	c := newTestCollector()
	sink := c.Sink("etl")

	sink.Increment()
	sink.Increment()
	sink.Increment()
	sink.Decrement()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.replicas.WithLabelValues("etl")))

	sink.Set(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(c.replicas.WithLabelValues("etl")))

	// Sinks of different jobs are independent
	c.Sink("other").Increment()
	assert.Equal(t, 7.0, testutil.ToFloat64(c.replicas.WithLabelValues("etl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replicas.WithLabelValues("other")))
}

func TestRecordCounters(t *testing.T) {
	c := newTestCollector()

	c.RecordCreated("etl")
	c.RecordCreated("etl")
	c.RecordFailure("etl", FailurePlacement)
	c.RecordScale("etl", DirectionUp, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.replicasCreated.WithLabelValues("etl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.failures.WithLabelValues("etl", FailurePlacement)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.failures.WithLabelValues("etl", FailureExecution)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.scaleOps.WithLabelValues("etl", DirectionUp)))
}

func TestForgetRemovesSeries(t *testing.T) {
	c := newTestCollector()
	c.Sink("etl").Set(3)
	c.RecordFailure("etl", FailureExecution)

	c.Forget("etl")

	assert.Equal(t, 0, testutil.CollectAndCount(c.replicas))
	assert.Equal(t, 0, testutil.CollectAndCount(c.failures))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := newTestCollector()
	c.Sink("etl").Set(2)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `replica_scaler_replicas{job="etl"} 2`), body)
}
