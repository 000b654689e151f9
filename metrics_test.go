package tahan

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsCollectorWithRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(registry)

	require.NotNil(t, collector)
	assert.Same(t, registry, collector.GetRegistry())
}

func TestMetricsCollectorWithWrappedRegisterer(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry(prometheus.WrapRegistererWith(prometheus.Labels{"client": "a"}, registry))
	assert.Nil(t, collector.GetRegistry())

	collector.RecordCacheHit("GET", "x.test/")
	count, err := testutil.GatherAndCount(registry, "tahan_cache_hits_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordRequest(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequest("GET", "example.com/api", 200, 100*time.Millisecond)
	collector.RecordRequest("GET", "example.com/api", 200, 50*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.requestsTotal.WithLabelValues("GET", "200", "example.com/api")))
}

func TestRecordInFlight(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestStart("GET", "example.com/api")
	collector.RecordRequestEnd("GET", "example.com/api")

	assert.Equal(t, float64(1), testutil.ToFloat64(collector.requestsInFlight.WithLabelValues("GET", "example.com/api")))
}

func TestRecordTokenMetrics(t *testing.T) {
	collector := NewMetricsCollectorWithRegistry(prometheus.NewRegistry())

	collector.RecordTokenRefresh("success")
	collector.RecordTokenRefresh("failure")
	collector.RecordTokenRefresh("success")
	collector.RecordRefreshJoin()

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.tokenRefreshes.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.refreshJoins))
}

func TestNilMetricsCollectorIsSafe(t *testing.T) {
	var collector *MetricsCollector

	assert.NotPanics(t, func() {
		collector.RecordRequest("GET", "e", 200, time.Second)
		collector.RecordRequestStart("GET", "e")
		collector.RecordRequestEnd("GET", "e")
		collector.RecordRetry("GET", "e", 1)
		collector.RecordCacheHit("GET", "e")
		collector.RecordCacheMiss("GET", "e")
		collector.RecordCacheSize(3)
		collector.RecordDeduplicationHit("GET", "e")
		collector.RecordTokenRefresh("success")
		collector.RecordRefreshJoin()
		collector.RecordError(ErrorTypeNetwork, "GET", "e")
	})
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "api.example.com/items", endpointLabel("https://api.example.com/items?page=2"))
	assert.Equal(t, "api.example.com/", endpointLabel("https://api.example.com"))
	assert.Equal(t, "unknown", endpointLabel("::bad"))
}
