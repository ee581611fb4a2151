package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("test Counters", testMetricsCounters)
	t.Run("test NilSafe", testMetricsNilSafe)
}

func testMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	loaderMetrics := New(registry)

	loaderMetrics.MemoryHit()
	loaderMetrics.DiskHit()
	loaderMetrics.DiskHit()
	loaderMetrics.Miss()
	loaderMetrics.Produced()
	loaderMetrics.Evicted(3)
	loaderMetrics.Evicted(0)
	loaderMetrics.StaleDiscard()

	assert.Equal(t, float64(1), testutil.ToFloat64(loaderMetrics.memoryHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(loaderMetrics.diskHits))
	assert.Equal(t, float64(1), testutil.ToFloat64(loaderMetrics.misses))
	assert.Equal(t, float64(1), testutil.ToFloat64(loaderMetrics.produced))
	assert.Equal(t, float64(3), testutil.ToFloat64(loaderMetrics.evictions))
	assert.Equal(t, float64(1), testutil.ToFloat64(loaderMetrics.staleDiscards))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Len(t, families, 6)
}

func testMetricsNilSafe(t *testing.T) {
	var loaderMetrics *Metrics

	// nil metrics count nothing and must not panic
	loaderMetrics.MemoryHit()
	loaderMetrics.DiskHit()
	loaderMetrics.Miss()
	loaderMetrics.Produced()
	loaderMetrics.Evicted(2)
	loaderMetrics.StaleDiscard()
}
