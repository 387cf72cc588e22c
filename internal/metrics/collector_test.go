package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/arborcore/assistant-core/core/executor"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.httpRequestDuration)
	assert.NotNil(t, collector.providerRequestsTotal)
	assert.NotNil(t, collector.providerRequestDuration)
	assert.NotNil(t, collector.providerTokensUsed)
	assert.NotNil(t, collector.routerRetriesTotal)
	assert.NotNil(t, collector.routerFailoversTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)

	collector.RecordHTTPRequest("GET", "/test", 200, 50*time.Millisecond, 512, 1024)

	newCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.GreaterOrEqual(t, newCount, count)
}

func TestCollector_RecordProviderRequest(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordProviderRequest("fast-remote", "fast_query", "success", 500*time.Millisecond, 150)

	count := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, count, 0)

	tokensCount := testutil.CollectAndCount(collector.providerTokensUsed)
	assert.Greater(t, tokensCount, 0)

	// Zero tokens must still record request/duration series.
	collector.RecordProviderRequest("local", "coding", "failure", 10*time.Millisecond, 0)
	durationCount := testutil.CollectAndCount(collector.providerRequestDuration)
	assert.Greater(t, durationCount, 0)
}

func TestCollector_RecordRetryAndFailover(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordRetry()
	collector.RecordRetry()
	collector.RecordFailover()

	assert.Equal(t, float64(2), testutil.ToFloat64(collector.routerRetriesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.routerFailoversTotal))
}

func TestCollector_RecordCacheOperation(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordCacheHit("l1")
	collector.RecordCacheHit("l1")
	collector.RecordCacheMiss()

	hitCount := testutil.CollectAndCount(collector.cacheHitsTotal)
	assert.Greater(t, hitCount, 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.cacheMissesTotal))
}

func TestCollector_RecordResourceSample(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	collector.RecordResourceSample(executor.Sample{
		HeapAlloc:  1 << 20,
		Sys:        1 << 22,
		NumGC:      7,
		Goroutines: 42,
	})

	assert.Equal(t, float64(1<<20), testutil.ToFloat64(collector.heapAllocBytes))
	assert.Equal(t, float64(1<<22), testutil.ToFloat64(collector.sysBytes))
	assert.Equal(t, float64(7), testutil.ToFloat64(collector.numGC))
	assert.Equal(t, float64(42), testutil.ToFloat64(collector.goroutines))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	logger := zap.NewNop()
	collector := NewCollector(nextTestNamespace(), logger)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordProviderRequest("fast-remote", "fast_query", "success", 500*time.Millisecond, 100)
			collector.RecordCacheHit("l1")
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}

	httpCount := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, httpCount, 0)

	providerCount := testutil.CollectAndCount(collector.providerRequestsTotal)
	assert.Greater(t, providerCount, 0)

	cacheCount := testutil.CollectAndCount(collector.cacheHitsTotal)
	assert.Greater(t, cacheCount, 0)
}

func TestCollector_MetricsRegistration(t *testing.T) {
	logger := zap.NewNop()

	registry := prometheus.NewRegistry()

	collector := NewCollector(nextTestNamespace(), logger)

	registry.MustRegister(collector.httpRequestsTotal)
	registry.MustRegister(collector.httpRequestDuration)

	collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 0, 0)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Greater(t, count, 0)
}
