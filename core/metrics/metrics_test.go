package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/lumen/core/cache"
	"github.com/searchktools/lumen/core/pools"
)

func family(t *testing.T, c *Collector, name string) *dto.MetricFamily {
	t.Helper()
	mfs, err := c.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}

func value(m *dto.Metric) float64 {
	switch {
	case m.Counter != nil:
		return m.Counter.GetValue()
	case m.Gauge != nil:
		return m.Gauge.GetValue()
	default:
		return 0
	}
}

func TestCacheAdapter(t *testing.T) {
	c := New()
	cm := c.Cache()

	cm.Hit()
	cm.Hit()
	cm.Miss()
	cm.Reject()
	cm.Evict(cache.EvictCapacity)
	cm.Evict(cache.EvictCleared)
	cm.Evict(cache.EvictCleared)
	cm.Size(3, 300)
	cm.Size(-1, -100)

	assert.Equal(t, 2.0, value(family(t, c, "lumen_cache_hits_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_cache_misses_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_cache_rejected_total").Metric[0]))
	assert.Equal(t, 2.0, value(family(t, c, "lumen_cache_entries").Metric[0]))
	assert.Equal(t, 200.0, value(family(t, c, "lumen_cache_bytes").Metric[0]))

	byReason := map[string]float64{}
	for _, m := range family(t, c, "lumen_cache_evictions_total").Metric {
		byReason[m.Label[0].GetValue()] = value(m)
	}
	assert.Equal(t, map[string]float64{"capacity": 1, "cleared": 2}, byReason)
}

func TestCacheAdapter_WiredIntoCache(t *testing.T) {
	c := New()
	pc := cache.New(cache.Options{Shards: 1, ShardCapacity: 1 << 10, Metrics: c.Cache()})

	key := cache.NewFingerprint("/a", 1, time.Unix(1, 0))
	pc.Get(key)
	pc.Put(key, &cache.Entry{Key: key, Body: []byte("x")})
	pc.Get(key)

	assert.Equal(t, 1.0, value(family(t, c, "lumen_cache_hits_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_cache_misses_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_cache_entries").Metric[0]))
}

func TestObserveRequest(t *testing.T) {
	c := New()
	c.ObserveRequest("markdown", 200, "hit", 120, 3*time.Millisecond)
	c.ObserveRequest("markdown", 200, "miss", 80, time.Millisecond)
	c.ObserveRequest("static", 404, "none", 10, time.Millisecond)
	c.Rejected("queue_full")

	counts := map[string]float64{}
	for _, m := range family(t, c, "lumen_requests_total").Metric {
		key := ""
		for _, l := range m.Label {
			key += l.GetName() + "=" + l.GetValue() + ","
		}
		counts[key] = value(m)
	}
	assert.Equal(t, 1.0, counts["cache=hit,status=200,"])
	assert.Equal(t, 1.0, counts["cache=miss,status=200,"])
	assert.Equal(t, 1.0, counts["cache=none,status=404,"])
	assert.Equal(t, 210.0, value(family(t, c, "lumen_response_bytes_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_connections_rejected_total").Metric[0]))

	var observed uint64
	for _, m := range family(t, c, "lumen_request_duration_seconds").Metric {
		observed += m.Histogram.GetSampleCount()
	}
	assert.Equal(t, uint64(3), observed)
}

func TestWatchPool(t *testing.T) {
	c := New()
	c.WatchPool(func() pools.WorkerPoolStats {
		return pools.WorkerPoolStats{NumWorkers: 4, TasksSubmitted: 9, TasksFaulted: 1}
	})
	assert.Equal(t, 4.0, value(family(t, c, "lumen_pool_workers").Metric[0]))
	assert.Equal(t, 9.0, value(family(t, c, "lumen_pool_submitted_total").Metric[0]))
	assert.Equal(t, 1.0, value(family(t, c, "lumen_pool_faulted_total").Metric[0]))
}

func TestHandler(t *testing.T) {
	c := New()
	c.Cache().Hit()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), "lumen_cache_hits_total 1")
}
