// Package metrics exports server, cache and worker pool counters to
// Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/searchktools/lumen/core/cache"
	"github.com/searchktools/lumen/core/pools"
)

const namespace = "lumen"

// Latency buckets in seconds, 1ms to 10s.
var latencyBuckets = []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10}

// Collector owns a private registry so several servers (and tests) can run
// in one process.
type Collector struct {
	reg *prometheus.Registry

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	bytesOut prometheus.Counter
	rejected *prometheus.CounterVec

	cacheHits    prometheus.Counter
	cacheMisses  prometheus.Counter
	cacheEvicts  *prometheus.CounterVec
	cacheRejects prometheus.Counter
	cacheEntries prometheus.Gauge
	cacheBytes   prometheus.Gauge
}

// New creates a collector with Go runtime and process metrics registered.
func New() *Collector {
	c := &Collector{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests served, by status code and cache result.",
		}, []string{"status", "cache"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from a complete request head to the last response byte.",
			Buckets:   latencyBuckets,
		}, []string{"kind"}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "response_bytes_total",
			Help:      "Response body bytes written.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_rejected_total",
			Help:      "Connections answered with 503 before being read.",
		}, []string{"reason"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Page cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Page cache misses.",
		}),
		cacheEvicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Page cache evictions by reason.",
		}, []string{"reason"}),
		cacheRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rejected_total",
			Help:      "Entries larger than a whole shard.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Resident page cache entries.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "bytes",
			Help:      "Resident page cache payload bytes.",
		}),
	}

	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.requests, c.latency, c.bytesOut, c.rejected,
		c.cacheHits, c.cacheMisses, c.cacheEvicts, c.cacheRejects,
		c.cacheEntries, c.cacheBytes,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed response.
func (c *Collector) ObserveRequest(kind string, status int, cacheResult string, written int64, d time.Duration) {
	c.requests.WithLabelValues(strconv.Itoa(status), cacheResult).Inc()
	c.latency.WithLabelValues(kind).Observe(d.Seconds())
	c.bytesOut.Add(float64(written))
}

// Rejected records a connection turned away with 503.
func (c *Collector) Rejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}

// WatchPool exports the pool's counters, read at scrape time.
func (c *Collector) WatchPool(stats func() pools.WorkerPoolStats) {
	gauge := func(name, help string, f func(pools.WorkerPoolStats) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: name, Help: help,
		}, func() float64 { return f(stats()) })
	}
	counter := func(name, help string, f func(pools.WorkerPoolStats) uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: name, Help: help,
		}, func() float64 { return float64(f(stats())) })
	}

	c.reg.MustRegister(
		gauge("workers", "Worker goroutines.", func(s pools.WorkerPoolStats) float64 { return float64(s.NumWorkers) }),
		gauge("active", "Workers running a task.", func(s pools.WorkerPoolStats) float64 { return float64(s.Active) }),
		gauge("pending", "Tasks queued and not yet started.", func(s pools.WorkerPoolStats) float64 { return float64(s.TasksPending) }),
		counter("submitted_total", "Tasks accepted.", func(s pools.WorkerPoolStats) uint64 { return s.TasksSubmitted }),
		counter("completed_total", "Tasks finished.", func(s pools.WorkerPoolStats) uint64 { return s.TasksCompleted }),
		counter("dropped_total", "Tasks dropped at shutdown.", func(s pools.WorkerPoolStats) uint64 { return s.TasksDropped }),
		counter("faulted_total", "Tasks that panicked.", func(s pools.WorkerPoolStats) uint64 { return s.TasksFaulted }),
		counter("steals_total", "Tasks taken from another worker.", func(s pools.WorkerPoolStats) uint64 { return s.StealsSuccess }),
		counter("parks_total", "Times a worker went idle.", func(s pools.WorkerPoolStats) uint64 { return s.Parks }),
	)
}

// Cache returns an adapter feeding cache events into this collector.
func (c *Collector) Cache() cache.Metrics {
	return cacheMetrics{c}
}

type cacheMetrics struct{ c *Collector }

func (m cacheMetrics) Hit()    { m.c.cacheHits.Inc() }
func (m cacheMetrics) Miss()   { m.c.cacheMisses.Inc() }
func (m cacheMetrics) Reject() { m.c.cacheRejects.Inc() }

func (m cacheMetrics) Evict(r cache.EvictReason) {
	m.c.cacheEvicts.WithLabelValues(r.String()).Inc()
}

func (m cacheMetrics) Size(entries int, bytes int64) {
	m.c.cacheEntries.Add(float64(entries))
	m.c.cacheBytes.Add(float64(bytes))
}
