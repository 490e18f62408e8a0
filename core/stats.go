package core

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/lumen/core/cache"
	"github.com/searchktools/lumen/core/pools"
)

// Stats is a point-in-time view of the engine.
type Stats struct {
	Uptime   time.Duration
	Accepted uint64
	Served   uint64
	Rejected uint64
	Active   int

	Pool  pools.WorkerPoolStats
	Cache cache.Stats
	Conns pools.ConnectionPoolStats
	GC    pools.GCStats
}

// Stats collects counters from the engine and its pools.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	active := len(e.active)
	started := e.started
	e.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = time.Since(started)
	}
	return Stats{
		Uptime:   uptime,
		Accepted: e.accepted.Load(),
		Served:   e.served.Load(),
		Rejected: e.rejected.Load(),
		Active:   active,
		Pool:     e.pool.Stats(),
		Cache:    e.cache.Stats(),
		Conns:    e.conns.Stats(),
		GC:       pools.GetGCStats(),
	}
}

// Proto renders s as a protobuf Struct for the stats endpoint.
func (s Stats) Proto() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"uptime_seconds": s.Uptime.Seconds(),
		"connections": map[string]any{
			"accepted": s.Accepted,
			"served":   s.Served,
			"rejected": s.Rejected,
			"active":   s.Active,
			"pool": map[string]any{
				"gets":     s.Conns.Gets,
				"puts":     s.Conns.Puts,
				"news":     s.Conns.News,
				"hit_rate": s.Conns.HitRate,
			},
		},
		"workers": map[string]any{
			"count":     s.Pool.NumWorkers,
			"active":    s.Pool.Active,
			"pending":   s.Pool.TasksPending,
			"submitted": s.Pool.TasksSubmitted,
			"completed": s.Pool.TasksCompleted,
			"dropped":   s.Pool.TasksDropped,
			"faulted":   s.Pool.TasksFaulted,
			"steals":    s.Pool.StealsSuccess,
			"parks":     s.Pool.Parks,
		},
		"cache": map[string]any{
			"enabled":   s.Cache.Enabled,
			"shards":    s.Cache.Shards,
			"entries":   s.Cache.Entries,
			"bytes":     s.Cache.Bytes,
			"hits":      s.Cache.Hits,
			"misses":    s.Cache.Misses,
			"evictions": s.Cache.Evictions,
			"rejected":  s.Cache.Rejected,
		},
		"gc": map[string]any{
			"num_gc":         s.GC.NumGC,
			"pause_total_ms": float64(s.GC.PauseTotal) / float64(time.Millisecond),
			"heap_alloc":     s.GC.HeapAlloc,
			"goroutines":     s.GC.NumGoroutine,
		},
	})
}
