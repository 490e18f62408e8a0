// Package cache holds rendered response payloads in a sharded LRU.
//
// Keys are fingerprints of a resource version. A key's shard is its hash
// modulo the shard count, so it never moves during a process run. Each
// shard has its own mutex and byte budget; shards never block each other.
package cache

import "sync/atomic"

// Options configures a Cache.
type Options struct {
	// Shards is the number of partitions. Defaults to 16.
	Shards int
	// ShardCapacity is the payload byte budget of each shard.
	ShardCapacity int64
	// Disabled starts the cache switched off.
	Disabled bool
	// Metrics receives events. Defaults to NoopMetrics.
	Metrics Metrics
}

// Cache is a sharded in-memory store of rendered payloads.
// All methods are safe for concurrent use by multiple goroutines.
type Cache struct {
	shards  []*shard
	enabled atomic.Bool
	metrics Metrics
}

// Stats is a point-in-time view across all shards.
type Stats struct {
	Shards    int
	Enabled   bool
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Rejected  uint64
}

// New constructs a cache.
func New(opt Options) *Cache {
	if opt.Shards <= 0 {
		opt.Shards = 16
	}
	if opt.ShardCapacity <= 0 {
		opt.ShardCapacity = 4 << 20
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}

	c := &Cache{
		shards:  make([]*shard, opt.Shards),
		metrics: opt.Metrics,
	}
	for i := range c.shards {
		c.shards[i] = newShard(opt.ShardCapacity, opt.Metrics)
	}
	c.enabled.Store(!opt.Disabled)
	return c
}

// ShardOf returns the partition index for k.
func (c *Cache) ShardOf(k Fingerprint) int {
	return int(k.Lo % uint64(len(c.shards)))
}

// Get returns the entry for k. A disabled cache always misses.
func (c *Cache) Get(k Fingerprint) (*Entry, bool) {
	if !c.enabled.Load() {
		c.shards[c.ShardOf(k)].misses.Add(1)
		c.metrics.Miss()
		return nil, false
	}
	return c.shards[c.ShardOf(k)].Get(k)
}

// Put stores e under k. It reports whether the entry was kept: a disabled
// cache or an entry larger than a shard is silently not stored.
func (c *Cache) Put(k Fingerprint, e *Entry) bool {
	if !c.enabled.Load() {
		return false
	}
	return c.shards[c.ShardOf(k)].Put(k, e)
}

// SetEnabled flips the global switch. Disabling also empties the cache so
// nothing stale survives re-enabling.
func (c *Cache) SetEnabled(on bool) {
	if !c.enabled.Swap(on) || on {
		return
	}
	c.Clear()
}

// Enabled reports the global switch.
func (c *Cache) Enabled() bool {
	return c.enabled.Load()
}

// Clear empties every shard and returns how many entries were dropped.
func (c *Cache) Clear() int {
	n := 0
	for _, s := range c.shards {
		n += s.Clear()
	}
	return n
}

// Len returns the total number of resident entries.
func (c *Cache) Len() int {
	total := 0
	for _, s := range c.shards {
		n, _ := s.usage()
		total += n
	}
	return total
}

// Stats aggregates shard counters.
func (c *Cache) Stats() Stats {
	st := Stats{Shards: len(c.shards), Enabled: c.enabled.Load()}
	for _, s := range c.shards {
		n, b := s.usage()
		st.Entries += n
		st.Bytes += b
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicts.Load()
		st.Rejected += s.rejected.Load()
	}
	return st
}
