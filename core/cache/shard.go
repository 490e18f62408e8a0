package cache

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// shard is an independent partition of the cache with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	m        map[Fingerprint]*node
	head     *node // MRU
	tail     *node // LRU
	len      int
	bytes    int64
	capacity int64
	tick     uint64 // access clock for lastAccess

	metrics Metrics

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_        cpu.CacheLinePad
	hits     atomic.Uint64
	_        cpu.CacheLinePad
	misses   atomic.Uint64
	_        cpu.CacheLinePad
	evicts   atomic.Uint64
	rejected atomic.Uint64
}

func newShard(capacity int64, m Metrics) *shard {
	return &shard{
		m:        make(map[Fingerprint]*node),
		capacity: capacity,
		metrics:  m,
	}
}

// Get returns the entry and promotes it to MRU.
func (s *shard) Get(k Fingerprint) (*Entry, bool) {
	s.mu.Lock()
	n, ok := s.m[k]
	if !ok {
		s.mu.Unlock()
		s.misses.Add(1)
		s.metrics.Miss()
		return nil, false
	}
	s.touch(n)
	s.moveToFront(n)
	e := n.entry
	s.mu.Unlock()

	s.hits.Add(1)
	s.metrics.Hit()
	return e, true
}

// Put inserts or replaces k and promotes it to MRU, evicting from the LRU
// end until the shard fits. Entries bigger than the whole shard are
// rejected and false is returned.
func (s *shard) Put(k Fingerprint, e *Entry) bool {
	size := e.Size()
	if size > s.capacity {
		s.rejected.Add(1)
		s.metrics.Reject()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.m[k]; ok {
		delta := size - n.size
		n.entry = e
		n.size = size
		s.bytes += delta
		s.touch(n)
		s.moveToFront(n)
		s.metrics.Size(0, delta)
	} else {
		n := &node{key: k, entry: e, size: size}
		s.m[k] = n
		s.touch(n)
		s.insertFront(n)
		s.metrics.Size(1, size)
	}

	s.enforceLimitsLocked()
	return true
}

// Clear drops every entry.
func (s *shard) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.len
	for tail := s.tail; tail != nil; tail = s.tail {
		s.evictNode(tail, EvictCleared)
	}
	return n
}

func (s *shard) usage() (entries int, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.len, s.bytes
}

// -------------------- internals (mu held) --------------------

func (s *shard) touch(n *node) {
	s.tick++
	n.lastAccess = s.tick
}

// insertFront inserts n at MRU in O(1).
func (s *shard) insertFront(n *node) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.bytes += n.size
}

// moveToFront promotes n to MRU in O(1).
func (s *shard) moveToFront(n *node) {
	if n == s.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n and updates counters in O(1).
func (s *shard) removeNode(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.bytes -= n.size
}

func (s *shard) evictNode(n *node, reason EvictReason) {
	s.removeNode(n)
	delete(s.m, n.key)
	s.evicts.Add(1)
	s.metrics.Evict(reason)
	s.metrics.Size(-1, -n.size)
}

// enforceLimitsLocked evicts from the LRU end, one entry at a time, until
// the byte budget holds.
func (s *shard) enforceLimitsLocked() {
	for s.bytes > s.capacity && s.tail != nil {
		s.evictNode(s.tail, EvictCapacity)
	}
}
