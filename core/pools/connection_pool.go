package pools

import (
	"sync"
	"sync/atomic"
)

// Resettable objects clear per-connection state before reuse.
type Resettable interface {
	Reset()
}

// ConnectionPool recycles per-connection state (buffers, parser, writer)
// between connections.
type ConnectionPool[T Resettable] struct {
	pool sync.Pool
	gets atomic.Uint64
	puts atomic.Uint64
	news atomic.Uint64
}

// ConnectionPoolStats is a snapshot of pool traffic.
type ConnectionPoolStats struct {
	Gets    uint64
	Puts    uint64
	News    uint64
	HitRate float64
}

// NewConnectionPool creates a pool that allocates with newFunc on a miss.
func NewConnectionPool[T Resettable](newFunc func() T) *ConnectionPool[T] {
	cp := &ConnectionPool[T]{}
	cp.pool.New = func() any {
		cp.news.Add(1)
		return newFunc()
	}
	return cp
}

// Get returns a ready object.
func (cp *ConnectionPool[T]) Get() T {
	cp.gets.Add(1)
	return cp.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (cp *ConnectionPool[T]) Put(obj T) {
	obj.Reset()
	cp.puts.Add(1)
	cp.pool.Put(obj)
}

// Stats returns pool statistics. HitRate is the share of Gets served
// without allocating.
func (cp *ConnectionPool[T]) Stats() ConnectionPoolStats {
	s := ConnectionPoolStats{
		Gets: cp.gets.Load(),
		Puts: cp.puts.Load(),
		News: cp.news.Load(),
	}
	if s.Gets > 0 && s.News <= s.Gets {
		s.HitRate = float64(s.Gets-s.News) / float64(s.Gets)
	}
	return s
}
