package cache

// EvictReason says why an entry left the cache.
type EvictReason uint8

const (
	// EvictCapacity: the shard needed room for a newer entry.
	EvictCapacity EvictReason = iota
	// EvictCleared: the cache was cleared, e.g. after a theme reload.
	EvictCleared
)

func (r EvictReason) String() string {
	switch r {
	case EvictCleared:
		return "cleared"
	default:
		return "capacity"
	}
}

// Metrics receives cache events. Implementations must be safe for
// concurrent use; calls may happen while a shard lock is held.
type Metrics interface {
	Hit()
	Miss()
	Evict(EvictReason)
	Reject()
	// Size reports a change in resident entries and bytes.
	Size(entries int, bytes int64)
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Hit()                          {}
func (NoopMetrics) Miss()                         {}
func (NoopMetrics) Evict(EvictReason)             {}
func (NoopMetrics) Reject()                       {}
func (NoopMetrics) Size(entries int, bytes int64) {}

var _ Metrics = NoopMetrics{}
