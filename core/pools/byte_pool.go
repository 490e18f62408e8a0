package pools

import "sync"

// BytePool is a multi-tiered byte slice pool. Connections take their read
// buffers from it and the response writer borrows streaming chunks.
type BytePool struct {
	pools []*sync.Pool
	sizes []int
}

// Size classes: request heads, default connection buffers, body chunks.
var defaultSizes = []int{
	4 << 10,
	16 << 10,
	64 << 10,
	256 << 10,
}

// NewBytePool creates a byte pool with the default tiers.
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom ascending tiers.
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, size)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a buffer pointer with len >= size. Buffers larger than every
// tier are allocated and never pooled.
func (bp *BytePool) Get(size int) *[]byte {
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			return bp.pools[i].Get().(*[]byte)
		}
	}

	buf := make([]byte, size)
	return &buf
}

// Put returns a buffer obtained from Get.
func (bp *BytePool) Put(buf *[]byte) {
	if buf == nil {
		return
	}

	capacity := cap(*buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			*buf = (*buf)[:capacity]
			bp.pools[i].Put(buf)
			return
		}
	}
}

var sharedBytePool = NewBytePool()

// GetBytes borrows from the shared pool.
func GetBytes(size int) *[]byte {
	return sharedBytePool.Get(size)
}

// PutBytes returns a buffer to the shared pool.
func PutBytes(buf *[]byte) {
	sharedBytePool.Put(buf)
}
