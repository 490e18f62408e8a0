package http

import (
	"io"

	"github.com/searchktools/lumen/core/pools"
)

// Reader is the connection's growable read buffer. The parser works on
// Unconsumed() directly; nothing is copied out of it.
type Reader struct {
	bufPtr *[]byte
	buf    []byte
	start  int
	end    int
	max    int
}

// NewReader borrows an initial buffer of size bytes that may grow up to max.
func NewReader(size, max int) *Reader {
	if max < size {
		max = size
	}
	p := pools.GetBytes(size)
	return &Reader{
		bufPtr: p,
		buf:    *p,
		max:    max,
	}
}

// Unconsumed returns the bytes read but not yet consumed.
func (r *Reader) Unconsumed() []byte {
	return r.buf[r.start:r.end]
}

// Buffered reports how many unconsumed bytes are held.
func (r *Reader) Buffered() int {
	return r.end - r.start
}

// Consume marks n bytes as processed. Views into them stay valid until the
// next Fill.
func (r *Reader) Consume(n int) {
	r.start += n
	if r.start >= r.end {
		r.start, r.end = 0, 0
	}
}

// Fill reads once from src into free space, compacting or growing first if
// needed. Returns ErrBufferFull when max bytes are already buffered.
func (r *Reader) Fill(src io.Reader) (int, error) {
	if r.end == len(r.buf) {
		if err := r.makeRoom(); err != nil {
			return 0, err
		}
	}
	n, err := src.Read(r.buf[r.end:])
	r.end += n
	return n, err
}

func (r *Reader) makeRoom() error {
	if r.start > 0 {
		n := copy(r.buf, r.buf[r.start:r.end])
		r.start, r.end = 0, n
		return nil
	}
	if len(r.buf) >= r.max {
		return ErrBufferFull
	}

	size := min(len(r.buf)*2, r.max)
	p := pools.GetBytes(size)
	nb := *p
	copy(nb, r.buf[:r.end])
	pools.PutBytes(r.bufPtr)
	r.bufPtr, r.buf = p, nb
	return nil
}

// Release hands the buffer back to the pool. The Reader must not be used
// afterwards.
func (r *Reader) Release() {
	if r.bufPtr != nil {
		pools.PutBytes(r.bufPtr)
	}
	r.bufPtr, r.buf = nil, nil
	r.start, r.end = 0, 0
}
