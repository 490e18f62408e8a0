package pools

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Deque is a bounded work-stealing deque (Chase-Lev).
//
// The owning worker pushes and pops at the bottom without locks; any other
// goroutine may steal from the top. Slots are atomic pointers so a thief
// never observes a torn write from the owner.
type Deque struct {
	top atomic.Int64 // steal end
	_   cpu.CacheLinePad

	bottom atomic.Int64 // owner end
	_      cpu.CacheLinePad

	mask  int64
	slots []atomic.Pointer[Task]
}

// NewDeque creates a deque holding up to capacity tasks.
// capacity is rounded up to a power of two.
func NewDeque(capacity int) *Deque {
	n := 1
	for n < capacity {
		n <<= 1
	}
	return &Deque{
		mask:  int64(n - 1),
		slots: make([]atomic.Pointer[Task], n),
	}
}

// Cap returns the number of slots.
func (d *Deque) Cap() int {
	return len(d.slots)
}

// Len returns an approximate number of queued tasks.
func (d *Deque) Len() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// PushBottom adds t at the owner end. Owner only.
// Returns false when the deque is full.
func (d *Deque) PushBottom(t *Task) bool {
	b := d.bottom.Load()
	top := d.top.Load()
	if b-top >= int64(len(d.slots)) {
		return false
	}
	d.slots[b&d.mask].Store(t)
	d.bottom.Store(b + 1)
	return true
}

// PopBottom removes the most recently pushed task. Owner only.
func (d *Deque) PopBottom() *Task {
	b := d.bottom.Load() - 1
	d.bottom.Store(b)
	top := d.top.Load()

	if top > b {
		// empty
		d.bottom.Store(b + 1)
		return nil
	}

	t := d.slots[b&d.mask].Load()
	if top == b {
		// Last task: race any thief for it through top.
		if !d.top.CompareAndSwap(top, top+1) {
			t = nil
		}
		d.bottom.Store(b + 1)
		return t
	}
	return t
}

// Steal removes the oldest task from the top. Safe from any goroutine.
// A nil result means the deque was empty or another thief won the race.
func (d *Deque) Steal() *Task {
	top := d.top.Load()
	b := d.bottom.Load()
	if top >= b {
		return nil
	}
	t := d.slots[top&d.mask].Load()
	if !d.top.CompareAndSwap(top, top+1) {
		return nil
	}
	return t
}
