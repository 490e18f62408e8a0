package pools

import (
	"sync"
	"sync/atomic"
)

// injector is the shared overflow queue. Submissions from outside the pool
// land here and idle workers drain it in FIFO order.
type injector struct {
	mu    sync.Mutex
	tasks []*Task
	head  int
	size  atomic.Int64
}

func newInjector(capacity int) *injector {
	return &injector{tasks: make([]*Task, 0, capacity)}
}

func (q *injector) Len() int {
	return int(q.size.Load())
}

func (q *injector) Push(t *Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.size.Add(1)
	q.mu.Unlock()
}

// Pop removes the oldest task, or returns nil.
func (q *injector) Pop() *Task {
	if q.size.Load() == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

// PopBatch pops one task to run and moves up to max more into dst.
// Tasks that do not fit in dst stay queued.
func (q *injector) PopBatch(dst *Deque, max int) *Task {
	if q.size.Load() == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.popLocked()
	if t == nil {
		return nil
	}
	for i := 0; i < max && q.head < len(q.tasks); i++ {
		if !dst.PushBottom(q.tasks[q.head]) {
			break
		}
		q.popLocked()
	}
	return t
}

func (q *injector) popLocked() *Task {
	if q.head >= len(q.tasks) {
		return nil
	}
	t := q.tasks[q.head]
	q.tasks[q.head] = nil
	q.head++
	q.size.Add(-1)

	// Compact once the consumed prefix dominates the backing array.
	if q.head == len(q.tasks) {
		q.tasks = q.tasks[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.tasks) {
		n := copy(q.tasks, q.tasks[q.head:])
		clear(q.tasks[n:])
		q.tasks = q.tasks[:n]
		q.head = 0
	}
	return t
}
