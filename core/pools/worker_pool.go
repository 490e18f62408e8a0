package pools

import (
	"context"
	"errors"
	"math/rand/v2"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrQueueFull is returned by Submit when queue_size tasks are already waiting.
	ErrQueueFull = errors.New("pools: queue full")
	// ErrPoolClosed is returned once Shutdown has begun.
	ErrPoolClosed = errors.New("pools: pool closed")
)

const (
	localQueueSize = 256
	injectorBatch  = 16
	spinRounds     = 16
	fairnessTick   = 61
	minPark        = 500 * time.Microsecond
	maxPark        = 20 * time.Millisecond
)

// TaskFunc runs a task on the worker that picked it up. The worker can be
// used to push continuations onto its local queue.
type TaskFunc func(w *Worker, t *Task)

// FaultFunc is invoked when a task panics. v is the recovered value.
type FaultFunc func(t *Task, v any)

// Task is a unit of work: an opaque payload plus a creation time.
type Task struct {
	Payload any
	Created time.Time

	run     TaskFunc
	onFault FaultFunc
}

// NewTask creates a task. onFault may be nil.
func NewTask(payload any, run TaskFunc, onFault FaultFunc) *Task {
	return &Task{
		Payload: payload,
		Created: time.Now(),
		run:     run,
		onFault: onFault,
	}
}

// Options configures a WorkerPool.
type Options struct {
	// Workers is the number of worker goroutines. Defaults to runtime.NumCPU().
	Workers int
	// QueueSize bounds tasks waiting to start. 0 means unbounded.
	QueueSize int
	// OnFault is called after a task's own fault handler, for logging.
	OnFault FaultFunc
}

// WorkerPool is a work-stealing scheduler.
//
// Each worker owns a Deque. External submissions go to a shared injector;
// an idle worker looks at its own deque, then the injector, then steals
// from peers starting at a random victim. Workers with nothing to do park
// on a token channel with a bounded timeout.
type WorkerPool struct {
	numWorkers int
	queueSize  int
	workers    []*Worker
	injector   *injector
	onFault    FaultFunc

	// submitMu orders Submit against Shutdown so no task is queued after
	// the final drain.
	submitMu sync.RWMutex
	closed   atomic.Bool
	quit     chan struct{}
	wake     chan struct{}
	wg       sync.WaitGroup

	pending atomic.Int64
	active  atomic.Int64

	// Statistics
	stats struct {
		tasksSubmitted atomic.Uint64
		tasksCompleted atomic.Uint64
		tasksDropped   atomic.Uint64
		tasksFaulted   atomic.Uint64
		stealsSuccess  atomic.Uint64
		stealsFailed   atomic.Uint64
		parks          atomic.Uint64
	}
}

// Worker is a goroutine that runs tasks.
type Worker struct {
	id    int
	pool  *WorkerPool
	local *Deque

	// Owned by the worker goroutine.
	tick    uint32
	yielded bool
}

// ID returns the worker index.
func (w *Worker) ID() int {
	return w.id
}

// NewWorkerPool creates and starts a work-stealing pool.
func NewWorkerPool(opts Options) *WorkerPool {
	n := opts.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}

	p := &WorkerPool{
		numWorkers: n,
		queueSize:  opts.QueueSize,
		workers:    make([]*Worker, n),
		injector:   newInjector(opts.QueueSize),
		onFault:    opts.OnFault,
		quit:       make(chan struct{}),
		wake:       make(chan struct{}, n),
	}

	for i := 0; i < n; i++ {
		p.workers[i] = &Worker{
			id:    i,
			pool:  p,
			local: NewDeque(localQueueSize),
		}
	}

	p.wg.Add(n)
	for _, w := range p.workers {
		go w.run()
	}

	return p
}

// Submit queues a task. It never blocks: when QueueSize tasks are already
// waiting it returns ErrQueueFull.
func (p *WorkerPool) Submit(t *Task) error {
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}
	if p.queueSize > 0 && p.pending.Load() >= int64(p.queueSize) {
		return ErrQueueFull
	}

	p.pending.Add(1)
	p.stats.tasksSubmitted.Add(1)
	p.injector.Push(t)
	p.notify()
	return nil
}

// Push defers t onto the worker's own queue. The worker first takes one
// task from the shared injector, if any, so a task that re-queues itself
// yields to waiting work; idle peers may steal t meanwhile. Must be called
// from a task running on w. Push ignores QueueSize since the work was
// already admitted once.
func (w *Worker) Push(t *Task) error {
	p := w.pool
	p.submitMu.RLock()
	defer p.submitMu.RUnlock()

	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.pending.Add(1)
	p.stats.tasksSubmitted.Add(1)
	if !w.local.PushBottom(t) {
		p.injector.Push(t)
	}
	w.yielded = true
	p.notify()
	return nil
}

// HasPending reports whether other tasks are waiting to start.
func (p *WorkerPool) HasPending() bool {
	return p.pending.Load() > 0
}

// notify wakes at most one parked worker.
func (p *WorkerPool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer w.pool.wg.Done()

	timer := time.NewTimer(maxPark)
	timer.Stop()
	park := minPark

	for {
		if w.pool.closed.Load() {
			return
		}

		t := w.next()
		if t == nil {
			for i := 0; i < spinRounds && t == nil; i++ {
				runtime.Gosched()
				t = w.next()
			}
		}
		if t == nil {
			if !w.park(timer, park) {
				return
			}
			park = min(park*2, maxPark)
			continue
		}

		park = minPark
		w.execute(t)
	}
}

// next finds a task: own deque, then the injector, then peers. The
// injector goes first right after a yield and every fairnessTick calls so
// a busy local deque cannot starve new submissions.
func (w *Worker) next() *Task {
	p := w.pool
	w.tick++
	if w.yielded || w.tick%fairnessTick == 0 {
		w.yielded = false
		if t := p.injector.Pop(); t != nil {
			return t
		}
	}

	if t := w.local.PopBottom(); t != nil {
		return t
	}

	batch := min(p.injector.Len()/p.numWorkers, injectorBatch)
	if t := p.injector.PopBatch(w.local, batch); t != nil {
		return t
	}

	return w.trySteal()
}

// trySteal attempts to steal work from another worker
func (w *Worker) trySteal() *Task {
	p := w.pool
	n := p.numWorkers
	if n == 1 {
		return nil
	}

	// Random start so thieves spread over victims.
	start := rand.IntN(n)
	for i := 0; i < n; i++ {
		victim := p.workers[(start+i)%n]
		if victim == w {
			continue
		}
		if t := victim.local.Steal(); t != nil {
			p.stats.stealsSuccess.Add(1)
			return t
		}
	}

	p.stats.stealsFailed.Add(1)
	return nil
}

// park blocks until woken, the timeout elapses or the pool closes.
// Returns false when the worker should exit.
func (w *Worker) park(timer *time.Timer, d time.Duration) bool {
	p := w.pool
	if p.pending.Load() > 0 {
		return true
	}
	p.stats.parks.Add(1)

	timer.Reset(d)
	defer timer.Stop()

	select {
	case <-p.wake:
		return true
	case <-timer.C:
		return true
	case <-p.quit:
		return false
	}
}

func (w *Worker) execute(t *Task) {
	p := w.pool
	p.pending.Add(-1)
	p.active.Add(1)

	defer func() {
		if v := recover(); v != nil {
			p.stats.tasksFaulted.Add(1)
			p.fault(t, v)
		}
		p.active.Add(-1)
		p.stats.tasksCompleted.Add(1)
	}()

	t.run(w, t)
}

// fault runs the fault hooks. A panicking hook is swallowed so the worker
// survives.
func (p *WorkerPool) fault(t *Task, v any) {
	defer func() { _ = recover() }()
	if t.onFault != nil {
		t.onFault(t, v)
	}
	if p.onFault != nil {
		p.onFault(t, v)
	}
}

// Shutdown stops the pool. Tasks already running finish; tasks still queued
// are dropped and counted. Shutdown waits for workers until ctx is done and
// returns the dropped tasks so the caller can release their payloads.
func (p *WorkerPool) Shutdown(ctx context.Context) ([]*Task, error) {
	p.submitMu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.submitMu.Unlock()
		return nil, ErrPoolClosed
	}
	close(p.quit)
	p.submitMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	dropped := p.drain()
	return dropped, err
}

// drain removes everything still queued. Uses only thief-side operations so
// it is safe while a straggling worker finishes its last task.
func (p *WorkerPool) drain() []*Task {
	var dropped []*Task
	for t := p.injector.Pop(); t != nil; t = p.injector.Pop() {
		dropped = append(dropped, t)
	}
	for _, w := range p.workers {
		for w.local.Len() > 0 {
			if t := w.local.Steal(); t != nil {
				dropped = append(dropped, t)
			}
		}
	}

	p.pending.Add(-int64(len(dropped)))
	p.stats.tasksDropped.Add(uint64(len(dropped)))
	return dropped
}

// Close shuts the pool down without waiting.
func (p *WorkerPool) Close() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _ = p.Shutdown(ctx)
}

// Stats returns pool statistics
func (p *WorkerPool) Stats() WorkerPoolStats {
	return WorkerPoolStats{
		NumWorkers:     p.numWorkers,
		Active:         int(p.active.Load()),
		TasksSubmitted: p.stats.tasksSubmitted.Load(),
		TasksCompleted: p.stats.tasksCompleted.Load(),
		TasksPending:   uint64(max(p.pending.Load(), 0)),
		TasksDropped:   p.stats.tasksDropped.Load(),
		TasksFaulted:   p.stats.tasksFaulted.Load(),
		StealsSuccess:  p.stats.stealsSuccess.Load(),
		StealsFailed:   p.stats.stealsFailed.Load(),
		Parks:          p.stats.parks.Load(),
	}
}

// WorkerPoolStats contains pool statistics
type WorkerPoolStats struct {
	NumWorkers     int
	Active         int
	TasksSubmitted uint64
	TasksCompleted uint64
	TasksPending   uint64
	TasksDropped   uint64
	TasksFaulted   uint64
	StealsSuccess  uint64
	StealsFailed   uint64
	Parks          uint64
}
