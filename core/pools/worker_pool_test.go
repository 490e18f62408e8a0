package pools

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestWorkerPool_Basic(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 4})
	defer pool.Close()

	const n = 1000
	var runs [n]atomic.Int32
	for i := 0; i < n; i++ {
		task := NewTask(i, func(_ *Worker, t *Task) {
			runs[t.Payload.(int)].Add(1)
		}, nil)
		if err := pool.Submit(task); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	waitFor(t, "completion", func() bool { return pool.Stats().TasksCompleted >= n })

	for i := range runs {
		if got := runs[i].Load(); got != 1 {
			t.Fatalf("task %d ran %d times", i, got)
		}
	}
}

func TestWorkerPool_ContinuationsGetStolen(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 4})
	defer pool.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	wg.Add(64)

	leaf := func(_ *Worker, _ *Task) {
		time.Sleep(2 * time.Millisecond)
		counter.Add(1)
		wg.Done()
	}

	// One task fans out onto its own worker's deque; idle peers must steal.
	root := NewTask(nil, func(w *Worker, _ *Task) {
		for i := 0; i < 64; i++ {
			if err := w.Push(NewTask(i, leaf, nil)); err != nil {
				t.Errorf("Push: %v", err)
			}
		}
	}, nil)
	if err := pool.Submit(root); err != nil {
		t.Fatal(err)
	}

	wg.Wait()
	if counter.Load() != 64 {
		t.Fatalf("expected 64 leaves, got %d", counter.Load())
	}
	if pool.Stats().StealsSuccess == 0 {
		t.Fatal("expected at least one successful steal")
	}
}

func TestWorkerPool_PushYieldsToInjected(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 1})
	defer pool.Close()

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	cont := NewTask(nil, func(*Worker, *Task) {
		record("continuation")
		close(done)
	}, nil)
	root := NewTask(nil, func(w *Worker, _ *Task) {
		close(started)
		<-release
		if err := w.Push(cont); err != nil {
			t.Errorf("Push: %v", err)
		}
	}, nil)
	if err := pool.Submit(root); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := pool.Submit(NewTask(nil, func(*Worker, *Task) { record("injected") }, nil)); err != nil {
		t.Fatal(err)
	}
	close(release)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("continuation did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "injected" {
		t.Fatalf("expected injected task before continuation, got %v", order)
	}
}

func TestWorkerPool_PanicIsolation(t *testing.T) {
	var hookCalls atomic.Int32
	pool := NewWorkerPool(Options{
		Workers: 2,
		OnFault: func(*Task, any) { hookCalls.Add(1) },
	})
	defer pool.Close()

	faulted := make(chan any, 1)
	bad := NewTask("bad", func(*Worker, *Task) {
		panic("boom")
	}, func(_ *Task, v any) {
		faulted <- v
	})
	if err := pool.Submit(bad); err != nil {
		t.Fatal(err)
	}

	select {
	case v := <-faulted:
		if v != "boom" {
			t.Fatalf("unexpected fault value %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("fault handler not called")
	}

	// Pool keeps working after the panic.
	var ok atomic.Int32
	for i := 0; i < 10; i++ {
		_ = pool.Submit(NewTask(nil, func(*Worker, *Task) { ok.Add(1) }, nil))
	}
	waitFor(t, "follow-up tasks", func() bool { return ok.Load() == 10 })

	stats := pool.Stats()
	if stats.TasksFaulted != 1 {
		t.Fatalf("expected 1 faulted task, got %d", stats.TasksFaulted)
	}
	if hookCalls.Load() != 1 {
		t.Fatalf("expected pool hook called once, got %d", hookCalls.Load())
	}
}

func TestWorkerPool_QueueFull(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 1, QueueSize: 2})
	defer pool.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := NewTask(nil, func(*Worker, *Task) {
		close(started)
		<-release
	}, nil)
	if err := pool.Submit(blocker); err != nil {
		t.Fatal(err)
	}
	<-started

	noop := func(*Worker, *Task) {}
	for i := 0; i < 2; i++ {
		if err := pool.Submit(NewTask(nil, noop, nil)); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if err := pool.Submit(NewTask(nil, noop, nil)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(release)
	waitFor(t, "drain", func() bool { return pool.Stats().TasksCompleted == 3 })
}

func TestWorkerPool_ShutdownDropsQueued(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool
	blocker := NewTask(nil, func(*Worker, *Task) {
		close(started)
		<-release
		finished.Store(true)
	}, nil)
	if err := pool.Submit(blocker); err != nil {
		t.Fatal(err)
	}
	<-started

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		_ = pool.Submit(NewTask(i, func(*Worker, *Task) { ran.Add(1) }, nil))
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	dropped, err := pool.Shutdown(context.Background())
	if err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !finished.Load() {
		t.Fatal("in-flight task did not complete")
	}
	if len(dropped) != 5 || ran.Load() != 0 {
		t.Fatalf("expected 5 dropped and 0 run, got %d dropped, %d run", len(dropped), ran.Load())
	}

	stats := pool.Stats()
	if stats.TasksDropped != 5 || stats.TasksPending != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.TasksSubmitted != stats.TasksCompleted+stats.TasksDropped {
		t.Fatalf("submitted %d != completed %d + dropped %d",
			stats.TasksSubmitted, stats.TasksCompleted, stats.TasksDropped)
	}

	if err := pool.Submit(NewTask(nil, func(*Worker, *Task) {}, nil)); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestWorkerPool_ExactlyOnceUnderShutdown(t *testing.T) {
	pool := NewWorkerPool(Options{Workers: 8})

	const n = 5000
	var runs [n]atomic.Int32
	for i := 0; i < n; i++ {
		_ = pool.Submit(NewTask(i, func(_ *Worker, t *Task) {
			runs[t.Payload.(int)].Add(1)
		}, nil))
	}

	dropped, err := pool.Shutdown(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range dropped {
		runs[d.Payload.(int)].Add(1)
	}
	for i := range runs {
		if got := runs[i].Load(); got != 1 {
			t.Fatalf("task %d accounted %d times", i, got)
		}
	}
}

func BenchmarkWorkerPool_Submit(b *testing.B) {
	pool := NewWorkerPool(Options{Workers: 8})
	defer pool.Close()

	noop := func(*Worker, *Task) {}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = pool.Submit(NewTask(nil, noop, nil))
		}
	})

	for pool.Stats().TasksCompleted < uint64(b.N) {
		time.Sleep(time.Millisecond)
	}
}
