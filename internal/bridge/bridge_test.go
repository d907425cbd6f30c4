package bridge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testExecutor is a minimal free-running Executor: one goroutine per
// dispatch, plain timers for Sleep and OnTimeout.
type testExecutor struct {
	wg           sync.WaitGroup
	dispatches   atomic.Int64
	timerCancels atomic.Int64
}

func newTestExecutor() *testExecutor { return &testExecutor{} }

func (e *testExecutor) Dispatch(task Task) {
	e.dispatches.Add(1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		task()
	}()
}

func (e *testExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (e *testExecutor) OnTimeout(d time.Duration, task Task) Handle {
	h := &testTimer{exec: e}
	h.t = time.AfterFunc(d, func() {
		if h.fired.CompareAndSwap(false, true) {
			task()
		}
	})
	return h
}

type testTimer struct {
	exec  *testExecutor
	t     *time.Timer
	fired atomic.Bool
}

func (h *testTimer) Cancel() {
	if h.fired.CompareAndSwap(false, true) {
		h.t.Stop()
		h.exec.timerCancels.Add(1)
	}
}

func (h *testTimer) Disposed() bool { return h.fired.Load() }

func waitFor(t *testing.T, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal(msg)
	}
}

func TestScheduleDirectRuns(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()

	done := make(chan struct{})
	h := s.ScheduleDirect(func() { close(done) }, 0)
	waitFor(t, done, "task did not run")

	// The handle settles to disposed once the body finished.
	deadline := time.Now().Add(time.Second)
	for !h.Disposed() {
		if time.Now().After(deadline) {
			t.Fatal("handle never reported disposed after completion")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleDirectDelay(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()

	start := time.Now()
	done := make(chan struct{})
	s.ScheduleDirect(func() { close(done) }, 150*time.Millisecond)
	waitFor(t, done, "delayed task did not run")
	if el := time.Since(start); el < 150*time.Millisecond {
		t.Fatalf("task ran after %v, want >= 150ms", el)
	}
}

func TestScheduleDirectCancelBeforeDelay(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()

	var ran atomic.Bool
	h := s.ScheduleDirect(func() { ran.Store(true) }, 200*time.Millisecond)
	h.Cancel()
	if !h.Disposed() {
		t.Fatal("cancelled handle must report disposed")
	}
	time.Sleep(300 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled task ran anyway")
	}
}

func TestWorkerSequentialOrder(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()
	w := s.NewWorker()

	var mu sync.Mutex
	var log []string
	done := make(chan struct{})
	w.Schedule(func() {
		mu.Lock()
		log = append(log, "1")
		mu.Unlock()
	}, 0)
	w.Schedule(func() {
		mu.Lock()
		log = append(log, "2")
		mu.Unlock()
		close(done)
	}, 0)

	waitFor(t, done, "worker tasks did not run")
	mu.Lock()
	defer mu.Unlock()
	if len(log) != 2 || log[0] != "1" || log[1] != "2" {
		t.Fatalf("log = %v, want [1 2]", log)
	}
}

func TestWorkerMutualExclusion(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()
	w := s.NewWorker()

	var running atomic.Int32
	var overlap atomic.Bool
	done := make(chan struct{})
	body := func() {
		if running.Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
	}
	for i := 0; i < 5; i++ {
		w.Schedule(body, 0)
	}
	w.Schedule(func() { close(done) }, 0)

	waitFor(t, done, "worker queue did not drain")
	if overlap.Load() {
		t.Fatal("two undelayed tasks overlapped on one worker")
	}
}

func TestWorkerDelayDoesNotBlockQueue(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()
	w := s.NewWorker()

	order := make(chan string, 2)
	w.Schedule(func() { order <- "slow" }, 500*time.Millisecond)
	w.Schedule(func() { order <- "fast" }, 0)

	select {
	case got := <-order:
		if got != "fast" {
			t.Fatalf("first completion = %q, want fast", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no task completed")
	}
	select {
	case got := <-order:
		if got != "slow" {
			t.Fatalf("second completion = %q, want slow", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("delayed task never ran")
	}
}

func TestWorkerDisposeDiscardsQueued(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()
	w := s.NewWorker()

	started := make(chan struct{})
	release := make(chan struct{})
	var second atomic.Bool

	w.Schedule(func() {
		close(started)
		<-release
	}, 0)
	w.Schedule(func() { second.Store(true) }, 0)

	waitFor(t, started, "first task did not start")
	w.Dispose()
	close(release)

	if !w.Disposed() {
		t.Fatal("Disposed() = false after Dispose")
	}
	time.Sleep(100 * time.Millisecond)
	if second.Load() {
		t.Fatal("queued task ran after dispose")
	}

	if h := w.Schedule(func() {}, 0); !h.Disposed() {
		t.Fatal("schedule on disposed worker must return a disposed handle")
	}
}

func TestWorkerDisposeCancelsPendingTimers(t *testing.T) {
	t.Parallel()
	exec := newTestExecutor()
	s := ToScheduler(exec)
	defer s.Shutdown()
	w := s.NewWorker()

	started := make(chan struct{})
	release := make(chan struct{})
	w.Schedule(func() {
		close(started)
		<-release
	}, 0)
	waitFor(t, started, "first task did not start")

	// Queued behind the blocker with its delay timer armed at submission.
	w.Schedule(func() {}, time.Hour)

	w.Dispose()
	deadline := time.Now().Add(time.Second)
	for exec.timerCancels.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("discarded task's delay timer was never cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
}

func TestWorkerCancelSingleTask(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	defer s.Shutdown()
	w := s.NewWorker()

	started := make(chan struct{})
	release := make(chan struct{})
	var cancelled atomic.Bool
	done := make(chan struct{})

	w.Schedule(func() {
		close(started)
		<-release
	}, 0)
	h := w.Schedule(func() { cancelled.Store(true) }, 0)
	w.Schedule(func() { close(done) }, 0)

	waitFor(t, started, "first task did not start")
	h.Cancel()
	close(release)
	waitFor(t, done, "third task did not run")

	if cancelled.Load() {
		t.Fatal("individually cancelled task ran")
	}
}

func TestShutdownCancelsEverything(t *testing.T) {
	t.Parallel()
	s := ToScheduler(newTestExecutor())
	w := s.NewWorker()

	var ran atomic.Bool
	h1 := s.ScheduleDirect(func() { ran.Store(true) }, time.Second)
	h2 := w.Schedule(func() { ran.Store(true) }, time.Second)

	s.Shutdown()

	if !h1.Disposed() || !h2.Disposed() {
		t.Fatal("outstanding handles must report disposed after shutdown")
	}
	if !w.Disposed() {
		t.Fatal("worker must be disposed after scheduler shutdown")
	}

	h3 := s.ScheduleDirect(func() { ran.Store(true) }, 0)
	if !h3.Disposed() {
		t.Fatal("submission after shutdown must return a disposed handle")
	}
	h4 := w.Schedule(func() { ran.Store(true) }, 0)
	if !h4.Disposed() {
		t.Fatal("worker submission after shutdown must return a disposed handle")
	}

	time.Sleep(100 * time.Millisecond)
	if ran.Load() {
		t.Fatal("a task body ran after shutdown")
	}
}

func TestHookCalledOncePerSubmission(t *testing.T) {
	t.Parallel()
	var hooks atomic.Int64
	s := ToScheduler(newTestExecutor(), WithHook(func(task Task) Task {
		hooks.Add(1)
		return task
	}))
	defer s.Shutdown()

	done := make(chan struct{})
	// Delayed submission: the hook must fire at submit time, before the
	// delay is armed.
	s.ScheduleDirect(func() {}, 200*time.Millisecond)
	if got := hooks.Load(); got != 1 {
		t.Fatalf("hooks after delayed submit = %d, want 1", got)
	}

	w := s.NewWorker()
	w.Schedule(func() { close(done) }, 0)
	waitFor(t, done, "worker task did not run")
	if got := hooks.Load(); got != 2 {
		t.Fatalf("hooks = %d, want 2", got)
	}
}

func TestPanicIsolation(t *testing.T) {
	t.Parallel()
	errs := make(chan error, 1)
	s := ToScheduler(newTestExecutor(), WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	defer s.Shutdown()
	w := s.NewWorker()

	w.Schedule(func() { panic("boom") }, 0)
	done := make(chan struct{})
	w.Schedule(func() { close(done) }, 0)

	waitFor(t, done, "worker did not survive a panicking task")

	select {
	case err := <-errs:
		pe, ok := err.(*PanicError)
		if !ok {
			t.Fatalf("sink got %T, want *PanicError", err)
		}
		if pe.Value != "boom" {
			t.Fatalf("panic value = %v, want boom", pe.Value)
		}
		if len(pe.Stack) == 0 {
			t.Fatal("panic error carries no stack")
		}
	case <-time.After(time.Second):
		t.Fatal("sink never received the panic")
	}
}
