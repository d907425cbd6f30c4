package timersched

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taskbridge/internal/bridge"
	logx "taskbridge/pkg/logx"
)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s := New(Config{}, logx.Nop(), opts...)
	t.Cleanup(s.Shutdown)
	return s
}

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
	s := newTestService(t)

	done := make(chan struct{})
	s.ScheduleDirect(func() { close(done) }, 0)
	waitFor(t, done, "task did not run")
}

func TestScheduleDirectCancel(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	var ran atomic.Bool
	h := s.ScheduleDirect(func() { ran.Store(true) }, 150*time.Millisecond)
	h.Cancel()
	if !h.Disposed() {
		t.Fatal("cancelled handle must report disposed")
	}
	time.Sleep(250 * time.Millisecond)
	if ran.Load() {
		t.Fatal("cancelled task ran")
	}

	// Cancelled timers are swept from the live set.
	s.mu.Lock()
	n := len(s.timers)
	s.mu.Unlock()
	if n != 0 {
		t.Fatalf("live timers = %d, want 0", n)
	}
}

func TestScheduleDirectDisposedTracksCompletion(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	started := make(chan struct{})
	release := make(chan struct{})
	h := s.ScheduleDirect(func() {
		close(started)
		<-release
	}, 0)
	waitFor(t, started, "task did not start")

	if h.Disposed() {
		t.Fatal("handle reported disposed while the body was still running")
	}
	h.Cancel() // too late to stop a started body
	if h.Disposed() {
		t.Fatal("late cancel marked a running task disposed")
	}

	close(release)
	deadline := time.Now().Add(time.Second)
	for !h.Disposed() {
		if time.Now().After(deadline) {
			t.Fatal("handle never reported disposed after completion")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestScheduleAfterShutdown(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Shutdown()

	var ran atomic.Bool
	h := s.ScheduleDirect(func() { ran.Store(true) }, 0)
	if h != bridge.DisposedHandle() {
		t.Fatal("submission after shutdown must return the inert handle")
	}
	time.Sleep(50 * time.Millisecond)
	if ran.Load() {
		t.Fatal("task ran after shutdown")
	}
}

func TestShutdownStopsPendingTimers(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())

	var ran atomic.Bool
	s.ScheduleDirect(func() { ran.Store(true) }, 200*time.Millisecond)
	s.Shutdown()
	s.Shutdown() // idempotent

	time.Sleep(300 * time.Millisecond)
	if ran.Load() {
		t.Fatal("pending timer fired after shutdown")
	}
}

func TestWorkerFIFO(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	w := s.NewWorker()

	var mu sync.Mutex
	var log []int
	done := make(chan struct{})
	for i := 1; i <= 3; i++ {
		i := i
		w.Schedule(func() {
			mu.Lock()
			log = append(log, i)
			mu.Unlock()
		}, 0)
	}
	w.Schedule(func() { close(done) }, 0)

	waitFor(t, done, "worker did not drain")
	mu.Lock()
	defer mu.Unlock()
	if len(log) != 3 || log[0] != 1 || log[1] != 2 || log[2] != 3 {
		t.Fatalf("log = %v, want [1 2 3]", log)
	}
}

func TestWorkerDelayDoesNotBlockQueue(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	w := s.NewWorker()

	order := make(chan string, 2)
	w.Schedule(func() { order <- "slow" }, 400*time.Millisecond)
	w.Schedule(func() { order <- "fast" }, 0)

	select {
	case got := <-order:
		if got != "fast" {
			t.Fatalf("first completion = %q, want fast", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no task completed")
	}
}

func TestWorkerDispose(t *testing.T) {
	t.Parallel()
	s := newTestService(t)
	w := s.NewWorker()

	started := make(chan struct{})
	release := make(chan struct{})
	var queued atomic.Bool
	w.Schedule(func() {
		close(started)
		<-release
	}, 0)
	w.Schedule(func() { queued.Store(true) }, 0)

	waitFor(t, started, "first task did not start")
	w.Dispose()
	close(release)

	if !w.Disposed() {
		t.Fatal("Disposed() = false after Dispose")
	}
	if h := w.Schedule(func() {}, 0); !h.Disposed() {
		t.Fatal("schedule on disposed worker must return a disposed handle")
	}
	time.Sleep(100 * time.Millisecond)
	if queued.Load() {
		t.Fatal("queued task ran after dispose")
	}
}

func TestShutdownDisposesWorkers(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	w := s.NewWorker()
	s.Shutdown()
	if !w.Disposed() {
		t.Fatal("worker survived scheduler shutdown")
	}
}

func TestPanicGoesToSink(t *testing.T) {
	t.Parallel()
	errs := make(chan error, 1)
	s := newTestService(t, WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	s.ScheduleDirect(func() { panic("boom") }, 0)
	select {
	case err := <-errs:
		if _, ok := err.(*bridge.PanicError); !ok {
			t.Fatalf("sink got %T, want *bridge.PanicError", err)
		}
	case <-time.After(time.Second):
		t.Fatal("sink never received the panic")
	}
}

func TestAddCronValidation(t *testing.T) {
	t.Parallel()
	s := newTestService(t)

	if _, err := s.AddCron("bad", "not a spec", func() {}); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
	id, err := s.AddCron("ok", "*/5 * * * *", func() {})
	if err != nil {
		t.Fatalf("AddCron error: %v", err)
	}
	s.RemoveCron(id)

	if _, err := s.AddEvery("hourly", time.Hour, func() {}); err != nil {
		t.Fatalf("AddEvery error: %v", err)
	}
}

func TestAddCronAfterShutdown(t *testing.T) {
	t.Parallel()
	s := New(Config{}, logx.Nop())
	s.Shutdown()
	if _, err := s.AddCron("late", "@hourly", func() {}); err == nil {
		t.Fatal("expected error adding cron after shutdown")
	}
}
