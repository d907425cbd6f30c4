package bridge

import (
	"sync"
	"time"
)

// execWorker is the sequential execution context handed out by
// execScheduler.NewWorker.
//
// The queue is unbounded: many producers append under the mutex, a single
// consumer loop (running on the wrapped Executor) pops from the head. The
// loop runs undelayed tasks synchronously, which is the mutual-exclusion
// mechanism, and hands still-delayed tasks off asynchronously so the
// queue keeps advancing.
type execWorker struct {
	sched *execScheduler
	scope *Scope

	mu    sync.Mutex
	queue []*delayedTask
	wake  chan struct{}
}

func newExecWorker(s *execScheduler) *execWorker {
	w := &execWorker{
		sched: s,
		scope: s.root.Child(),
		wake:  make(chan struct{}, 1),
	}
	s.exec.Dispatch(w.loop)
	return w
}

func (w *execWorker) Schedule(task Task, delay time.Duration) Handle {
	if task == nil || !w.scope.Active() {
		return DisposedHandle()
	}
	body := w.sched.hook(task)
	dt := newDelayedTask(w, body, delay)

	w.mu.Lock()
	if !w.scope.Active() {
		// Disposed between the entry check and enqueue.
		w.mu.Unlock()
		dt.scope.Cancel()
		return DisposedHandle()
	}
	w.queue = append(w.queue, dt)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return scopeHandle{dt.scope}
}

// Dispose cancels the worker scope (and with it every queued task's
// scope) and drops whatever is still queued, stopping each discarded
// task's delay timer. A task that already started executing completes
// normally unless it was cancelled individually.
func (w *execWorker) Dispose() {
	w.scope.Cancel()
	w.mu.Lock()
	dropped := w.queue
	w.queue = nil
	w.mu.Unlock()
	for _, dt := range dropped {
		if dt.timer != nil {
			dt.timer.Cancel()
		}
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *execWorker) Disposed() bool { return !w.scope.Active() }

func (w *execWorker) loop() {
	done := w.scope.Context().Done()
	for {
		dt := w.pop()
		if dt == nil {
			select {
			case <-done:
				return
			case <-w.wake:
				continue
			}
		}
		dt.execute()
	}
}

func (w *execWorker) pop() *delayedTask {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	dt := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return dt
}

// delayedTask is one queued unit of work. Its delay timer is armed at
// submission time, inside its own scope, so queue position and execution
// start time are decoupled: by the time the task reaches the queue head
// its delay may already have elapsed.
type delayedTask struct {
	scope *Scope
	body  Task
	ready chan struct{}
	timer Handle
	exec  Executor
}

func newDelayedTask(w *execWorker, body Task, delay time.Duration) *delayedTask {
	dt := &delayedTask{
		scope: w.scope.Child(),
		body:  body,
		ready: make(chan struct{}),
		exec:  w.sched.exec,
	}
	if delay <= 0 {
		close(dt.ready)
		return dt
	}
	dt.timer = w.sched.exec.OnTimeout(delay, func() { close(dt.ready) })
	return dt
}

// execute is called by the consumer loop when this task reaches the head
// of the queue. If the timer already elapsed the body runs right here,
// blocking the loop; otherwise the wait moves off-loop and execute
// returns immediately so the next task can be dequeued.
func (t *delayedTask) execute() {
	select {
	case <-t.ready:
		runGuarded(t.scope, t.body)
		return
	default:
	}
	t.exec.Dispatch(func() {
		select {
		case <-t.ready:
			runGuarded(t.scope, t.body)
		case <-t.scope.Context().Done():
			if t.timer != nil {
				t.timer.Cancel()
			}
		}
	})
}
