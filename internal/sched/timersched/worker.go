package timersched

import (
	"sync"
	"sync/atomic"
	"time"

	"taskbridge/internal/bridge"
)

// worker is the serial execution context handed out by NewWorker. One
// consumer goroutine, unbounded FIFO queue, per-item delay timers armed
// at submission time.
type worker struct {
	s *Service

	mu    sync.Mutex
	queue []*witem
	wake  chan struct{}
	done  chan struct{}

	disposed atomic.Bool
	once     sync.Once
}

type witem struct {
	task      bridge.Task
	ready     chan struct{}
	readyOnce sync.Once
	timer     *time.Timer // nil for zero delay
	cancelled atomic.Bool
	finished  atomic.Bool
}

func newWorker(s *Service) *worker {
	w := &worker{
		s:    s,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *worker) Schedule(task bridge.Task, delay time.Duration) bridge.Handle {
	if task == nil || w.disposed.Load() {
		return bridge.DisposedHandle()
	}
	it := &witem{task: task, ready: make(chan struct{})}
	if delay <= 0 {
		it.markReady()
	} else {
		it.timer = time.AfterFunc(delay, it.markReady)
	}

	w.mu.Lock()
	if w.disposed.Load() {
		w.mu.Unlock()
		it.cancel()
		return bridge.DisposedHandle()
	}
	w.queue = append(w.queue, it)
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return witemHandle{it}
}

func (w *worker) Dispose() {
	w.once.Do(func() {
		w.disposed.Store(true)
		w.mu.Lock()
		queue := w.queue
		w.queue = nil
		w.mu.Unlock()
		for _, it := range queue {
			it.cancel()
		}
		close(w.done)
	})
}

func (w *worker) Disposed() bool { return w.disposed.Load() }

func (w *worker) loop() {
	for {
		it := w.pop()
		if it == nil {
			select {
			case <-w.done:
				return
			case <-w.wake:
				continue
			}
		}
		select {
		case <-it.ready:
			// Delay already elapsed: run on the loop, serialized.
			w.run(it)
		default:
			// Still delayed: wait off-loop so the queue keeps moving.
			go func() {
				select {
				case <-it.ready:
					w.run(it)
				case <-w.done:
				}
			}()
		}
	}
}

func (w *worker) pop() *witem {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil
	}
	it := w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return it
}

func (w *worker) run(it *witem) {
	if it.cancelled.Load() || w.disposed.Load() {
		return
	}
	defer it.finished.Store(true)
	w.s.run(it.task)
}

func (it *witem) markReady() { it.readyOnce.Do(func() { close(it.ready) }) }

func (it *witem) cancel() {
	it.cancelled.Store(true)
	if it.timer != nil {
		it.timer.Stop()
	}
	// Release any off-loop waiter.
	it.markReady()
}

type witemHandle struct{ it *witem }

func (h witemHandle) Cancel() { h.it.cancel() }

func (h witemHandle) Disposed() bool {
	return h.it.cancelled.Load() || h.it.finished.Load()
}
