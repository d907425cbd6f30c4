// Package pool provides the process-native Executor: dispatched tasks run
// as supervised goroutines, delays are plain timers.
//
// This is the "free-running" side of the bridge. There is no queueing and
// no back-pressure here; sequencing, delay decoupling and cancellation
// scoping all live in the bridge layer on top.
package pool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"taskbridge/internal/bridge"
	"taskbridge/internal/eventbus"
	"taskbridge/internal/runtime/supervisor"
	logx "taskbridge/pkg/logx"
)

type Config struct {
	// Name tags log lines and goroutine names when a process runs more
	// than one executor.
	Name string
}

// Service implements bridge.Executor.
type Service struct {
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	sup *supervisor.Supervisor
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	s := &Service{cfg: cfg, log: log, bus: bus}
	s.sup = supervisor.New(context.Background(),
		supervisor.WithLogger(log),
		supervisor.WithPanicHandler(func(name string, v any, _ []byte) {
			s.publish(eventbus.TopicTaskFailed, eventbus.TaskEvent{
				Origin: name,
				Error:  fmt.Sprintf("panic: %v", v),
			})
		}),
	)
	return s
}

// Counters exposes the underlying supervisor's goroutine counters.
func (s *Service) Counters() supervisor.Counters { return s.sup.Counters() }

// Stop cancels all pending sleeps and waits for in-flight tasks, bounded
// by ctx.
func (s *Service) Stop(ctx context.Context) error {
	err := s.sup.Stop(ctx)
	s.log.Info("pool stopped", logx.String("pool", s.cfg.Name))
	return err
}

// Dispatch runs task on its own supervised goroutine, fire and forget.
// A panicking task is recovered, logged and reported on the event bus; it
// never takes down the process.
func (s *Service) Dispatch(task bridge.Task) {
	if task == nil {
		return
	}
	s.sup.Go0(s.cfg.Name+".dispatch", func(context.Context) {
		start := time.Now()
		s.publish(eventbus.TopicTaskStarted, eventbus.TaskEvent{Origin: "dispatch", Started: start})
		task()
		s.publish(eventbus.TopicTaskCompleted, eventbus.TaskEvent{Origin: "dispatch", Started: start, Duration: time.Since(start)})
	})
}

// Sleep blocks the caller for d. It returns early when ctx is cancelled
// or the pool is stopped.
func (s *Service) Sleep(ctx context.Context, d time.Duration) error {
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
	case <-s.sup.Context().Done():
		return s.sup.Context().Err()
	case <-t.C:
		return nil
	}
}

// OnTimeout arms a one-shot timer for task. The returned handle cancels
// the timer while it is still pending; it reports disposed once the task
// body has finished or the cancel won, not while the body is running.
func (s *Service) OnTimeout(d time.Duration, task bridge.Task) bridge.Handle {
	if task == nil {
		return bridge.DisposedHandle()
	}
	h := &timerHandle{}
	h.timer = time.AfterFunc(d, func() {
		if !h.claimed.CompareAndSwap(false, true) {
			return
		}
		defer h.done.Store(true)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("timer task panicked", logx.String("pool", s.cfg.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				s.publish(eventbus.TopicTaskFailed, eventbus.TaskEvent{Origin: "timer", Error: fmt.Sprintf("panic: %v", r)})
			}
		}()
		task()
	})
	return h
}

func (s *Service) publish(topic string, ev eventbus.TaskEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Topic: topic, Data: ev})
}

// timerHandle races Cancel against the timer callback; whichever claims
// the handle first wins. A cancel that loses the race is a no-op: the
// body runs to completion and the handle reports disposed only then.
type timerHandle struct {
	timer     *time.Timer
	claimed   atomic.Bool
	cancelled atomic.Bool
	done      atomic.Bool
}

func (h *timerHandle) Cancel() {
	if h.claimed.CompareAndSwap(false, true) {
		h.cancelled.Store(true)
		h.timer.Stop()
	}
}

func (h *timerHandle) Disposed() bool { return h.cancelled.Load() || h.done.Load() }
