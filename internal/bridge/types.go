package bridge

import (
	"context"
	"time"
)

// Task is a unit of work. Tasks carry no return value; failures surface as
// panics and are routed to the error sink of the scope tree they run under.
type Task func()

// Handle lets a caller observe and revoke one submitted unit of work.
//
// Disposed reports true once the work has been cancelled or has finished
// executing. Cancel is idempotent; cancelling finished work is a no-op.
type Handle interface {
	Cancel()
	Disposed() bool
}

// Scheduler is the pull-style scheduling abstraction.
//
// ScheduleDirect runs task after delay (zero means as soon as possible) on
// an unspecified execution context. NewWorker returns a fresh sequential
// execution context. Shutdown revokes everything scheduled through this
// Scheduler, including all of its Workers; further submissions are
// silently discarded and answered with DisposedHandle(). Implementations
// must hand out DisposedHandle() (not some other inert handle) for
// after-shutdown submissions: Executor adapters rely on it to tell a
// dead scheduler apart from a fast-completing submission.
type Scheduler interface {
	ScheduleDirect(task Task, delay time.Duration) Handle
	NewWorker() Worker
	Shutdown()
}

// Worker is a sequential execution context owned by a Scheduler.
//
// Within one Worker, two undelayed tasks never run concurrently, and tasks
// are dequeued in submission order. A task's own delay postpones only that
// task, never the queue behind it.
type Worker interface {
	Schedule(task Task, delay time.Duration) Handle
	Dispose()
	Disposed() bool
}

// Executor is the structured-concurrency task-running abstraction.
//
// Dispatch runs task asynchronously, fire and forget. Sleep suspends the
// calling goroutine for d, returning early with ctx.Err() if ctx is
// cancelled first. OnTimeout arranges for task to run once d elapses; the
// returned Handle revokes it.
type Executor interface {
	Dispatch(task Task)
	Sleep(ctx context.Context, d time.Duration) error
	OnTimeout(d time.Duration, task Task) Handle
}

// ErrorHandler receives failures that have no caller to return to: panics
// recovered out of task bodies running under a converted Scheduler.
type ErrorHandler func(err error)

// Hook intercepts each task submitted through a converted Scheduler,
// before any delay is armed. It is called exactly once per submission and
// must return the task to actually run (commonly a wrapped version of the
// input). Used for tracing and instrumentation.
type Hook func(task Task) Task

// Option configures ToScheduler.
type Option func(*execScheduler)

// WithErrorHandler sets the sink for task-body failures. The default
// handler drops them; callers that want visibility must inject one.
func WithErrorHandler(h ErrorHandler) Option {
	return func(s *execScheduler) {
		if h != nil {
			s.sink = h
		}
	}
}

// WithHook sets the submission instrumentation hook.
func WithHook(h Hook) Option {
	return func(s *execScheduler) {
		if h != nil {
			s.hook = h
		}
	}
}
