package bridge

import (
	"runtime/debug"
	"time"
)

// execScheduler models an Executor as a Scheduler. One root scope per
// instance; every submission and every worker hangs off it, so Shutdown
// is a single subtree cancel.
type execScheduler struct {
	exec Executor
	root *Scope
	hook Hook
	sink ErrorHandler
}

func newExecScheduler(exec Executor, opts ...Option) *execScheduler {
	s := &execScheduler{
		exec: exec,
		hook: func(t Task) Task { return t },
	}
	for _, o := range opts {
		o(s)
	}
	s.root = newRootScope(s.sink)
	return s
}

func (s *execScheduler) ScheduleDirect(task Task, delay time.Duration) Handle {
	if task == nil || !s.root.Active() {
		return DisposedHandle()
	}
	// Instrumentation hook runs exactly once per submission, before any
	// delay is armed.
	body := s.hook(task)

	sc := s.root.Child()
	if !sc.Active() {
		// Lost the race against Shutdown.
		return DisposedHandle()
	}
	s.exec.Dispatch(func() {
		if delay > 0 {
			if err := s.exec.Sleep(sc.Context(), delay); err != nil {
				return
			}
		}
		runGuarded(sc, body)
	})
	return scopeHandle{sc}
}

func (s *execScheduler) NewWorker() Worker { return newExecWorker(s) }

// Shutdown cancels the root scope: every worker and every pending or
// in-flight submission is cancelled, transitively and idempotently.
func (s *execScheduler) Shutdown() { s.root.Cancel() }

// runGuarded runs body under sc with supervisor semantics: a panic is
// reported to the tree's error sink and swallowed.
func runGuarded(sc *Scope, body Task) {
	if !sc.Active() {
		return
	}
	defer sc.finish()
	defer func() {
		if r := recover(); r != nil {
			sc.report(&PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	body()
}
