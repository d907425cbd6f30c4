package bridge

import "sync"

// Conversion results are memoized: converting the same instance again
// returns the same wrapper, so a round trip in either direction is an
// identity (ToScheduler(ToExecutor(s)) == s and symmetrically) whether
// the starting point is a raw instance or a wrapper produced here.
// Wrappers are retained for the life of the process.
var (
	convMu   sync.Mutex
	schedFor = map[Executor]Scheduler{}
	execFor  = map[Scheduler]Executor{}
)

// ToScheduler models exec as a Scheduler with real sequential Workers.
//
// If exec is itself the product of ToExecutor, the original Scheduler is
// returned unchanged. opts apply only the first time a given Executor is
// converted; later conversions return the existing wrapper and ignore
// them.
func ToScheduler(exec Executor, opts ...Option) Scheduler {
	if w, ok := exec.(*schedExecutor); ok {
		return w.sch
	}
	convMu.Lock()
	defer convMu.Unlock()
	if s, ok := schedFor[exec]; ok {
		return s
	}
	s := newExecScheduler(exec, opts...)
	schedFor[exec] = s
	return s
}

// ToExecutor models sch as an Executor. Symmetric rule: the product of
// ToScheduler unwraps to the original Executor, anything else gets a
// memoized wrapper.
func ToExecutor(sch Scheduler) Executor {
	if w, ok := sch.(*execScheduler); ok {
		return w.exec
	}
	convMu.Lock()
	defer convMu.Unlock()
	if e, ok := execFor[sch]; ok {
		return e
	}
	e := &schedExecutor{sch: sch}
	execFor[sch] = e
	return e
}
