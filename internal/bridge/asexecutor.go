package bridge

import (
	"context"
	"time"
)

// schedExecutor models a Scheduler as an Executor by leaning on the
// scheduler's own immediate/delayed scheduling primitive.
type schedExecutor struct {
	sch Scheduler
}

// Dispatch is fire and forget: the scheduler-side handle is deliberately
// dropped, and a failing task body has no channel back to the caller.
func (e *schedExecutor) Dispatch(task Task) {
	e.sch.ScheduleDirect(task, 0)
}

// Sleep suspends the caller until the scheduler runs the resume callback
// d from now. Cancelling ctx cancels the underlying scheduled callback.
func (e *schedExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	resumed := make(chan struct{})
	h := e.sch.ScheduleDirect(func() { close(resumed) }, d)
	if _, inert := h.(disposedHandle); inert {
		// The scheduler is shut down and will never resume us.
		return ErrShutdown
	}
	select {
	case <-resumed:
		return nil
	case <-ctx.Done():
		h.Cancel()
		return ctx.Err()
	}
}

func (e *schedExecutor) OnTimeout(d time.Duration, task Task) Handle {
	return e.sch.ScheduleDirect(task, d)
}
