// Package errsink provides the default error sink injected into the
// bridge: task-body failures are logged, rate-limited so a hot failure
// loop cannot flood the log sinks.
package errsink

import (
	"errors"
	"sync/atomic"

	"golang.org/x/time/rate"

	"taskbridge/internal/bridge"
	logx "taskbridge/pkg/logx"
)

// Sink is a rate-limited logging bridge.ErrorHandler.
type Sink struct {
	log     logx.Logger
	limiter *rate.Limiter
	dropped atomic.Uint64
}

// New builds a sink allowing at most perSec log lines per second (with an
// equal burst). perSec <= 0 defaults to 5.
func New(log logx.Logger, perSec int) *Sink {
	if perSec <= 0 {
		perSec = 5
	}
	return &Sink{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

// Handle implements bridge.ErrorHandler.
func (s *Sink) Handle(err error) {
	if err == nil {
		return
	}
	if !s.limiter.Allow() {
		s.dropped.Add(1)
		return
	}

	var pe *bridge.PanicError
	if errors.As(err, &pe) {
		s.log.Error("task body panicked", logx.Any("panic", pe.Value), logx.Stack(string(pe.Stack)))
		return
	}
	s.log.Error("task body failed", logx.Err(err))
}

// Dropped reports how many failures were suppressed by the limiter.
func (s *Sink) Dropped() uint64 { return s.dropped.Load() }
