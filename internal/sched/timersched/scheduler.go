package timersched

import (
	"errors"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskbridge/internal/bridge"
	logx "taskbridge/pkg/logx"
)

type Config struct {
	Timezone string // IANA TZ, e.g. "Asia/Jakarta"; empty means Local
}

// Service implements bridge.Scheduler.
type Service struct {
	mu sync.Mutex

	log  logx.Logger
	cfg  Config
	loc  *time.Location
	sink bridge.ErrorHandler

	parser cron.Parser
	c      *cron.Cron

	stopped bool
	seq     uint64
	timers  map[uint64]*time.Timer
	workers map[*worker]struct{}
}

type Option func(*Service)

// WithErrorHandler routes uncaught task-body failures somewhere other
// than the service log.
func WithErrorHandler(h bridge.ErrorHandler) Option {
	return func(s *Service) {
		if h != nil {
			s.sink = h
		}
	}
}

func New(cfg Config, log logx.Logger, opts ...Option) *Service {
	s := &Service{
		log:     log,
		cfg:     cfg,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:  map[uint64]*time.Timer{},
		workers: map[*worker]struct{}{},
	}
	for _, o := range opts {
		o(s)
	}
	if s.sink == nil {
		s.sink = func(err error) {
			s.log.Error("task failed", logx.Err(err))
		}
	}
	s.loc = s.loadLocation()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	s.c.Start()
	return s
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// ScheduleDirect runs task after delay on its own goroutine. Zero delay
// fires immediately. Submissions after Shutdown are discarded and get an
// already-disposed handle.
func (s *Service) ScheduleDirect(task bridge.Task, delay time.Duration) bridge.Handle {
	if task == nil {
		return bridge.DisposedHandle()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return bridge.DisposedHandle()
	}
	s.seq++
	id := s.seq
	h := &oneShot{}
	t := time.AfterFunc(delay, func() {
		s.dropTimer(id)
		if !h.claimed.CompareAndSwap(false, true) {
			return
		}
		defer h.done.Store(true)
		s.run(task)
	})
	h.timer = t
	h.onCancel = func() { s.dropTimer(id) }
	s.timers[id] = t
	s.mu.Unlock()
	return h
}

// NewWorker returns a serial execution context. Its consumer goroutine
// lives until the worker is disposed or the service shuts down.
func (s *Service) NewWorker() bridge.Worker {
	w := newWorker(s)
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		w.Dispose()
		return w
	}
	s.workers[w] = struct{}{}
	s.mu.Unlock()
	return w
}

// Shutdown stops periodic schedules, pending timers and all workers.
// Idempotent.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	timers := s.timers
	s.timers = map[uint64]*time.Timer{}
	workers := make([]*worker, 0, len(s.workers))
	for w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = nil
	c := s.c
	s.c = nil
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	for _, t := range timers {
		t.Stop()
	}
	for _, w := range workers {
		w.Dispose()
	}
	s.log.Info("timer scheduler stopped")
}

// AddCron registers a periodic schedule; every firing goes through
// ScheduleDirect with zero delay. Accepts 5-field cron expressions and
// descriptors ("@hourly", "@every 55m").
func (s *Service) AddCron(name, spec string, task bridge.Task) (cron.EntryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.c == nil {
		return 0, errors.New("timersched: scheduler is shut down")
	}
	id, err := s.c.AddFunc(spec, func() {
		s.ScheduleDirect(task, 0)
	})
	if err != nil {
		return 0, err
	}
	s.log.Debug("cron schedule added", logx.String("name", name), logx.String("spec", spec))
	return id, nil
}

// AddEvery registers a fixed-interval schedule.
func (s *Service) AddEvery(name string, every time.Duration, task bridge.Task) (cron.EntryID, error) {
	return s.AddCron(name, "@every "+every.String(), task)
}

// RemoveCron unregisters a periodic schedule.
func (s *Service) RemoveCron(id cron.EntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		s.c.Remove(id)
	}
}

func (s *Service) dropTimer(id uint64) {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()
}

// run executes a task body with panic containment.
func (s *Service) run(task bridge.Task) {
	defer func() {
		if r := recover(); r != nil {
			s.sink(&bridge.PanicError{Value: r, Stack: debug.Stack()})
		}
	}()
	task()
}

// oneShot is the handle for a ScheduleDirect submission. Cancel races the
// timer callback; whichever claims the handle first wins. A cancel that
// loses the race is a no-op and the handle reports disposed only once the
// body has finished.
type oneShot struct {
	timer     *time.Timer
	claimed   atomic.Bool
	cancelled atomic.Bool
	done      atomic.Bool
	onCancel  func()
}

func (h *oneShot) Cancel() {
	if h.claimed.CompareAndSwap(false, true) {
		h.cancelled.Store(true)
		h.timer.Stop()
		if h.onCancel != nil {
			h.onCancel()
		}
	}
}

func (h *oneShot) Disposed() bool { return h.cancelled.Load() || h.done.Load() }
