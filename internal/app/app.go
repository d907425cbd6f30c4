// Package app wires the daemon together: config, logging, the event
// bus, the journal, one pool executor bridged to a scheduler, and a
// timer scheduler driving periodic jobs through the bridge.
package app

import (
	"context"
	"fmt"
	"time"

	"taskbridge/internal/bridge"
	"taskbridge/internal/config"
	"taskbridge/internal/errsink"
	"taskbridge/internal/eventbus"
	"taskbridge/internal/journal"
	"taskbridge/internal/runtime/pool"
	"taskbridge/internal/runtime/supervisor"
	"taskbridge/internal/sched/timersched"
	logx "taskbridge/pkg/logx"
)

type App struct {
	cfgPath string
	watcher *config.Watcher

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	jrnl *journal.Journal
	sup  *supervisor.Supervisor

	pool  *pool.Service
	sched bridge.Scheduler // pool, seen through the bridge
	work  bridge.Worker    // shared sequential worker for "via: worker" jobs
	timer *timersched.Service
}

func New(cfgPath string) (*App, error) {
	bootLog := logx.NewConsole("INFO")
	watcher := config.NewWatcher(cfgPath, bootLog)
	cfg, err := watcher.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File: logx.FileConfig{
			Enabled: cfg.Log.File.Enabled,
			Path:    cfg.Log.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	a := &App{
		cfgPath: cfgPath,
		watcher: watcher,
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{
			Path:        cfg.Journal.Path,
			BusyTimeout: cfg.JournalBusyTimeout(),
			HistorySize: cfg.Journal.HistorySize,
		}, log.With(logx.String("comp", "journal")))
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		a.jrnl = j
	}

	a.pool = pool.New(pool.Config{Name: cfg.Pool.Name}, log.With(logx.String("comp", "pool")), a.bus)

	sink := errsink.New(log.With(logx.String("comp", "sink")), cfg.ErrorLogPerSec)
	a.sched = bridge.ToScheduler(a.pool,
		bridge.WithErrorHandler(sink.Handle),
		bridge.WithHook(a.traceHook),
	)
	a.work = a.sched.NewWorker()

	a.timer = timersched.New(timersched.Config{Timezone: cfg.Timezone},
		log.With(logx.String("comp", "timersched")),
		timersched.WithErrorHandler(sink.Handle),
	)
	return a, nil
}

// traceHook is the bridge instrumentation hook: every submission is
// announced on the event bus before its delay is armed.
func (a *App) traceHook(task bridge.Task) bridge.Task {
	a.bus.Publish(eventbus.Event{
		Topic: eventbus.TopicTaskScheduled,
		Data:  eventbus.TaskEvent{Origin: "bridge"},
	})
	return task
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	a.sup.Go("config.watch", a.watcher.Watch)
	a.sup.Go0("config.apply", a.applyLoop)
	if a.jrnl != nil {
		a.sup.Go0("journal.consume", func(ctx context.Context) { a.jrnl.Run(ctx, a.bus) })
	}

	cfg := a.watcher.Get()
	for _, sc := range cfg.Schedules {
		if err := a.addSchedule(sc); err != nil {
			return err
		}
	}

	// Periodic status report, paced through the timer scheduler seen as
	// an executor.
	texec := bridge.ToExecutor(a.timer)
	a.sup.Go0("status.report", func(ctx context.Context) {
		for {
			if err := texec.Sleep(ctx, time.Minute); err != nil {
				return
			}
			c := a.pool.Counters()
			a.log.Info("status",
				logx.Int64("active", c.Active),
				logx.Uint64("started", c.Started),
				logx.Uint64("panics", c.Panics),
			)
		}
	})

	a.log.Info("started", logx.Int("schedules", len(cfg.Schedules)))
	return nil
}

// applyLoop applies hot-reloadable config (log level/sinks) on change.
// Schedules and the journal need a restart to change.
func (a *App) applyLoop(ctx context.Context) {
	updates := a.watcher.Subscribe(1)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Log.Level,
				Console: cfg.Log.Console,
				File: logx.FileConfig{
					Enabled: cfg.Log.File.Enabled,
					Path:    cfg.Log.File.Path,
				},
			})
			a.log.Info("log config applied", logx.String("level", cfg.Log.Level))
		}
	}
}

// addSchedule registers one periodic job with the timer scheduler; each
// firing is submitted through the bridge so it runs on the pool executor
// with full cancellation and instrumentation semantics.
func (a *App) addSchedule(sc config.ScheduleConfig) error {
	name := sc.Name
	delay := sc.ScheduleDelay()
	job := func() {
		a.log.Info("job fired", logx.String("job", name))
	}

	var submit bridge.Task
	switch sc.Via {
	case "direct":
		submit = func() { a.sched.ScheduleDirect(job, delay) }
	default:
		submit = func() { a.work.Schedule(job, delay) }
	}

	if _, err := a.timer.AddCron(name, sc.Spec, submit); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	a.log.Debug("schedule registered", logx.String("job", name), logx.String("spec", sc.Spec), logx.String("via", sc.Via))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	// Order: stop producing (timer scheduler), cancel the bridge tree,
	// then wait for the pool and the daemon goroutines.
	a.timer.Shutdown()
	a.sched.Shutdown()

	var firstErr error
	if err := a.pool.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if a.jrnl != nil {
		if err := a.jrnl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}
