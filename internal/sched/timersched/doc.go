// Package timersched is a standalone bridge.Scheduler backed by plain
// timers.
//
// # Overview
//
// ScheduleDirect arms a one-shot timer per submission (a map of live
// timers, swept on fire/cancel). NewWorker returns a serial execution
// context with its own consumer goroutine and unbounded FIFO queue; a
// queued item's delay is armed at submission time so a delayed item never
// stalls the items behind it.
//
// # Periodic schedules
//
// On top of the one-shot primitive the service accepts cron expressions
// (5-field or descriptors like "@hourly", "@every 55m") evaluated in a
// configurable timezone. Each firing is submitted through ScheduleDirect,
// so periodic work observes the same shutdown/cancellation behavior as
// everything else.
//
// # Lifecycle
//
// Shutdown stops the cron runner, fires no further timers, disposes all
// workers and answers later submissions with an already-disposed handle.
package timersched
