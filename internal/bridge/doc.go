// Package bridge adapts between two concurrency abstractions so that code
// written against either one can run on top of the other.
//
// # The two sides
//
//   - Scheduler: a pull-style reactive scheduler. It schedules work
//     immediately or after a delay, hands back explicit cancellation
//     handles, and can spawn Workers, sequential execution contexts that
//     process submissions one at a time in FIFO order.
//   - Executor: a structured-concurrency task runner. It dispatches work
//     asynchronously, can suspend a caller for a delay (Sleep), and can
//     register timeout callbacks (OnTimeout).
//
// # Conversions
//
// ToScheduler models an Executor as a Scheduler (with real sequential
// Workers), ToExecutor models a Scheduler as an Executor. Both perform an
// identity short-circuit: converting a value that is itself the product of
// the opposite conversion returns the original underlying instance, so
// wrappers never nest.
//
// # Cancellation
//
// Cancellation is organized as an explicit tree of Scopes
// (root → worker → task). Cancelling a scope cancels all of its
// descendants and never touches ancestors or siblings. The root scope has
// supervisor semantics: a task body that panics is reported to the
// configured error sink and nothing else is torn down.
//
// # Delays inside a Worker
//
// A delayed submission arms its timer at enqueue time, not at dequeue
// time. When it reaches the head of the queue with its timer still
// pending, the consumer loop hands it off asynchronously and advances, so
// a long delay never stalls unrelated queued work. Undelayed submissions
// run synchronously on the loop, which is what gives a Worker its
// mutual-exclusion guarantee.
package bridge
