// Package deferred implements the deferred-invocation scheduler used by the
// event remapping pipeline for time-dependent behavior, such as releasing a
// synthetic key when no follow-up event arrives in time.
//
// Callers submit a callback with an absolute monotonic deadline. The
// scheduler guarantees each callback runs at or after its deadline, in
// deadline order (ties in submission order), exactly once, unless the
// scheduler is closed first.
//
// ARCHITECTURE:
//
// Every piece of mutable state (the schedule and the single countdown timer)
// is owned by one dispatch.Dispatcher. Enqueue and Tick only submit tasks to
// it, so they never block and no lock is held while user callbacks run.
//
// Flow:
//  1. Enqueue submits an insertion task; the entry is placed after every
//     entry with a deadline <= its own, then the timer is re-armed
//  2. Tick(now) submits a flush task that removes every entry due at now
//     and submits each callback as its own dispatcher task
//  3. Re-arm replaces the countdown timer with one for the earliest
//     deadline; when it fires it submits Tick(deadline)
//  4. Close terminates the dispatcher and releases pending entries without
//     running them
//
// Callbacks are never invoked inline by the flush loop. They run as later
// tasks on the same dispatcher, serialized with scheduler bookkeeping and
// with each other, and may call Enqueue or Tick freely. They must not call
// Close.
package deferred
