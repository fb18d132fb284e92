// Package dispatch implements the serial executor that owns all scheduler
// state.
//
// A Dispatcher runs submitted tasks on exactly one worker goroutine, one at
// a time, in submission order, regardless of which goroutine submitted them.
// Anything touched only from inside tasks needs no further locking.
//
// Event Processing Flow:
//  1. Enqueue appends a task to an unbounded FIFO queue and signals the worker
//  2. The worker drains the queue one task at a time
//  3. A panicking task is recovered and logged; the worker moves on
//  4. Terminate closes the queue, drops tasks that have not started, and
//     waits for the worker goroutine to exit
//
// Enqueue never blocks. Tasks may enqueue further tasks; those run after
// everything already queued.
package dispatch
