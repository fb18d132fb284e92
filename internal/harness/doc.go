// Package harness runs scripted scenarios against a deferred.Scheduler.
//
// A scenario drives a real Scheduler with a manual clock and manual timers,
// so every run is deterministic: the same file always produces the same
// trace, which makes traces suitable for golden file comparison.
//
// # Scenario Format
//
// Scenarios are YAML (.yaml, .yml) or CUE (.cue) files:
//
//	name: deadline_order
//	description: "Earlier deadlines fire first"
//	start: 0
//	steps:
//	  - op: enqueue
//	    label: A
//	    at: 10
//	  - op: enqueue
//	    label: B
//	    at: 5
//	    then:
//	      - label: B2
//	        at: 5
//	  - op: tick
//	    at: 10
//	assertions:
//	  - type: fired_order
//	    labels: [B, A, B2]
//
// Times are integer nanoseconds on the scheduler's timeline.
//
// # Steps
//
//   - enqueue: schedule the callback `label` for `at`. `panic: true` makes the
//     callback panic after it is recorded; `then` lists entries the callback
//     enqueues when it runs.
//   - tick: move the clock forward to `at` (never backwards) and call Tick(at).
//   - advance: move the clock to `at` and fire every timer due by then.
//   - close: close the scheduler. Later enqueues are recorded as rejected.
//
// After every step the harness waits until the scheduler is idle.
//
// # Assertion Types
//
//   - fired_order: the callbacks that ran, exactly, in order
//   - fired_count: callback `label` ran exactly `count` times
//   - not_fired: none of `labels` ran
//   - pending_count: entries still scheduled after the last step
//   - discarded: entries released by close, in firing order
package harness
