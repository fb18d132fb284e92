// Package journal provides a SQLite-backed diagnostic log of deferred entry
// lifecycle events.
//
// The journal is append-only and write-only from the scheduler's point of
// view: a Scheduler never reloads entries from it. It exists so that a run
// can be inspected after the fact (which entries were scheduled, when each
// was dispatched, which were discarded at shutdown).
//
// # Layout
//
//   - runs: one row per scheduler run, keyed by a UUIDv7
//   - events: one row per lifecycle event, ordered by insertion (id)
//
// # Concurrent inspection
//
// Connections run in WAL mode, so `deferq journal` can list a run while the
// `deferq run --db` that produces it is still writing. Events reference their
// run through a foreign key, and the schema version lives in user_version.
package journal
