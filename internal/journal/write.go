package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/deferq/internal/deferred"
)

// StartRun registers a new run and returns its ID.
func (j *Journal) StartRun(ctx context.Context, label string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, label, started_at)
		VALUES (?, ?, ?)
	`, id, label, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// Write appends a lifecycle event to the given run.
// Uses ON CONFLICT DO NOTHING for idempotency - an entry records each kind
// at most once.
func (j *Journal) Write(ctx context.Context, runID string, ev deferred.Event) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO events (run_id, kind, entry_id, seq, deadline_ns, at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, entry_id, kind) DO NOTHING
	`,
		runID,
		string(ev.Kind),
		ev.EntryID,
		ev.Seq,
		int64(ev.Deadline),
		int64(ev.At),
	)
	if err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Recorder adapts a journal run to deferred.Recorder.
//
// Record cannot return an error, so write failures are logged and counted.
type Recorder struct {
	journal *Journal
	runID   string
	logger  *slog.Logger
	failed  int
}

var _ deferred.Recorder = (*Recorder)(nil)

// NewRecorder returns a Recorder writing to runID.
func (j *Journal) NewRecorder(runID string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{journal: j, runID: runID, logger: logger}
}

// Record implements deferred.Recorder.
//
// The scheduler calls Record from its dispatcher goroutine and, for discarded
// entries, from the goroutine running Close; the two never overlap.
func (r *Recorder) Record(ev deferred.Event) {
	if err := r.journal.Write(context.Background(), r.runID, ev); err != nil {
		r.failed++
		r.logger.Error("journal write failed",
			"run", r.runID,
			"entry", ev.EntryID,
			"kind", ev.Kind,
			"error", err,
		)
	}
}

// Failed returns the number of events that could not be written.
// Only meaningful after the scheduler has been closed.
func (r *Recorder) Failed() int {
	return r.failed
}
