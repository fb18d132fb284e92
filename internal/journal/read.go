package journal

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/deferq/internal/clock"
	"github.com/roach88/deferq/internal/deferred"
)

// Run describes one recorded scheduler run.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

// Record is a journaled lifecycle event.
type Record struct {
	ID       int64              `json:"id"`
	RunID    string             `json:"run_id"`
	Kind     deferred.EventKind `json:"kind"`
	EntryID  string             `json:"entry_id"`
	Seq      int64              `json:"seq"`
	Deadline clock.AbsoluteTime `json:"deadline_ns"`
	At       clock.AbsoluteTime `json:"at_ns"`
}

// Filter narrows an Events query. Zero fields match everything.
type Filter struct {
	RunID string
	Kind  deferred.EventKind
}

// Runs returns all runs, oldest first.
// Returns an empty slice (not nil) if the journal has no runs.
func (j *Journal) Runs(ctx context.Context) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, label, started_at
		FROM runs
		ORDER BY started_at ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var (
			r       Run
			started string
		)
		if err := rows.Scan(&r.ID, &r.Label, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, err = time.Parse(time.RFC3339Nano, started)
		if err != nil {
			return nil, fmt.Errorf("parse run %s started_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}

	return runs, nil
}

// Events returns the journaled events matching f in append order.
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) Events(ctx context.Context, f Filter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}

	query := `SELECT id, run_id, kind, entry_id, seq, deadline_ns, at_ns FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return records, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r        Record
		kind     string
		deadline int64
		at       int64
	)
	if err := rows.Scan(&r.ID, &r.RunID, &kind, &r.EntryID, &r.Seq, &deadline, &at); err != nil {
		return Record{}, fmt.Errorf("scan event: %w", err)
	}
	r.Kind = deferred.EventKind(kind)
	r.Deadline = clock.AbsoluteTime(deadline)
	r.At = clock.AbsoluteTime(at)
	return r, nil
}
