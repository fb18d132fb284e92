package cli

import (
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/deferq/internal/deferred"
	"github.com/roach88/deferq/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kind     string
}

// JournalOutput is the payload of the journal command.
type JournalOutput struct {
	Runs   []journal.Run    `json:"runs"`
	Events []journal.Record `json:"events"`
}

var validKinds = []string{
	string(deferred.EventScheduled),
	string(deferred.EventDispatched),
	string(deferred.EventDiscarded),
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded scheduler runs and lifecycle events",
		Long: `Read back a lifecycle journal written by "deferq run --db".

Lists every recorded run followed by its events in the order they were
written. Events can be narrowed to one run and one kind.

Examples:
  deferq journal --db ./deferq.db
  deferq journal --db ./deferq.db --run 0190a8e2-... --kind discarded
  deferq journal --db ./deferq.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal database (required)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "only show events from this run")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only show events of this kind (scheduled|dispatched|discarded)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	if opts.Kind != "" && !slices.Contains(validKinds, opts.Kind) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric,
			fmt.Sprintf("invalid kind %q: must be one of %v", opts.Kind, validKinds), nil)
	}

	// journal.Open creates missing databases; reading should not.
	if _, err := os.Stat(opts.Database); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("journal %s not found", opts.Database), err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
	}
	defer j.Close()

	runs, err := j.Runs(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read runs", err)
	}
	if opts.RunID != "" {
		runs = slices.DeleteFunc(runs, func(r journal.Run) bool { return r.ID != opts.RunID })
	}

	events, err := j.Events(ctx, journal.Filter{RunID: opts.RunID, Kind: deferred.EventKind(opts.Kind)})
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to read events", err)
	}

	out := JournalOutput{Runs: runs, Events: events}
	return formatter.Emit(CLIResponse{Status: "ok", Data: out, RunID: opts.RunID}, func(w io.Writer) {
		writeJournalText(w, out)
	})
}

func writeJournalText(w io.Writer, out JournalOutput) {
	if len(out.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}

	for _, r := range out.Runs {
		fmt.Fprintf(w, "run %s  %s  (%s)\n", r.ID, r.Label, r.StartedAt.Format("2006-01-02 15:04:05.000"))
		for _, ev := range out.Events {
			if ev.RunID != r.ID {
				continue
			}
			fmt.Fprintf(w, "  %-10s %-36s seq=%-4d deadline=%s at=%s\n", ev.Kind, ev.EntryID, ev.Seq, ev.Deadline, ev.At)
		}
	}
}
