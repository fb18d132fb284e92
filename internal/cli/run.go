package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/deferq/internal/harness"
	"github.com/roach88/deferq/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// RunOutput is the payload of a run.
type RunOutput struct {
	Scenario string               `json:"scenario"`
	Pass     bool                 `json:"pass"`
	Fired    []string             `json:"fired"`
	Pending  []string             `json:"pending"`
	Trace    []harness.TraceEvent `json:"trace"`
	Errors   []string             `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario against the scheduler",
		Long: `Run a YAML or CUE scenario against a scheduler driven by a manual
clock, then evaluate its assertions.

With --db, every lifecycle event (scheduled, dispatched, discarded) is also
written to a SQLite journal that the journal command can read back.

Exit codes:
  0 - All assertions held
  1 - One or more assertions failed
  2 - Command error (unreadable or invalid scenario, journal error)

Examples:
  deferq run ./scenarios/deadline_order.yaml
  deferq run ./scenarios/equal_deadlines.cue --format json
  deferq run ./scenarios/close_discards.yaml --db ./deferq.db -v`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "also journal lifecycle events to this SQLite database")

	return cmd
}

func runScenario(opts *RunOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)
	logger := opts.logger()

	scenario, err := loadScenario(opts.RootOptions, path, formatter)
	if err != nil {
		return err
	}
	formatter.VerboseLog("Loaded scenario %s (%d steps)", scenario.Name, len(scenario.Steps))

	runOpts := []harness.RunOption{harness.WithLogger(logger)}

	var (
		runID string
		rec   *journal.Recorder
	)
	if opts.Database != "" {
		j, err := journal.Open(opts.Database)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to open journal", err)
		}
		defer j.Close()

		runID, err = j.StartRun(ctx, scenario.Name)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeJournal, "failed to start journal run", err)
		}
		rec = j.NewRecorder(runID, logger)
		runOpts = append(runOpts, harness.WithRecorder(rec))
		formatter.VerboseLog("Journaling to %s (run %s)", opts.Database, runID)
	}

	result, err := harness.Run(ctx, scenario, runOpts...)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeInvalidScenario, "scenario execution failed", err)
	}

	if rec != nil && rec.Failed() > 0 {
		logger.Warn("journal incomplete", "run", runID, "failed_writes", rec.Failed())
	}

	out := RunOutput{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Fired:    result.Fired,
		Pending:  result.Pending,
		Trace:    result.Trace,
		Errors:   result.Errors,
	}

	resp := CLIResponse{Status: "ok", Data: out, RunID: runID}
	if !result.Pass {
		resp.Status = "error"
		resp.Error = &CLIError{Code: ErrCodeAssertion, Message: "scenario assertions failed"}
	}
	if err := formatter.Emit(resp, func(w io.Writer) {
		writeRunText(w, out, runID, opts.Verbose)
	}); err != nil {
		return err
	}

	if !result.Pass {
		return &ExitError{
			Code:     ExitFailure,
			ErrCode:  ErrCodeAssertion,
			Message:  fmt.Sprintf("scenario %s: %d assertion(s) failed", scenario.Name, len(result.Errors)),
			Reported: true,
		}
	}
	return nil
}

// loadScenario loads and validates a scenario, reporting failures through
// the formatter.
func loadScenario(opts *RootOptions, path string, formatter *OutputFormatter) (*harness.Scenario, error) {
	scenario, err := harness.LoadScenario(opts.fs(), path)
	if err == nil {
		return scenario, nil
	}

	code := ErrCodeInvalidScenario
	if errors.Is(err, fs.ErrNotExist) {
		code = ErrCodeNotFound
	}
	return nil, formatter.Fail(ExitCommandError, code, fmt.Sprintf("failed to load scenario %s", path), err)
}

func writeRunText(w io.Writer, out RunOutput, runID string, verbose bool) {
	mark := "✓"
	if !out.Pass {
		mark = "✗"
	}
	fmt.Fprintf(w, "%s %s\n", mark, out.Scenario)
	fmt.Fprintf(w, "  fired:   %s\n", joinOrDash(out.Fired))
	fmt.Fprintf(w, "  pending: %s\n", joinOrDash(out.Pending))
	if runID != "" {
		fmt.Fprintf(w, "  journal run: %s\n", runID)
	}

	if verbose {
		fmt.Fprintln(w, "  trace:")
		for i, ev := range out.Trace {
			fmt.Fprintf(w, "    [%d] %-10s %-8s deadline=%d at=%d\n", i+1, ev.Kind, ev.Label, ev.Deadline, ev.At)
		}
	}

	for _, e := range out.Errors {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
	}
}

func joinOrDash(labels []string) string {
	if len(labels) == 0 {
		return "-"
	}
	return strings.Join(labels, " ")
}
