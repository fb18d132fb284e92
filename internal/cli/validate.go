package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// ValidationResult is the payload of a successful validate.
type ValidationResult struct {
	Valid      bool   `json:"valid"`
	Scenario   string `json:"scenario"`
	Steps      int    `json:"steps"`
	Assertions int    `json:"assertions"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <scenario>",
		Short: "Validate a scenario file without running it",
		Long: `Parse and validate a YAML or CUE scenario.

Reports unknown fields, unknown step operations and assertion types,
duplicate entry labels, and missing required fields.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	scenario, err := loadScenario(opts, path, formatter)
	if err != nil {
		return err
	}

	result := ValidationResult{
		Valid:      true,
		Scenario:   scenario.Name,
		Steps:      len(scenario.Steps),
		Assertions: len(scenario.Assertions),
	}
	return formatter.Emit(CLIResponse{Status: "ok", Data: result}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid (%d steps, %d assertions)\n", result.Scenario, result.Steps, result.Assertions)
	})
}
