package cli

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const passingScenario = `
name: deadline_order
description: "later enqueue, earlier deadline"
steps:
  - op: enqueue
    label: A
    at: 10
  - op: enqueue
    label: B
    at: 5
  - op: tick
    at: 10
assertions:
  - type: fired_order
    labels: [B, A]
`

const failingScenario = `
name: wrong_order
description: "expects enqueue order instead of deadline order"
steps:
  - op: enqueue
    label: A
    at: 10
  - op: enqueue
    label: B
    at: 5
  - op: tick
    at: 10
assertions:
  - type: fired_order
    labels: [A, B]
`

const discardScenario = `
name: discards
description: "close releases the later entry"
steps:
  - op: enqueue
    label: A
    at: 5
  - op: enqueue
    label: B
    at: 50
  - op: tick
    at: 5
  - op: close
assertions:
  - type: discarded
    labels: [B]
`

func scenarioFS(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for path, content := range files {
		require.NoError(t, afero.WriteFile(fs, path, []byte(content), 0o644))
	}
	return fs
}

// execute runs cmd with args and returns its stdout.
func execute(cmd *cobra.Command, args ...string) (string, error) {
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}
