package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateScenario(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", FS: scenarioFS(t, map[string]string{"s.yaml": passingScenario})}

	out, err := execute(NewValidateCommand(rootOpts), "s.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ deadline_order is valid (3 steps, 1 assertions)")
}

func TestValidateScenarioJSON(t *testing.T) {
	rootOpts := &RootOptions{Format: "json", FS: scenarioFS(t, map[string]string{"s.yaml": passingScenario})}

	out, err := execute(NewValidateCommand(rootOpts), "s.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, "deadline_order", resp.Data.Scenario)
	assert.Equal(t, 3, resp.Data.Steps)
}

func TestValidateMissingFile(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", FS: scenarioFS(t, nil)}

	out, err := execute(NewValidateCommand(rootOpts), "missing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E002]")
}

func TestValidateInvalidScenario(t *testing.T) {
	invalid := `
name: dup
description: "duplicate labels"
steps:
  - op: enqueue
    label: A
    at: 1
  - op: enqueue
    label: A
    at: 2
assertions:
  - type: pending_count
    count: 0
`
	rootOpts := &RootOptions{Format: "json", FS: scenarioFS(t, map[string]string{"dup.yaml": invalid})}

	out, err := execute(NewValidateCommand(rootOpts), "dup.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidScenario, resp.Error.Code)
}

func TestValidateUnknownField(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", FS: scenarioFS(t, map[string]string{
		"typo.yaml": "name: typo\nsteps: []\nassertion: []\n",
	})}

	out, err := execute(NewValidateCommand(rootOpts), "typo.yaml")
	require.Error(t, err)
	assert.Contains(t, out, "Error [E003]")
}
