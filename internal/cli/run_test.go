package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runResponse struct {
	Status string    `json:"status"`
	Data   RunOutput `json:"data"`
	Error  *CLIError `json:"error"`
	RunID  string    `json:"run_id"`
}

func TestRunScenario(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", FS: scenarioFS(t, map[string]string{"s.yaml": passingScenario})}

	out, err := execute(NewRunCommand(rootOpts), "s.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ deadline_order")
	assert.Contains(t, out, "fired:   B A")
	assert.Contains(t, out, "pending: -")
}

func TestRunScenarioVerboseTrace(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", Verbose: true, FS: scenarioFS(t, map[string]string{"s.yaml": passingScenario})}

	out, err := execute(NewRunCommand(rootOpts), "s.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "trace:")
	assert.Contains(t, out, "dispatched")
}

func TestRunScenarioJSON(t *testing.T) {
	rootOpts := &RootOptions{Format: "json", FS: scenarioFS(t, map[string]string{"s.yaml": passingScenario})}

	out, err := execute(NewRunCommand(rootOpts), "s.yaml")
	require.NoError(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Pass)
	assert.Equal(t, []string{"B", "A"}, resp.Data.Fired)
	assert.Empty(t, resp.Data.Pending)
	assert.Empty(t, resp.RunID)
}

func TestRunScenarioFailedAssertions(t *testing.T) {
	rootOpts := &RootOptions{Format: "text", FS: scenarioFS(t, map[string]string{"s.yaml": failingScenario})}

	out, err := execute(NewRunCommand(rootOpts), "s.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_order")
	assert.Contains(t, out, "fired_order")
}

func TestRunScenarioFailedAssertionsJSON(t *testing.T) {
	rootOpts := &RootOptions{Format: "json", FS: scenarioFS(t, map[string]string{"s.yaml": failingScenario})}

	out, err := execute(NewRunCommand(rootOpts), "s.yaml")
	require.Error(t, err)

	var resp runResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeAssertion, resp.Error.Code)
	assert.False(t, resp.Data.Pass)
	assert.NotEmpty(t, resp.Data.Errors)
}

func TestRunScenarioMissingFile(t *testing.T) {
	rootOpts := &RootOptions{Format: "json", FS: scenarioFS(t, nil)}

	out, err := execute(NewRunCommand(rootOpts), "nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestRunScenarioRequiresArgument(t *testing.T) {
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
}
