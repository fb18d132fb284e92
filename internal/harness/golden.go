package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the observable outcome of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Trace        []TraceEvent `json:"trace"`
	Pending      []string     `json:"pending"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"kind":     ev.Kind,
			"label":    ev.Label,
			"deadline": ev.Deadline,
			"at":       ev.At,
		}
		if ev.Seq != 0 {
			m["seq"] = ev.Seq
		}
		trace[i] = m
	}

	pending := s.Pending
	if pending == nil {
		pending = []string{}
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         trace,
		"pending":       pending,
	}
}

// TraceJSON returns the canonical JSON snapshot of a run.
func TraceJSON(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
		Pending:      result.Pending,
	}
	return MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := TraceJSON(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
