package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for i, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %-10s %s deadline=%d at=%d\n", i+1, ev.Kind, ev.Label, ev.Deadline, ev.At)
	}

	return buf.String()
}

// EvaluateAssertions runs every assertion against the result and returns
// the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %s", i, err.Error()))
		}
	}
	return errs
}

func evaluate(result *Result, a Assertion) error {
	switch a.Type {
	case AssertFiredOrder:
		return assertSequence(result, AssertFiredOrder, result.Fired, a.Labels)
	case AssertDiscarded:
		return assertSequence(result, AssertDiscarded, result.ofKind(KindDiscarded), a.Labels)
	case AssertFiredCount:
		return assertFiredCount(result, a)
	case AssertNotFired:
		return assertNotFired(result, a)
	case AssertPendingCount:
		return assertPendingCount(result, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertSequence checks that got equals want exactly, order included.
func assertSequence(result *Result, typ string, got, want []string) error {
	if want == nil {
		want = []string{}
	}
	if slices.Equal(got, want) {
		return nil
	}
	return &AssertionError{
		Type:     typ,
		Expected: fmt.Sprintf("%v", want),
		Actual:   fmt.Sprintf("%v", got),
		Trace:    result.Trace,
	}
}

func assertFiredCount(result *Result, a Assertion) error {
	count := 0
	for _, label := range result.Fired {
		if label == a.Label {
			count++
		}
	}
	if count == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertFiredCount,
		Expected: fmt.Sprintf("%s fired %d time(s)", a.Label, a.Count),
		Actual:   fmt.Sprintf("%s fired %d time(s)", a.Label, count),
		Trace:    result.Trace,
	}
}

func assertNotFired(result *Result, a Assertion) error {
	var offenders []string
	for _, label := range a.Labels {
		if slices.Contains(result.Fired, label) {
			offenders = append(offenders, label)
		}
	}
	if len(offenders) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertNotFired,
		Expected: fmt.Sprintf("none of %v fired", a.Labels),
		Actual:   fmt.Sprintf("%v fired", offenders),
		Trace:    result.Trace,
	}
}

func assertPendingCount(result *Result, a Assertion) error {
	if len(result.Pending) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertPendingCount,
		Expected: fmt.Sprintf("%d pending", a.Count),
		Actual:   fmt.Sprintf("%d pending %v", len(result.Pending), result.Pending),
		Trace:    result.Trace,
	}
}
