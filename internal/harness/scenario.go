package harness

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// ErrInvalidScenario is wrapped by every scenario validation error.
var ErrInvalidScenario = errors.New("invalid scenario")

// Scenario is a scripted scheduler run with assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario. Also names its golden file.
	Name string `yaml:"name" json:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description" json:"description"`

	// Start is the initial clock reading.
	Start int64 `yaml:"start,omitempty" json:"start,omitempty"`

	// Steps are executed in order.
	Steps []Step `yaml:"steps" json:"steps"`

	// Assertions validate the final result.
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// Step is a single scenario action.
type Step struct {
	// Op is one of enqueue, tick, advance, close.
	Op string `yaml:"op" json:"op"`

	// Label names the entry (enqueue only).
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// At is the deadline (enqueue) or the time to move to (tick, advance).
	At int64 `yaml:"at,omitempty" json:"at,omitempty"`

	// Panic makes the callback panic after it is recorded (enqueue only).
	Panic bool `yaml:"panic,omitempty" json:"panic,omitempty"`

	// Then lists entries the callback enqueues when it runs (enqueue only).
	Then []Followup `yaml:"then,omitempty" json:"then,omitempty"`
}

// Followup is an entry enqueued from inside a callback.
type Followup struct {
	Label string `yaml:"label" json:"label"`
	At    int64  `yaml:"at" json:"at"`
}

// Assertion validates the result of a run.
type Assertion struct {
	// Type is one of fired_order, fired_count, not_fired, pending_count,
	// discarded.
	Type string `yaml:"type" json:"type"`

	// Labels is used by fired_order, not_fired and discarded.
	Labels []string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Label is used by fired_count.
	Label string `yaml:"label,omitempty" json:"label,omitempty"`

	// Count is used by fired_count and pending_count.
	Count int `yaml:"count,omitempty" json:"count,omitempty"`
}

// Step operations.
const (
	OpEnqueue = "enqueue"
	OpTick    = "tick"
	OpAdvance = "advance"
	OpClose   = "close"
)

// Assertion type constants.
const (
	AssertFiredOrder   = "fired_order"
	AssertFiredCount   = "fired_count"
	AssertNotFired     = "not_fired"
	AssertPendingCount = "pending_count"
	AssertDiscarded    = "discarded"
)

// LoadScenario reads, parses and validates a scenario file from fsys.
// The format is chosen by extension: .yaml/.yml or .cue.
func LoadScenario(fsys afero.Fs, path string) (*Scenario, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var s *Scenario
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		s, err = ParseYAML(data)
	case ".cue":
		s, err = ParseCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported scenario format %q (want .yaml, .yml or .cue)", ext)
	}
	if err != nil {
		return nil, err
	}

	if err := Validate(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ParseYAML decodes a YAML scenario. Unknown fields are rejected.
func ParseYAML(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // catch typos like "assertion:" vs "assertions:"
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &s, nil
}

// ParseCUE evaluates a CUE scenario and decodes the concrete result.
func ParseCUE(data []byte, filename string) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("CUE scenario is not concrete: %w", err)
	}

	var s Scenario
	if err := v.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode CUE: %w", err)
	}
	return &s, nil
}

// Validate checks that required fields are present and consistent.
func Validate(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if s.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidScenario)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: steps list is required and must be non-empty", ErrInvalidScenario)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("%w: assertions list is required and must be non-empty", ErrInvalidScenario)
	}

	labels := make(map[string]bool)
	claim := func(where, label string) error {
		if label == "" {
			return fmt.Errorf("%w: %s: label is required", ErrInvalidScenario, where)
		}
		if labels[label] {
			return fmt.Errorf("%w: %s: duplicate label %q", ErrInvalidScenario, where, label)
		}
		labels[label] = true
		return nil
	}

	for i, step := range s.Steps {
		where := fmt.Sprintf("steps[%d]", i)
		switch step.Op {
		case OpEnqueue:
			if err := claim(where, step.Label); err != nil {
				return err
			}
			for j, f := range step.Then {
				if err := claim(fmt.Sprintf("%s.then[%d]", where, j), f.Label); err != nil {
					return err
				}
			}
		case OpTick, OpAdvance, OpClose:
			if step.Label != "" || step.Panic || len(step.Then) > 0 {
				return fmt.Errorf("%w: %s: label, panic and then are only valid for enqueue", ErrInvalidScenario, where)
			}
		case "":
			return fmt.Errorf("%w: %s: op is required", ErrInvalidScenario, where)
		default:
			return fmt.Errorf("%w: %s: unknown op %q", ErrInvalidScenario, where, step.Op)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}

	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case AssertFiredOrder, AssertDiscarded:
		// An empty list is a valid expectation.
	case AssertNotFired:
		if len(a.Labels) == 0 {
			return fmt.Errorf("%w: assertions[%d]: labels list is required for not_fired", ErrInvalidScenario, index)
		}
	case AssertFiredCount:
		if a.Label == "" {
			return fmt.Errorf("%w: assertions[%d]: label is required for fired_count", ErrInvalidScenario, index)
		}
		if a.Count < 0 {
			return fmt.Errorf("%w: assertions[%d]: count must be non-negative for fired_count", ErrInvalidScenario, index)
		}
	case AssertPendingCount:
		if a.Count < 0 {
			return fmt.Errorf("%w: assertions[%d]: count must be non-negative for pending_count", ErrInvalidScenario, index)
		}
	case "":
		return fmt.Errorf("%w: assertions[%d]: type is required", ErrInvalidScenario, index)
	default:
		return fmt.Errorf("%w: assertions[%d]: unknown assertion type %q", ErrInvalidScenario, index, a.Type)
	}
	return nil
}
