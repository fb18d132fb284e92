package harness

// Trace event kinds. scheduled, dispatched and discarded mirror
// deferred.EventKind; fired and rejected are observed by the harness.
const (
	KindScheduled  = "scheduled"
	KindDispatched = "dispatched"
	KindDiscarded  = "discarded"
	KindFired      = "fired"
	KindRejected   = "rejected"
)

// TraceEvent is one observation during a scenario run.
type TraceEvent struct {
	Kind     string `json:"kind"`
	Label    string `json:"label"`
	Seq      int64  `json:"seq,omitempty"`
	Deadline int64  `json:"deadline"`
	At       int64  `json:"at"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace lists every event in the order it was observed.
	Trace []TraceEvent `json:"trace"`

	// Fired lists callback labels in execution order.
	Fired []string `json:"fired"`

	// Pending lists the labels still scheduled after the last step,
	// in firing order.
	Pending []string `json:"pending"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Fired:   []string{},
		Pending: []string{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// ofKind returns the labels of trace events of the given kind, in order.
func (r *Result) ofKind(kind string) []string {
	out := []string{}
	for _, ev := range r.Trace {
		if ev.Kind == kind {
			out = append(out, ev.Label)
		}
	}
	return out
}
