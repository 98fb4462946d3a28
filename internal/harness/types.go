package harness

// TraceEvent records the observable outcome of one scenario step.
type TraceEvent struct {
	Op      string         `json:"op"`
	Ref     string         `json:"ref,omitempty"`
	Outcome string         `json:"outcome"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// MovementView is the canonical projection of one stock movement for
// golden snapshots.
type MovementView struct {
	Seq          int64  `json:"seq"`
	Ingredient   string `json:"ingredient"`
	Delta        string `json:"delta"`
	Reason       string `json:"reason"`
	ResultingQty string `json:"resulting_qty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per setup and flow step, in execution
	// order. Used for golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Movements is the full stock movement log after the flow, ordered
	// by seq. The audit trail is part of the conformance surface.
	Movements []MovementView `json:"movements"`

	// Errors contains expect and assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Movements: []MovementView{},
		Errors:    []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step outcome to the trace.
func (r *Result) AddTrace(op, ref, outcome string, detail map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Op:      op,
		Ref:     ref,
		Outcome: outcome,
		Detail:  detail,
	})
}
