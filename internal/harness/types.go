package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int            `json:"seq"`
	Action  string         `json:"action"`
	Device  string         `json:"device,omitempty"`
	Payment string         `json:"payment,omitempty"`
	Outcome string         `json:"outcome"` // "ok" or the payment error kind
	Detail  map[string]any `json:"detail,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step and assertion matched.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds mismatch messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}, Errors: []string{}}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(e TraceEvent) {
	e.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, e)
}
