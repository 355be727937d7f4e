package harness

import "github.com/roach88/paystream/internal/event"

// OutcomeOK is the outcome of a step that succeeded.
const OutcomeOK = "ok"

// TraceEvent is one traced step and the events it committed.
type TraceEvent struct {
	Step    int         `json:"step"`
	At      uint64      `json:"at"`
	Op      string      `json:"op"`
	Outcome string      `json:"outcome"` // "ok" or the error code
	Events  []EventLine `json:"events,omitempty"`
}

// EventLine summarizes a committed event. Treasury and stream are given by
// scenario name.
type EventLine struct {
	Seq      int64      `json:"seq"`
	Kind     event.Kind `json:"kind"`
	Treasury string     `json:"treasury"`
	Stream   string     `json:"stream,omitempty"`
}

// BalanceLine is the final balance of a named account.
type BalanceLine struct {
	Account string `json:"account"`
	Units   uint64 `json:"units"`
	Fee     uint64 `json:"fee"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step matched its expectation and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds the steps in order.
	Trace []TraceEvent `json:"trace"`

	// Balances holds the final balances of every named account and
	// treasury, sorted by name.
	Balances []BalanceLine `json:"balances"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Balances: []BalanceLine{},
		Errors:   []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Events returns every traced event in order.
func (r *Result) Events() []EventLine {
	var out []EventLine
	for _, step := range r.Trace {
		out = append(out, step.Events...)
	}
	return out
}
