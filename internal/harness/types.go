package harness

import (
	"github.com/roach88/caps/internal/ir"
)

// TraceEvent is one journal record of the live run.
type TraceEvent struct {
	Seq     int64  `json:"seq"`
	Op      string `json:"op"`
	Entity  ir.Ref `json:"entity"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Before  int64  `json:"s_num_before"`
	After   int64  `json:"s_num_after"`
}

func traceEvent(rec ir.Record) TraceEvent {
	return TraceEvent{
		Seq:     rec.Seq,
		Op:      rec.OpName,
		Entity:  rec.Entity,
		Status:  rec.Status,
		Message: rec.Message,
		Before:  rec.Before,
		After:   rec.After,
	}
}

// Observation is what one step returned. Live and replayed runs must
// observe the same thing at every step.
type Observation struct {
	Step   int       `json:"step"`
	Op     string    `json:"op"`
	Target string    `json:"target,omitempty"`
	Code   string    `json:"code"`
	Values []float64 `json:"values,omitempty"`
	Names  []string  `json:"names,omitempty"`
	Status string    `json:"status,omitempty"`
	Rank   int       `json:"rank,omitempty"`
	SNum   int64     `json:"s_num"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step matched its expectation and all assertions held.
	Pass bool `json:"pass"`

	// SessionID is the journal session the live run recorded into.
	SessionID string `json:"session_id"`

	// Observations holds the live result of every step.
	Observations []Observation `json:"observations"`

	// Trace contains the journal records of the live run in order.
	Trace []TraceEvent `json:"trace"`

	// Records are the raw journal records behind Trace.
	Records []ir.Record `json:"-"`

	// Calls counts collaborator invocations of the live run by method.
	Calls map[string]int `json:"calls,omitempty"`

	// Checkpoint is set when the run wrote a restart directory.
	Checkpoint *ir.Checkpoint `json:"checkpoint,omitempty"`

	// Replayed is set once the journal has been replayed and matched.
	Replayed bool `json:"replayed"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:         true,
		Observations: []Observation{},
		Trace:        []TraceEvent{},
		Calls:        make(map[string]int),
		Errors:       []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
