package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/caps/internal/problem"
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

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s (s_num %d → %d)\n", event.Seq, event.Op, event.Status, event.Before, event.After)
		}
	}

	return buf.String()
}

// AssertionContext carries what state assertions inspect.
type AssertionContext struct {
	Ctx     context.Context
	Problem *problem.Problem
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertJournalContains:
		return assertJournalContains(result.Trace, a)
	case AssertJournalOrder:
		return assertJournalOrder(result.Trace, a)
	case AssertJournalCount:
		return assertJournalCount(result.Trace, a)
	case AssertCollaboratorCalls:
		return assertCollaboratorCalls(result, a)
	case AssertFinalStatus:
		return assertFinalStatus(actx, a)
	case AssertFinalValue:
		return assertFinalValue(actx, a)
	case AssertBoundState:
		return assertBoundState(actx, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

// assertJournalContains checks that at least one record carries the op.
func assertJournalContains(trace []TraceEvent, a Assertion) error {
	for _, event := range trace {
		if event.Op == a.Op {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertJournalContains,
		Expected: fmt.Sprintf("a %s record", a.Op),
		Actual:   "not found in journal",
		Trace:    trace,
	}
}

// assertJournalOrder checks that the ops first appear in the given order.
// Ops don't need to be consecutive (intervening records are allowed).
func assertJournalOrder(trace []TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if _, seen := positions[event.Op]; !seen {
			positions[event.Op] = i + 1 // 1-indexed for readability
		}
	}

	for _, op := range a.Ops {
		if positions[op] == 0 {
			return &AssertionError{
				Type:     AssertJournalOrder,
				Expected: fmt.Sprintf("all ops present: %v", a.Ops),
				Actual:   fmt.Sprintf("missing op: %s", op),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(a.Ops); i++ {
		prev, curr := a.Ops[i-1], a.Ops[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertJournalOrder,
				Expected: fmt.Sprintf("ops in order: %v", a.Ops),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertJournalCount checks the op is recorded exactly Count times.
func assertJournalCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Op == a.Op {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertJournalCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Op),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertCollaboratorCalls checks how often the live run called a
// collaborator method.
func assertCollaboratorCalls(result *Result, a Assertion) error {
	if got := result.Calls[a.Method]; got != a.Count {
		return &AssertionError{
			Type:     AssertCollaboratorCalls,
			Expected: fmt.Sprintf("%d calls of %s", a.Count, a.Method),
			Actual:   fmt.Sprintf("%d calls", got),
		}
	}
	return nil
}

// assertFinalStatus checks the staleness of an analysis after the last
// step.
func assertFinalStatus(actx *AssertionContext, a Assertion) error {
	p := actx.Problem
	h, err := p.Analysis(a.Target)
	if err != nil {
		return err
	}
	st, err := p.AnalysisStatus(actx.Ctx, h)
	if err != nil {
		return err
	}
	if st.String() != a.Status {
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s is %s", a.Target, a.Status),
			Actual:   st.String(),
		}
	}
	return nil
}

// assertFinalValue checks a value's stored data without computing it.
func assertFinalValue(actx *AssertionContext, a Assertion) error {
	h, err := valueHandle(actx.Problem, a.Target)
	if err != nil {
		return err
	}
	got, err := actx.Problem.ValueOf(h)
	if err != nil {
		return err
	}
	if msg := compareValues(a.Value, got, a.Tolerance); msg != "" {
		return &AssertionError{
			Type:     AssertFinalValue,
			Expected: fmt.Sprintf("%s = %v", a.Target, a.Value),
			Actual:   msg,
		}
	}
	return nil
}

// assertBoundState checks a bound's registry state.
func assertBoundState(actx *AssertionContext, a Assertion) error {
	h, err := actx.Problem.Bound(a.Target)
	if err != nil {
		return err
	}
	st, err := actx.Problem.BoundState(h)
	if err != nil {
		return err
	}
	if string(st) != a.State {
		return &AssertionError{
			Type:     AssertBoundState,
			Expected: fmt.Sprintf("bound %s is %s", a.Target, a.State),
			Actual:   string(st),
		}
	}
	return nil
}
