package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/journal"
	"github.com/roach88/caps/internal/problem"
	"github.com/roach88/caps/internal/restart"
	"github.com/roach88/caps/internal/store"
	"github.com/roach88/caps/internal/testutil"
)

// Harness runs scenarios against a journal store.
type Harness struct {
	store      *store.Store
	logger     *slog.Logger
	checkpoint *restart.Dir
}

// Option configures Run.
type Option func(*Harness)

// WithStore records into st instead of a fresh in-memory database.
func WithStore(st *store.Store) Option {
	return func(h *Harness) { h.store = st }
}

// WithLogger logs problem activity to l.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) { h.logger = l }
}

// WithCheckpoint writes a restart directory into dir at the end of the
// live run.
func WithCheckpoint(dir *restart.Dir) Option {
	return func(h *Harness) { h.checkpoint = dir }
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile and validate the problem description
//  2. Run every step live with counting collaborators, checking each
//     step's expectation
//  3. Replay the session from its journal and require identical
//     observations without a single collaborator call
//  4. Read the trace back from the journal
//  5. Evaluate assertions against the trace and the live problem
//
// Unless WithStore is given each scenario runs in a fresh in-memory
// database. An error is returned only when the scenario cannot run at all;
// failed expectations and assertions are reported in the result.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	return RunContext(context.Background(), scenario, opts...)
}

// RunContext is Run under ctx. Cancelling ctx stops the run before the next
// step; the journal keeps every completed step.
func RunContext(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		st, err := store.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory store: %w", err)
		}
		defer st.Close()
		h.store = st
	}
	return h.run(ctx, scenario)
}

func (h *Harness) run(ctx context.Context, scenario *Scenario) (*Result, error) {
	spec, err := scenario.compile()
	if err != nil {
		return nil, err
	}
	sessionID := scenario.SessionID
	if sessionID == "" {
		sessionID = "test-session"
	}

	result := NewResult()
	result.SessionID = sessionID

	live := testutil.NewPlanar(spec)
	p, err := problem.New(ctx, spec, h.options(live,
		problem.WithSessionIDs(testutil.NewFixedSessionGenerator(sessionID)))...)
	if err != nil {
		return nil, fmt.Errorf("open problem: %w", err)
	}
	defer p.Close()

	for i, step := range scenario.Steps {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		obs, err := execStep(ctx, p, i, step)
		result.Observations = append(result.Observations, obs)
		for _, msg := range checkExpect(step, obs) {
			result.AddError(fmt.Sprintf("step %d (%s %s): %s", i, step.Op, step.Target, msg))
		}
		if errs.IsFatal(err) {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	for _, m := range live.Calls.Methods() {
		result.Calls[m] = live.Calls.Count(m)
	}

	if !scenario.SkipReplay {
		if err := h.replay(ctx, spec, scenario, result); err != nil {
			result.AddError(err.Error())
		} else {
			result.Replayed = true
		}
	}

	records, err := h.store.ReadRecords(ctx, sessionID, 0)
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	result.Records = records
	for _, rec := range records {
		result.Trace = append(result.Trace, traceEvent(rec))
	}

	actx := &AssertionContext{Ctx: ctx, Problem: p}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	// Assertions journal too, so the checkpoint follows them.
	if h.checkpoint != nil {
		cp, err := p.Checkpoint(ctx, h.checkpoint)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: %w", err)
		}
		result.Checkpoint = &cp
	}

	return result, nil
}

// replay re-runs the steps against the recorded session. Every call is
// answered from the journal, so the collaborators must stay untouched.
func (h *Harness) replay(ctx context.Context, spec *ir.ProblemSpec, scenario *Scenario, result *Result) error {
	observed, err := h.replaySteps(ctx, spec, scenario, result.SessionID)
	if err != nil {
		return err
	}
	for i, step := range scenario.Steps {
		if want, got := result.Observations[i], observed[i]; !reflect.DeepEqual(want, got) {
			return fmt.Errorf("replay: step %d (%s %s) diverged: live %+v, replayed %+v", i, step.Op, step.Target, want, got)
		}
	}
	return nil
}

func (h *Harness) replaySteps(ctx context.Context, spec *ir.ProblemSpec, scenario *Scenario, sessionID string) ([]Observation, error) {
	fresh := testutil.NewPlanar(spec)
	p, err := problem.New(ctx, spec, h.options(fresh, problem.WithReplay(sessionID, 0))...)
	if err != nil {
		return nil, fmt.Errorf("replay: open: %w", err)
	}
	defer p.Close()

	observed := make([]Observation, 0, len(scenario.Steps))
	for i, step := range scenario.Steps {
		obs, err := execStep(ctx, p, i, step)
		if errs.IsFatal(err) {
			return nil, fmt.Errorf("replay: step %d: %w", i, err)
		}
		observed = append(observed, obs)
	}
	if p.Session().Mode() != journal.ModeReplay {
		return nil, fmt.Errorf("replay: session ran out of records and went live")
	}
	if n := fresh.Calls.Total(); n != 0 {
		return nil, fmt.Errorf("replay: %d collaborator calls %v, want none", n, fresh.Calls.Methods())
	}
	return observed, nil
}

func (h *Harness) options(pl *testutil.Planar, extra ...problem.Option) []problem.Option {
	return append([]problem.Option{
		problem.WithLog(h.store),
		problem.WithRegistry(pl.Registry),
		problem.WithModeler(pl.Modeler),
		problem.WithProvenance(testutil.NewFixedProvenance()),
		problem.WithLogger(h.logger),
	}, extra...)
}
