package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"reflect"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
)

// ReplayReport describes one replay of a recorded session.
type ReplayReport struct {
	SessionID     string        `json:"session_id"`
	Records       int           `json:"records"`
	Observations  []Observation `json:"observations"`
	Deterministic bool          `json:"deterministic"`
}

// Replay drives a scenario's steps against a session already recorded in
// the store given with WithStore. The steps are replayed twice; both runs
// must be answered entirely from the journal and observe the same results.
//
// The session must have been recorded from the same problem description.
// Divergence between the steps and the recording fails with
// JOURNAL_CORRUPT.
func Replay(scenario *Scenario, sessionID string, opts ...Option) (*ReplayReport, error) {
	h := &Harness{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	if h.store == nil {
		return nil, fmt.Errorf("replay needs a journal store")
	}
	return h.replaySession(context.Background(), scenario, sessionID)
}

func (h *Harness) replaySession(ctx context.Context, scenario *Scenario, sessionID string) (*ReplayReport, error) {
	spec, err := scenario.compile()
	if err != nil {
		return nil, err
	}
	info, err := h.store.Session(ctx, sessionID)
	if err != nil {
		return nil, errs.Wrap(errs.NotFound, err, "session %s", sessionID)
	}
	hash, err := ir.SpecHash(spec)
	if err != nil {
		return nil, err
	}
	if info.SpecHash != hash {
		return nil, errs.New(errs.JournalCorrupt, "session %s was recorded from problem %s with a different description", sessionID, info.Problem)
	}
	records, err := h.store.ReadRecords(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	first, err := h.replaySteps(ctx, spec, scenario, sessionID)
	if err != nil {
		return nil, err
	}
	second, err := h.replaySteps(ctx, spec, scenario, sessionID)
	if err != nil {
		return nil, err
	}
	h.logger.Info("session replayed", "session", sessionID, "records", len(records), "steps", len(first))

	return &ReplayReport{
		SessionID:     sessionID,
		Records:       len(records),
		Observations:  first,
		Deterministic: reflect.DeepEqual(first, second),
	}, nil
}
