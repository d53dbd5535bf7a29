package journal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/metrics"
)

// Mode is the strategy a session is currently running.
type Mode string

const (
	ModeLive   Mode = "live"
	ModeReplay Mode = "replay"
)

// Clock is the read side of the serial clock the session checks windows
// against. *clock.Serial implements it.
type Clock interface {
	Current() int64
}

// Call is one journaled operation.
type Call struct {
	Op     Opcode
	Entity ir.Ref
	Inputs []ir.Arg

	// Exec performs the operation. Outputs may accompany an error when the
	// operation reports diagnostics.
	Exec func() ([]ir.Arg, error)

	// Restore reapplies recorded outputs in place of Exec. It must advance
	// the clock exactly as Exec did. Nil for operations with no effect.
	Restore func(outputs []ir.Arg) error
}

type callKey struct {
	op     Opcode
	entity ir.Ref
}

type strategy interface {
	mode() Mode
	do(ctx context.Context, s *Session, call Call, ordinal int64) ([]ir.Arg, error)
}

// Session journals the operations of one Problem.
//
// A Session is not safe for concurrent use; it belongs to the Problem's
// single writer.
type Session struct {
	info     ir.SessionInfo
	log      Log
	clk      Clock
	logger   *slog.Logger
	exec     strategy
	seq      int64
	ordinals map[callKey]int64
	trace    []ir.Record
	fatal    error
}

func newSession(info ir.SessionInfo, log Log, clk Clock, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Session{
		info:     info,
		log:      log,
		clk:      clk,
		logger:   logger.With("session", info.ID),
		ordinals: make(map[callKey]int64),
		trace:    []ir.Record{},
	}
}

// NewLive starts recording a new session. The session must not already
// hold records; use NewReplay to continue one.
func NewLive(ctx context.Context, log Log, info ir.SessionInfo, clk Clock, logger *slog.Logger) (*Session, error) {
	if err := log.CreateSession(ctx, info); err != nil {
		return nil, fmt.Errorf("start live session: %w", err)
	}
	existing, err := log.ReadRecords(ctx, info.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("start live session: %w", err)
	}
	if len(existing) > 0 {
		return nil, errs.New(errs.IllegalState, "session %s already holds %d records", info.ID, len(existing))
	}
	s := newSession(info, log, clk, logger)
	s.exec = liveExecution{}
	return s, nil
}

// NewReplay reopens a recorded session. Records up to and including
// afterSeq are taken as already applied (restored from a checkpoint);
// later records are replayed in order. Once they are consumed the session
// continues live and appends after the last recorded seq.
func NewReplay(ctx context.Context, log Log, info ir.SessionInfo, clk Clock, logger *slog.Logger, afterSeq int64) (*Session, error) {
	if err := log.CreateSession(ctx, info); err != nil {
		return nil, fmt.Errorf("open replay session: %w", err)
	}
	all, err := log.ReadRecords(ctx, info.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("open replay session: %w", err)
	}
	if afterSeq < 0 || afterSeq > int64(len(all)) {
		return nil, errs.New(errs.RangeError, "checkpoint seq %d outside session of %d records", afterSeq, len(all))
	}

	s := newSession(info, log, clk, logger)
	for _, rec := range all[:afterSeq] {
		s.ordinals[callKey{Opcode(rec.Op), rec.Entity}] = rec.Ordinal + 1
		s.trace = append(s.trace, rec)
	}
	s.seq = afterSeq
	pending := all[afterSeq:]
	if len(pending) == 0 {
		s.exec = liveExecution{}
	} else {
		s.exec = &replayExecution{pending: pending}
	}
	s.logger.Debug("session reopened", "applied", afterSeq, "pending", len(pending))
	return s, nil
}

// Do runs one operation through the current strategy.
// After a fatal error every later call returns that error.
func (s *Session) Do(ctx context.Context, call Call) ([]ir.Arg, error) {
	if s.fatal != nil {
		return nil, s.fatal
	}
	if !call.Op.Valid() {
		return nil, errs.New(errs.Internal, "unregistered opcode %d", int(call.Op))
	}
	key := callKey{call.Op, call.Entity}
	ordinal := s.ordinals[key]

	out, err := s.exec.do(ctx, s, call, ordinal)
	if errs.IsFatal(err) {
		s.fatal = err
		s.logger.Error("session poisoned", "op", call.Op.String(), "error", err)
		return nil, err
	}
	s.ordinals[key] = ordinal + 1
	return out, err
}

// ID returns the session id.
func (s *Session) ID() string { return s.info.ID }

// Info returns the session description.
func (s *Session) Info() ir.SessionInfo { return s.info }

// Mode returns the strategy currently in effect.
func (s *Session) Mode() Mode { return s.exec.mode() }

// Seq returns the seq of the last applied record.
func (s *Session) Seq() int64 { return s.seq }

// Err returns the fatal error that poisoned the session, if any.
func (s *Session) Err() error { return s.fatal }

// Trace returns every record applied in this session, in seq order.
func (s *Session) Trace() []ir.Record {
	return append([]ir.Record{}, s.trace...)
}

// liveExecution executes the operation and appends its record.
type liveExecution struct{}

func (liveExecution) mode() Mode { return ModeLive }

func (liveExecution) do(ctx context.Context, s *Session, call Call, ordinal int64) ([]ir.Arg, error) {
	before := s.clk.Current()
	out, opErr := call.Exec()
	after := s.clk.Current()
	if out == nil {
		out = []ir.Arg{}
	}

	rec := ir.Record{
		SessionID: s.info.ID,
		Seq:       s.seq + 1,
		Op:        int(call.Op),
		OpName:    call.Op.String(),
		Entity:    call.Entity,
		Ordinal:   ordinal,
		Before:    before,
		After:     after,
		Inputs:    call.Inputs,
		Outputs:   encodeOutputs(out, opErr),
	}
	rec.Status, rec.Message = statusOf(opErr)
	if rec.Inputs == nil {
		rec.Inputs = []ir.Arg{}
	}

	if err := s.log.AppendRecord(ctx, &rec); err != nil {
		metrics.JournalErrors.WithLabelValues("io").Inc()
		return nil, errs.Wrap(errs.JournalCorrupt, err, "append %s", call.Op)
	}
	s.seq = rec.Seq
	s.trace = append(s.trace, rec)
	metrics.JournalRecords.WithLabelValues(call.Op.String(), string(ModeLive)).Inc()
	s.logger.Debug("recorded", "seq", rec.Seq, "op", rec.OpName, "status", rec.Status,
		"before", before, "after", after)
	return out, opErr
}

// replayExecution answers calls from recorded entries.
type replayExecution struct {
	pending []ir.Record
	pos     int
}

func (*replayExecution) mode() Mode { return ModeReplay }

func (r *replayExecution) do(ctx context.Context, s *Session, call Call, ordinal int64) ([]ir.Arg, error) {
	if r.pos >= len(r.pending) {
		s.logger.Info("journal exhausted, continuing live", "seq", s.seq)
		s.exec = liveExecution{}
		return s.exec.do(ctx, s, call, ordinal)
	}
	rec := r.pending[r.pos]

	if rec.Op != int(call.Op) || rec.Entity != call.Entity || rec.Ordinal != ordinal {
		return nil, corrupt("mismatch", rec,
			"expected %s on %v #%d, recorded %s on %v #%d",
			call.Op, call.Entity, ordinal, rec.OpName, rec.Entity, rec.Ordinal)
	}
	if !ir.ArgsEqual(rec.Inputs, call.Inputs) {
		return nil, corrupt("mismatch", rec, "inputs of %s differ from the recording", rec.OpName)
	}
	if now := s.clk.Current(); now != rec.Before {
		return nil, corrupt("window", rec, "clock at %d, recording starts at %d", now, rec.Before)
	}

	out, opErr, err := decodeOutputs(rec)
	if err != nil {
		return nil, corrupt("restore", rec, "%v", err)
	}
	if call.Restore != nil {
		if err := call.Restore(out); err != nil {
			return nil, corrupt("restore", rec, "%v", err)
		}
	}
	if now := s.clk.Current(); now != rec.After {
		return nil, corrupt("window", rec, "clock at %d after restore, recording ends at %d", now, rec.After)
	}

	r.pos++
	s.seq = rec.Seq
	s.trace = append(s.trace, rec)
	metrics.JournalReplayHits.WithLabelValues(rec.OpName).Inc()
	s.logger.Debug("replayed", "seq", rec.Seq, "op", rec.OpName, "status", rec.Status)
	return out, opErr
}

func corrupt(kind string, rec ir.Record, format string, args ...any) error {
	metrics.JournalErrors.WithLabelValues(kind).Inc()
	return errs.New(errs.JournalCorrupt, "seq %d: %s", rec.Seq, fmt.Sprintf(format, args...))
}

// statusOf flattens an operation error into a record status and message.
func statusOf(err error) (string, string) {
	if err == nil {
		return string(errs.OK), ""
	}
	var e *errs.Error
	if errors.As(err, &e) {
		return string(e.Code), e.Message
	}
	return string(errs.Internal), err.Error()
}

// encodeOutputs appends a trailing error-list argument describing opErr.
// The trailing argument is present exactly when the status is not OK.
func encodeOutputs(out []ir.Arg, opErr error) []ir.Arg {
	if opErr == nil {
		return out
	}
	entry := ir.ArgError{Code: string(errs.Internal), Lines: []string{opErr.Error()}}
	var e *errs.Error
	if errors.As(opErr, &e) {
		entry = ir.ArgError{
			Code:   string(e.Code),
			Entity: e.Entity,
			Lines:  append([]string{e.Message}, e.Lines...),
		}
	}
	return append(append([]ir.Arg{}, out...), ir.ErrorsArg([]ir.ArgError{entry}))
}

// decodeOutputs splits a record's outputs into the operation's outputs
// and the error it returned.
func decodeOutputs(rec ir.Record) ([]ir.Arg, error, error) {
	out := append([]ir.Arg{}, rec.Outputs...)
	if rec.Status == string(errs.OK) {
		return out, nil, nil
	}
	if len(out) == 0 {
		return nil, nil, fmt.Errorf("status %s without error argument", rec.Status)
	}
	list, err := out[len(out)-1].AsErrors()
	if err != nil || len(list) != 1 {
		return nil, nil, fmt.Errorf("status %s without error argument", rec.Status)
	}
	entry := list[0]
	opErr := &errs.Error{Code: errs.Code(entry.Code), Entity: entry.Entity}
	if len(entry.Lines) > 0 {
		opErr.Message = entry.Lines[0]
		opErr.Lines = append([]string(nil), entry.Lines[1:]...)
	}
	return out[:len(out)-1], opErr, nil
}
