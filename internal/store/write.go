package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/caps/internal/ir"
)

// CreateSession registers a journal session.
// Re-registering the same id with the same spec hash is a no-op; a
// different spec hash is an error, since the recorded calls would not
// apply to the new description.
func (s *Store) CreateSession(ctx context.Context, info ir.SessionInfo) error {
	existing, err := s.Session(ctx, info.ID)
	switch {
	case err == nil:
		if existing.SpecHash != info.SpecHash {
			return fmt.Errorf("create session: %s was recorded against spec %s, not %s",
				info.ID, shortHash(existing.SpecHash), shortHash(info.SpecHash))
		}
		return nil
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("create session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, problem, spec_hash, engine_version, ir_version)
		VALUES (?, ?, ?, ?, ?)
	`,
		info.ID,
		info.Problem,
		info.SpecHash,
		info.EngineVersion,
		info.IRVersion,
	)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// AppendRecord seals and appends a record to its session.
// The record's seq must directly follow the session's last seq; the
// journal is append-only and gap-free.
func (s *Store) AppendRecord(ctx context.Context, rec *ir.Record) error {
	if err := rec.Seal(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	inputs, err := marshalArgs(rec.Inputs)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	outputs, err := marshalArgs(rec.Outputs)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append record: begin tx: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE session_id = ?`, rec.SessionID,
	).Scan(&last); err != nil {
		return fmt.Errorf("append record: read last seq: %w", err)
	}
	if rec.Seq != last+1 {
		return fmt.Errorf("append record: seq %d does not follow %d in session %s", rec.Seq, last, rec.SessionID)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records
		(session_id, seq, id, op, op_name, entity_index, entity_gen, ordinal,
		 status, message, s_num_before, s_num_after, inputs, outputs, crc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SessionID,
		rec.Seq,
		rec.ID,
		rec.Op,
		rec.OpName,
		rec.Entity.Index,
		rec.Entity.Gen,
		rec.Ordinal,
		rec.Status,
		rec.Message,
		rec.Before,
		rec.After,
		inputs,
		outputs,
		int64(rec.CRC),
	)
	if err != nil {
		return fmt.Errorf("append record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append record: commit: %w", err)
	}
	return nil
}

// WriteCheckpoint records that a restart snapshot covers the session up
// to and including seq. Writing the same checkpoint twice is a no-op.
func (s *Store) WriteCheckpoint(ctx context.Context, cp ir.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (session_id, seq, s_num, hash)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, seq) DO NOTHING
	`,
		cp.SessionID,
		cp.Seq,
		cp.SNum,
		cp.Hash,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
