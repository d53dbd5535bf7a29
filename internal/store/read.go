package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
	"github.com/roach88/caps/internal/querysql"
)

// Session returns a registered session.
// Returns sql.ErrNoRows (wrapped) if the id is unknown.
func (s *Store) Session(ctx context.Context, id string) (ir.SessionInfo, error) {
	var info ir.SessionInfo
	err := s.db.QueryRowContext(ctx, `
		SELECT id, problem, spec_hash, engine_version, ir_version
		FROM sessions WHERE id = ?
	`, id).Scan(&info.ID, &info.Problem, &info.SpecHash, &info.EngineVersion, &info.IRVersion)
	if err != nil {
		return info, fmt.Errorf("read session %s: %w", id, err)
	}
	return info, nil
}

// Sessions lists all sessions ordered by id. UUIDv7 ids sort by creation.
func (s *Store) Sessions(ctx context.Context) ([]ir.SessionInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, problem, spec_hash, engine_version, ir_version
		FROM sessions
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []ir.SessionInfo{}
	for rows.Next() {
		var info ir.SessionInfo
		if err := rows.Scan(&info.ID, &info.Problem, &info.SpecHash, &info.EngineVersion, &info.IRVersion); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// ReadRecords returns every record of a session after afterSeq, ordered by
// seq. Each record's checksum is verified; a damaged record fails the read
// with JournalCorrupt. Returns an empty slice (not nil) when there are none.
func (s *Store) ReadRecords(ctx context.Context, sessionID string, afterSeq int64) ([]ir.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+querysql.RecordColumns+` FROM records WHERE session_id = ? AND seq > ? ORDER BY seq ASC`,
		sessionID, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	expect := afterSeq + 1
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec.Seq != expect {
			return nil, errs.New(errs.JournalCorrupt, "session %s: gap before seq %d", sessionID, rec.Seq)
		}
		if err := rec.Verify(); err != nil {
			return nil, errs.Wrap(errs.JournalCorrupt, err, "session %s seq %d", sessionID, rec.Seq)
		}
		records = append(records, rec)
		expect++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// QueryRecords returns the records of a session selected by q, in seq
// order. Every returned record's checksum is verified.
func (s *Store) QueryRecords(ctx context.Context, sessionID string, q queryir.Query) ([]ir.Record, error) {
	query, params, err := querysql.Compile(sessionID, q)
	if err != nil {
		return nil, fmt.Errorf("record query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []ir.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if err := rec.Verify(); err != nil {
			return nil, errs.Wrap(errs.JournalCorrupt, err, "session %s seq %d", sessionID, rec.Seq)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

func scanRecord(rows *sql.Rows) (ir.Record, error) {
	var (
		rec             ir.Record
		inputs, outputs string
		crc             int64
	)
	err := rows.Scan(
		&rec.SessionID,
		&rec.Seq,
		&rec.ID,
		&rec.Op,
		&rec.OpName,
		&rec.Entity.Index,
		&rec.Entity.Gen,
		&rec.Ordinal,
		&rec.Status,
		&rec.Message,
		&rec.Before,
		&rec.After,
		&inputs,
		&outputs,
		&crc,
	)
	if err != nil {
		return rec, fmt.Errorf("scan record: %w", err)
	}
	rec.CRC = uint32(crc)

	if rec.Inputs, err = unmarshalArgs(inputs); err != nil {
		return rec, errs.Wrap(errs.JournalCorrupt, err, "seq %d inputs", rec.Seq)
	}
	if rec.Outputs, err = unmarshalArgs(outputs); err != nil {
		return rec, errs.Wrap(errs.JournalCorrupt, err, "seq %d outputs", rec.Seq)
	}
	return rec, nil
}

// LastSeq returns the last seq written to a session, or 0.
func (s *Store) LastSeq(ctx context.Context, sessionID string) (int64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM records WHERE session_id = ?`, sessionID,
	).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("read last seq: %w", err)
	}
	return last, nil
}

// LatestCheckpoint returns the checkpoint with the highest seq.
// ok is false when the session has none.
func (s *Store) LatestCheckpoint(ctx context.Context, sessionID string) (cp ir.Checkpoint, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT session_id, seq, s_num, hash
		FROM checkpoints
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, sessionID).Scan(&cp.SessionID, &cp.Seq, &cp.SNum, &cp.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return cp, false, nil
	}
	if err != nil {
		return cp, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, true, nil
}
