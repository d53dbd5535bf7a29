package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/caps/internal/ir"
)

// Log is the durable side of a session. *store.Store implements it.
type Log interface {
	CreateSession(ctx context.Context, info ir.SessionInfo) error
	AppendRecord(ctx context.Context, rec *ir.Record) error
	ReadRecords(ctx context.Context, sessionID string, afterSeq int64) ([]ir.Record, error)
}

// MemoryLog keeps records in process. Problems created without a journal
// file record into one so traces and replay tests work the same way.
type MemoryLog struct {
	mu       sync.Mutex
	sessions map[string]ir.SessionInfo
	records  map[string][]ir.Record
}

// NewMemoryLog creates an empty in-process log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{
		sessions: make(map[string]ir.SessionInfo),
		records:  make(map[string][]ir.Record),
	}
}

// CreateSession registers a session; re-registering with the same spec
// hash is a no-op.
func (m *MemoryLog) CreateSession(_ context.Context, info ir.SessionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[info.ID]; ok {
		if existing.SpecHash != info.SpecHash {
			return fmt.Errorf("create session: %s was recorded against a different spec", info.ID)
		}
		return nil
	}
	m.sessions[info.ID] = info
	return nil
}

// AppendRecord seals and appends a record. Seq must follow the last one.
func (m *MemoryLog) AppendRecord(_ context.Context, rec *ir.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.SessionID]; !ok {
		return fmt.Errorf("append record: unknown session %s", rec.SessionID)
	}
	if want := int64(len(m.records[rec.SessionID])) + 1; rec.Seq != want {
		return fmt.Errorf("append record: seq %d does not follow %d", rec.Seq, want-1)
	}
	if err := rec.Seal(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	m.records[rec.SessionID] = append(m.records[rec.SessionID], cloneRecord(*rec))
	return nil
}

// ReadRecords returns the records after afterSeq.
func (m *MemoryLog) ReadRecords(_ context.Context, sessionID string, afterSeq int64) ([]ir.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ir.Record{}
	for _, r := range m.records[sessionID] {
		if r.Seq > afterSeq {
			out = append(out, cloneRecord(r))
		}
	}
	return out, nil
}

func cloneRecord(r ir.Record) ir.Record {
	r.Inputs = append([]ir.Arg{}, r.Inputs...)
	r.Outputs = append([]ir.Arg{}, r.Outputs...)
	return r
}
