package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/errs"
	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
)

// createTestStore opens a journal in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSession(id string) ir.SessionInfo {
	return ir.SessionInfo{
		ID:            id,
		Problem:       "plate",
		SpecHash:      "spec-hash",
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	}
}

func testRecord(session string, seq int64) *ir.Record {
	return &ir.Record{
		SessionID: session,
		Seq:       seq,
		Op:        3,
		OpName:    "SetValue",
		Entity:    ir.Ref{Index: 2, Gen: 1},
		Status:    "OK",
		Before:    seq - 1,
		After:     seq,
		Inputs:    []ir.Arg{ir.ArrayArg([]float64{0.5, 1.0 / 3.0})},
		Outputs:   []ir.Arg{ir.OpaqueArg([]byte(`{}`))},
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/journal.db")
	if err == nil {
		t.Error("expected error for invalid path")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db: %v", err)
	}
}

func TestPragmas(t *testing.T) {
	s := createTestStore(t)
	for name, want := range map[string]string{
		"journal_mode": "wal",
		"synchronous":  "1",
		"busy_timeout": "5000",
		"foreign_keys": "1",
	} {
		got, err := s.pragma(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestMigrate(t *testing.T) {
	s := createTestStore(t)
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(schemaVersion), version)

	for _, index := range []string{"idx_records_call_key", "idx_records_status"} {
		var name string
		err := s.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name=?`, index).Scan(&name)
		require.NoError(t, err, index)
	}
}

func TestMigrate_FromVersionOne(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP INDEX idx_records_status`)
	require.NoError(t, err)
	_, err = s.db.Exec(`DROP INDEX idx_records_call_key`)
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 1`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	version, err := s.pragma("user_version")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(schemaVersion), version)

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='index' AND name LIKE 'idx_records_%'`).Scan(&n))
	assert.Equal(t, 3, n)
}

func TestCreateSession_IdempotentAndSpecChecked(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))

	other := testSession("s1")
	other.SpecHash = "different"
	assert.Error(t, s.CreateSession(ctx, other))

	got, err := s.Session(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "plate", got.Problem)
}

func TestAppendRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))

	rec := testRecord("s1", 1)
	require.NoError(t, s.AppendRecord(ctx, rec))
	assert.NotEmpty(t, rec.ID, "AppendRecord seals the record")

	got, err := s.ReadRecords(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, *rec, got[0])

	arr, err := got[0].Inputs[0].AsArray()
	require.NoError(t, err)
	assert.Equal(t, 1.0/3.0, arr[1], "reals survive bit-for-bit")
}

func TestAppendRecord_RejectsGapsAndUnknownSession(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))

	assert.Error(t, s.AppendRecord(ctx, testRecord("s1", 2)), "seq must start at 1")
	require.NoError(t, s.AppendRecord(ctx, testRecord("s1", 1)))
	assert.Error(t, s.AppendRecord(ctx, testRecord("s1", 1)), "duplicate seq")
	assert.Error(t, s.AppendRecord(ctx, testRecord("nope", 1)), "foreign key")
}

func TestReadRecords_AfterSeq(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	for i := int64(1); i <= 4; i++ {
		require.NoError(t, s.AppendRecord(ctx, testRecord("s1", i)))
	}

	tail, err := s.ReadRecords(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, int64(3), tail[0].Seq)

	last, err := s.LastSeq(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), last)

	none, err := s.ReadRecords(ctx, "empty", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestQueryRecords(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	require.NoError(t, s.CreateSession(ctx, testSession("s2")))
	for i := int64(1); i <= 4; i++ {
		rec := testRecord("s1", i)
		if i%2 == 0 {
			rec.OpName = "Execute"
			rec.Status = "STILL_DIRTY"
		}
		require.NoError(t, s.AppendRecord(ctx, rec))
	}
	require.NoError(t, s.AppendRecord(ctx, testRecord("s2", 1)))

	all, err := s.QueryRecords(ctx, "s1", queryir.Select{})
	require.NoError(t, err)
	assert.Len(t, all, 4)

	failed, err := s.QueryRecords(ctx, "s1", queryir.Select{
		Filter: queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString("OK")},
	})
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, int64(2), failed[0].Seq)
	assert.Equal(t, int64(4), failed[1].Seq)
	assert.Equal(t, queryir.Filter(queryir.Select{
		Filter: queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString("OK")},
	}, all), failed, "SQL and in-memory filtering agree")

	limited, err := s.QueryRecords(ctx, "s1", queryir.Select{
		Filter: queryir.AtLeast{Field: queryir.FieldSeq, Value: 2},
		Limit:  1,
	})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, int64(2), limited[0].Seq)

	_, err = s.QueryRecords(ctx, "s1", queryir.Select{
		Filter: queryir.Equals{Field: "crc", Value: ir.IRInt(0)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")
}

func TestQueryRecords_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	require.NoError(t, s.AppendRecord(ctx, testRecord("s1", 1)))

	_, err := s.db.Exec(`UPDATE records SET status = 'NOT_FOUND' WHERE seq = 1`)
	require.NoError(t, err)

	_, err = s.QueryRecords(ctx, "s1", queryir.Select{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.JournalCorrupt))
}

func TestReadRecords_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	require.NoError(t, s.AppendRecord(ctx, testRecord("s1", 1)))

	_, err := s.db.Exec(`UPDATE records SET s_num_after = 99 WHERE seq = 1`)
	require.NoError(t, err)

	_, err = s.ReadRecords(ctx, "s1", 0)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.JournalCorrupt))
}

func TestReadRecords_DetectsBadArrayLength(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))
	require.NoError(t, s.AppendRecord(ctx, testRecord("s1", 1)))

	_, err := s.db.Exec(`UPDATE records SET inputs = '[{"tag":"array","len":5,"reals":[1]}]' WHERE seq = 1`)
	require.NoError(t, err)

	_, err = s.ReadRecords(ctx, "s1", 0)
	assert.True(t, errs.Is(err, errs.JournalCorrupt))
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("s1")))

	_, ok, err := s.LatestCheckpoint(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.WriteCheckpoint(ctx, ir.Checkpoint{SessionID: "s1", Seq: 2, SNum: 5, Hash: "a"}))
	require.NoError(t, s.WriteCheckpoint(ctx, ir.Checkpoint{SessionID: "s1", Seq: 7, SNum: 9, Hash: "b"}))
	require.NoError(t, s.WriteCheckpoint(ctx, ir.Checkpoint{SessionID: "s1", Seq: 7, SNum: 9, Hash: "b"}))

	cp, ok, err := s.LatestCheckpoint(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), cp.Seq)
	assert.Equal(t, "b", cp.Hash)
}

func TestSessions_Ordered(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)
	require.NoError(t, s.CreateSession(ctx, testSession("b")))
	require.NoError(t, s.CreateSession(ctx, testSession("a")))

	got, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.CreateSession(context.Background(), testSession("m")))
	_, err = s.Session(context.Background(), "m")
	assert.NoError(t, err)
}
