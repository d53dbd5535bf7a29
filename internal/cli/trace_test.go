package cli

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/ir"
	"github.com/roach88/caps/internal/queryir"
)

func traceJSON(t *testing.T, args ...string) TraceResult {
	t.Helper()
	out, err := execute(NewTraceCommand(&RootOptions{Format: "json"}), args...)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestTraceCommand_Text(t *testing.T) {
	db := recordRun(t, "s1")

	out, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, "Trace for Session: s1")
	assert.Contains(t, out, "Problem: plate")
	assert.Contains(t, out, "=== Timeline ===")
	assert.Contains(t, out, "Sync")
	assert.Contains(t, out, "=== Stats ===")
	assert.Contains(t, out, "Failed:        0")
}

func TestTraceCommand_JSON(t *testing.T) {
	db := recordRun(t, "s1")

	result := traceJSON(t, "--db", db, "--session", "s1")
	assert.Equal(t, "s1", result.Session.ID)
	assert.Equal(t, "plate", result.Session.Problem)
	assert.Equal(t, len(result.Timeline), result.Stats.TotalRecords)
	assert.Equal(t, 1, result.Stats.ByOp["Sync"])
	assert.Equal(t, 1, result.Stats.ByOp["GetOutput"])
	assert.Zero(t, result.Stats.Failed)

	for i, ev := range result.Timeline {
		assert.Equal(t, int64(i+1), ev.Seq, "records are in seq order")
		assert.LessOrEqual(t, ev.Before, ev.After)
		assert.LessOrEqual(t, ev.After, result.Stats.FinalSNum)
	}
}

func TestTraceCommand_OpFilter(t *testing.T) {
	db := recordRun(t, "s1")

	result := traceJSON(t, "--db", db, "--session", "s1", "--op", "Sync")
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "Sync", result.Timeline[0].Op)
	assert.Greater(t, result.Stats.TotalRecords, 1, "stats cover the whole session")
}

func TestTraceCommand_FailedRecords(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "d1", dirtyScenario)
	require.NoError(t, err)

	result := traceJSON(t, "--db", db, "--session", "d1", "--op", "Execute")
	require.Len(t, result.Timeline, 1)
	assert.Equal(t, "STILL_DIRTY", result.Timeline[0].Status)
	assert.Positive(t, result.Stats.Failed)
}

func TestTraceCommand_FailedSince(t *testing.T) {
	db := filepath.Join(t.TempDir(), "caps.db")
	_, err := execute(NewRunCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "d1", dirtyScenario)
	require.NoError(t, err)

	result := traceJSON(t, "--db", db, "--session", "d1", "--failed")
	require.NotEmpty(t, result.Timeline)
	for _, ev := range result.Timeline {
		assert.NotEqual(t, "OK", ev.Status)
	}
	assert.Len(t, result.Timeline, result.Stats.Failed)

	last := result.Stats.TotalRecords
	tail := traceJSON(t, "--db", db, "--session", "d1", "--since", strconv.Itoa(last))
	require.Len(t, tail.Timeline, 1)
	assert.Equal(t, int64(last), tail.Timeline[0].Seq)
}

func TestTraceQuery(t *testing.T) {
	assert.Equal(t, queryir.Select{}, traceQuery(&TraceOptions{}))

	q := traceQuery(&TraceOptions{Op: "Sync", Failed: true, Since: 3})
	and, ok := q.Filter.(queryir.And)
	require.True(t, ok)
	assert.Equal(t, []queryir.Predicate{
		queryir.Equals{Field: queryir.FieldOpName, Value: ir.IRString("Sync")},
		queryir.NotEquals{Field: queryir.FieldStatus, Value: ir.IRString("OK")},
		queryir.AtLeast{Field: queryir.FieldSeq, Value: 3},
	}, and.Predicates)
}

func TestTraceCommand_UnknownSession(t *testing.T) {
	db := recordRun(t, "s1")

	_, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--db", db, "--session", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "session not found: nope")
}

func TestTraceCommand_MissingDatabase(t *testing.T) {
	_, err := execute(NewTraceCommand(&RootOptions{Format: "text"}), "--db", filepath.Join(t.TempDir(), "x.db"), "--session", "s1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFormatArg(t *testing.T) {
	tests := []struct {
		name string
		arg  ir.Arg
		want string
	}{
		{"int", ir.IntArg(42), "42"},
		{"real", ir.RealArg(0.25), "0.25"},
		{"string", ir.StringArg("aero"), `"aero"`},
		{"ref", ir.RefArg(ir.Ref{Index: 3, Gen: 1}), "#3.1"},
		{"null ref", ir.RefArg(ir.Ref{}), "-"},
		{"refs", ir.RefsArg([]ir.Ref{{Index: 1, Gen: 1}, {Index: 2, Gen: 4}}), "[#1.1 #2.4]"},
		{"array", ir.ArrayArg([]float64{1, 2.5}), "[1 2.5]"},
		{"opaque", ir.OpaqueArg([]byte{1, 2, 3}), "<3 bytes>"},
		{"errors", ir.ErrorsArg([]ir.ArgError{{Code: "NOT_FOUND"}, {Code: "STILL_DIRTY"}}), "errors(NOT_FOUND,STILL_DIRTY)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatArg(tt.arg))
		})
	}
	assert.Nil(t, formatArgs(nil))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "01234567...89abcdef", truncateID("0123456789abcdef0123456789abcdef"))
}
