package harness

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/caps/internal/restart"
	"github.com/roach88/caps/internal/store"
)

func loadTestdata(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRun_TestdataScenarios(t *testing.T) {
	for _, name := range []string{"plate_lifecycle", "plate_sync", "plate_transfer"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestdata(t, name))
			require.NoError(t, err)
			assert.Empty(t, result.Errors)
			assert.True(t, result.Pass)
			assert.True(t, result.Replayed)
			assert.NotEmpty(t, result.Trace)
		})
	}
}

func TestRun_TraceFollowsJournal(t *testing.T) {
	result, err := Run(loadTestdata(t, "plate_lifecycle"))
	require.NoError(t, err)
	require.Len(t, result.Trace, len(result.Records))

	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq, "seq is dense")
		assert.LessOrEqual(t, ev.Before, ev.After, "clock never runs backwards")
	}
	last := result.Trace[len(result.Trace)-1]
	assert.Equal(t, "Execute", last.Op)
	assert.Equal(t, "STILL_DIRTY", last.Status, "failed calls are journaled too")
	assert.Equal(t, "test-session", result.SessionID)
}

func TestRun_Observations(t *testing.T) {
	scenario := loadTestdata(t, "plate_transfer")
	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Observations, len(scenario.Steps))

	get := result.Observations[3]
	assert.Equal(t, OpGetData, get.Op)
	assert.Equal(t, "OK", get.Code)
	assert.Equal(t, 1, get.Rank)
	assert.NotEmpty(t, get.Values)

	assert.Equal(t, "ILLEGAL_STATE", result.Observations[5].Code)
	for i := 1; i < len(result.Observations); i++ {
		assert.GreaterOrEqual(t, result.Observations[i].SNum, result.Observations[i-1].SNum)
	}
}

func TestRun_FailedExpectation(t *testing.T) {
	scenario := loadTestdata(t, "plate_lifecycle")
	scenario.Steps = scenario.Steps[:2]
	scenario.Steps[1].Expect = &Expect{Status: "Clean"}
	scenario.Assertions = nil

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1 (status aero): expected status Clean, got AnalysisDirty")
}

func TestRun_UnexpectedError(t *testing.T) {
	scenario := loadTestdata(t, "plate_lifecycle")
	scenario.Steps = []Step{
		{Op: OpLoad},
		{Op: OpExecute, Target: "aero"},
	}
	scenario.Assertions = nil

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "expected OK, got STILL_DIRTY")
	assert.True(t, result.Replayed, "errors replay like successes")
}

func TestRun_UnknownTarget(t *testing.T) {
	scenario := loadTestdata(t, "plate_lifecycle")
	scenario.Steps = []Step{
		{Op: OpLoad},
		{Op: OpPreAnalysis, Target: "ghost", Expect: &Expect{Error: "NOT_FOUND"}},
		{Op: OpGetOutput, Target: "aero", Expect: &Expect{Error: "RANGE_ERROR"}},
	}
	scenario.Assertions = nil

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
}

func TestRun_SkipReplay(t *testing.T) {
	scenario := loadTestdata(t, "plate_sync")
	scenario.SkipReplay = true

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.False(t, result.Replayed)
}

func TestRun_CompileError(t *testing.T) {
	scenario := loadTestdata(t, "plate_sync")
	scenario.Problem = "missing"

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile spec")
}

func TestRun_WithStoreKeepsSession(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()

	scenario := loadTestdata(t, "plate_sync")
	scenario.SessionID = "kept"
	result, err := Run(scenario, WithStore(st))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	info, err := st.Session(t.Context(), "kept")
	require.NoError(t, err)
	assert.Equal(t, "plate", info.Problem)
}

func TestRun_WithCheckpoint(t *testing.T) {
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	defer st.Close()
	dir, err := restart.Open(filepath.Join(t.TempDir(), "plate"))
	require.NoError(t, err)

	result, err := Run(loadTestdata(t, "plate_sync"), WithStore(st), WithCheckpoint(dir))
	require.NoError(t, err)
	require.NotNil(t, result.Checkpoint)
	assert.Equal(t, "test-session", result.Checkpoint.SessionID)
	assert.Positive(t, result.Checkpoint.Seq)

	cp, ok, err := st.LatestCheckpoint(t.Context(), "test-session")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, *result.Checkpoint, cp)

	sNum, err := dir.ReadSNum()
	require.NoError(t, err)
	assert.Equal(t, result.Checkpoint.SNum, sNum)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(loadTestdata(t, "plate_transfer"))
	require.NoError(t, err)
	second, err := Run(loadTestdata(t, "plate_transfer"))
	require.NoError(t, err)

	assert.Equal(t, first.Observations, second.Observations)
	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Calls, second.Calls)
}

func TestCompareValues(t *testing.T) {
	assert.Empty(t, compareValues([]float64{1, 2}, []float64{1, 2 + 1e-12}, 0))
	assert.Contains(t, compareValues([]float64{1}, []float64{1, 2}, 0), "expected 1 values")
	assert.Contains(t, compareValues([]float64{1}, []float64{1.1}, 0.01), "value[0]")
	assert.Empty(t, compareValues([]float64{1}, []float64{1.1}, 0.5))
}

func TestRunContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := RunContext(ctx, loadTestdata(t, "plate_sync"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "step 0")
}
